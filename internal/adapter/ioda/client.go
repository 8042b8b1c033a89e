package ioda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/cheikh-a/ioda-pipeline/internal/config"
	"github.com/cheikh-a/ioda-pipeline/internal/domain"
	"github.com/cheikh-a/ioda-pipeline/internal/observability"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 20 * time.Second
	maxJitter      = 1 * time.Second
)

// retryableStatus is the set of HTTP statuses treated as transient.
// Other 4xx/5xx codes mean the request itself is wrong.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Client talks to the IODA API. Every request goes through one shared
// pacing limiter and leaves one audit record per attempt. The metadata
// endpoints retry transient failures internally; RawSignals performs a
// single attempt because chunk fetching owns its own retry lifecycle.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	userAgent   string
	limiter     *rate.Limiter
	maxAttempts int
	clock       clockwork.Clock
	audit       *AuditLog
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewClient creates an IODA API client. audit may be nil to disable
// request auditing.
func NewClient(cfg *config.Config, audit *AuditLog, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Client {
	limit := rate.Inf
	if cfg.MinRequestInterval > 0 {
		limit = rate.Every(cfg.MinRequestInterval)
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:   cfg.UserAgent,
		limiter:     rate.NewLimiter(limit, 1),
		maxAttempts: cfg.MaxAttempts,
		clock:       clock,
		audit:       audit,
		logger:      logger,
		metrics:     metrics,
	}
}

// SignalRequest names one raw-signal fetch.
type SignalRequest struct {
	EntityType   string
	EntityCode   string
	From         int64
	Until        int64
	Datasource   string
	SourceParams string
	MaxPoints    int

	// Attempt numbers the attempt in the audit log. Zero means first.
	Attempt int
}

// Response carries one successful API response.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Envelope   domain.Envelope
	Duration   time.Duration
}

// Series decodes the envelope's data tree and extracts its series.
func (r *Response) Series() ([]domain.Series, error) {
	return r.Envelope.Series()
}

// DataSources lists the metrics the API can serve, sorted by code.
func (c *Client) DataSources(ctx context.Context) ([]domain.Metric, error) {
	resp, err := c.getWithRetry(ctx, "datasources", "/datasources/", nil)
	if err != nil {
		return nil, err
	}

	var rows []datasourceRow
	if err := json.Unmarshal(resp.Envelope.Data, &rows); err != nil {
		return nil, fmt.Errorf("unexpected datasources data shape: %w", err)
	}
	out := make([]domain.Metric, 0, len(rows))
	for _, r := range rows {
		if r.Datasource == "" {
			continue
		}
		out = append(out, domain.Metric{Code: r.Datasource, Name: r.Name, Unit: r.Units})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// ListEntities pages through the entities query for one entity type.
// relatedTo scopes the search, e.g. "country/SN"; pass "" for no scope.
// limit bounds the page size and is clamped to the API's 1..100 range.
func (c *Client) ListEntities(ctx context.Context, entityType, relatedTo string, limit int) ([]domain.Entity, error) {
	pageSize := limit
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > 100 {
		pageSize = 100
	}

	// The page cursor is 1-based; there is no total-count field, so the
	// only stop signal is a short page.
	var out []domain.Entity
	for page := 1; ; page++ {
		params := url.Values{
			"entityType": {entityType},
			"limit":      {strconv.Itoa(pageSize)},
			"page":       {strconv.Itoa(page)},
		}
		if relatedTo != "" {
			params.Set("relatedTo", relatedTo)
		}

		resp, err := c.getWithRetry(ctx, "entities", "/entities/query", params)
		if err != nil {
			return nil, err
		}
		var rows []entityRow
		if err := json.Unmarshal(resp.Envelope.Data, &rows); err != nil {
			return nil, fmt.Errorf("unexpected entities data shape for %s: %w", entityType, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			out = append(out, row.toEntity())
		}
		if len(rows) < pageSize {
			break
		}
	}
	return out, nil
}

// RawSignals fetches raw signal series for one entity and time window.
// It performs exactly one attempt; callers with a chunk lifecycle decide
// whether and when to retry.
func (c *Client) RawSignals(ctx context.Context, req SignalRequest) (*Response, error) {
	path := fmt.Sprintf("/signals/raw/%s/%s", url.PathEscape(req.EntityType), url.PathEscape(req.EntityCode))
	params := url.Values{
		"from":  {strconv.FormatInt(req.From, 10)},
		"until": {strconv.FormatInt(req.Until, 10)},
	}
	if req.Datasource != "" {
		params.Set("datasource", req.Datasource)
	}
	if req.SourceParams != "" {
		params.Set("sourceParams", req.SourceParams)
	}
	if req.MaxPoints > 0 {
		params.Set("maxPoints", strconv.Itoa(req.MaxPoints))
	}

	attempt := req.Attempt
	if attempt < 1 {
		attempt = 1
	}
	return c.do(ctx, "signals", path, params, attempt)
}

// getWithRetry wraps do with the client's own bounded retry loop, used by
// the metadata endpoints.
func (c *Client) getWithRetry(ctx context.Context, endpoint, path string, params url.Values) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.do(ctx, endpoint, path, params, attempt)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !domain.IsTransient(err) || attempt == c.maxAttempts {
			return nil, err
		}

		delay := retryDelay(attempt)
		c.logger.Warn("transient API failure, backing off",
			"endpoint", endpoint, "attempt", attempt, "delay", delay, "error", err)
		if c.metrics != nil {
			c.metrics.APIRetries.Inc()
		}
		if !sleepWithContext(ctx, c.clock, delay) {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// do performs one paced, audited request attempt.
func (c *Client) do(ctx context.Context, endpoint, path string, params url.Values, attempt int) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := c.clock.Now()
	httpResp, err := c.httpClient.Do(req)
	duration := c.clock.Since(start)

	if err != nil {
		terr := &domain.TransientNetworkError{URL: fullURL, Err: err}
		c.record(endpoint, fullURL, params, attempt, nil, nil, duration, terr)
		return nil, terr
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		terr := &domain.TransientNetworkError{URL: fullURL, StatusCode: httpResp.StatusCode, Err: err}
		c.record(endpoint, fullURL, params, attempt, &httpResp.StatusCode, nil, duration, terr)
		return nil, terr
	}

	size := len(body)
	resp, cerr := c.classify(fullURL, httpResp.StatusCode, body, duration)
	c.record(endpoint, fullURL, params, attempt, &httpResp.StatusCode, &size, duration, cerr)
	if cerr != nil {
		return nil, cerr
	}
	if c.metrics != nil {
		c.metrics.ResponseBytes.Observe(float64(size))
	}
	return resp, nil
}

// classify turns a completed HTTP exchange into a Response or a typed
// error. Undecodable bodies on a 200 are treated as transient because the
// API intermittently truncates large responses.
func (c *Client) classify(fullURL string, status int, body []byte, duration time.Duration) (*Response, error) {
	switch {
	case retryableStatus[status]:
		return nil, &domain.TransientNetworkError{
			URL: fullURL, StatusCode: status,
			Err: fmt.Errorf("retryable status %d", status),
		}
	case status >= 400:
		return nil, &domain.FatalRequestError{URL: fullURL, StatusCode: status, Message: snippet(body)}
	}

	var env domain.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &domain.TransientNetworkError{
			URL: fullURL, StatusCode: status,
			Err: fmt.Errorf("undecodable body: %w", err),
		}
	}
	if msg := env.APIError(); msg != "" {
		return nil, &domain.FatalRequestError{URL: fullURL, StatusCode: status, Message: msg}
	}

	return &Response{
		URL:        fullURL,
		StatusCode: status,
		Body:       body,
		Envelope:   env,
		Duration:   duration,
	}, nil
}

func (c *Client) record(endpoint, fullURL string, params url.Values, attempt int, status, bytes *int, duration time.Duration, reqErr error) {
	outcome := "success"
	if reqErr != nil {
		outcome = "fatal"
		if domain.IsTransient(reqErr) {
			outcome = "transient"
		}
	}
	if c.metrics != nil {
		c.metrics.APIRequests.WithLabelValues(endpoint, outcome).Inc()
		c.metrics.APIDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
	}
	if c.audit == nil {
		return
	}

	rec := AuditRecord{
		TimestampUTC: c.clock.Now().UTC().Format(time.RFC3339),
		Method:       http.MethodGet,
		URL:          fullURL,
		Params:       flattenParams(params),
		Attempt:      attempt,
		Status:       status,
		Bytes:        bytes,
		DurationMS:   float64(duration.Microseconds()) / 1000,
	}
	if reqErr != nil {
		msg := reqErr.Error()
		rec.Error = &msg
	}
	if err := c.audit.Record(rec); err != nil {
		c.logger.Warn("audit write failed", "error", err)
	}
}

func flattenParams(params url.Values) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k := range params {
		out[k] = params.Get(k)
	}
	return out
}

// retryDelay doubles from initialBackoff per attempt, capped at maxBackoff,
// plus jitter so synchronized clients spread out.
func retryDelay(attempt int) time.Duration {
	d := initialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			d = maxBackoff
			break
		}
	}
	return d + rand.N(maxJitter)
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

func snippet(body []byte) string {
	const maxLen = 200
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

// IODA API response types.

type datasourceRow struct {
	Datasource string `json:"datasource"`
	Name       string `json:"name"`
	Units      string `json:"units"`
}

type entityRow struct {
	Code  string         `json:"code"`
	Name  string         `json:"name"`
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs"`
}

func (r entityRow) toEntity() domain.Entity {
	e := domain.Entity{Type: r.Type, Code: r.Code, Name: r.Name}
	if e.Type == "country" {
		e.Code = strings.ToUpper(e.Code)
	}
	if cc, ok := r.Attrs["country_code"].(string); ok {
		e.ParentCountryCode = cc
	}
	if cn, ok := r.Attrs["country_name"].(string); ok {
		e.ParentCountryName = cn
	}
	return e
}
