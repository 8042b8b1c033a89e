package ioda

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/cheikh-a/ioda-pipeline/internal/domain"
	"github.com/cheikh-a/ioda-pipeline/internal/observability"
)

const (
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

func testClient(baseURL string) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		baseURL:     baseURL,
		userAgent:   "ioda-pipeline-test/0",
		limiter:     rate.NewLimiter(rate.Inf, 1),
		maxAttempts: 3,
		clock:       clockwork.NewRealClock(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:     observability.NewMetricsForTesting(),
	}
}

func TestClient_RawSignals_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/signals/raw/country/SN", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "1700000000", q.Get("from"))
		assert.Equal(t, "1700086400", q.Get("until"))
		assert.Equal(t, "bgp", q.Get("datasource"))
		assert.Equal(t, "10000", q.Get("maxPoints"))
		assert.Equal(t, "ioda-pipeline-test/0", r.Header.Get("User-Agent"))

		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"type":"signals.raw","error":null,"data":[[{"entityType":"country","entityCode":"SN","entityName":"Senegal","datasource":"bgp","from":1700000000,"until":1700086400,"step":600,"values":[10,12]}]]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	resp, err := c.RawSignals(context.Background(), SignalRequest{
		EntityType: "country", EntityCode: "SN",
		From: 1700000000, Until: 1700086400,
		Datasource: "bgp", MaxPoints: 10000,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Body)

	series, err := resp.Series()
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, "bgp", series[0].Datasource)
}

func TestClient_RawSignals_SingleAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.RawSignals(context.Background(), SignalRequest{EntityType: "country", EntityCode: "SN", From: 0, Until: 60})

	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	// Chunk fetching owns signal retries, so the client must not loop.
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_RawSignals_FatalOnBadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad datasource"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.RawSignals(context.Background(), SignalRequest{EntityType: "country", EntityCode: "SN", From: 0, Until: 60})

	require.Error(t, err)
	assert.False(t, domain.IsTransient(err))
	assert.Contains(t, err.Error(), "400")
}

func TestClient_RawSignals_EnvelopeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"type":"signals.raw","error":"entity not found","data":null}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.RawSignals(context.Background(), SignalRequest{EntityType: "country", EntityCode: "XX", From: 0, Until: 60})

	require.Error(t, err)
	assert.False(t, domain.IsTransient(err))
	assert.Contains(t, err.Error(), "entity not found")
}

func TestClient_RawSignals_UndecodableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"type":"signals.raw","err`)) // truncated
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.RawSignals(context.Background(), SignalRequest{EntityType: "country", EntityCode: "SN", From: 0, Until: 60})

	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestClient_DataSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/datasources/", r.URL.Path)
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"type":"datasources","error":null,"data":[{"datasource":"ping-slash24","name":"Active Probing","units":"Up /24s"},{"datasource":"","name":"broken"},{"datasource":"bgp","name":"BGP","units":"Visible /24s"}]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	metrics, err := c.DataSources(context.Background())
	require.NoError(t, err)

	// Sorted by code, empty codes dropped.
	require.Len(t, metrics, 2)
	assert.Equal(t, "bgp", metrics[0].Code)
	assert.Equal(t, "ping-slash24", metrics[1].Code)
	assert.Equal(t, "Up /24s", metrics[1].Unit)
}

func TestClient_DataSources_RetriesTransient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"error":null,"data":[{"datasource":"bgp","name":"BGP","units":"Visible /24s"}]}`))
	}))
	defer srv.Close()

	fake := clockwork.NewFakeClock()
	c := testClient(srv.URL)
	c.clock = fake

	type result struct {
		metrics []domain.Metric
		err     error
	}
	done := make(chan result, 1)
	go func() {
		m, err := c.DataSources(context.Background())
		done <- result{m, err}
	}()

	// The retry backoff sleeps on the injected clock; release it.
	require.NoError(t, fake.BlockUntilContext(context.Background(), 1))
	fake.Advance(30 * time.Second)

	res := <-done
	require.NoError(t, res.err)
	require.Len(t, res.metrics, 1)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_ListEntities_Paginates(t *testing.T) {
	var mu sync.Mutex
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "region", q.Get("entityType"))
		assert.Equal(t, "country/SN", q.Get("relatedTo"))
		assert.Equal(t, "2", q.Get("limit"))
		mu.Lock()
		pages = append(pages, q.Get("page"))
		mu.Unlock()

		w.Header().Set(headerContentType, contentTypeJSON)
		if q.Get("page") == "1" {
			_, _ = w.Write([]byte(`{"error":null,"data":[{"code":"3564","name":"Dakar","type":"region","attrs":{"country_code":"SN","country_name":"Senegal"}},{"code":"3565","name":"Thies","type":"region","attrs":{"country_code":"SN","country_name":"Senegal"}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"error":null,"data":[{"code":"3566","name":"Fatick","type":"region","attrs":{"country_code":"SN","country_name":"Senegal"}}]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	entities, err := c.ListEntities(context.Background(), "region", "country/SN", 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2"}, pages)
	require.Len(t, entities, 3)
	assert.Equal(t, "3564", entities[0].Code)
	assert.Equal(t, "SN", entities[0].ParentCountryCode)
	assert.Equal(t, "Senegal", entities[0].ParentCountryName)
}

func TestClient_ListEntities_ClampsPageSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"error":null,"data":[]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	entities, err := c.ListEntities(context.Background(), "country", "", 500)
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestClient_ListEntities_UppercasesCountryCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"error":null,"data":[{"code":"sn","name":"Senegal","type":"country"}]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	entities, err := c.ListEntities(context.Background(), "country", "", 100)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "SN", entities[0].Code)
}

func TestClient_AuditsEveryAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"error":null,"data":[]}`))
	}))
	defer srv.Close()

	auditPath := filepath.Join(t.TempDir(), "audit", "requests.ndjson")
	audit, err := OpenAuditLog(auditPath)
	require.NoError(t, err)
	defer audit.Close()

	fake := clockwork.NewFakeClock()
	c := testClient(srv.URL)
	c.clock = fake
	c.audit = audit

	done := make(chan error, 1)
	go func() {
		_, err := c.getWithRetry(context.Background(), "datasources", "/datasources/", nil)
		done <- err
	}()
	require.NoError(t, fake.BlockUntilContext(context.Background(), 1))
	fake.Advance(30 * time.Second)
	require.NoError(t, <-done)

	raw, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	assert.Contains(t, lines[0], `"attempt":1`)
	assert.Contains(t, lines[0], `"status":503`)
	assert.Contains(t, lines[0], `"error":"`)
	assert.Contains(t, lines[1], `"attempt":2`)
	assert.Contains(t, lines[1], `"status":200`)
	assert.Contains(t, lines[1], `"error":null`)
}

func TestClient_MinIntervalPacing(t *testing.T) {
	var mu sync.Mutex
	var arrivals []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		arrivals = append(arrivals, time.Now())
		mu.Unlock()
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"error":null,"data":[]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.limiter = rate.NewLimiter(rate.Every(50*time.Millisecond), 1)

	for i := 0; i < 2; i++ {
		_, err := c.RawSignals(context.Background(), SignalRequest{EntityType: "country", EntityCode: "SN", From: 0, Until: 60})
		require.NoError(t, err)
	}

	require.Len(t, arrivals, 2)
	assert.GreaterOrEqual(t, arrivals[1].Sub(arrivals[0]), 40*time.Millisecond)
}

func TestRetryDelay(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(attempt)
		assert.GreaterOrEqual(t, d, initialBackoff)
		assert.LessOrEqual(t, d, maxBackoff+maxJitter)
	}
}
