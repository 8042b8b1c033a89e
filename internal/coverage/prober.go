// Package coverage infers, per entity and metric, the time range the
// IODA API actually has data for. History is probed with a bounded
// number of cheap raw signal queries: a recent-window check, a
// backward-doubling expansion to bracket the earliest data, and a
// bisection of that bracket down to a single day.
package coverage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cheikh-a/ioda-pipeline/internal/adapter/ioda"
	"github.com/cheikh-a/ioda-pipeline/internal/config"
	"github.com/cheikh-a/ioda-pipeline/internal/domain"
	"github.com/cheikh-a/ioda-pipeline/internal/observability"
)

const (
	// recentMaxPoints keeps the recent-window response small while still
	// resolving the latest bucket reasonably well.
	recentMaxPoints = 256
	// expandMaxPoints is all a yes/no probe needs.
	expandMaxPoints = 8
	// bisectMaxPoints gives day-scale windows a little more resolution.
	bisectMaxPoints = 32

	probeBackoffStart = 1 * time.Second
	probeBackoffMax   = 20 * time.Second
)

// errBudget aborts a probe that has spent its request budget.
var errBudget = errors.New("probe request budget exhausted")

// SignalSource issues one raw signal query per call.
type SignalSource interface {
	RawSignals(ctx context.Context, req ioda.SignalRequest) (*ioda.Response, error)
}

// Cache persists coverage records between runs. *store.Store satisfies it.
type Cache interface {
	GetCoverage(ctx context.Context, key string) (domain.CoverageRecord, bool, error)
	PutCoverage(ctx context.Context, rec domain.CoverageRecord) error
}

// Prober runs coverage inference for a set of entities and metrics.
type Prober struct {
	api     SignalSource
	cache   Cache
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	recentWindow time.Duration
	floorYear    int
	budget       int
	ttl          time.Duration
	maxAttempts  int
	dayMaxPoints int
}

// NewProber creates a Prober.
func NewProber(api SignalSource, cache Cache, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Prober {
	return &Prober{
		api:          api,
		cache:        cache,
		clock:        clock,
		logger:       logger,
		metrics:      metrics,
		recentWindow: cfg.RecentWindow,
		floorYear:    cfg.EarliestFloorYear,
		budget:       cfg.ProbeBudget,
		ttl:          cfg.CoverageTTL,
		maxAttempts:  cfg.MaxAttempts,
		dayMaxPoints: cfg.MaxPoints,
	}
}

// Coverage returns one record per (entity, metric) pair, keyed by
// domain.CoverageKey. Fresh cached records are reused unless refresh is
// set. A probed max_ts never moves backwards past a cached one except on
// refresh.
func (p *Prober) Coverage(ctx context.Context, entities []domain.Entity, metrics []string, refresh bool) (map[string]domain.CoverageRecord, error) {
	now := p.clock.Now().UTC()
	out := make(map[string]domain.CoverageRecord, len(entities)*len(metrics))

	for _, entity := range entities {
		for _, metric := range metrics {
			key := domain.CoverageKey(entity.Type, entity.Code, metric)

			cached, found, err := p.cache.GetCoverage(ctx, key)
			if err != nil {
				p.logger.Warn("coverage cache read failed", "key", key, "error", err)
				found = false
			}
			if found && !refresh && cached.Fresh(now, p.ttl) {
				p.metrics.CoverageCache.WithLabelValues("hit").Inc()
				out[key] = cached
				continue
			}
			if found && !refresh {
				p.metrics.CoverageCache.WithLabelValues("stale").Inc()
			} else {
				p.metrics.CoverageCache.WithLabelValues("miss").Inc()
			}

			rec, err := p.probe(ctx, entity.Type, entity.Code, metric)
			if err != nil {
				return nil, fmt.Errorf("probe coverage for %s: %w", key, err)
			}
			if found && !refresh {
				rec = keepNewerMax(rec, cached)
			}
			p.metrics.CoverageResults.WithLabelValues(string(rec.Status)).Inc()
			p.logger.Info("coverage probed",
				"entity_type", entity.Type,
				"entity_code", entity.Code,
				"metric", metric,
				"status", rec.Status,
				"method", rec.Method,
			)

			if err := p.cache.PutCoverage(ctx, rec); err != nil {
				p.logger.Warn("coverage cache write failed", "key", key, "error", err)
			}
			out[key] = rec
		}
	}
	return out, nil
}

// keepNewerMax guards against a probe reporting an older latest bucket
// than a previous run already saw.
func keepNewerMax(rec, cached domain.CoverageRecord) domain.CoverageRecord {
	if cached.MaxTS == nil {
		return rec
	}
	if rec.MaxTS == nil || *rec.MaxTS < *cached.MaxTS {
		rec.MaxTS = cached.MaxTS
	}
	return rec
}

// probe infers coverage for one (entity, metric) pair. Transient API
// failures and budget exhaustion degrade the record's status instead of
// failing the run; only context cancellation and fatal request errors
// return an error.
func (p *Prober) probe(ctx context.Context, entityType, entityCode, metric string) (domain.CoverageRecord, error) {
	now := p.clock.Now().UTC()
	rec := domain.CoverageRecord{
		EntityType: entityType,
		EntityCode: entityCode,
		Metric:     metric,
		CheckedAt:  now,
		Source:     domain.CoverageFromProbe,
	}
	budget := p.budget

	recent := domain.TimeWindow{Start: now.Add(-p.recentWindow), End: now}
	has, _, maxTS, err := p.window(ctx, &budget, entityType, entityCode, metric, recent, recentMaxPoints)
	if err != nil {
		return p.degrade(rec, err, "probe_recent_failed")
	}
	if !has {
		rec.Status = domain.CoverageNoRecentData
		rec.Method = "probe_recent_empty"
		return rec, nil
	}
	rec.MaxTS = maxTS

	bracket, err := p.expand(ctx, &budget, entityType, entityCode, metric, now, recent)
	if err != nil {
		return p.degrade(rec, err, "probe_expand_bisect")
	}

	day, err := p.bisect(ctx, &budget, entityType, entityCode, metric, bracket)
	if err != nil {
		return p.degrade(rec, err, "probe_expand_bisect")
	}

	_, dayMin, _, err := p.window(ctx, &budget, entityType, entityCode, metric, day, p.dayMaxPoints)
	if err != nil {
		return p.degrade(rec, err, "probe_expand_bisect")
	}
	earliest := day.EpochStart()
	if dayMin != nil {
		earliest = *dayMin
	}
	rec.MinTS = &earliest
	rec.Status = domain.CoverageOK
	rec.Method = "probe_expand_bisect"
	return rec, nil
}

// expand walks backwards in doubling windows until one is empty or the
// configured floor is reached. Each window ends where the previous one
// started, so under the assumption that coverage is contiguous the
// returned window brackets the earliest data point.
func (p *Prober) expand(ctx context.Context, budget *int, entityType, entityCode, metric string, now time.Time, recent domain.TimeWindow) (domain.TimeWindow, error) {
	floor := time.Date(p.floorYear, 1, 1, 0, 0, 0, 0, time.UTC)
	bracket := recent
	span := p.recentWindow

	for {
		end := now.Add(-span)
		if !end.After(floor) {
			return bracket, nil
		}
		start := now.Add(-2 * span)
		if start.Before(floor) {
			start = floor
		}
		w := domain.TimeWindow{Start: start, End: end}

		has, _, _, err := p.window(ctx, budget, entityType, entityCode, metric, w, expandMaxPoints)
		if err != nil {
			return bracket, err
		}
		if !has {
			return bracket, nil
		}
		bracket = w
		if !start.After(floor) {
			return bracket, nil
		}
		span *= 2
	}
}

// bisect narrows a bracketing window down to at most one day. When the
// older half is empty the earliest data point must sit in the newer half.
func (p *Prober) bisect(ctx context.Context, budget *int, entityType, entityCode, metric string, bracket domain.TimeWindow) (domain.TimeWindow, error) {
	lo, hi := bracket.Start, bracket.End
	for hi.Sub(lo) > 24*time.Hour {
		mid := lo.Add(hi.Sub(lo) / 2).Truncate(time.Second)
		older := domain.TimeWindow{Start: lo, End: mid}

		has, _, _, err := p.window(ctx, budget, entityType, entityCode, metric, older, bisectMaxPoints)
		if err != nil {
			return bracket, err
		}
		if has {
			hi = mid
		} else {
			lo = mid
		}
	}
	return domain.TimeWindow{Start: lo, End: hi}, nil
}

// degrade maps probe failures onto coverage statuses. Budget exhaustion
// and transient API errors produce a degraded record; anything else is a
// real error.
func (p *Prober) degrade(rec domain.CoverageRecord, err error, method string) (domain.CoverageRecord, error) {
	switch {
	case errors.Is(err, errBudget):
		rec.Status = domain.CoverageUnknown
		rec.Method = "probe_budget_exhausted"
		return rec, nil
	case domain.IsTransient(err):
		rec.Status = domain.CoverageTransientError
		rec.Method = method
		return rec, nil
	default:
		return rec, err
	}
}

// window runs one probe query with bounded retries and reports whether
// the window holds any data, plus its observed time bounds.
func (p *Prober) window(ctx context.Context, budget *int, entityType, entityCode, metric string, w domain.TimeWindow, maxPoints int) (has bool, minTS, maxTS *int64, err error) {
	backoff := probeBackoffStart
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if *budget <= 0 {
			return false, nil, nil, errBudget
		}
		*budget--
		p.metrics.ProbeRequests.Inc()

		resp, err := p.api.RawSignals(ctx, ioda.SignalRequest{
			EntityType: entityType,
			EntityCode: entityCode,
			From:       w.EpochStart(),
			Until:      w.EpochEnd(),
			Datasource: metric,
			MaxPoints:  maxPoints,
			Attempt:    attempt,
		})
		if err != nil {
			if ctx.Err() != nil {
				return false, nil, nil, ctx.Err()
			}
			if domain.IsTransient(err) && attempt < p.maxAttempts {
				p.logger.Warn("probe query failed, backing off",
					"entity_code", entityCode,
					"metric", metric,
					"attempt", attempt,
					"backoff", backoff,
					"error", err,
				)
				if !sleepWithContext(ctx, p.clock, backoff) {
					return false, nil, nil, ctx.Err()
				}
				backoff = nextBackoff(backoff)
				continue
			}
			return false, nil, nil, err
		}

		series, err := resp.Series()
		if err != nil {
			return false, nil, nil, err
		}
		if !domain.HasData(series) {
			return false, nil, nil, nil
		}
		minTS, maxTS = domain.TimeBounds(series)
		return true, minTS, maxTS, nil
	}
	return false, nil, nil, nil
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > probeBackoffMax {
		return probeBackoffMax
	}
	return next
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
