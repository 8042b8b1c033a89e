// Package fetcher downloads raw signal chunks for a set of targets and
// stores the payloads verbatim. Each target's window is cut into
// fixed-size chunks; a chunk that comes back oversized is split into
// halves and refetched, and transient failures are retried in place with
// exponential backoff. Targets are fetched concurrently while chunks
// within a target stay sequential.
package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cheikh-a/ioda-pipeline/internal/adapter/ioda"
	"github.com/cheikh-a/ioda-pipeline/internal/config"
	"github.com/cheikh-a/ioda-pipeline/internal/domain"
	"github.com/cheikh-a/ioda-pipeline/internal/observability"
)

const (
	chunkBackoffStart = 1 * time.Second
	chunkBackoffMax   = 20 * time.Second
)

// SignalSource issues one raw signal query per call.
type SignalSource interface {
	RawSignals(ctx context.Context, req ioda.SignalRequest) (*ioda.Response, error)
}

// RawStore persists chunk payloads. *rawstore.Store satisfies it.
type RawStore interface {
	RelPath(level domain.Level, metric, entityID string, w domain.TimeWindow) string
	Exists(rel string) bool
	Write(rel string, body []byte) error
}

// Fetcher runs chunked raw signal downloads.
type Fetcher struct {
	api     SignalSource
	store   RawStore
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	concurrency  int
	initialChunk time.Duration
	maxPoints    int
	maxBytes     int
	maxAttempts  int

	ready atomic.Bool
}

// New creates a Fetcher.
func New(api SignalSource, store RawStore, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	return &Fetcher{
		api:          api,
		store:        store,
		clock:        clock,
		logger:       logger,
		metrics:      metrics,
		concurrency:  cfg.FetchConcurrency,
		initialChunk: cfg.InitialChunk,
		maxPoints:    cfg.MaxPoints,
		maxBytes:     cfg.MaxResponseBytes,
		maxAttempts:  cfg.MaxAttempts,
	}
}

// CheckReadiness returns nil once the fetcher has written at least one
// chunk.
func (f *Fetcher) CheckReadiness(_ context.Context) error {
	if !f.ready.Load() {
		return errors.New("fetcher has not written any chunks yet")
	}
	return nil
}

// Run fetches every target and returns the merged counters. Chunk-level
// failures are counted, not returned; the error is non-nil only for
// context cancellation or a broken raw store.
func (f *Fetcher) Run(ctx context.Context, targets []Target, opts Options) (Summary, error) {
	now := f.clock.Now().UTC()
	f.metrics.FetchRunning.Set(1)
	defer f.metrics.FetchRunning.Set(0)

	f.logger.Info("fetch started",
		"targets", len(targets),
		"concurrency", f.concurrency,
		"dry_run", opts.DryRun,
	)

	var (
		mu     sync.Mutex
		total  Summary
		runErr error
	)
	total.Targets = len(targets)

	jobs := make(chan Target)
	var wg sync.WaitGroup
	for i := 0; i < f.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range jobs {
				s, err := f.fetchTarget(ctx, target, opts, now)
				mu.Lock()
				total.add(s)
				if err != nil && runErr == nil {
					runErr = err
				}
				mu.Unlock()
			}
		}()
	}

	for _, target := range targets {
		mu.Lock()
		stop := runErr != nil
		mu.Unlock()
		if stop || ctx.Err() != nil {
			break
		}
		jobs <- target
	}
	close(jobs)
	wg.Wait()

	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}

	f.logger.Info("fetch finished",
		"targets", total.Targets,
		"planned", total.PlannedChunks,
		"written", total.WrittenChunks,
		"skipped_existing", total.SkippedExisting,
		"splits", total.SplitChunks,
		"failed", total.FailedChunks,
	)
	return total, runErr
}

func (f *Fetcher) fetchTarget(ctx context.Context, target Target, opts Options, now time.Time) (Summary, error) {
	var sum Summary

	window, ok := resolveWindow(target, opts, now)
	if !ok {
		f.logger.Debug("nothing to fetch",
			"level", target.Level, "entity", target.EntityID, "metric", target.Metric)
		return sum, nil
	}

	chunks := window.SplitEvery(f.initialChunk)
	f.logger.Info("fetching target",
		"level", target.Level,
		"entity", target.EntityID,
		"metric", target.Metric,
		"from", window.Start,
		"until", window.End,
		"chunks", len(chunks),
	)

	for _, chunk := range chunks {
		if err := f.fetchChunk(ctx, target, chunk, opts, &sum); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// fetchChunk drives one chunk through its lifecycle: skip if present,
// request with retries, split on oversize, write on success.
func (f *Fetcher) fetchChunk(ctx context.Context, target Target, w domain.TimeWindow, opts Options, sum *Summary) error {
	sum.PlannedChunks++
	rel := f.store.RelPath(target.Level, target.Metric, target.EntityID, w)

	if opts.DryRun {
		f.logger.Info("chunk planned",
			"level", target.Level,
			"entity", target.EntityID,
			"metric", target.Metric,
			"window", w.FilenameStem(),
		)
		sum.DryRunChunks++
		return nil
	}

	if !opts.Overwrite && f.store.Exists(rel) {
		sum.SkippedExisting++
		f.metrics.ChunksProcessed.WithLabelValues("skipped").Inc()
		return nil
	}

	backoff := chunkBackoffStart
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		body, err := f.requestChunk(ctx, target, w, attempt)
		if err == nil {
			if werr := f.store.Write(rel, body); werr != nil {
				return werr
			}
			sum.WrittenChunks++
			f.metrics.ChunksProcessed.WithLabelValues("written").Inc()
			f.ready.Store(true)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch {
		case domain.IsOversize(err):
			return f.splitChunk(ctx, target, w, opts, sum, err)
		case domain.IsTransient(err) && attempt < f.maxAttempts:
			f.logger.Warn("chunk fetch failed, backing off",
				"entity", target.EntityID,
				"metric", target.Metric,
				"window", w.FilenameStem(),
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)
			if !sleepWithContext(ctx, f.clock, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
		default:
			f.failChunk(target, w, err, sum)
			return nil
		}
	}
	return nil
}

// splitChunk halves an oversized window and fetches both halves. A
// window too small to halve is a dead end and counts as a failure.
func (f *Fetcher) splitChunk(ctx context.Context, target Target, w domain.TimeWindow, opts Options, sum *Summary, cause error) error {
	first, second, ok := w.Halves()
	if !ok {
		f.failChunk(target, w, cause, sum)
		return nil
	}

	sum.SplitChunks++
	f.metrics.ChunkSplits.Inc()
	f.logger.Warn("splitting oversized chunk",
		"entity", target.EntityID,
		"metric", target.Metric,
		"window", w.FilenameStem(),
		"error", cause,
	)

	if err := f.fetchChunk(ctx, target, first, opts, sum); err != nil {
		return err
	}
	return f.fetchChunk(ctx, target, second, opts, sum)
}

func (f *Fetcher) failChunk(target Target, w domain.TimeWindow, err error, sum *Summary) {
	sum.FailedChunks++
	f.metrics.ChunksProcessed.WithLabelValues("failed").Inc()
	f.logger.Error("chunk failed",
		"level", target.Level,
		"entity", target.EntityID,
		"metric", target.Metric,
		"window", w.FilenameStem(),
		"error", err,
	)
}

func (f *Fetcher) requestChunk(ctx context.Context, target Target, w domain.TimeWindow, attempt int) ([]byte, error) {
	resp, err := f.api.RawSignals(ctx, ioda.SignalRequest{
		EntityType: target.EntityType,
		EntityCode: target.EntityID,
		From:       w.EpochStart(),
		Until:      w.EpochEnd(),
		Datasource: target.Metric,
		MaxPoints:  f.maxPoints,
		Attempt:    attempt,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Body) > f.maxBytes {
		return nil, &domain.OversizeResponseError{URL: resp.URL, Size: len(resp.Body), Limit: f.maxBytes}
	}
	return resp.Body, nil
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > chunkBackoffMax {
		return chunkBackoffMax
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
