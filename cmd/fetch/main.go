// Command fetch downloads raw signal chunks for catalog targets over a
// requested window. Targets come from the catalog built by the discover
// command; chunk files land under DATA_DIR/raw. When HTTP_ADDR is set the
// operational endpoints stay up for the duration of the run.
//
// Usage:
//
//	go run ./cmd/fetch -level country -metrics bgp,ping-slash24 \
//	  -start 2024-01-01 -end 2024-02-01 [-since-last-run] [-dry-run] \
//	  [-overwrite] [-limit-entities n]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/cheikh-a/ioda-pipeline/internal/adapter/http"
	"github.com/cheikh-a/ioda-pipeline/internal/adapter/ioda"
	"github.com/cheikh-a/ioda-pipeline/internal/config"
	"github.com/cheikh-a/ioda-pipeline/internal/fetcher"
	"github.com/cheikh-a/ioda-pipeline/internal/observability"
	"github.com/cheikh-a/ioda-pipeline/internal/rawstore"
	"github.com/cheikh-a/ioda-pipeline/internal/store"
)

type options struct {
	level         string
	metrics       []string
	start         time.Time
	end           time.Time
	sinceLastRun  bool
	dryRun        bool
	overwrite     bool
	limitEntities int
}

func main() {
	level := flag.String("level", "country", "target level: country, region, or both")
	metricsFlag := flag.String("metrics", "", "comma-separated metric filter (default: every catalog metric)")
	startFlag := flag.String("start", "", "window start, RFC3339 or YYYY-MM-DD (default: coverage min)")
	endFlag := flag.String("end", "", "window end, RFC3339 or YYYY-MM-DD (default: now)")
	sinceLastRun := flag.Bool("since-last-run", false, "start each target after its newest stored observation")
	dryRun := flag.Bool("dry-run", false, "plan chunks without requesting or writing")
	overwrite := flag.Bool("overwrite", false, "refetch chunks that already exist on disk")
	limitEntities := flag.Int("limit-entities", 0, "keep only the first n entities per level")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg)

	opts := options{
		level:         *level,
		metrics:       splitList(*metricsFlag),
		sinceLastRun:  *sinceLastRun,
		dryRun:        *dryRun,
		overwrite:     *overwrite,
		limitEntities: *limitEntities,
	}
	if opts.start, err = parseTime(*startFlag); err != nil {
		logger.Error("invalid -start", "error", err)
		os.Exit(1)
	}
	if opts.end, err = parseTime(*endFlag); err != nil {
		logger.Error("invalid -end", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger, opts); err != nil {
		logger.Error("fetch failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	audit, err := ioda.OpenAuditLog(cfg.AuditPath)
	if err != nil {
		return err
	}
	defer audit.Close()

	db, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.LoadCatalog(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errors.New("catalog is empty, run the discover command first")
	}

	targets := fetcher.TargetsFromCatalog(rows, opts.level, opts.metrics, opts.limitEntities)
	if len(targets) == 0 {
		logger.Info("no targets matched the requested level and metrics")
		return nil
	}

	fopts := fetcher.Options{
		Start:        opts.start,
		End:          opts.end,
		SinceLastRun: opts.sinceLastRun,
		DryRun:       opts.dryRun,
		Overwrite:    opts.overwrite,
	}
	if opts.sinceLastRun {
		fopts.LastRun, err = db.MaxObservedTimestamps(ctx)
		if err != nil {
			return err
		}
	}

	client := ioda.NewClient(cfg, audit, clock, logger, metrics)
	f := fetcher.New(client, rawstore.New(cfg.DataDir), cfg, clock, logger, metrics)

	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, f, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	sum, runErr := f.Run(ctx, targets, fopts)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	// A run that produced nothing but chunk failures is a failed run.
	// Partial failure is normal and leaves the chunks to a later retry.
	if sum.PlannedChunks > 0 && sum.WrittenChunks == 0 && sum.SkippedExisting == 0 &&
		sum.DryRunChunks == 0 && sum.FailedChunks > 0 {
		return fmt.Errorf("all %d planned chunks failed", sum.FailedChunks)
	}
	return nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not RFC3339 or YYYY-MM-DD", s)
	}
	return t.UTC(), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
