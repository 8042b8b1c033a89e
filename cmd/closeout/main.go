// Command closeout fetches one closed calendar month of raw signals
// (default: the previous UTC month), then rebuilds the processed tables
// and the QA outputs. Overwrite mode is recommended for closed-month
// reruns so partial chunks from earlier runs are refetched.
//
// Usage:
//
//	go run ./cmd/closeout [-month 2026-03] [-level both] \
//	  [-metrics ping-slash24] [-overwrite] [-dry-run] [-no-build] [-no-qa]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cheikh-a/ioda-pipeline/internal/adapter/ioda"
	kafkaadapter "github.com/cheikh-a/ioda-pipeline/internal/adapter/kafka"
	"github.com/cheikh-a/ioda-pipeline/internal/config"
	"github.com/cheikh-a/ioda-pipeline/internal/domain"
	"github.com/cheikh-a/ioda-pipeline/internal/fetcher"
	"github.com/cheikh-a/ioda-pipeline/internal/normalize"
	"github.com/cheikh-a/ioda-pipeline/internal/observability"
	"github.com/cheikh-a/ioda-pipeline/internal/qa"
	"github.com/cheikh-a/ioda-pipeline/internal/rawstore"
	"github.com/cheikh-a/ioda-pipeline/internal/store"
)

type options struct {
	month             time.Time
	level             string
	metrics           []string
	overwrite         bool
	dryRun            bool
	noBuild           bool
	noQA              bool
	allowCurrentMonth bool
}

func main() {
	monthFlag := flag.String("month", "", "target month as YYYY-MM (default: previous UTC month)")
	level := flag.String("level", "both", "entity level to fetch: country, region, or both")
	metricsFlag := flag.String("metrics", "ping-slash24", "comma-separated metrics to fetch")
	overwrite := flag.Bool("overwrite", false, "refetch raw files for the month")
	dryRun := flag.Bool("dry-run", false, "plan the month's chunks without requesting")
	noBuild := flag.Bool("no-build", false, "skip the build phase after fetching")
	noQA := flag.Bool("no-qa", false, "skip the QA phase after building")
	allowCurrentMonth := flag.Bool("allow-current-month", false, "allow closing out the current, still-open UTC month")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg)

	opts := options{
		level:             *level,
		metrics:           splitList(*metricsFlag),
		overwrite:         *overwrite,
		dryRun:            *dryRun,
		noBuild:           *noBuild,
		noQA:              *noQA,
		allowCurrentMonth: *allowCurrentMonth,
	}
	if *monthFlag != "" {
		if opts.month, err = time.Parse("2006-01", *monthFlag); err != nil {
			logger.Error("invalid -month", "value", *monthFlag, "error", err)
			os.Exit(1)
		}
	}

	if err := run(cfg, logger, opts); err != nil {
		logger.Error("closeout failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	now := clock.Now().UTC()

	start := opts.month.UTC()
	if start.IsZero() {
		start = previousMonth(now)
	}
	end := start.AddDate(0, 1, 0)

	currentMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if start.Equal(currentMonth) && !opts.allowCurrentMonth {
		return errors.New("refusing to close out the current UTC month, pass -allow-current-month for a partial-month fetch")
	}
	if start.After(now) {
		return fmt.Errorf("target month %s is in the future", start.Format("2006-01"))
	}

	logger.Info("monthly closeout started",
		"month", start.Format("2006-01"),
		"window_start", start.Format(time.RFC3339),
		"window_end", end.Format(time.RFC3339),
		"overwrite", opts.overwrite,
	)

	metrics := observability.NewMetrics()

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
	targets := fetcher.TargetsFromCatalog(rows, opts.level, opts.metrics, 0)
	if len(targets) == 0 {
		return errors.New("no targets matched the requested level and metrics")
	}

	client := ioda.NewClient(cfg, audit, clock, logger, metrics)
	f := fetcher.New(client, rawstore.New(cfg.DataDir), cfg, clock, logger, metrics)

	sum, err := f.Run(ctx, targets, fetcher.Options{
		Start:     start,
		End:       end,
		DryRun:    opts.dryRun,
		Overwrite: opts.overwrite,
	})
	if err != nil {
		return err
	}
	logger.Info("fetch phase complete",
		"targets", sum.Targets,
		"planned", sum.PlannedChunks,
		"written", sum.WrittenChunks,
		"skipped_existing", sum.SkippedExisting,
		"failed", sum.FailedChunks,
	)
	if sum.PlannedChunks > 0 && sum.WrittenChunks == 0 && sum.SkippedExisting == 0 &&
		sum.DryRunChunks == 0 && sum.FailedChunks > 0 {
		return fmt.Errorf("all %d planned chunks failed", sum.FailedChunks)
	}
	if opts.dryRun {
		return nil
	}

	if opts.noBuild {
		logger.Info("build phase skipped")
		return nil
	}
	obs, err := buildPhase(ctx, cfg, db, logger, metrics)
	if err != nil {
		return err
	}

	if opts.noQA {
		logger.Info("qa phase skipped")
		return nil
	}
	return qaPhase(ctx, cfg, db, clock, logger, obs)
}

func buildPhase(ctx context.Context, cfg *config.Config, db *store.Store, logger *slog.Logger, metrics *observability.Metrics) ([]domain.Observation, error) {
	catalogRows, err := db.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	var index *domain.CatalogIndex
	if len(catalogRows) > 0 {
		index = domain.NewCatalogIndex(catalogRows)
	}

	normalizer := normalize.New(rawstore.New(cfg.DataDir), index, logger, metrics)
	obs, err := normalizer.Build(ctx)
	if err != nil {
		return nil, err
	}

	if err := db.ReplaceObservations(ctx, obs); err != nil {
		return nil, err
	}
	if err := normalize.WriteObservationsCSV(filepath.Join(cfg.ProcessedDir(), "ioda_long.csv"), obs); err != nil {
		return nil, err
	}
	country := normalize.BuildPanel(obs, domain.LevelCountry)
	if err := normalize.WritePanelCSV(filepath.Join(cfg.ProcessedDir(), "ioda_country_panel.csv"), country); err != nil {
		return nil, err
	}
	region := normalize.BuildPanel(obs, domain.LevelRegion)
	if len(region.Rows) > 0 {
		if err := normalize.WritePanelCSV(filepath.Join(cfg.ProcessedDir(), "ioda_region_panel.csv"), region); err != nil {
			return nil, err
		}
	}

	if cfg.KafkaEnabled {
		publisher := kafkaadapter.NewPublisher(cfg, logger)
		err := publisher.PublishObservations(ctx, obs)
		if closeErr := publisher.Close(); closeErr != nil {
			logger.Error("kafka publisher close error", "error", closeErr)
		}
		if err != nil {
			return nil, err
		}
	}

	logger.Info("build phase complete",
		"observations", len(obs),
		"country_panel_rows", len(country.Rows),
		"region_panel_rows", len(region.Rows),
	)
	return obs, nil
}

func qaPhase(ctx context.Context, cfg *config.Config, db *store.Store, clock clockwork.Clock, logger *slog.Logger, obs []domain.Observation) error {
	rows := qa.Summarize(obs, qa.Thresholds{
		GapMultiple:   cfg.QAGapMultiple,
		SpikeMultiple: cfg.QASpikeMultiple,
		SpikeWindow:   cfg.QASpikeWindow,
	})

	if err := db.ReplaceQASummary(ctx, rows); err != nil {
		return err
	}
	if err := qa.WriteSummaryCSV(filepath.Join(cfg.ProcessedDir(), "qa_summary.csv"), rows); err != nil {
		return err
	}
	if err := qa.WriteReport(filepath.Join(cfg.DocsDir, "qa_report.md"), rows, clock.Now().UTC()); err != nil {
		return err
	}

	logger.Info("qa phase complete", "groups", len(rows))
	return nil
}

// previousMonth returns the first instant of the month before now.
// time.Date normalizes month zero to December of the prior year.
func previousMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, time.UTC)
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
