// Command qa computes per-series quality statistics over the stored
// observation table, persists the summary table, and renders the ranked
// markdown report under the docs directory.
//
// Usage:
//
//	go run ./cmd/qa
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/cheikh-a/ioda-pipeline/internal/config"
	"github.com/cheikh-a/ioda-pipeline/internal/observability"
	"github.com/cheikh-a/ioda-pipeline/internal/qa"
	"github.com/cheikh-a/ioda-pipeline/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Error("qa failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	db, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	obs, err := db.LoadObservations(ctx)
	if err != nil {
		return err
	}

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
	reportPath := filepath.Join(cfg.DocsDir, "qa_report.md")
	if err := qa.WriteReport(reportPath, rows, clock.Now().UTC()); err != nil {
		return err
	}

	logger.Info("qa complete", "observations", len(obs), "groups", len(rows), "report", reportPath)
	return nil
}
