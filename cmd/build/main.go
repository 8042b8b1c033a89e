// Command build normalizes the stored raw signal corpus into the tidy
// observation table and the wide per-level panels. Results go to the
// dataset store and to CSV files under DATA_DIR/processed. When Kafka
// publishing is enabled the full observation set is republished after
// the rebuild.
//
// Usage:
//
//	go run ./cmd/build
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	kafkaadapter "github.com/cheikh-a/ioda-pipeline/internal/adapter/kafka"
	"github.com/cheikh-a/ioda-pipeline/internal/config"
	"github.com/cheikh-a/ioda-pipeline/internal/domain"
	"github.com/cheikh-a/ioda-pipeline/internal/normalize"
	"github.com/cheikh-a/ioda-pipeline/internal/observability"
	"github.com/cheikh-a/ioda-pipeline/internal/rawstore"
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
		logger.Error("build failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	db, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	// A missing catalog only disables enrichment; the raw corpus already
	// carries entity ids and metric keys.
	catalogRows, err := db.LoadCatalog(ctx)
	if err != nil {
		return err
	}
	var index *domain.CatalogIndex
	if len(catalogRows) > 0 {
		index = domain.NewCatalogIndex(catalogRows)
	} else {
		logger.Warn("catalog is empty, building without enrichment")
	}

	normalizer := normalize.New(rawstore.New(cfg.DataDir), index, logger, metrics)
	obs, err := normalizer.Build(ctx)
	if err != nil {
		return err
	}

	if err := db.ReplaceObservations(ctx, obs); err != nil {
		return err
	}
	longPath := filepath.Join(cfg.ProcessedDir(), "ioda_long.csv")
	if err := normalize.WriteObservationsCSV(longPath, obs); err != nil {
		return err
	}

	country := normalize.BuildPanel(obs, domain.LevelCountry)
	if err := normalize.WritePanelCSV(filepath.Join(cfg.ProcessedDir(), "ioda_country_panel.csv"), country); err != nil {
		return err
	}
	region := normalize.BuildPanel(obs, domain.LevelRegion)
	if len(region.Rows) > 0 {
		if err := normalize.WritePanelCSV(filepath.Join(cfg.ProcessedDir(), "ioda_region_panel.csv"), region); err != nil {
			return err
		}
	}

	if cfg.KafkaEnabled {
		publisher := kafkaadapter.NewPublisher(cfg, logger)
		err := publisher.PublishObservations(ctx, obs)
		if closeErr := publisher.Close(); closeErr != nil {
			logger.Error("kafka publisher close error", "error", closeErr)
		}
		if err != nil {
			return err
		}
	}

	logger.Info("build complete",
		"observations", len(obs),
		"country_panel_rows", len(country.Rows),
		"region_panel_rows", len(region.Rows),
	)
	return nil
}
