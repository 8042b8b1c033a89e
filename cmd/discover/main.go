// Command discover resolves the configured target region against the live
// IODA metadata endpoints, probes data coverage for every entity x metric
// pair, and persists the result three ways: the catalog table in the
// dataset store, the generated section of the targets YAML, and a
// markdown catalog under the docs directory.
//
// Usage:
//
//	go run ./cmd/discover [-refresh] [-skip-regions] [-skip-coverage] \
//	  [-limit-entities n] [-metrics bgp,ping-slash24]
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cheikh-a/ioda-pipeline/internal/adapter/ioda"
	"github.com/cheikh-a/ioda-pipeline/internal/catalog"
	"github.com/cheikh-a/ioda-pipeline/internal/config"
	"github.com/cheikh-a/ioda-pipeline/internal/coverage"
	"github.com/cheikh-a/ioda-pipeline/internal/domain"
	"github.com/cheikh-a/ioda-pipeline/internal/observability"
	"github.com/cheikh-a/ioda-pipeline/internal/store"
)

type options struct {
	refresh       bool
	skipRegions   bool
	skipCoverage  bool
	limitEntities int
	metrics       []string
}

func main() {
	refresh := flag.Bool("refresh", false, "re-probe coverage even when cached records are fresh")
	skipRegions := flag.Bool("skip-regions", false, "skip the per-country region listings")
	skipCoverage := flag.Bool("skip-coverage", false, "build the catalog without probing coverage")
	limitEntities := flag.Int("limit-entities", 0, "keep only the first n target countries")
	metricsFlag := flag.String("metrics", "", "comma-separated metrics to probe (default: all discovered datasources)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg)

	opts := options{
		refresh:       *refresh,
		skipRegions:   *skipRegions,
		skipCoverage:  *skipCoverage,
		limitEntities: *limitEntities,
		metrics:       splitList(*metricsFlag),
	}
	if err := run(cfg, logger, opts); err != nil {
		logger.Error("discovery failed", "error", err)
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

	targets, err := config.LoadTargets(cfg.TargetsPath)
	if err != nil {
		return err
	}

	client := ioda.NewClient(cfg, audit, clock, logger, metrics)
	builder := catalog.NewBuilder(client, logger)

	cat, err := builder.Build(ctx, targets, catalog.Options{
		IncludeRegions: !opts.skipRegions,
		LimitEntities:  opts.limitEntities,
	})
	if err != nil {
		return err
	}

	cov := map[string]domain.CoverageRecord{}
	if !opts.skipCoverage {
		prober := coverage.NewProber(client, db, cfg, clock, logger, metrics)
		cov, err = prober.Coverage(ctx, cat.Entities(), probeMetrics(cat, opts.metrics), opts.refresh)
		if err != nil {
			return err
		}
	}

	rows := cat.Rows(cov)
	if err := db.ReplaceCatalog(ctx, rows); err != nil {
		return err
	}

	now := clock.Now().UTC()
	if err := config.SaveGenerated(cfg.TargetsPath, generatedSection(cat, cov, now)); err != nil {
		return err
	}
	mdPath := filepath.Join(cfg.DocsDir, "entity_catalog.md")
	if err := catalog.WriteMarkdown(mdPath, cat, rows, now); err != nil {
		return err
	}

	logger.Info("discovery complete",
		"countries", len(cat.Countries),
		"regions", len(cat.Regions),
		"datasources", len(cat.Metrics),
		"catalog_rows", len(rows),
		"coverage_records", len(cov),
	)
	return nil
}

// probeMetrics returns the metric set coverage probing runs over: the
// requested list when one was given, otherwise every discovered
// datasource code.
func probeMetrics(cat *catalog.Catalog, requested []string) []string {
	if len(requested) == 0 {
		out := make([]string, 0, len(cat.Metrics))
		for _, m := range cat.Metrics {
			out = append(out, m.Code)
		}
		return out
	}
	seen := make(map[string]bool, len(requested))
	var out []string
	for _, m := range requested {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// generatedSection assembles the machine-written targets-file section
// from a discovery run.
func generatedSection(cat *catalog.Catalog, cov map[string]domain.CoverageRecord, now time.Time) config.Generated {
	gen := config.Generated{LastDiscoveredAtUTC: now.Format(time.RFC3339)}

	for _, m := range cat.Metrics {
		gen.Datasources = append(gen.Datasources, config.GeneratedDatasource{
			Datasource: m.Code,
			Name:       m.Name,
			Units:      m.Unit,
		})
	}
	for _, c := range cat.Countries {
		gen.Resolved.Countries = append(gen.Resolved.Countries, config.GeneratedEntity{
			EntityID:   c.Code,
			EntityName: c.Name,
			ISO2:       c.Code,
		})
	}
	for _, r := range cat.Regions {
		gen.Resolved.Regions = append(gen.Resolved.Regions, config.GeneratedEntity{
			EntityID:          r.Code,
			EntityName:        r.Name,
			ParentCountryID:   r.ParentCountryCode,
			ParentCountryName: r.ParentCountryName,
		})
	}

	keys := make([]string, 0, len(cov))
	for k := range cov {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rec := cov[k]
		gen.Coverage = append(gen.Coverage, config.GeneratedCoverage{
			EntityType:   rec.EntityType,
			EntityID:     rec.EntityCode,
			Metric:       rec.Metric,
			MinTS:        rec.MinTS,
			MaxTS:        rec.MaxTS,
			Status:       string(rec.Status),
			Method:       rec.Method,
			CheckedAtUTC: rec.CheckedAt.UTC().Format(time.RFC3339),
			Source:       string(rec.Source),
		})
	}
	return gen
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
