// Package catalog turns the configured target region into a concrete
// entity catalog by querying the IODA metadata endpoints.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cheikh-a/ioda-pipeline/internal/config"
	"github.com/cheikh-a/ioda-pipeline/internal/domain"
)

// entityPageLimit bounds metadata listings. Well above any country's
// region count on the IODA side.
const entityPageLimit = 500

// EntityLister is the slice of the IODA client discovery needs.
type EntityLister interface {
	DataSources(ctx context.Context) ([]domain.Metric, error)
	ListEntities(ctx context.Context, entityType, relatedTo string, limit int) ([]domain.Entity, error)
}

// Options tune a discovery run.
type Options struct {
	// IncludeRegions controls whether per-country region listings run.
	IncludeRegions bool
	// LimitEntities, when positive, truncates the resolved country list.
	// Meant for quick partial runs against the live API.
	LimitEntities int
}

// Builder resolves targets against the live entity listings.
type Builder struct {
	api    EntityLister
	logger *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(api EntityLister, logger *slog.Logger) *Builder {
	return &Builder{api: api, logger: logger}
}

// Catalog is the resolved entity set for one target region.
type Catalog struct {
	RegionName string
	Countries  []domain.Entity
	Regions    []domain.Entity
	Metrics    []domain.Metric
}

// Build resolves the configured countries against the API's country list,
// lists their regions, and collects the datasource metadata. Any
// structural gap, an empty datasource list or a configured country the
// API does not know, fails the whole run.
func (b *Builder) Build(ctx context.Context, targets *config.TargetsFile, opts Options) (*Catalog, error) {
	metrics, err := b.api.DataSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list datasources: %w", err)
	}
	if len(metrics) == 0 {
		return nil, &domain.DiscoveryError{Reason: "datasource list is empty"}
	}

	allCountries, err := b.api.ListEntities(ctx, "country", "", entityPageLimit)
	if err != nil {
		return nil, fmt.Errorf("list countries: %w", err)
	}
	byCode := make(map[string]domain.Entity, len(allCountries))
	for _, c := range allCountries {
		byCode[strings.ToUpper(c.Code)] = c
	}

	var (
		countries []domain.Entity
		missing   []string
	)
	for _, target := range targets.ResolveCountries() {
		if !target.Enabled {
			continue
		}
		entity, ok := byCode[target.ISO2]
		if !ok {
			missing = append(missing, target.ISO2)
			continue
		}
		countries = append(countries, entity)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &domain.DiscoveryError{
			Reason: "target countries not in IODA country list: " + strings.Join(missing, ", "),
		}
	}
	sort.Slice(countries, func(i, j int) bool { return countries[i].Code < countries[j].Code })
	if opts.LimitEntities > 0 && opts.LimitEntities < len(countries) {
		countries = countries[:opts.LimitEntities]
	}

	var regions []domain.Entity
	if opts.IncludeRegions {
		for _, country := range countries {
			found, err := b.api.ListEntities(ctx, "region", "country/"+country.Code, entityPageLimit)
			if err != nil {
				return nil, fmt.Errorf("list regions for %s: %w", country.Code, err)
			}
			for _, r := range found {
				if r.ParentCountryCode == "" {
					r.ParentCountryCode = country.Code
					r.ParentCountryName = country.Name
				}
				regions = append(regions, r)
			}
			b.logger.Debug("listed regions", "country", country.Code, "count", len(found))
		}
		sort.Slice(regions, func(i, j int) bool {
			if regions[i].ParentCountryCode != regions[j].ParentCountryCode {
				return regions[i].ParentCountryCode < regions[j].ParentCountryCode
			}
			return regions[i].Code < regions[j].Code
		})
	}

	b.logger.Info("catalog resolved",
		"countries", len(countries),
		"regions", len(regions),
		"datasources", len(metrics),
	)

	return &Catalog{
		RegionName: targets.RegionDefinition.Name,
		Countries:  countries,
		Regions:    regions,
		Metrics:    metrics,
	}, nil
}

// Entities returns countries then regions as a single slice.
func (c *Catalog) Entities() []domain.Entity {
	out := make([]domain.Entity, 0, len(c.Countries)+len(c.Regions))
	out = append(out, c.Countries...)
	out = append(out, c.Regions...)
	return out
}

// Rows crosses every entity with every metric and joins in coverage by
// (entity type, code, metric). Entries absent from coverage keep status
// unknown. The result is ordered by (level, entity id, metric).
func (c *Catalog) Rows(coverage map[string]domain.CoverageRecord) []domain.CatalogRow {
	rows := make([]domain.CatalogRow, 0, (len(c.Countries)+len(c.Regions))*len(c.Metrics))
	for _, entity := range c.Entities() {
		for _, metric := range c.Metrics {
			cov, ok := coverage[domain.CoverageKey(entity.Type, entity.Code, metric.Code)]
			if !ok {
				cov = domain.CoverageRecord{
					EntityType: entity.Type,
					EntityCode: entity.Code,
					Metric:     metric.Code,
					Status:     domain.CoverageUnknown,
				}
			}
			rows = append(rows, domain.CatalogRow{
				Level:    entity.Level(),
				Entity:   entity,
				Metric:   metric,
				Coverage: cov,
			})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Level != rows[j].Level {
			return rows[i].Level < rows[j].Level
		}
		if rows[i].Entity.Code != rows[j].Entity.Code {
			return rows[i].Entity.Code < rows[j].Entity.Code
		}
		return rows[i].Metric.Code < rows[j].Metric.Code
	})
	return rows
}
