package domain

// CatalogRow pairs an entity with a metric and the coverage inferred for
// the pair. The discovery run produces one row per entity x metric.
type CatalogRow struct {
	Level    Level
	Entity   Entity
	Metric   Metric
	Coverage CoverageRecord
}

type entityRef struct {
	level Level
	id    string
}

// CatalogIndex answers the lookups normalization needs: entity identity by
// (level, id) and units by metric key. A nil index disables enrichment.
type CatalogIndex struct {
	entities map[entityRef]Entity
	units    map[string]string
}

// NewCatalogIndex builds an index over catalog rows.
func NewCatalogIndex(rows []CatalogRow) *CatalogIndex {
	ix := &CatalogIndex{
		entities: make(map[entityRef]Entity),
		units:    make(map[string]string),
	}
	for _, row := range rows {
		ix.entities[entityRef{row.Level, row.Entity.Code}] = row.Entity
		if row.Metric.Code != "" && row.Metric.Unit != "" {
			ix.units[row.Metric.Code] = row.Metric.Unit
		}
	}
	return ix
}

// Entity looks up an entity by level and id.
func (ix *CatalogIndex) Entity(level Level, entityID string) (Entity, bool) {
	if ix == nil {
		return Entity{}, false
	}
	e, ok := ix.entities[entityRef{level, entityID}]
	return e, ok
}

// UnitFor returns the unit for a metric key, falling back from the derived
// key to its base metric. Unknown metrics return "".
func (ix *CatalogIndex) UnitFor(metricKey string) string {
	if ix == nil {
		return ""
	}
	if u, ok := ix.units[metricKey]; ok {
		return u
	}
	return ix.units[BaseMetric(metricKey)]
}

// Enrich fills catalog-derived identity fields on an observation: entity
// name when the payload omitted one, parent country for regions, and the
// metric unit. Fields already set by the payload win over the catalog.
func (ix *CatalogIndex) Enrich(o Observation) Observation {
	if ix == nil {
		return o
	}
	if e, ok := ix.Entity(o.Level, o.EntityID); ok {
		if o.EntityName == "" {
			o.EntityName = e.Name
		}
		if o.ParentCountryID == "" {
			o.ParentCountryID = e.ParentCountryCode
		}
		if o.ParentCountryName == "" {
			o.ParentCountryName = e.ParentCountryName
		}
	}
	if o.Unit == "" {
		o.Unit = ix.UnitFor(o.MetricKey)
	}
	return o
}
