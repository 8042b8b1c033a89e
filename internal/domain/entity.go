package domain

// Level is the catalog granularity of an entity.
type Level string

const (
	LevelCountry Level = "country"
	LevelRegion  Level = "region"
)

// LevelFor maps an API entity type to its catalog level. Country maps to
// country, everything else the pipeline tracks is region-scoped.
func LevelFor(entityType string) Level {
	if entityType == "country" {
		return LevelCountry
	}
	return LevelRegion
}

// Entity is one geographic unit returned by the entities endpoint.
type Entity struct {
	Type              string `json:"type"`
	Code              string `json:"code"`
	Name              string `json:"name"`
	ParentCountryCode string `json:"parent_country_code,omitempty"`
	ParentCountryName string `json:"parent_country_name,omitempty"`
}

// Level returns the catalog level for the entity's type.
func (e Entity) Level() Level {
	return LevelFor(e.Type)
}

// Metric describes one upstream datasource, e.g. bgp or ping-slash24.
// Derived metric keys append double-underscore suffixes to Code.
type Metric struct {
	Code string `json:"datasource"`
	Name string `json:"name"`
	Unit string `json:"units"`
}

// TargetKey identifies one fetchable series at base-metric granularity.
// It is the lookup key for since-last-run resume and coverage joins.
type TargetKey struct {
	Level    Level
	EntityID string
	Metric   string
}
