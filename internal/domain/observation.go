package domain

import "time"

// Observation is one row of the tidy table: a single metric value for one
// entity at one bucket timestamp. Value is nil for buckets the upstream
// reported as null; the row still exists so gap analysis can tell "no
// value" apart from "no bucket".
type Observation struct {
	Timestamp         time.Time `json:"timestamp_utc"`
	Level             Level     `json:"level"`
	EntityID          string    `json:"entity_id"`
	EntityName        string    `json:"entity_name"`
	ParentCountryID   string    `json:"parent_country_id,omitempty"`
	ParentCountryName string    `json:"parent_country_name,omitempty"`
	MetricKey         string    `json:"metric_key"`
	SeriesVariant     string    `json:"series_variant,omitempty"`
	Value             *float64  `json:"value"`
	Unit              string    `json:"unit,omitempty"`
	StepSeconds       int64     `json:"step_seconds"`
	NativeStepSeconds int64     `json:"native_step_seconds,omitempty"`
	SourceFields      string    `json:"source_fields_json,omitempty"`

	// Provenance: the raw chunk the row was decoded from, as a path
	// relative to the data directory, plus the chunk window start used
	// for deterministic collision ordering.
	RawFile        string `json:"raw_file"`
	RawWindowStart int64  `json:"raw_window_start"`

	// DuplicateKeyCount is how many other rows shared this row's identity
	// key before deduplication. Zero for a clean row.
	DuplicateKeyCount int `json:"duplicate_key_count"`
}

// ObservationKey is the row identity: the tidy table holds at most one row
// per key.
type ObservationKey struct {
	TS            int64
	Level         Level
	EntityID      string
	MetricKey     string
	SeriesVariant string
}

// Key returns the row's identity key.
func (o Observation) Key() ObservationKey {
	return ObservationKey{
		TS:            o.Timestamp.Unix(),
		Level:         o.Level,
		EntityID:      o.EntityID,
		MetricKey:     o.MetricKey,
		SeriesVariant: o.SeriesVariant,
	}
}

// DisplayKey renders the metric key with its variant suffix when present,
// the form used for panel columns and QA grouping.
func (o Observation) DisplayKey() string {
	if o.SeriesVariant != "" {
		return o.MetricKey + "__" + o.SeriesVariant
	}
	return o.MetricKey
}

// QASummaryRow aggregates quality statistics for one observation group:
// all rows sharing (level, entity, metric_key, series_variant).
type QASummaryRow struct {
	Level         Level     `json:"level"`
	EntityID      string    `json:"entity_id"`
	EntityName    string    `json:"entity_name"`
	MetricKey     string    `json:"metric_key"`
	SeriesVariant string    `json:"series_variant,omitempty"`
	DisplayKey    string    `json:"display_key"`
	Unit          string    `json:"unit,omitempty"`
	MinTimestamp  time.Time `json:"min_timestamp_utc"`
	MaxTimestamp  time.Time `json:"max_timestamp_utc"`
	Rows          int       `json:"n_rows"`
	NonNull       int       `json:"n_non_null"`
	Nulls         int       `json:"n_null"`
	NullFraction  float64   `json:"null_fraction"`

	// MedianStepSeconds and MaxGapSeconds are nil when the group has fewer
	// than two non-null rows to difference.
	MedianStepSeconds *float64 `json:"median_step_seconds"`
	MaxGapSeconds     *float64 `json:"max_gap_seconds"`
	GapCount          int      `json:"gap_count"`

	NegativeCount   int `json:"negative_count"`
	RangeViolations int `json:"range_violations"`
	SpikeCount      int `json:"spike_count"`
	DuplicateRows   int `json:"duplicate_rows"`
}
