package domain

import "time"

// CoverageStatus summarizes what probing learned about an entity/metric pair.
type CoverageStatus string

const (
	// CoverageUnknown means no probe has completed, or probing ran out of
	// request budget before pinning the earliest data down.
	CoverageUnknown CoverageStatus = "unknown"
	// CoverageOK means both bounds were established.
	CoverageOK CoverageStatus = "ok"
	// CoverageNoRecentData means the recent window came back empty.
	CoverageNoRecentData CoverageStatus = "no_recent_data"
	// CoverageTransientError means probing kept failing on retryable errors.
	CoverageTransientError CoverageStatus = "transient_error"
)

// CoverageSource records whether a record came from a live probe or a cache hit.
type CoverageSource string

const (
	CoverageFromProbe CoverageSource = "probe"
	CoverageFromCache CoverageSource = "cache"
)

// CoverageRecord is the inferred data availability for one entity/metric pair.
// MinTS and MaxTS are epoch seconds of the earliest and latest populated
// buckets; both are set when Status is CoverageOK, and MinTS is never set
// without MaxTS.
type CoverageRecord struct {
	EntityType string
	EntityCode string
	Metric     string
	Status     CoverageStatus
	MinTS      *int64
	MaxTS      *int64
	Method     string
	CheckedAt  time.Time
	Source     CoverageSource
}

// CoverageKey builds the cache key for an entity/metric pair.
func CoverageKey(entityType, entityCode, metric string) string {
	return entityType + "|" + entityCode + "|" + metric
}

// Key returns the record's cache key.
func (r CoverageRecord) Key() string {
	return CoverageKey(r.EntityType, r.EntityCode, r.Metric)
}

// Fresh reports whether the record is still usable under the given TTL.
func (r CoverageRecord) Fresh(now time.Time, ttl time.Duration) bool {
	if r.CheckedAt.IsZero() {
		return false
	}
	return now.Sub(r.CheckedAt) < ttl
}
