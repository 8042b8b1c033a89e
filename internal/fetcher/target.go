package fetcher

import (
	"sort"
	"time"

	"github.com/cheikh-a/ioda-pipeline/internal/domain"
)

// Target is one (entity, metric) pair to fetch raw signals for.
type Target struct {
	Level       domain.Level
	EntityType  string
	EntityID    string
	EntityName  string
	Metric      string
	CoverageMin *int64
	CoverageMax *int64
}

// Options tune one fetch run.
type Options struct {
	// Start and End bound the fetch window. A zero Start falls back to
	// coverage, then to thirty days before End. A zero End means now.
	Start time.Time
	End   time.Time

	// SinceLastRun starts each target one second after its newest stored
	// observation, using the LastRun lookup.
	SinceLastRun bool
	LastRun      map[domain.TargetKey]time.Time

	// DryRun plans chunks without issuing requests or writing files.
	DryRun bool
	// Overwrite refetches chunks that already exist on disk.
	Overwrite bool
}

// Summary counts what one fetch run did.
type Summary struct {
	Targets         int
	PlannedChunks   int
	WrittenChunks   int
	SkippedExisting int
	DryRunChunks    int
	SplitChunks     int
	FailedChunks    int
}

func (s *Summary) add(other Summary) {
	s.PlannedChunks += other.PlannedChunks
	s.WrittenChunks += other.WrittenChunks
	s.SkippedExisting += other.SkippedExisting
	s.DryRunChunks += other.DryRunChunks
	s.SplitChunks += other.SplitChunks
	s.FailedChunks += other.FailedChunks
}

// TargetsFromCatalog selects fetch targets from catalog rows. level is
// "country", "region", or "both"; metrics, when non-empty, restricts the
// metric set; limitEntities, when positive, keeps only the first n
// entities per level.
func TargetsFromCatalog(rows []domain.CatalogRow, level string, metrics []string, limitEntities int) []Target {
	wantMetric := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		wantMetric[m] = true
	}

	var targets []Target
	seen := make(map[domain.TargetKey]bool)
	for _, row := range rows {
		if level != "both" && string(row.Level) != level {
			continue
		}
		if len(wantMetric) > 0 && !wantMetric[row.Metric.Code] {
			continue
		}
		key := domain.TargetKey{Level: row.Level, EntityID: row.Entity.Code, Metric: row.Metric.Code}
		if seen[key] {
			continue
		}
		seen[key] = true

		name := row.Entity.Name
		if name == "" {
			name = row.Entity.Code
		}
		targets = append(targets, Target{
			Level:       row.Level,
			EntityType:  row.Entity.Type,
			EntityID:    row.Entity.Code,
			EntityName:  name,
			Metric:      row.Metric.Code,
			CoverageMin: row.Coverage.MinTS,
			CoverageMax: row.Coverage.MaxTS,
		})
	}

	sort.Slice(targets, func(i, j int) bool {
		if targets[i].Level != targets[j].Level {
			return targets[i].Level < targets[j].Level
		}
		if targets[i].EntityID != targets[j].EntityID {
			return targets[i].EntityID < targets[j].EntityID
		}
		return targets[i].Metric < targets[j].Metric
	})

	if limitEntities > 0 {
		targets = limitEntitiesPerLevel(targets, limitEntities)
	}
	return targets
}

// limitEntitiesPerLevel keeps the first n distinct entities within each
// level, preserving order.
func limitEntitiesPerLevel(targets []Target, n int) []Target {
	counts := make(map[domain.Level]int)
	kept := make(map[domain.Level]map[string]bool)

	var out []Target
	for _, t := range targets {
		byID := kept[t.Level]
		if byID == nil {
			byID = make(map[string]bool)
			kept[t.Level] = byID
		}
		if !byID[t.EntityID] {
			if counts[t.Level] >= n {
				continue
			}
			byID[t.EntityID] = true
			counts[t.Level]++
		}
		out = append(out, t)
	}
	return out
}

// resolveWindow computes the fetch window for a target. Coverage bounds
// fill a missing start and clamp the end to one day past the newest
// known bucket. Returns ok=false when nothing is left to fetch.
func resolveWindow(t Target, opts Options, now time.Time) (domain.TimeWindow, bool) {
	end := opts.End
	if end.IsZero() {
		end = now
	}

	var start time.Time
	if opts.SinceLastRun {
		key := domain.TargetKey{Level: t.Level, EntityID: t.EntityID, Metric: t.Metric}
		if prev, ok := opts.LastRun[key]; ok {
			start = prev.Add(time.Second)
		}
	}
	if start.IsZero() {
		start = opts.Start
	}
	if start.IsZero() {
		if t.CoverageMin != nil {
			start = time.Unix(*t.CoverageMin, 0)
		} else {
			start = end.Add(-30 * 24 * time.Hour)
		}
	}

	if t.CoverageMax != nil {
		covEnd := time.Unix(*t.CoverageMax, 0).Add(24 * time.Hour)
		if covEnd.Before(end) {
			end = covEnd
		}
	}

	if !start.Before(end) {
		return domain.TimeWindow{}, false
	}
	return domain.TimeWindow{Start: start.UTC(), End: end.UTC()}, true
}
