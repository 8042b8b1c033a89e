// Package qa computes per-series quality statistics over the tidy
// observation table and renders them as a markdown report. Statistics
// are grouped by (level, entity, metric key, series variant), the same
// identity the tidy table is keyed on minus the timestamp.
package qa

import (
	"math"
	"sort"

	"github.com/cheikh-a/ioda-pipeline/internal/domain"
)

// spikeMinSamples is the fewest non-null points spike detection runs on.
const spikeMinSamples = 8

// Thresholds tune gap and spike detection. Zero fields fall back to the
// defaults.
type Thresholds struct {
	// GapMultiple flags a step between consecutive non-null points as a
	// gap when it exceeds this multiple of the group's median step.
	GapMultiple float64
	// SpikeMultiple flags a point as a spike when its deviation from the
	// rolling median exceeds this multiple of the rolling MAD.
	SpikeMultiple float64
	// SpikeWindow is the rolling window width, in points, for the spike
	// median and MAD.
	SpikeWindow int
}

// DefaultThresholds returns the standard tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{GapMultiple: 1.5, SpikeMultiple: 10, SpikeWindow: 25}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.GapMultiple <= 0 {
		t.GapMultiple = d.GapMultiple
	}
	if t.SpikeMultiple <= 0 {
		t.SpikeMultiple = d.SpikeMultiple
	}
	if t.SpikeWindow <= 0 {
		t.SpikeWindow = d.SpikeWindow
	}
	return t
}

type groupKey struct {
	level    domain.Level
	entityID string
	metric   string
	variant  string
}

func (k groupKey) display() string {
	if k.variant != "" {
		return k.metric + "__" + k.variant
	}
	return k.metric
}

// Summarize aggregates the tidy table into one quality row per series.
// Output is sorted by level, entity, and display key.
func Summarize(obs []domain.Observation, th Thresholds) []domain.QASummaryRow {
	th = th.withDefaults()
	byKey := make(map[groupKey][]domain.Observation)
	for _, o := range obs {
		k := groupKey{o.Level, o.EntityID, o.MetricKey, o.SeriesVariant}
		byKey[k] = append(byKey[k], o)
	}

	keys := make([]groupKey, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.level != b.level {
			return a.level < b.level
		}
		if a.entityID != b.entityID {
			return a.entityID < b.entityID
		}
		if a.display() != b.display() {
			return a.display() < b.display()
		}
		return a.variant < b.variant
	})

	rows := make([]domain.QASummaryRow, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, groupStats(byKey[k], th))
	}
	return rows
}

func groupStats(group []domain.Observation, th Thresholds) domain.QASummaryRow {
	g := make([]domain.Observation, len(group))
	copy(g, group)
	sort.Slice(g, func(i, j int) bool { return g[i].Timestamp.Before(g[j].Timestamp) })

	first := g[0]
	row := domain.QASummaryRow{
		Level:         first.Level,
		EntityID:      first.EntityID,
		MetricKey:     first.MetricKey,
		SeriesVariant: first.SeriesVariant,
		DisplayKey:    first.DisplayKey(),
		MinTimestamp:  g[0].Timestamp,
		MaxTimestamp:  g[len(g)-1].Timestamp,
		Rows:          len(g),
	}

	var values []float64
	var nonNullTS []int64
	for _, o := range g {
		if row.EntityName == "" {
			row.EntityName = o.EntityName
		}
		if row.Unit == "" {
			row.Unit = o.Unit
		}
		if o.DuplicateKeyCount > 0 {
			row.DuplicateRows++
		}
		if o.Value == nil {
			continue
		}
		values = append(values, *o.Value)
		nonNullTS = append(nonNullTS, o.Timestamp.Unix())
	}
	row.NonNull = len(values)
	row.Nulls = row.Rows - row.NonNull
	row.NullFraction = float64(row.Nulls) / float64(row.Rows)

	diffs := make([]float64, 0, len(nonNullTS))
	for i := 1; i < len(nonNullTS); i++ {
		diffs = append(diffs, float64(nonNullTS[i]-nonNullTS[i-1]))
	}
	if len(diffs) > 0 {
		sorted := append([]float64(nil), diffs...)
		sort.Float64s(sorted)
		med := quantile(sorted, 0.5)
		maxGap := sorted[len(sorted)-1]
		row.MedianStepSeconds = &med
		row.MaxGapSeconds = &maxGap
		if med > 0 {
			for _, d := range diffs {
				if d > th.GapMultiple*med {
					row.GapCount++
				}
			}
		}
	}

	dom := DomainFor(row.Unit, row.MetricKey)
	for _, v := range values {
		if dom.NonNegative && v < 0 {
			row.NegativeCount++
		}
		if dom.UpperBound > 0 && (v > dom.UpperBound || v < 0) {
			row.RangeViolations++
		}
	}

	row.SpikeCount = countSpikes(values, th)

	return row
}

// countSpikes flags points whose deviation from a centered rolling median
// exceeds SpikeMultiple times the rolling MAD. A window with zero MAD
// cannot rank deviations and flags nothing.
func countSpikes(values []float64, th Thresholds) int {
	if len(values) < spikeMinSamples {
		return 0
	}
	width := th.SpikeWindow
	if width > len(values) {
		width = len(values)
	}

	spikes := 0
	for i, v := range values {
		lo := i - width/2
		if lo < 0 {
			lo = 0
		}
		hi := lo + width
		if hi > len(values) {
			hi = len(values)
			lo = hi - width
		}
		window := values[lo:hi]
		med := median(window)
		mad := medianAbsDeviation(window, med)
		if mad > 0 && math.Abs(v-med) > th.SpikeMultiple*mad {
			spikes++
		}
	}
	return spikes
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return quantile(sorted, 0.5)
}

func medianAbsDeviation(values []float64, med float64) float64 {
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - med)
	}
	sort.Float64s(devs)
	return quantile(devs, 0.5)
}

// quantile returns the p-quantile of an ascending-sorted slice, linearly
// interpolated between adjacent ranks.
func quantile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
