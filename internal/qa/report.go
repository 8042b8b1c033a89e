package qa

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cheikh-a/ioda-pipeline/internal/domain"
)

// tableLimit caps every report table at the top offenders.
const tableLimit = 10

// WriteReport renders the QA summary as markdown. generatedAt is
// injected so output stays testable.
func WriteReport(path string, rows []domain.QASummaryRow, generatedAt time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	var b strings.Builder
	b.WriteString("# QA Report\n\n")
	fmt.Fprintf(&b, "- Generated at: `%s`\n", generatedAt.UTC().Format(time.RFC3339))
	if len(rows) == 0 {
		b.WriteString("- No data available (observation table is empty).\n")
		return os.WriteFile(path, []byte(b.String()), 0o644)
	}

	totalRows := 0
	var negatives, violations, spikes, duplicates, gaps int
	for _, r := range rows {
		totalRows += r.Rows
		negatives += r.NegativeCount
		violations += r.RangeViolations
		spikes += r.SpikeCount
		duplicates += r.DuplicateRows
		gaps += r.GapCount
	}
	fmt.Fprintf(&b, "- QA groups (entity x metric x variant): `%d`\n", len(rows))
	fmt.Fprintf(&b, "- Total rows represented: `%d`\n\n", totalRows)

	b.WriteString("## Totals\n\n")
	fmt.Fprintf(&b, "- `negative_count` total: `%d`\n", negatives)
	fmt.Fprintf(&b, "- `range_violations` total: `%d`\n", violations)
	fmt.Fprintf(&b, "- `spike_count` total: `%d`\n", spikes)
	fmt.Fprintf(&b, "- `duplicate_rows` total: `%d`\n", duplicates)
	fmt.Fprintf(&b, "- `gap_count` total: `%d`\n\n", gaps)

	writeMissingness(&b, rows)
	writeGaps(&b, rows)
	writeAnomalies(&b, rows)
	writeDuplicates(&b, rows)

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeMissingness(b *strings.Builder, rows []domain.QASummaryRow) {
	ranked := rankedCopy(rows, func(a, z domain.QASummaryRow) bool {
		if a.NullFraction != z.NullFraction {
			return a.NullFraction > z.NullFraction
		}
		return a.Rows > z.Rows
	})
	cells := make([][]string, 0, len(ranked))
	for _, r := range ranked {
		cells = append(cells, []string{
			string(r.Level), r.EntityID, r.DisplayKey,
			strconv.Itoa(r.Rows), strconv.Itoa(r.Nulls), fmtFloat(r.NullFraction),
			r.MinTimestamp.UTC().Format(time.RFC3339),
			r.MaxTimestamp.UTC().Format(time.RFC3339),
		})
	}
	writeTable(b, "Highest Missingness",
		[]string{"level", "entity_id", "metric_key", "n_rows", "n_null", "null_fraction", "min_timestamp_utc", "max_timestamp_utc"},
		cells)
}

func writeGaps(b *strings.Builder, rows []domain.QASummaryRow) {
	ranked := rankedCopy(rows, func(a, z domain.QASummaryRow) bool {
		ag, zg := floatOrNegInf(a.MaxGapSeconds), floatOrNegInf(z.MaxGapSeconds)
		if ag != zg {
			return ag > zg
		}
		return a.GapCount > z.GapCount
	})
	cells := make([][]string, 0, len(ranked))
	for _, r := range ranked {
		cells = append(cells, []string{
			string(r.Level), r.EntityID, r.DisplayKey,
			fmtFloatPtr(r.MedianStepSeconds), fmtFloatPtr(r.MaxGapSeconds), strconv.Itoa(r.GapCount),
		})
	}
	writeTable(b, "Largest Gaps",
		[]string{"level", "entity_id", "metric_key", "median_step_seconds", "max_gap_seconds", "gap_count"},
		cells)
}

func writeAnomalies(b *strings.Builder, rows []domain.QASummaryRow) {
	anomalyTotal := func(r domain.QASummaryRow) int {
		return r.NegativeCount + r.RangeViolations + r.SpikeCount
	}
	ranked := rankedCopy(rows, func(a, z domain.QASummaryRow) bool {
		if anomalyTotal(a) != anomalyTotal(z) {
			return anomalyTotal(a) > anomalyTotal(z)
		}
		return a.SpikeCount > z.SpikeCount
	})
	cells := make([][]string, 0, len(ranked))
	for _, r := range ranked {
		cells = append(cells, []string{
			string(r.Level), r.EntityID, r.DisplayKey,
			strconv.Itoa(r.NegativeCount), strconv.Itoa(r.RangeViolations), strconv.Itoa(r.SpikeCount),
		})
	}
	writeTable(b, "Potential Anomalies",
		[]string{"level", "entity_id", "metric_key", "negative_count", "range_violations", "spike_count"},
		cells)
}

func writeDuplicates(b *strings.Builder, rows []domain.QASummaryRow) {
	var withDups []domain.QASummaryRow
	for _, r := range rows {
		if r.DuplicateRows > 0 {
			withDups = append(withDups, r)
		}
	}
	ranked := rankedCopy(withDups, func(a, z domain.QASummaryRow) bool {
		return a.DuplicateRows > z.DuplicateRows
	})
	cells := make([][]string, 0, len(ranked))
	for _, r := range ranked {
		cells = append(cells, []string{
			string(r.Level), r.EntityID, r.DisplayKey, strconv.Itoa(r.DuplicateRows),
		})
	}
	writeTable(b, "Duplicates",
		[]string{"level", "entity_id", "metric_key", "duplicate_rows"},
		cells)
}

// rankedCopy sorts a copy of rows with the given ordering, keeping the
// incoming canonical order for ties, and truncates to the table limit.
func rankedCopy(rows []domain.QASummaryRow, less func(a, z domain.QASummaryRow) bool) []domain.QASummaryRow {
	out := make([]domain.QASummaryRow, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	if len(out) > tableLimit {
		out = out[:tableLimit]
	}
	return out
}

func writeTable(b *strings.Builder, title string, header []string, rows [][]string) {
	fmt.Fprintf(b, "## %s\n\n", title)
	if len(rows) == 0 {
		b.WriteString("- None\n\n")
		return
	}
	b.WriteString("| " + strings.Join(header, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat("---|", len(header)) + "\n")
	for _, row := range rows {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	b.WriteString("\n")
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func fmtFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return fmtFloat(*v)
}

func floatOrNegInf(v *float64) float64 {
	if v == nil {
		return math.Inf(-1)
	}
	return *v
}
