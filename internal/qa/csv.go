package qa

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cheikh-a/ioda-pipeline/internal/domain"
)

var summaryHeader = []string{
	"level",
	"entity_id",
	"entity_name",
	"metric_key",
	"series_variant",
	"display_key",
	"unit",
	"n_rows",
	"n_non_null",
	"n_null",
	"null_fraction",
	"min_timestamp_utc",
	"max_timestamp_utc",
	"median_step_seconds",
	"max_gap_seconds",
	"gap_count",
	"negative_count",
	"range_violations",
	"spike_count",
	"duplicate_rows",
}

// WriteSummaryCSV writes the QA summary table to path, replacing any
// previous file atomically.
func WriteSummaryCSV(path string, rows []domain.QASummaryRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("qa: mkdir %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("qa: create %s: %w", tmp, err)
	}

	w := csv.NewWriter(f)
	if err := writeSummaryRows(w, rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("qa: write %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("qa: flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("qa: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("qa: rename %s: %w", path, err)
	}
	return nil
}

func writeSummaryRows(w *csv.Writer, rows []domain.QASummaryRow) error {
	if err := w.Write(summaryHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			string(r.Level),
			r.EntityID,
			r.EntityName,
			r.MetricKey,
			r.SeriesVariant,
			r.DisplayKey,
			r.Unit,
			strconv.Itoa(r.Rows),
			strconv.Itoa(r.NonNull),
			strconv.Itoa(r.Nulls),
			strconv.FormatFloat(r.NullFraction, 'f', -1, 64),
			r.MinTimestamp.UTC().Format(time.RFC3339),
			r.MaxTimestamp.UTC().Format(time.RFC3339),
			formatFloatCell(r.MedianStepSeconds),
			formatFloatCell(r.MaxGapSeconds),
			strconv.Itoa(r.GapCount),
			strconv.Itoa(r.NegativeCount),
			strconv.Itoa(r.RangeViolations),
			strconv.Itoa(r.SpikeCount),
			strconv.Itoa(r.DuplicateRows),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

func formatFloatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
