package normalize

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cheikh-a/ioda-pipeline/internal/domain"
)

var longHeader = []string{
	"timestamp_utc",
	"level",
	"entity_id",
	"entity_name",
	"parent_country_id",
	"parent_country_name",
	"metric_key",
	"series_variant",
	"value",
	"unit",
	"step_seconds",
	"native_step_seconds",
	"source_fields_json",
	"raw_file",
	"raw_window_start_ts",
	"duplicate_key_count",
}

// WriteObservationsCSV writes the tidy table to path, replacing any
// previous file atomically.
func WriteObservationsCSV(path string, obs []domain.Observation) error {
	return writeCSV(path, func(w *csv.Writer) error {
		if err := w.Write(longHeader); err != nil {
			return err
		}
		for _, o := range obs {
			rec := []string{
				o.Timestamp.UTC().Format(time.RFC3339),
				string(o.Level),
				o.EntityID,
				o.EntityName,
				o.ParentCountryID,
				o.ParentCountryName,
				o.MetricKey,
				o.SeriesVariant,
				formatValue(o.Value),
				o.Unit,
				strconv.FormatInt(o.StepSeconds, 10),
				strconv.FormatInt(o.NativeStepSeconds, 10),
				o.SourceFields,
				o.RawFile,
				strconv.FormatInt(o.RawWindowStart, 10),
				strconv.Itoa(o.DuplicateKeyCount),
			}
			if err := w.Write(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// WritePanelCSV writes one wide panel to path, replacing any previous
// file atomically.
func WritePanelCSV(path string, p Panel) error {
	header := append([]string{
		"timestamp_utc",
		"entity_id",
		"entity_name",
		"parent_country_id",
		"parent_country_name",
	}, p.Columns...)

	return writeCSV(path, func(w *csv.Writer) error {
		if err := w.Write(header); err != nil {
			return err
		}
		for _, row := range p.Rows {
			rec := make([]string, 0, len(header))
			rec = append(rec,
				row.Timestamp.UTC().Format(time.RFC3339),
				row.EntityID,
				row.EntityName,
				row.ParentCountryID,
				row.ParentCountryName,
			)
			for _, col := range p.Columns {
				v, ok := row.Values[col]
				if !ok {
					rec = append(rec, "")
					continue
				}
				rec = append(rec, formatValue(v))
			}
			if err := w.Write(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeCSV streams records to path via a same-directory temp file so
// readers never see a half-written table.
func writeCSV(path string, fill func(*csv.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("normalize: mkdir %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("normalize: create %s: %w", tmp, err)
	}

	w := csv.NewWriter(f)
	if err := fill(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("normalize: write %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("normalize: flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("normalize: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("normalize: rename %s: %w", path, err)
	}
	return nil
}

func formatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
