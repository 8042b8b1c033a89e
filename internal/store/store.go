// Package store persists the pipeline's durable state in a single sqlite
// database: the entity catalog, the coverage cache, the normalized
// observation table, and QA summaries.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cheikh-a/ioda-pipeline/internal/domain"
)

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and runs migrations.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	statements := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS catalog (
			level TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			entity_name TEXT,
			parent_country_id TEXT,
			parent_country_name TEXT,
			metric TEXT NOT NULL,
			metric_name TEXT,
			unit TEXT,
			coverage_status TEXT,
			coverage_min_ts INTEGER,
			coverage_max_ts INTEGER,
			coverage_method TEXT,
			coverage_checked_at TEXT,
			coverage_source TEXT,
			PRIMARY KEY (level, entity_id, metric)
		);`,
		`CREATE TABLE IF NOT EXISTS coverage_cache (
			cache_key TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_code TEXT NOT NULL,
			metric TEXT NOT NULL,
			status TEXT NOT NULL,
			min_ts INTEGER,
			max_ts INTEGER,
			method TEXT,
			checked_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS observations (
			ts INTEGER NOT NULL,
			level TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			entity_name TEXT,
			parent_country_id TEXT,
			parent_country_name TEXT,
			metric_key TEXT NOT NULL,
			series_variant TEXT NOT NULL DEFAULT '',
			value REAL,
			unit TEXT,
			step_seconds INTEGER NOT NULL,
			native_step_seconds INTEGER,
			source_fields_json TEXT,
			raw_file TEXT,
			raw_window_start INTEGER,
			duplicate_key_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (ts, level, entity_id, metric_key, series_variant)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_observations_series
			ON observations (level, entity_id, metric_key, series_variant, ts);`,
		`CREATE TABLE IF NOT EXISTS qa_summary (
			level TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			entity_name TEXT,
			metric_key TEXT NOT NULL,
			series_variant TEXT NOT NULL DEFAULT '',
			display_key TEXT NOT NULL,
			unit TEXT,
			min_ts INTEGER,
			max_ts INTEGER,
			n_rows INTEGER NOT NULL,
			n_non_null INTEGER NOT NULL,
			n_null INTEGER NOT NULL,
			null_fraction REAL NOT NULL,
			median_step_seconds REAL,
			max_gap_seconds REAL,
			gap_count INTEGER NOT NULL,
			negative_count INTEGER NOT NULL,
			range_violations INTEGER NOT NULL,
			spike_count INTEGER NOT NULL,
			duplicate_rows INTEGER NOT NULL,
			PRIMARY KEY (level, entity_id, metric_key, series_variant)
		);`,
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// ReplaceCatalog rebuilds the catalog table from a discovery run.
func (s *Store) ReplaceCatalog(ctx context.Context, rows []domain.CatalogRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO catalog (
			level, entity_type, entity_id, entity_name,
			parent_country_id, parent_country_name,
			metric, metric_name, unit,
			coverage_status, coverage_min_ts, coverage_max_ts,
			coverage_method, coverage_checked_at, coverage_source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		cov := row.Coverage
		var checkedAt any
		if !cov.CheckedAt.IsZero() {
			checkedAt = cov.CheckedAt.UTC().Format(time.RFC3339)
		}
		if _, err := stmt.ExecContext(ctx,
			row.Level, row.Entity.Type, row.Entity.Code, row.Entity.Name,
			row.Entity.ParentCountryCode, row.Entity.ParentCountryName,
			row.Metric.Code, row.Metric.Name, row.Metric.Unit,
			string(cov.Status), nullableInt64(cov.MinTS), nullableInt64(cov.MaxTS),
			cov.Method, checkedAt, string(cov.Source),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadCatalog returns the catalog ordered by (level, entity_id, metric).
func (s *Store) LoadCatalog(ctx context.Context) ([]domain.CatalogRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT level, entity_type, entity_id, entity_name,
			parent_country_id, parent_country_name,
			metric, metric_name, unit,
			coverage_status, coverage_min_ts, coverage_max_ts,
			coverage_method, coverage_checked_at, coverage_source
		FROM catalog
		ORDER BY level, entity_id, metric
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CatalogRow
	for rows.Next() {
		var (
			row        domain.CatalogRow
			minTS      sql.NullInt64
			maxTS      sql.NullInt64
			status     sql.NullString
			method     sql.NullString
			checkedAt  sql.NullString
			source     sql.NullString
			entityName sql.NullString
			parentID   sql.NullString
			parentName sql.NullString
			metricName sql.NullString
			unit       sql.NullString
		)
		if err := rows.Scan(
			&row.Level, &row.Entity.Type, &row.Entity.Code, &entityName,
			&parentID, &parentName,
			&row.Metric.Code, &metricName, &unit,
			&status, &minTS, &maxTS,
			&method, &checkedAt, &source,
		); err != nil {
			return nil, err
		}
		row.Entity.Name = entityName.String
		row.Entity.ParentCountryCode = parentID.String
		row.Entity.ParentCountryName = parentName.String
		row.Metric.Name = metricName.String
		row.Metric.Unit = unit.String

		row.Coverage = domain.CoverageRecord{
			EntityType: row.Entity.Type,
			EntityCode: row.Entity.Code,
			Metric:     row.Metric.Code,
			Status:     domain.CoverageStatus(status.String),
			MinTS:      int64Ptr(minTS),
			MaxTS:      int64Ptr(maxTS),
			Method:     method.String,
			Source:     domain.CoverageSource(source.String),
		}
		if checkedAt.Valid {
			if t, perr := time.Parse(time.RFC3339, checkedAt.String); perr == nil {
				row.Coverage.CheckedAt = t
			}
		}
		if row.Coverage.Status == "" {
			row.Coverage.Status = domain.CoverageUnknown
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetCoverage returns one cached coverage record by key.
func (s *Store) GetCoverage(ctx context.Context, key string) (domain.CoverageRecord, bool, error) {
	var (
		rec       domain.CoverageRecord
		minTS     sql.NullInt64
		maxTS     sql.NullInt64
		method    sql.NullString
		checkedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT entity_type, entity_code, metric, status, min_ts, max_ts, method, checked_at
		FROM coverage_cache WHERE cache_key = ?
	`, key).Scan(&rec.EntityType, &rec.EntityCode, &rec.Metric, &rec.Status, &minTS, &maxTS, &method, &checkedAt)
	if err == sql.ErrNoRows {
		return domain.CoverageRecord{}, false, nil
	}
	if err != nil {
		return domain.CoverageRecord{}, false, err
	}
	rec.MinTS = int64Ptr(minTS)
	rec.MaxTS = int64Ptr(maxTS)
	rec.Method = method.String
	rec.Source = domain.CoverageFromCache
	if t, perr := time.Parse(time.RFC3339, checkedAt); perr == nil {
		rec.CheckedAt = t
	}
	return rec, true, nil
}

// PutCoverage upserts one coverage record.
func (s *Store) PutCoverage(ctx context.Context, rec domain.CoverageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coverage_cache (cache_key, entity_type, entity_code, metric, status, min_ts, max_ts, method, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			status = excluded.status,
			min_ts = excluded.min_ts,
			max_ts = excluded.max_ts,
			method = excluded.method,
			checked_at = excluded.checked_at
	`, rec.Key(), rec.EntityType, rec.EntityCode, rec.Metric, string(rec.Status),
		nullableInt64(rec.MinTS), nullableInt64(rec.MaxTS), rec.Method,
		rec.CheckedAt.UTC().Format(time.RFC3339))
	return err
}

// ReplaceObservations rebuilds the observation table from a normalization
// run.
func (s *Store) ReplaceObservations(ctx context.Context, obs []domain.Observation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM observations`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (
			ts, level, entity_id, entity_name, parent_country_id, parent_country_name,
			metric_key, series_variant, value, unit,
			step_seconds, native_step_seconds, source_fields_json,
			raw_file, raw_window_start, duplicate_key_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, o := range obs {
		var value any
		if o.Value != nil {
			value = *o.Value
		}
		if _, err := stmt.ExecContext(ctx,
			o.Timestamp.Unix(), o.Level, o.EntityID, o.EntityName,
			o.ParentCountryID, o.ParentCountryName,
			o.MetricKey, o.SeriesVariant, value, o.Unit,
			o.StepSeconds, o.NativeStepSeconds, o.SourceFields,
			o.RawFile, o.RawWindowStart, o.DuplicateKeyCount,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadObservations returns the tidy table in its canonical order.
func (s *Store) LoadObservations(ctx context.Context) ([]domain.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, level, entity_id, entity_name, parent_country_id, parent_country_name,
			metric_key, series_variant, value, unit,
			step_seconds, native_step_seconds, source_fields_json,
			raw_file, raw_window_start, duplicate_key_count
		FROM observations
		ORDER BY level, entity_id, metric_key, series_variant, ts
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		var (
			o          domain.Observation
			ts         int64
			entityName sql.NullString
			parentID   sql.NullString
			parentName sql.NullString
			value      sql.NullFloat64
			unit       sql.NullString
			nativeStep sql.NullInt64
			sourceF    sql.NullString
			rawFile    sql.NullString
			rawStart   sql.NullInt64
		)
		if err := rows.Scan(
			&ts, &o.Level, &o.EntityID, &entityName, &parentID, &parentName,
			&o.MetricKey, &o.SeriesVariant, &value, &unit,
			&o.StepSeconds, &nativeStep, &sourceF,
			&rawFile, &rawStart, &o.DuplicateKeyCount,
		); err != nil {
			return nil, err
		}
		o.Timestamp = time.Unix(ts, 0).UTC()
		o.EntityName = entityName.String
		o.ParentCountryID = parentID.String
		o.ParentCountryName = parentName.String
		if value.Valid {
			v := value.Float64
			o.Value = &v
		}
		o.Unit = unit.String
		o.NativeStepSeconds = nativeStep.Int64
		o.SourceFields = sourceF.String
		o.RawFile = rawFile.String
		o.RawWindowStart = rawStart.Int64
		out = append(out, o)
	}
	return out, rows.Err()
}

// MaxObservedTimestamps returns, per (level, entity, base metric), the
// newest stored bucket timestamp. Used by since-last-run fetches.
func (s *Store) MaxObservedTimestamps(ctx context.Context) (map[domain.TargetKey]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT level, entity_id, metric_key, MAX(ts)
		FROM observations
		GROUP BY level, entity_id, metric_key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.TargetKey]time.Time)
	for rows.Next() {
		var (
			level     domain.Level
			entityID  string
			metricKey string
			ts        int64
		)
		if err := rows.Scan(&level, &entityID, &metricKey, &ts); err != nil {
			return nil, err
		}
		// Derived metric keys fold into their base metric, keeping the max.
		key := domain.TargetKey{Level: level, EntityID: entityID, Metric: domain.BaseMetric(metricKey)}
		t := time.Unix(ts, 0).UTC()
		if existing, ok := out[key]; !ok || t.After(existing) {
			out[key] = t
		}
	}
	return out, rows.Err()
}

// ReplaceQASummary rebuilds the QA summary table.
func (s *Store) ReplaceQASummary(ctx context.Context, rows []domain.QASummaryRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM qa_summary`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO qa_summary (
			level, entity_id, entity_name, metric_key, series_variant, display_key, unit,
			min_ts, max_ts, n_rows, n_non_null, n_null, null_fraction,
			median_step_seconds, max_gap_seconds, gap_count,
			negative_count, range_violations, spike_count, duplicate_rows
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		var median, maxGap any
		if r.MedianStepSeconds != nil {
			median = *r.MedianStepSeconds
		}
		if r.MaxGapSeconds != nil {
			maxGap = *r.MaxGapSeconds
		}
		if _, err := stmt.ExecContext(ctx,
			r.Level, r.EntityID, r.EntityName, r.MetricKey, r.SeriesVariant, r.DisplayKey, r.Unit,
			r.MinTimestamp.Unix(), r.MaxTimestamp.Unix(), r.Rows, r.NonNull, r.Nulls, r.NullFraction,
			median, maxGap, r.GapCount,
			r.NegativeCount, r.RangeViolations, r.SpikeCount, r.DuplicateRows,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
