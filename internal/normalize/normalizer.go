// Package normalize turns stored raw signal chunks into the tidy
// observation table and the wide per-level panels. Every chunk on disk
// is read on every run; the output tables are a pure function of the
// raw tree and the entity catalog.
package normalize

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/cheikh-a/ioda-pipeline/internal/domain"
	"github.com/cheikh-a/ioda-pipeline/internal/observability"
	"github.com/cheikh-a/ioda-pipeline/internal/rawstore"
)

// RawReader lists and reads stored chunks. *rawstore.Store satisfies it.
type RawReader interface {
	List() ([]rawstore.ChunkRef, error)
	Read(rel string) ([]byte, error)
}

// Normalizer builds observations from the raw chunk tree.
type Normalizer struct {
	store   RawReader
	index   *domain.CatalogIndex
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Normalizer. index may be nil, which disables enrichment.
func New(store RawReader, index *domain.CatalogIndex, logger *slog.Logger, metrics *observability.Metrics) *Normalizer {
	return &Normalizer{store: store, index: index, logger: logger, metrics: metrics}
}

// obsRow carries a payload position so key collisions resolve the same
// way on every run.
type obsRow struct {
	domain.Observation
	seq int
}

// Build reads every chunk, expands its series into rows, enriches them
// from the catalog, and dedupes. Chunks whose payload shape is not
// recognized are skipped whole; their files stay on disk.
func (n *Normalizer) Build(ctx context.Context) ([]domain.Observation, error) {
	chunks, err := n.store.List()
	if err != nil {
		return nil, err
	}

	var rows []obsRow
	seq := 0
	for _, chunk := range chunks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		chunkRows, err := n.expandChunk(chunk, &seq)
		if err != nil {
			n.metrics.SchemaDriftChunks.Inc()
			n.logger.Warn("skipping chunk with unrecognized payload", "file", chunk.RelPath, "error", err)
			continue
		}
		rows = append(rows, chunkRows...)
	}

	obs := n.dedupe(rows)
	n.metrics.ObservationsBuilt.Add(float64(len(obs)))
	n.logger.Info("normalization complete", "chunks", len(chunks), "observations", len(obs))
	return obs, nil
}

// expandChunk turns one stored chunk into rows. Any series inside the
// chunk with an unrecognized values shape fails the whole chunk.
func (n *Normalizer) expandChunk(chunk rawstore.ChunkRef, seq *int) ([]obsRow, error) {
	body, err := n.store.Read(chunk.RelPath)
	if err != nil {
		return nil, err
	}
	series, err := domain.ParseSignalPayload(body)
	if err != nil {
		return nil, &domain.SchemaDriftError{Path: chunk.RelPath, Reason: err.Error()}
	}

	var rows []obsRow
	for _, s := range series {
		if shape := s.Classify(); shape == domain.ShapeUnknown {
			return nil, &domain.SchemaDriftError{
				Path:   chunk.RelPath,
				Reason: "series " + s.EntityCode + "/" + s.Datasource + " has an unrecognized values shape",
			}
		}
		if s.Step <= 0 {
			continue
		}

		base := s.MetricBase()
		level := domain.LevelFor(s.EntityType)
		for idx, value := range s.Values {
			ts := s.From + int64(idx)*s.Step
			for _, er := range expandBucket(value, base) {
				o := domain.Observation{
					Timestamp:         time.Unix(ts, 0).UTC(),
					Level:             level,
					EntityID:          s.EntityCode,
					EntityName:        s.EntityName,
					MetricKey:         er.Metric,
					SeriesVariant:     er.Variant,
					Value:             er.Value,
					SourceFields:      er.SourceFields,
					StepSeconds:       s.Step,
					NativeStepSeconds: s.NativeStep,
					RawFile:           chunk.RelPath,
					RawWindowStart:    chunk.Window.EpochStart(),
				}
				rows = append(rows, obsRow{Observation: n.index.Enrich(o), seq: *seq})
				*seq++
			}
		}
	}
	return rows, nil
}

// dedupe first collapses rows that are identical in every field, then
// resolves remaining key collisions deterministically: rows sharing an
// observation key keep the one from the earliest raw window, breaking
// ties by file path and payload order. Survivors carry the collision
// count and come out in canonical table order.
func (n *Normalizer) dedupe(rows []obsRow) []domain.Observation {
	unique := make([]obsRow, 0, len(rows))
	seen := make(map[obsContent]bool, len(rows))
	for _, r := range rows {
		c := contentOf(r.Observation)
		if seen[c] {
			n.metrics.DuplicatesDropped.Inc()
			continue
		}
		seen[c] = true
		unique = append(unique, r)
	}

	sort.Slice(unique, func(i, j int) bool {
		a, b := unique[i], unique[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		if a.MetricKey != b.MetricKey {
			return a.MetricKey < b.MetricKey
		}
		if a.SeriesVariant != b.SeriesVariant {
			return a.SeriesVariant < b.SeriesVariant
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.RawWindowStart != b.RawWindowStart {
			return a.RawWindowStart < b.RawWindowStart
		}
		if a.RawFile != b.RawFile {
			return a.RawFile < b.RawFile
		}
		return a.seq < b.seq
	})

	var out []domain.Observation
	for i := 0; i < len(unique); {
		j := i + 1
		for j < len(unique) && unique[j].Key() == unique[i].Key() {
			j++
		}
		winner := unique[i].Observation
		winner.DuplicateKeyCount = j - i - 1
		if dropped := j - i - 1; dropped > 0 {
			n.metrics.DuplicatesDropped.Add(float64(dropped))
		}
		out = append(out, winner)
		i = j
	}
	return out
}

// obsContent is an observation with comparable fields only, used for the
// exact-duplicate pass.
type obsContent struct {
	ts                int64
	level             domain.Level
	entityID          string
	entityName        string
	parentCountryID   string
	parentCountryName string
	metricKey         string
	seriesVariant     string
	value             float64
	valueNull         bool
	unit              string
	stepSeconds       int64
	nativeStepSeconds int64
	sourceFields      string
	rawFile           string
	rawWindowStart    int64
}

func contentOf(o domain.Observation) obsContent {
	c := obsContent{
		ts:                o.Timestamp.Unix(),
		level:             o.Level,
		entityID:          o.EntityID,
		entityName:        o.EntityName,
		parentCountryID:   o.ParentCountryID,
		parentCountryName: o.ParentCountryName,
		metricKey:         o.MetricKey,
		seriesVariant:     o.SeriesVariant,
		valueNull:         o.Value == nil,
		unit:              o.Unit,
		stepSeconds:       o.StepSeconds,
		nativeStepSeconds: o.NativeStepSeconds,
		sourceFields:      o.SourceFields,
		rawFile:           o.RawFile,
		rawWindowStart:    o.RawWindowStart,
	}
	if o.Value != nil {
		c.value = *o.Value
	}
	return c
}
