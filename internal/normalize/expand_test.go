package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandScalarBucket(t *testing.T) {
	rows := expandBucket(float64(10), "ping-slash24")
	require.Len(t, rows, 1)
	assert.Equal(t, "ping-slash24", rows[0].Metric)
	assert.Equal(t, "", rows[0].Variant)
	require.NotNil(t, rows[0].Value)
	assert.Equal(t, 10.0, *rows[0].Value)
	assert.Equal(t, "{}", rows[0].SourceFields)
}

func TestExpandNullBucket(t *testing.T) {
	rows := expandBucket(nil, "bgp")
	require.Len(t, rows, 1)
	assert.Equal(t, "bgp", rows[0].Metric)
	assert.Nil(t, rows[0].Value)
}

func TestExpandEmptyListBucket(t *testing.T) {
	rows := expandBucket([]any{}, "bgp")
	require.Len(t, rows, 1)
	assert.Equal(t, "bgp", rows[0].Metric)
	assert.Nil(t, rows[0].Value)
}

func TestExpandAggregatedRecord(t *testing.T) {
	bucket := []any{
		map[string]any{
			"team": "team-1",
			"agg_values": map[string]any{
				"p90": float64(4.2),
				"p50": float64(1.5),
			},
		},
	}
	rows := expandBucket(bucket, "gtr-sarima")
	require.Len(t, rows, 2)

	// Aggregate keys come out sorted.
	assert.Equal(t, "gtr-sarima__p50", rows[0].Metric)
	assert.Equal(t, "gtr-sarima__p90", rows[1].Metric)
	for _, r := range rows {
		assert.Equal(t, "team=team-1", r.Variant)
		assert.Equal(t, `{"team":"team-1"}`, r.SourceFields)
		require.NotNil(t, r.Value)
	}
	assert.Equal(t, 1.5, *rows[0].Value)
	assert.Equal(t, 4.2, *rows[1].Value)
}

func TestExpandAggregatedNullValue(t *testing.T) {
	bucket := map[string]any{
		"team":       "team-2",
		"agg_values": map[string]any{"p50": nil},
	}
	rows := expandBucket(bucket, "gtr-sarima")
	require.Len(t, rows, 1)
	assert.Equal(t, "gtr-sarima__p50", rows[0].Metric)
	assert.Equal(t, "team=team-2", rows[0].Variant)
	assert.Nil(t, rows[0].Value)
}

func TestExpandAggregatedWithoutNumericFields(t *testing.T) {
	bucket := map[string]any{
		"team":       "team-1",
		"agg_values": map[string]any{"note": "n/a"},
	}
	rows := expandBucket(bucket, "gtr-sarima")
	require.Len(t, rows, 1)
	assert.Equal(t, "gtr-sarima", rows[0].Metric)
	assert.Equal(t, "team=team-1", rows[0].Variant)
	assert.Nil(t, rows[0].Value)
}

func TestExpandGenericRecord(t *testing.T) {
	bucket := map[string]any{
		"status": "ok",
		"count":  float64(3),
		"score":  nil,
	}
	rows := expandBucket(bucket, "merit-nt")
	require.Len(t, rows, 2)

	assert.Equal(t, "merit-nt__count", rows[0].Metric)
	require.NotNil(t, rows[0].Value)
	assert.Equal(t, 3.0, *rows[0].Value)

	assert.Equal(t, "merit-nt__score", rows[1].Metric)
	assert.Nil(t, rows[1].Value)

	for _, r := range rows {
		assert.Equal(t, "status=ok", r.Variant)
		assert.Equal(t, `{"status":"ok"}`, r.SourceFields)
	}
}

func TestExpandRecordWithoutNumericFields(t *testing.T) {
	rows := expandBucket(map[string]any{"note": "maintenance"}, "bgp")
	require.Len(t, rows, 1)
	assert.Equal(t, "bgp", rows[0].Metric)
	assert.Equal(t, "note=maintenance", rows[0].Variant)
	assert.Nil(t, rows[0].Value)
}

func TestExpandListOfNumbers(t *testing.T) {
	rows := expandBucket([]any{float64(1), float64(2)}, "bgp")
	require.Len(t, rows, 2)
	assert.Equal(t, "bgp__item", rows[0].Metric)
	assert.Equal(t, "item=0", rows[0].Variant)
	assert.Equal(t, "item=1", rows[1].Variant)
	require.NotNil(t, rows[1].Value)
	assert.Equal(t, 2.0, *rows[1].Value)
}

func TestExpandUnexpectedKindDegrades(t *testing.T) {
	rows := expandBucket("down", "bgp")
	require.Len(t, rows, 1)
	assert.Equal(t, "bgp", rows[0].Metric)
	assert.Nil(t, rows[0].Value)
	assert.Equal(t, `{"raw_type":"string"}`, rows[0].SourceFields)
}

func TestExpandVariantSkipsNestedDims(t *testing.T) {
	bucket := map[string]any{
		"team":       "team-1",
		"tags":       []any{"a", "b"},
		"agg_values": map[string]any{"p50": float64(1)},
	}
	rows := expandBucket(bucket, "gtr")
	require.Len(t, rows, 1)
	// Nested dims stay out of the variant but remain in provenance.
	assert.Equal(t, "team=team-1", rows[0].Variant)
	assert.Equal(t, `{"tags":["a","b"],"team":"team-1"}`, rows[0].SourceFields)
}

func TestExpandVariantFallsBackToPosition(t *testing.T) {
	bucket := []any{
		map[string]any{"agg_values": map[string]any{"p50": float64(1)}},
		map[string]any{"agg_values": map[string]any{"p50": float64(2)}},
	}
	rows := expandBucket(bucket, "gtr")
	require.Len(t, rows, 2)
	assert.Equal(t, "item=0", rows[0].Variant)
	assert.Equal(t, "item=1", rows[1].Variant)
}

func TestExpandVariantSanitizesValues(t *testing.T) {
	bucket := map[string]any{
		"region name": "Grand Dakar",
		"agg_values":  map[string]any{"p50": float64(1)},
	}
	rows := expandBucket(bucket, "gtr")
	require.Len(t, rows, 1)
	assert.Equal(t, "region_name=Grand_Dakar", rows[0].Variant)
}
