package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignalPayload(t *testing.T) {
	t.Run("flat series list", func(t *testing.T) {
		body := []byte(`{"type":"signals.raw","error":null,"data":[[{"entityType":"country","entityCode":"SN","entityName":"Senegal","datasource":"bgp","from":1700000000,"until":1700001800,"step":600,"nativeStep":300,"values":[10,12,null]}]]}`)
		series, err := ParseSignalPayload(body)

		require.NoError(t, err)
		require.Len(t, series, 1)
		s := series[0]
		assert.Equal(t, "country", s.EntityType)
		assert.Equal(t, "SN", s.EntityCode)
		assert.Equal(t, "Senegal", s.EntityName)
		assert.Equal(t, "bgp", s.Datasource)
		assert.Equal(t, int64(1700000000), s.From)
		assert.Equal(t, int64(600), s.Step)
		assert.Equal(t, int64(300), s.NativeStep)
		assert.Len(t, s.Values, 3)
	})

	t.Run("series nested under extra wrapping", func(t *testing.T) {
		body := []byte(`{"error":null,"data":{"outer":[{"inner":[{"entityType":"region","entityCode":"3564","datasource":"ping-slash24","from":100,"until":200,"step":50,"values":[1,2]}]}]}}`)
		series, err := ParseSignalPayload(body)

		require.NoError(t, err)
		require.Len(t, series, 1)
		assert.Equal(t, "ping-slash24", series[0].Datasource)
	})

	t.Run("series object is not descended into", func(t *testing.T) {
		// The values list inside a matched series must not be re-scanned
		// even if it holds objects.
		body := []byte(`{"error":null,"data":[{"entityType":"country","entityCode":"NG","datasource":"gtr","from":0,"until":60,"step":60,"values":[{"entityType":"x","entityCode":"y","datasource":"z","from":0,"until":0,"step":0,"values":[]}]}]}`)
		series, err := ParseSignalPayload(body)

		require.NoError(t, err)
		assert.Len(t, series, 1)
	})

	t.Run("missing required key means no series", func(t *testing.T) {
		body := []byte(`{"error":null,"data":[{"entityType":"country","entityCode":"SN","from":0,"until":60,"step":60,"values":[]}]}`)
		series, err := ParseSignalPayload(body)

		require.NoError(t, err)
		assert.Empty(t, series)
	})

	t.Run("envelope error", func(t *testing.T) {
		body := []byte(`{"type":"signals.raw","error":"invalid datasource","data":null}`)
		_, err := ParseSignalPayload(body)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid datasource")
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := ParseSignalPayload([]byte("{truncated"))
		require.Error(t, err)
	})
}

func TestEnvelopeAPIError(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"absent", `{"data":[]}`, ""},
		{"null", `{"error":null,"data":[]}`, ""},
		{"string", `{"error":"bad request"}`, "bad request"},
		{"empty string", `{"error":""}`, ""},
		{"object", `{"error":{"code":500}}`, `{"code":500}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env Envelope
			require.NoError(t, json.Unmarshal([]byte(tt.body), &env))
			assert.Equal(t, tt.want, env.APIError())
		})
	}
}

func TestPointHasData(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, false},
		{"zero", float64(0), true},
		{"number", float64(3.5), true},
		{"bool", false, true},
		{"string", "text", false},
		{"empty map", map[string]any{}, false},
		{"populated map", map[string]any{"k": nil}, true},
		{"empty list", []any{}, false},
		{"list of nils", []any{nil, nil}, false},
		{"list with nested value", []any{nil, []any{nil, float64(1)}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PointHasData(tt.value))
		})
	}
}

func TestTimeBounds(t *testing.T) {
	t.Run("bounds from populated buckets only", func(t *testing.T) {
		series := []Series{{
			From:   1000,
			Step:   10,
			Values: []any{nil, float64(1), nil, float64(2), nil},
		}}
		minTS, maxTS := TimeBounds(series)

		require.NotNil(t, minTS)
		require.NotNil(t, maxTS)
		assert.Equal(t, int64(1010), *minTS)
		assert.Equal(t, int64(1030), *maxTS)
	})

	t.Run("zero step is skipped", func(t *testing.T) {
		series := []Series{{From: 1000, Step: 0, Values: []any{float64(1)}}}
		minTS, maxTS := TimeBounds(series)

		assert.Nil(t, minTS)
		assert.Nil(t, maxTS)
	})

	t.Run("no data", func(t *testing.T) {
		series := []Series{{From: 1000, Step: 10, Values: []any{nil, nil}}}
		minTS, maxTS := TimeBounds(series)

		assert.Nil(t, minTS)
		assert.Nil(t, maxTS)
		assert.False(t, HasData(series))
	})
}

func TestSeriesClassify(t *testing.T) {
	tests := []struct {
		name   string
		values []any
		want   SeriesShape
	}{
		{"all nulls", []any{nil, nil}, ShapeEmpty},
		{"no values", nil, ShapeEmpty},
		{"numbers", []any{float64(1), nil, float64(2)}, ShapeScalar},
		{"objects", []any{map[string]any{"a": 1.0}, nil}, ShapeNested},
		{"lists of records", []any{[]any{map[string]any{"a": 1.0}}}, ShapeNested},
		{"strings drift", []any{"oops"}, ShapeUnknown},
		{"bool drift", []any{true}, ShapeUnknown},
		{"mixed drift", []any{float64(1), map[string]any{"a": 1.0}}, ShapeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Series{Values: tt.values}
			assert.Equal(t, tt.want, s.Classify())
		})
	}
}

func TestSeriesMetricBase(t *testing.T) {
	assert.Equal(t, "bgp", Series{Datasource: "bgp"}.MetricBase())
	assert.Equal(t, "gtr__web_search", Series{Datasource: "gtr", Subtype: "WEB SEARCH"}.MetricBase())
}
