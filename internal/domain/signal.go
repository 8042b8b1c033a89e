package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Envelope is the wrapper every API endpoint returns. Data is kept raw
// because its shape differs per endpoint and datasource.
type Envelope struct {
	Type  string          `json:"type"`
	Error json.RawMessage `json:"error"`
	Data  json.RawMessage `json:"data"`
}

// APIError returns the envelope-level error as text, or "" when unset.
// The field is null on success and a string (occasionally an object) on
// failure, so it is decoded leniently.
func (e *Envelope) APIError() string {
	trimmed := bytes.TrimSpace(e.Error)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

// Series is one timeseries object found inside an envelope's data tree.
// Values holds the raw decoded buckets; bucket i covers epoch second
// From + i*Step.
type Series struct {
	EntityType string
	EntityCode string
	EntityName string
	Datasource string
	Subtype    string
	From       int64
	Until      int64
	Step       int64
	NativeStep int64
	Values     []any
}

// seriesRequiredKeys is the structural signature of a series object. An
// object is a series exactly when it carries all of these keys.
var seriesRequiredKeys = []string{"datasource", "entityCode", "entityType", "from", "step", "until", "values"}

// SeriesIn walks an arbitrary decoded data tree and collects every series
// object in it. Matching objects are not descended into. Map children are
// visited in sorted key order so the result is deterministic.
func SeriesIn(node any) []Series {
	var out []Series
	collectSeries(node, &out)
	return out
}

func collectSeries(node any, out *[]Series) {
	switch n := node.(type) {
	case map[string]any:
		if isSeriesObject(n) {
			*out = append(*out, seriesFrom(n))
			return
		}
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectSeries(n[k], out)
		}
	case []any:
		for _, item := range n {
			collectSeries(item, out)
		}
	}
}

func isSeriesObject(m map[string]any) bool {
	for _, k := range seriesRequiredKeys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}

func seriesFrom(m map[string]any) Series {
	s := Series{
		EntityType: asString(m["entityType"]),
		EntityCode: asString(m["entityCode"]),
		EntityName: asString(m["entityName"]),
		Datasource: asString(m["datasource"]),
		Subtype:    asString(m["subtype"]),
		From:       asInt64(m["from"]),
		Until:      asInt64(m["until"]),
		Step:       asInt64(m["step"]),
		NativeStep: asInt64(m["nativeStep"]),
	}
	if vs, ok := m["values"].([]any); ok {
		s.Values = vs
	}
	return s
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	}
	return 0
}

// ParseSignalPayload decodes a raw signal response body and extracts its
// series. A body that does not decode or whose envelope carries an error is
// unusable as data, regardless of how it got stored.
func ParseSignalPayload(body []byte) ([]Series, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if msg := env.APIError(); msg != "" {
		return nil, fmt.Errorf("envelope error: %s", msg)
	}
	return env.Series()
}

// Series decodes the data tree and collects the series objects inside it.
func (e *Envelope) Series() ([]Series, error) {
	if len(e.Data) == 0 {
		return nil, nil
	}
	var tree any
	if err := json.Unmarshal(e.Data, &tree); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return SeriesIn(tree), nil
}

// PointHasData reports whether a single bucket value carries data. Numbers
// and booleans count, nulls and empty containers do not, lists count when
// any element does.
func PointHasData(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return true
	case float64:
		return true
	case map[string]any:
		return len(val) > 0
	case []any:
		for _, item := range val {
			if PointHasData(item) {
				return true
			}
		}
		return false
	}
	return false
}

// HasData reports whether any bucket in any of the series carries data.
func HasData(series []Series) bool {
	for _, s := range series {
		for _, v := range s.Values {
			if PointHasData(v) {
				return true
			}
		}
	}
	return false
}

// TimeBounds returns the epoch seconds of the earliest and latest populated
// buckets across the series, or nils when nothing is populated. Series with
// a non-positive step cannot place their buckets in time and are skipped.
func TimeBounds(series []Series) (minTS, maxTS *int64) {
	for _, s := range series {
		if s.Step <= 0 {
			continue
		}
		for i, v := range s.Values {
			if !PointHasData(v) {
				continue
			}
			ts := s.From + int64(i)*s.Step
			if minTS == nil || ts < *minTS {
				minTS = ptrInt64(ts)
			}
			if maxTS == nil || ts > *maxTS {
				maxTS = ptrInt64(ts)
			}
		}
	}
	return minTS, maxTS
}

func ptrInt64(v int64) *int64 { return &v }

// SeriesShape classifies how a series encodes its bucket values.
type SeriesShape int

const (
	// ShapeEmpty means no populated buckets, so the shape cannot be told.
	ShapeEmpty SeriesShape = iota
	// ShapeScalar means populated buckets are plain numbers.
	ShapeScalar
	// ShapeNested means populated buckets are objects or lists of records.
	ShapeNested
	// ShapeUnknown is schema drift: buckets of an unrecognized or mixed kind.
	ShapeUnknown
)

func (s SeriesShape) String() string {
	switch s {
	case ShapeEmpty:
		return "empty"
	case ShapeScalar:
		return "scalar"
	case ShapeNested:
		return "nested"
	}
	return "unknown"
}

// Classify inspects the populated buckets and reports the series shape.
// A series mixing numbers with objects, or holding strings or booleans,
// classifies as ShapeUnknown.
func (s Series) Classify() SeriesShape {
	sawScalar := false
	sawNested := false
	for _, v := range s.Values {
		switch v.(type) {
		case nil:
		case float64:
			sawScalar = true
		case map[string]any, []any:
			sawNested = true
		default:
			return ShapeUnknown
		}
	}
	switch {
	case sawScalar && sawNested:
		return ShapeUnknown
	case sawScalar:
		return ShapeScalar
	case sawNested:
		return ShapeNested
	}
	return ShapeEmpty
}

// MetricBase derives the base metric key for the series: the datasource
// code, suffixed with the sanitized subtype when one is present.
func (s Series) MetricBase() string {
	if s.Subtype != "" {
		return s.Datasource + "__" + SanitizeKey(s.Subtype)
	}
	return s.Datasource
}
