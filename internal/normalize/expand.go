package normalize

import (
	"fmt"
	"sort"

	"github.com/cheikh-a/ioda-pipeline/internal/domain"
)

// expanded is one tidy row produced from a single series bucket. A
// bucket can fan out into several rows when it holds nested records.
type expanded struct {
	Metric       string
	Variant      string
	Value        *float64
	SourceFields string
}

// expandBucket turns one entry of a series values array into rows.
// Scalars map 1:1, lists and objects fan out per nested record, and
// anything unexpected degrades to a null row tagged with its raw type.
func expandBucket(value any, base string) []expanded {
	switch v := value.(type) {
	case nil:
		return []expanded{{Metric: base, SourceFields: "{}"}}
	case float64:
		val := v
		return []expanded{{Metric: base, Value: &val, SourceFields: "{}"}}
	case []any:
		if len(v) == 0 {
			return []expanded{{Metric: base, SourceFields: "{}"}}
		}
		var rows []expanded
		for idx, item := range v {
			rows = append(rows, expandItem(item, base, idx)...)
		}
		return rows
	case map[string]any:
		return expandItem(v, base, 0)
	default:
		return []expanded{{
			Metric:       base,
			SourceFields: domain.StableJSON(map[string]any{"raw_type": jsonTypeName(value)}),
		}}
	}
}

// expandItem turns one element of a nested bucket into rows.
func expandItem(item any, base string, idx int) []expanded {
	itemVariant := fmt.Sprintf("item=%d", idx)
	switch v := item.(type) {
	case nil:
		return []expanded{{Metric: base, Variant: itemVariant, SourceFields: "{}"}}
	case float64:
		val := v
		return []expanded{{Metric: base + "__item", Variant: itemVariant, Value: &val, SourceFields: "{}"}}
	case map[string]any:
		if agg, ok := v["agg_values"].(map[string]any); ok {
			return expandAggregated(v, agg, base, idx)
		}
		return expandRecord(v, base, idx)
	default:
		return []expanded{{
			Metric:       base,
			Variant:      itemVariant,
			SourceFields: domain.StableJSON(map[string]any{"raw_type": jsonTypeName(item)}),
		}}
	}
}

// expandAggregated handles records shaped {dims..., "agg_values": {...}}:
// the dims become the variant, each numeric aggregate becomes a derived
// metric.
func expandAggregated(item, agg map[string]any, base string, idx int) []expanded {
	dims := make(map[string]any, len(item)-1)
	for k, dv := range item {
		if k != "agg_values" {
			dims[k] = dv
		}
	}
	variant := dimsToVariant(dims, idx)
	sf := domain.StableJSON(dims)

	var rows []expanded
	for _, key := range sortedKeys(agg) {
		switch av := agg[key].(type) {
		case nil:
			rows = append(rows, expanded{Metric: base + "__" + domain.SanitizeKey(key), Variant: variant, SourceFields: sf})
		case float64:
			val := av
			rows = append(rows, expanded{Metric: base + "__" + domain.SanitizeKey(key), Variant: variant, Value: &val, SourceFields: sf})
		}
	}
	if len(rows) == 0 {
		rows = append(rows, expanded{Metric: base, Variant: variant, SourceFields: sf})
	}
	return rows
}

// expandRecord handles generic records: numeric (or null) fields become
// derived metrics, everything else becomes the variant dims.
func expandRecord(item map[string]any, base string, idx int) []expanded {
	var numericKeys []string
	dims := make(map[string]any)
	for k, dv := range item {
		switch dv.(type) {
		case nil, float64:
			numericKeys = append(numericKeys, k)
		default:
			dims[k] = dv
		}
	}
	variant := dimsToVariant(dims, idx)
	sf := domain.StableJSON(dims)

	if len(numericKeys) == 0 {
		return []expanded{{Metric: base, Variant: variant, SourceFields: sf}}
	}
	sort.Strings(numericKeys)
	rows := make([]expanded, 0, len(numericKeys))
	for _, key := range numericKeys {
		row := expanded{Metric: base + "__" + domain.SanitizeKey(key), Variant: variant, SourceFields: sf}
		if fv, ok := item[key].(float64); ok {
			val := fv
			row.Value = &val
		}
		rows = append(rows, row)
	}
	return rows
}

// dimsToVariant renders scalar dims as a stable "k=v__k=v" key. Records
// with no scalar dims fall back to their position in the bucket.
func dimsToVariant(dims map[string]any, idx int) string {
	var parts []string
	for _, k := range sortedKeys(dims) {
		switch dims[k].(type) {
		case map[string]any, []any:
			continue
		}
		parts = append(parts, domain.SanitizeKey(k)+"="+domain.SanitizeKey(domain.FormatScalar(dims[k])))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("item=%d", idx)
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "__" + p
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	case float64:
		return "number"
	default:
		return "unknown"
	}
}
