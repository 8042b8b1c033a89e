package domain

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var keyCleanRe = regexp.MustCompile(`[^A-Za-z0-9._=-]+`)

// SanitizeKey reduces a value to the character set allowed in metric keys,
// variant tokens, and raw-store path components. Runs of disallowed
// characters collapse to a single underscore; an empty result becomes
// "unknown" so paths never lose a component.
func SanitizeKey(s string) string {
	cleaned := keyCleanRe.ReplaceAllString(s, "_")
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}

// StableJSON renders a field map as compact JSON with sorted keys, so equal
// maps always serialize to the same bytes. An empty or nil map renders as
// "{}".
func StableJSON(fields map[string]any) string {
	if len(fields) == 0 {
		return "{}"
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// BaseMetric strips derived suffixes from a metric key, returning the
// datasource component: "gtr-sarima__c_50" yields "gtr-sarima".
func BaseMetric(metricKey string) string {
	if i := strings.Index(metricKey, "__"); i >= 0 {
		return metricKey[:i]
	}
	return metricKey
}

// FormatScalar renders a dimension value the way it appears in variant
// tokens: numbers without a trailing ".0", booleans as true/false.
func FormatScalar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case nil:
		return ""
	}
	return ""
}
