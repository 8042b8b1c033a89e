package qa

import "strings"

// MetricDomain declares the value domain for a series: whether negatives
// are out of domain, and the inclusive upper bound when one exists.
type MetricDomain struct {
	NonNegative bool
	// UpperBound is the inclusive upper limit for bounded series. Zero
	// means unbounded above.
	UpperBound float64
}

// domainRule matches series by unit or metric-key substring.
type domainRule struct {
	unitContains   string
	metricContains string
	domain         MetricDomain
}

// domainRules is the declared per-metric domain table, first match wins.
// Upstream units are counts, percentages, or normalized scores, so the
// fallback domain only excludes negatives.
var domainRules = []domainRule{
	{unitContains: "Percentage", domain: MetricDomain{NonNegative: true, UpperBound: 100}},
	{unitContains: "Normalized", domain: MetricDomain{NonNegative: true, UpperBound: 10}},
	{metricContains: "norm", domain: MetricDomain{NonNegative: true, UpperBound: 10}},
}

var defaultDomain = MetricDomain{NonNegative: true}

// DomainFor resolves the declared domain for a series from its unit and
// metric key.
func DomainFor(unit, metricKey string) MetricDomain {
	for _, r := range domainRules {
		if r.unitContains != "" && strings.Contains(unit, r.unitContains) {
			return r.domain
		}
		if r.metricContains != "" && strings.Contains(metricKey, r.metricContains) {
			return r.domain
		}
	}
	return defaultDomain
}
