// Package domain models Internet outage signal data from the IODA API.
//
// # Data Source
//
// IODA (Internet Outage Detection and Analysis, Georgia Tech) continuously
// measures Internet connectivity per geographic entity and exposes the
// results at https://api.ioda.inetintel.cc.gatech.edu/v2. Every endpoint
// wraps its payload in a common envelope; the interesting part is the "data"
// member, whose shape varies by endpoint and datasource.
//
// # Entities and Levels
//
// Entities are geographic units identified by (type, code):
//
//	country: ISO-3166 alpha-2 code, e.g. "SN" for Senegal.
//	region:  numeric code assigned by IODA, e.g. "3564". Regions carry their
//	         parent country in the attrs map ("country_code", "country_name").
//
// The catalog flattens entity types to two levels, country and region, which
// also name the first path component of the raw store layout.
//
// # Signals
//
// A raw-signal response contains one or more series objects, possibly nested
// inside lists of lists. A series is recognized structurally: any JSON object
// carrying the full key set {entityType, entityCode, datasource, from, until,
// step, values} is a series, wherever it appears in the tree. Bucket
// timestamps are implicit: values[i] covers epoch second from + i*step.
//
// Bucket values come in two shapes. Scalar series (e.g. bgp, ping-slash24)
// hold numbers or nulls. Nested series (e.g. gtr, upstream-delay-*) hold
// objects or lists of objects whose numeric fields each become their own
// derived metric, suffixed onto the datasource code ("gtr-sarima__c_50").
// Leftover identifying fields become the series variant and are preserved
// verbatim in source_fields_json. Anything else is schema drift and the
// containing chunk is skipped rather than guessed at.
//
// # Coverage
//
// The API rejects unbounded time ranges, so usable [from, until] windows per
// (entity, metric) pair are inferred by probing: a recent-window check first,
// then exponential expansion backwards from now, then bisection of the oldest
// populated window down to a single day. Records carry a status (ok,
// no_recent_data, transient_error, unknown) and the probing method that
// produced them, and are cached with a TTL because probing costs requests.
//
// # Observations
//
// The normalized output is a tidy table: one row per (timestamp, level,
// entity, metric_key, series_variant). That tuple is the row identity; the
// normalizer drops exact duplicates silently and resolves identity collisions
// deterministically, recording how many rows collided in duplicate_key_count.
// Every row keeps a provenance pointer to the raw chunk it came from, so any
// value in the table can be traced back to one stored API response.
package domain
