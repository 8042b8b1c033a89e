package domain

import (
	"errors"
	"fmt"
)

// TransientNetworkError marks a request failure worth retrying: transport
// errors, timeouts, rate limiting, server-side 5xx, and undecodable bodies.
// StatusCode is 0 when the request never produced a response.
type TransientNetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient failure (status %d) for %s: %v", e.StatusCode, e.URL, e.Err)
	}
	return fmt.Sprintf("transient failure for %s: %v", e.URL, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// FatalRequestError marks a request the API rejected definitively: client
// errors other than 429, or an envelope-level error on an HTTP 200.
// Retrying would send the same bad request again.
type FatalRequestError struct {
	URL        string
	StatusCode int
	Message    string
}

func (e *FatalRequestError) Error() string {
	return fmt.Sprintf("request rejected (status %d) for %s: %s", e.StatusCode, e.URL, e.Message)
}

// OversizeResponseError reports a response body larger than the configured
// limit. The caller is expected to discard the body and split the window.
type OversizeResponseError struct {
	URL   string
	Size  int
	Limit int
}

func (e *OversizeResponseError) Error() string {
	return fmt.Sprintf("response of %d bytes exceeds limit %d for %s", e.Size, e.Limit, e.URL)
}

// SchemaDriftError reports a stored chunk whose payload shape is not one
// the normalizer recognizes. The chunk is skipped; the raw file stays on
// disk for inspection.
type SchemaDriftError struct {
	Path   string
	Reason string
}

func (e *SchemaDriftError) Error() string {
	return fmt.Sprintf("schema drift in %s: %s", e.Path, e.Reason)
}

// DiscoveryError reports a structurally unusable discovery result, e.g. an
// empty datasource list or a requested country the API does not know.
// It is fatal to the discovery run but carries no weight elsewhere.
type DiscoveryError struct {
	Reason string
}

func (e *DiscoveryError) Error() string {
	return "discovery failed: " + e.Reason
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var t *TransientNetworkError
	return errors.As(err, &t)
}

// IsOversize reports whether err calls for a window split.
func IsOversize(err error) bool {
	var o *OversizeResponseError
	return errors.As(err, &o)
}

// IsSchemaDrift reports whether err means a chunk should be skipped.
func IsSchemaDrift(err error) bool {
	var s *SchemaDriftError
	return errors.As(err, &s)
}
