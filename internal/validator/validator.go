// Package validator is the pre-ingest gate: content that is empty, too
// short, or looks like a fetch failure (an error page captured instead of
// real content) is rejected before any store write happens.
package validator

import "strings"

// RejectReason names why an ingest candidate was rejected.
type RejectReason string

const (
	ReasonEmpty         RejectReason = "empty_content"
	ReasonTooShort      RejectReason = "too_short"
	ReasonErrorPageLike RejectReason = "error_page_like"
)

// DefaultMinLength is the minimum content length accepted absent an
// explicit override.
const DefaultMinLength = 100

// errorPageMarkers are case-insensitive substrings of common fetch-failure
// pages; content under 1000 chars containing one of these is rejected.
var errorPageMarkers = []string{
	"404 not found",
	"access denied",
	"page not found",
	"403 forbidden",
	"this page could not be found",
}

// Validate checks content against the ingest gate and returns the reject
// reason, or "" if the content is acceptable.
func Validate(content string, minLength int) RejectReason {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ReasonEmpty
	}
	// The error-page heuristic runs before the length gate so a captured
	// failure page reports the more specific reason.
	if len(trimmed) < 1000 {
		lower := strings.ToLower(trimmed)
		for _, marker := range errorPageMarkers {
			if strings.Contains(lower, marker) {
				return ReasonErrorPageLike
			}
		}
	}
	if len(trimmed) < minLength {
		return ReasonTooShort
	}
	return ""
}
