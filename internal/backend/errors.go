package backend

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/relaycore/gateway/internal/apierror"
)

// quotaMetricMarker is the substring the Gemini API's error body contains
// when a project has exhausted its quota. Grounded on
// gemini_oauth_personal.py's quota-detection path (see
// test_gemini_oauth_personal_quota_detection.py), which matches on this
// exact phrase rather than a status code because Gemini returns plain 429
// for both ordinary rate-limiting and quota exhaustion.
const quotaMetricMarker = "Quota exceeded for quota metric"

// mapHTTPError translates a dialect's raw HTTP error response into the
// core's BackendError shape, per spec.md §6's "Connectors MUST translate
// their dialect's error bodies into the core's BackendError shape" and
// §7's error taxonomy (quota exhaustion is a distinct kind from ordinary
// rate-limiting and from a generic backend failure).
func mapHTTPError(backendName string, status int, header http.Header, bodyText string) *apierror.Error {
	if strings.Contains(bodyText, quotaMetricMarker) {
		return apierror.QuotaExhausted(backendName, bodyText)
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apierror.Authentication(fmt.Sprintf("%s rejected credentials: %s", backendName, bodyText), nil)
	case http.StatusTooManyRequests:
		return apierror.RateLimitExceeded(bodyText, retryAfterSeconds(header))
	case http.StatusServiceUnavailable:
		return apierror.ServiceUnavailable(fmt.Sprintf("%s unavailable: %s", backendName, bodyText), nil)
	default:
		return apierror.Backend(backendName, status, bodyText, nil)
	}
}

// retryAfterSeconds parses a Retry-After header in its seconds form.
// Gemini and Anthropic both send the seconds form rather than an HTTP
// date, so that's the only form handled here.
func retryAfterSeconds(header http.Header) int {
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return seconds
}
