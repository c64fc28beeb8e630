package backend

import (
	"net/http"
	"testing"

	"github.com/relaycore/gateway/internal/apierror"
)

func TestMapHTTPError_QuotaMetricTakesPriorityOverStatus(t *testing.T) {
	err := mapHTTPError("gemini-cli-oauth-personal", http.StatusTooManyRequests, http.Header{}, "Quota exceeded for quota metric 'generate_content_free_tier_requests'")
	if err.Kind != apierror.KindQuotaExhausted {
		t.Errorf("kind = %q, want %q", err.Kind, apierror.KindQuotaExhausted)
	}
}

func TestMapHTTPError_RateLimitCarriesRetryAfter(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "30")

	err := mapHTTPError("google", http.StatusTooManyRequests, header, "rate limited")
	if err.Kind != apierror.KindRateLimit {
		t.Fatalf("kind = %q, want %q", err.Kind, apierror.KindRateLimit)
	}
	if err.Details["retry_after_seconds"] != 30 {
		t.Errorf("retry_after_seconds = %v, want 30", err.Details["retry_after_seconds"])
	}
}

func TestMapHTTPError_UnauthorizedMapsToAuthentication(t *testing.T) {
	err := mapHTTPError("anthropic", http.StatusUnauthorized, http.Header{}, "invalid x-api-key")
	if err.Kind != apierror.KindAuthentication {
		t.Errorf("kind = %q, want %q", err.Kind, apierror.KindAuthentication)
	}
}

func TestMapHTTPError_OtherStatusMapsToBackend(t *testing.T) {
	err := mapHTTPError("google", http.StatusInternalServerError, http.Header{}, "boom")
	if err.Kind != apierror.KindBackend {
		t.Errorf("kind = %q, want %q", err.Kind, apierror.KindBackend)
	}
}
