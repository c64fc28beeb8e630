// Package apierror defines the core's error taxonomy and its HTTP mapping.
//
// These are error *kinds*, not wrapped transport errors: callers build one
// of these at the point a domain failure is first recognized (a loop is
// detected, a backend call times out, a schema fails to validate) and let
// it propagate. The transport layer (internal/server) maps each kind to a
// status code per spec.md §6; nothing in this package talks HTTP.
package apierror

import "fmt"

// Kind identifies a class of domain error. Kinds are used for HTTP mapping
// and for decisions inside the core (e.g. "was this a LoopDetected?").
type Kind string

const (
	KindAuthentication     Kind = "authentication"
	KindRateLimit          Kind = "rate_limit"
	KindBackend            Kind = "backend"
	KindServiceUnavailable Kind = "service_unavailable"
	KindValidation         Kind = "validation"
	KindCommand            Kind = "command"
	KindLoopDetected       Kind = "loop_detected"
	KindToolCallLoop       Kind = "tool_call_loop"
	KindConfiguration      Kind = "configuration"
	KindParsing            Kind = "parsing"
	KindQuotaExhausted     Kind = "quota_exhausted"
)

// Error is the core's domain error. It carries a Kind for HTTP mapping and
// a Details map for structured bodies (loop excerpts, retry-after seconds,
// backend status codes).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func new_(kind Kind, message string, details map[string]any, cause error) *Error {
	return &Error{Kind: kind, Message: message, Details: details, Cause: cause}
}

// Authentication wraps a missing/expired/malformed credential failure.
func Authentication(message string, cause error) *Error {
	return new_(KindAuthentication, message, nil, cause)
}

// RateLimitExceeded wraps an upstream 429. retryAfterSeconds is included in
// Details when the upstream provided one.
func RateLimitExceeded(message string, retryAfterSeconds int) *Error {
	details := map[string]any{}
	if retryAfterSeconds > 0 {
		details["retry_after_seconds"] = retryAfterSeconds
	}
	return new_(KindRateLimit, message, details, nil)
}

// Backend wraps a transient or permanent upstream failure: timeout,
// connection error, 5xx, or a non-401/429 4xx.
func Backend(backend string, status int, response string, cause error) *Error {
	return new_(KindBackend, "backend request failed", map[string]any{
		"backend":          backend,
		"backend_status":   status,
		"backend_response": response,
	}, cause)
}

// ServiceUnavailable signals the upstream service is unavailable (the
// backend package uses it for an upstream 503). Gemini's quota-metric
// failure uses QuotaExhausted instead.
func ServiceUnavailable(message string, cause error) *Error {
	return new_(KindServiceUnavailable, message, nil, cause)
}

// Validation wraps a malformed or rejected request.
func Validation(message string) *Error {
	return new_(KindValidation, message, nil, nil)
}

// Command wraps an in-message command interpreter failure (the command
// interpreter itself is out of core scope; this kind exists so the HTTP
// mapping table stays complete).
func Command(message string) *Error {
	return new_(KindCommand, message, nil, nil)
}

// LoopDetected wraps a buffered-path content loop; pattern and
// repetitionCount are surfaced in the structured error body.
func LoopDetected(pattern string, repetitionCount int) *Error {
	return new_(KindLoopDetected, "repetitive content pattern detected", map[string]any{
		"pattern":          pattern,
		"repetition_count": repetitionCount,
	}, nil)
}

// ToolCallLoopDetected wraps a blocked tool-call repetition.
func ToolCallLoopDetected(reason string, repeatCount int) *Error {
	return new_(KindToolCallLoop, reason, map[string]any{
		"repetitions": repeatCount,
	}, nil)
}

// Configuration wraps a misconfiguration discovered at startup or request time.
func Configuration(message string, cause error) *Error {
	return new_(KindConfiguration, message, nil, cause)
}

// Parsing wraps a JSON decode/schema validation failure encountered in
// strict mode.
func Parsing(message string, cause error) *Error {
	return new_(KindParsing, message, nil, cause)
}

// QuotaExhausted wraps Gemini's "Quota exceeded for quota metric" class of
// failure. It marks the connector that raised it unusable until restart,
// distinct from a transient ServiceUnavailable.
func QuotaExhausted(backend, message string) *Error {
	return new_(KindQuotaExhausted, message, map[string]any{"backend": backend}, nil)
}

// HTTPStatus maps a Kind to the status code from spec.md §6.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindAuthentication:
		return 401
	case KindRateLimit:
		return 429
	case KindBackend:
		return 502
	case KindServiceUnavailable, KindQuotaExhausted:
		return 503
	case KindValidation, KindCommand:
		return 400
	case KindLoopDetected, KindToolCallLoop:
		return 400
	case KindConfiguration:
		return 500
	default:
		return 500
	}
}
