package middleware

import "fmt"

// RetryError is EmptyResponseRetryError: a middleware raises this to tell
// the caller "don't surface this response — resend the request with
// RecoveryPrompt appended and try again."
type RetryError struct {
	RecoveryPrompt string
	SessionID      string
	RetryCount     int
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("empty response detected for session %s, retry %d", e.SessionID, e.RetryCount)
}

// BlockError is raised by ToolCallLoopDetectionMiddleware (and by
// LoopDetectionMiddleware for content loops) to stop a response outright: the
// reason is user-facing guidance, not a Go-internal error string.
type BlockError struct {
	Reason string
	Kind   string // "content_loop" or "tool_call_loop"
}

func (e *BlockError) Error() string {
	return e.Reason
}
