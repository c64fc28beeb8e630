package middleware

import (
	"context"

	"go.uber.org/zap"
)

// LoggingMiddleware is spec.md §4.6's LoggingMiddleware: a pass-through
// observability stage that never rewrites the response. It runs first
// (highest priority) so every later mutation the chain makes is logged
// against the response as the backend actually produced it.
type LoggingMiddleware struct {
	log *zap.Logger
}

func NewLoggingMiddleware(log *zap.Logger) *LoggingMiddleware {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoggingMiddleware{log: log}
}

func (m *LoggingMiddleware) Priority() int { return 100 }

func (m *LoggingMiddleware) Process(_ context.Context, resp ProcessedResponse, rc RequestContext) (ProcessedResponse, error) {
	m.log.Debug("response received",
		zap.String("session_id", rc.SessionID),
		zap.String("response_type", rc.ResponseType),
		zap.Int("content_length", len(resp.Content)),
		zap.Int("tool_calls", len(rc.ToolCalls)),
	)
	return resp, nil
}
