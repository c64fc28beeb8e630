package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/relaycore/gateway/internal/metrics"
	"github.com/relaycore/gateway/internal/session"
)

// ToolCallLoopDetectionMiddleware is the Go port of
// tool_call_loop_middleware.py's ToolCallLoopDetectionMiddleware: it runs
// every tool call the response carries through the session's
// toolcall.Tracker and blocks the response if any of them trips the
// repeat threshold.
type ToolCallLoopDetectionMiddleware struct {
	store *session.Store
	nowFn func() time.Time
}

func NewToolCallLoopDetectionMiddleware(store *session.Store) *ToolCallLoopDetectionMiddleware {
	return &ToolCallLoopDetectionMiddleware{store: store, nowFn: time.Now}
}

func (m *ToolCallLoopDetectionMiddleware) Priority() int { return 40 }

func (m *ToolCallLoopDetectionMiddleware) Process(_ context.Context, resp ProcessedResponse, rc RequestContext) (ProcessedResponse, error) {
	if !rc.Config.ToolLoopDetectionEnabled || len(rc.ToolCalls) == 0 {
		return resp, nil
	}

	st := m.store.GetOrCreate(rc.SessionID, rc.Config)
	now := m.nowFn()

	for _, call := range rc.ToolCalls {
		decision := st.Tracker.TrackToolCall(now, call.Name, call.Arguments, false)
		if decision.ShouldBlock {
			metrics.ToolCallLoopBlocks.WithLabelValues(string(rc.Config.ToolCallLoopConfig().Mode)).Inc()
			return resp, &BlockError{
				Kind:   "tool_call_loop",
				Reason: fmt.Sprintf("Tool call loop detected: %s", decision.Reason),
			}
		}
	}

	return resp, nil
}
