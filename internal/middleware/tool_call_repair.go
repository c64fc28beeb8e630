package middleware

import (
	"context"

	"go.uber.org/zap"

	"github.com/relaycore/gateway/internal/toolcall"
)

// ToolCallRepairMiddleware is tool_call_repair_middleware.py's
// ToolCallRepairMiddleware: when a model emits a tool call as plain text
// instead of the backend's native tool-call wire format, this middleware
// detects and converts it, clearing the textual content so downstream
// consumers see a clean tool_calls list instead of a hybrid text+call
// response.
type ToolCallRepairMiddleware struct {
	enabled bool
	log     *zap.Logger
}

func NewToolCallRepairMiddleware(enabled bool, log *zap.Logger) *ToolCallRepairMiddleware {
	if log == nil {
		log = zap.NewNop()
	}
	return &ToolCallRepairMiddleware{enabled: enabled, log: log}
}

func (m *ToolCallRepairMiddleware) Priority() int { return 30 }

func (m *ToolCallRepairMiddleware) Process(_ context.Context, resp ProcessedResponse, rc RequestContext) (ProcessedResponse, error) {
	if !m.enabled || resp.Content == "" {
		return resp, nil
	}

	repaired := toolcall.Repair(resp.Content)
	if repaired == nil {
		return resp, nil
	}

	m.log.Info("tool call detected and repaired", zap.String("session_id", rc.SessionID), zap.String("tool", repaired.Name))

	if resp.Metadata == nil {
		resp.Metadata = make(map[string]any)
	}
	existing, _ := resp.Metadata["tool_calls"].([]*toolcall.Repaired)
	resp.Metadata["tool_calls"] = append(existing, repaired)
	if _, ok := resp.Metadata["finish_reason"]; !ok {
		resp.Metadata["finish_reason"] = "tool_calls"
	}
	resp.Content = ""

	return resp, nil
}
