package streamproc

import (
	"context"

	"github.com/relaycore/gateway/internal/chunk"
	"github.com/relaycore/gateway/internal/middleware"
	"github.com/relaycore/gateway/internal/session"
)

// MiddlewareApplicationProcessor is the streaming counterpart of
// streaming/middleware_application_processor.py's
// MiddlewareApplicationProcessor: the last stage of the chain, it builds a
// middleware.RequestContext from the chunk's metadata and runs
// middleware.Manager.Apply over it. middleware.Manager is itself immutable
// and safe for concurrent use (spec.md §5's "Middleware manager: immutable
// configuration after construction"), so one Processor instance is shared
// across every concurrent stream with no per-stream state of its own.
type MiddlewareApplicationProcessor struct {
	manager    *middleware.Manager
	defaultCfg session.LoopDetectionConfiguration
}

func NewMiddlewareApplicationProcessor(manager *middleware.Manager, defaultCfg session.LoopDetectionConfiguration) *MiddlewareApplicationProcessor {
	return &MiddlewareApplicationProcessor{manager: manager, defaultCfg: defaultCfg}
}

func (p *MiddlewareApplicationProcessor) Reset() {}

func (p *MiddlewareApplicationProcessor) Process(ctx context.Context, c chunk.Chunk) (chunk.Chunk, error) {
	sessionID := c.Metadata.SessionID
	if sessionID == "" {
		sessionID = c.Metadata.ID
	}

	rc := middleware.RequestContext{
		SessionID:    sessionID,
		ResponseType: "stream",
		ExpectedJSON: c.Metadata.ExpectedJSON,
		Config:       p.defaultCfg,
	}
	for _, tc := range c.Metadata.ToolCalls {
		rc.ToolCalls = append(rc.ToolCalls, middleware.ToolCallRef{Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}

	resp := middleware.ProcessedResponse{Content: c.Content}
	if c.Usage != nil {
		resp.Usage = map[string]any{
			"prompt_tokens":     c.Usage.PromptTokens,
			"completion_tokens": c.Usage.CompletionTokens,
			"total_tokens":      c.Usage.TotalTokens,
		}
	}

	processed, err := p.manager.Apply(ctx, resp, rc)
	if err != nil {
		return c, err
	}

	c.Content = processed.Content
	if len(processed.Metadata) > 0 {
		if c.Metadata.Extra == nil {
			c.Metadata.Extra = make(map[string]any)
		}
		for k, v := range processed.Metadata {
			c.Metadata.Extra[k] = v
		}
	}
	return c, nil
}
