// Package respproc implements ResponseProcessor (C8): the entry point a
// request handler calls once it has a raw backend response (buffered) or
// an upstream chunk source (streaming). It owns the two top-level
// operations named in spec.md §4.8 and maps every middleware chain error
// into the apierror taxonomy instead of letting a raw BlockError/RetryError
// escape to the transport layer.
//
// Grounded on response_processor_service.py's ResponseProcessor.
package respproc

import (
	"context"

	"go.uber.org/zap"

	"github.com/relaycore/gateway/internal/apierror"
	"github.com/relaycore/gateway/internal/chunk"
	"github.com/relaycore/gateway/internal/middleware"
	"github.com/relaycore/gateway/internal/session"
	"github.com/relaycore/gateway/internal/streamproc"
)

// ResponseProcessor wires the buffered and streaming paths over the same
// middleware.Manager, matching spec.md §4.6's "applies uniformly"
// requirement: a response that went through the streaming chain and one
// that went through the buffered chain both ran the identical set of
// registered middlewares.
type ResponseProcessor struct {
	manager    *middleware.Manager
	normalizer *streamproc.Normalizer
	defaultCfg session.LoopDetectionConfiguration
	log        *zap.Logger
}

// New builds a ResponseProcessor. defaultCfg is the loop-detection
// configuration used for sessions that haven't set anything more specific
// (internal/session.Store.GetOrCreate's seed config).
func New(manager *middleware.Manager, normalizer *streamproc.Normalizer, defaultCfg session.LoopDetectionConfiguration, log *zap.Logger) *ResponseProcessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &ResponseProcessor{manager: manager, normalizer: normalizer, defaultCfg: defaultCfg, log: log}
}

// ProcessResponse runs the buffered path (spec.md §4.8): extract content
// from raw, run the middleware chain once over the full content, and
// return the result. A BlockError (content or tool-call loop) or a
// RetryError (retry budget not yet exhausted) surfaces as an
// *apierror.Error instead of a bare
// middleware error, so callers only ever need to branch on apierror.Kind.
func (p *ResponseProcessor) ProcessResponse(ctx context.Context, raw any, sessionID string) (middleware.ProcessedResponse, error) {
	ex := extractBuffered(raw)

	rc := middleware.RequestContext{
		SessionID:    sessionID,
		ResponseType: "non_streaming",
		ExpectedJSON: inferExpectedJSON(ex.metadata, ex.content),
		Config:       p.defaultCfg,
		ToolCalls:    ex.toolCalls,
	}
	resp := middleware.ProcessedResponse{
		Content:  ex.content,
		Usage:    ex.usage,
		Metadata: ex.metadata,
	}

	processed, err := p.manager.Apply(ctx, resp, rc)
	if err != nil {
		return processed, mapChainError(err, sessionID)
	}
	return processed, nil
}

// StreamedChunk is the streaming counterpart of ProcessedResponse: every
// value emitted per spec.md §4.8's "async sequence of ProcessedResponse"
// carries the same content/usage/metadata shape, plus the done/cancellation
// flags the streaming path needs that a single buffered response doesn't.
type StreamedChunk struct {
	Content        string
	Done           bool
	IsCancellation bool
	Usage          map[string]any
	Metadata       map[string]any
}

// ProcessStreaming wraps source in the StreamNormalizer (C7) and yields a
// StreamedChunk per emitted chunk.Chunk, stamping sessionID into every raw
// element's metadata before it enters the chain so
// MiddlewareApplicationProcessor can key loop-detection/session state
// correctly. On a chain error (surfaced as a normal cancellation chunk by
// the normalizer) the final StreamedChunk carries metadata["error"]=true
// rather than the caller seeing a Go error mid-iteration, per spec.md
// §4.8's "on stream error, yields a final chunk... rather than raising
// mid-iteration."
func (p *ResponseProcessor) ProcessStreaming(ctx context.Context, source <-chan any, sessionID string) <-chan StreamedChunk {
	tagged := make(chan any)
	go func() {
		defer close(tagged)
		for raw := range source {
			c := toChunkWithSession(raw, sessionID)
			select {
			case tagged <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	chunks := p.normalizer.Run(ctx, tagged)

	out := make(chan StreamedChunk)
	go func() {
		defer close(out)
		for c := range chunks {
			select {
			case out <- toStreamedChunk(c):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// toChunkWithSession builds a chunk.Chunk from one raw upstream element
// and stamps sessionID, matching the construction paths
// streamproc.Normalizer itself uses internally.
func toChunkWithSession(raw any, sessionID string) chunk.Chunk {
	var c chunk.Chunk
	switch v := raw.(type) {
	case chunk.Chunk:
		c = v
	case []byte:
		c = chunk.FromBytes(v)
	case string:
		c = chunk.FromString(v)
	case map[string]any:
		c = chunk.FromObject(v)
	default:
		c = chunk.Chunk{Metadata: chunk.Metadata{ParseError: true}, Raw: raw}
	}
	if c.Metadata.SessionID == "" {
		c.Metadata.SessionID = sessionID
	}
	return c
}

func toStreamedChunk(c chunk.Chunk) StreamedChunk {
	content := c.Content
	if c.IsCancellation {
		content = c.CancelMessage
	}
	metadata := make(map[string]any, len(c.Metadata.Extra)+2)
	for k, v := range c.Metadata.Extra {
		metadata[k] = v
	}
	if c.Metadata.SessionID != "" {
		metadata["session_id"] = c.Metadata.SessionID
	}
	if c.Metadata.FinishReason != "" {
		metadata["finish_reason"] = c.Metadata.FinishReason
	}
	if len(c.Metadata.ToolCalls) > 0 {
		metadata["tool_calls"] = c.Metadata.ToolCalls
	}

	var usage map[string]any
	if c.Usage != nil {
		usage = map[string]any{
			"prompt_tokens":     c.Usage.PromptTokens,
			"completion_tokens": c.Usage.CompletionTokens,
			"total_tokens":      c.Usage.TotalTokens,
		}
	}

	return StreamedChunk{
		Content:        content,
		Done:           c.Done,
		IsCancellation: c.IsCancellation,
		Usage:          usage,
		Metadata:       metadata,
	}
}

// mapChainError converts a middleware chain error into the apierror
// taxonomy per spec.md §4.8's error-mapping table. EmptyResponseMiddleware
// already returns an *apierror.Error directly once its retry budget is
// exhausted, so that case passes through unchanged.
func mapChainError(err error, sessionID string) error {
	switch e := err.(type) {
	case *apierror.Error:
		return e
	case *middleware.BlockError:
		switch e.Kind {
		case "tool_call_loop":
			return apierror.ToolCallLoopDetected(e.Reason, 0)
		default:
			return apierror.LoopDetected(e.Reason, 0)
		}
	case *middleware.RetryError:
		// The retry budget hasn't been exhausted yet: the caller is
		// expected to resend the request with RecoveryPrompt appended
		// and call ProcessResponse again. That orchestration lives
		// above this package (it owns the backend call), so here the
		// retry is surfaced as a structured, retryable backend error
		// rather than a bare middleware type.
		return &apierror.Error{
			Kind:    apierror.KindBackend,
			Message: "empty response, retry recommended",
			Details: map[string]any{
				"session_id":      sessionID,
				"retry_count":     e.RetryCount,
				"recovery_prompt": e.RecoveryPrompt,
				"retryable":       true,
			},
		}
	default:
		return apierror.Backend("unknown", 0, err.Error(), err)
	}
}
