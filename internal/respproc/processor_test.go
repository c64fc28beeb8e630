package respproc

import (
	"context"
	"testing"
	"time"

	"github.com/relaycore/gateway/internal/apierror"
	"github.com/relaycore/gateway/internal/chunk"
	"github.com/relaycore/gateway/internal/middleware"
	"github.com/relaycore/gateway/internal/provider"
	"github.com/relaycore/gateway/internal/session"
	"github.com/relaycore/gateway/internal/streamproc"
)

func newTestStore() *session.Store {
	return session.NewStore(time.Hour, nil)
}

func newTestManager(store *session.Store) *middleware.Manager {
	return middleware.NewManager([]middleware.Middleware{
		middleware.NewLoopDetectionMiddleware(store),
		middleware.NewToolCallLoopDetectionMiddleware(store),
	})
}

func TestProcessResponse_ProviderChatResponseExtractsContentAndUsage(t *testing.T) {
	store := newTestStore()
	defer store.Stop()
	p := New(newTestManager(store), streamproc.DefaultChain(streamproc.DefaultChainConfig{}), session.DefaultLoopDetectionConfiguration(), nil)

	resp := &provider.ChatResponse{
		ID:      "resp-1",
		Model:   "gemini-2.0-flash",
		Content: "hello world",
		Usage:   provider.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}

	out, err := p.ProcessResponse(context.Background(), resp, "session-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Content != "hello world" {
		t.Errorf("content = %q, want %q", out.Content, "hello world")
	}
	if out.Usage["total_tokens"] != 15 {
		t.Errorf("usage[total_tokens] = %v, want 15", out.Usage["total_tokens"])
	}
}

func TestProcessResponse_EnvelopeDictExtractsNestedMessageContent(t *testing.T) {
	store := newTestStore()
	defer store.Stop()
	p := New(newTestManager(store), streamproc.DefaultChain(streamproc.DefaultChainConfig{}), session.DefaultLoopDetectionConfiguration(), nil)

	raw := map[string]any{
		"id":    "resp-2",
		"model": "claude-3",
		"choices": []any{
			map[string]any{
				"message": map[string]any{
					"content": "dict response content",
				},
			},
		},
		"usage": map[string]any{"prompt_tokens": 3},
	}

	out, err := p.ProcessResponse(context.Background(), raw, "session-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Content != "dict response content" {
		t.Errorf("content = %q", out.Content)
	}
	if out.Usage["prompt_tokens"] != 3 {
		t.Errorf("usage[prompt_tokens] = %v, want 3", out.Usage["prompt_tokens"])
	}
}

func TestProcessResponse_StringRaw(t *testing.T) {
	store := newTestStore()
	defer store.Stop()
	p := New(newTestManager(store), streamproc.DefaultChain(streamproc.DefaultChainConfig{}), session.DefaultLoopDetectionConfiguration(), nil)

	out, err := p.ProcessResponse(context.Background(), "plain text", "session-c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Content != "plain text" {
		t.Errorf("content = %q", out.Content)
	}
}

// spec.md §4.8: a buffered-path content loop maps to apierror.KindLoopDetected.
func TestProcessResponse_LoopDetectedMapsToLoopDetectedKind(t *testing.T) {
	store := newTestStore()
	defer store.Stop()
	p := New(newTestManager(store), streamproc.DefaultChain(streamproc.DefaultChainConfig{}), session.DefaultLoopDetectionConfiguration(), nil)

	repeated := "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx" // 50 chars, matches loopdetect's default ShortChunkSize
	var lastErr error
	for i := 0; i < 40; i++ {
		_, err := p.ProcessResponse(context.Background(), repeated, "session-loop")
		if err != nil {
			lastErr = err
			break
		}
	}

	if lastErr == nil {
		t.Fatal("expected a loop-detection error")
	}
	apiErr, ok := lastErr.(*apierror.Error)
	if !ok {
		t.Fatalf("expected *apierror.Error, got %T", lastErr)
	}
	if apiErr.Kind != apierror.KindLoopDetected {
		t.Errorf("kind = %q, want %q", apiErr.Kind, apierror.KindLoopDetected)
	}
}

func TestProcessStreaming_EmitsContentAndTerminalChunk(t *testing.T) {
	store := newTestStore()
	defer store.Stop()
	manager := newTestManager(store)
	normalizer := streamproc.DefaultChain(streamproc.DefaultChainConfig{
		Manager:       manager,
		SessionConfig: session.DefaultLoopDetectionConfiguration(),
	})
	p := New(manager, normalizer, session.DefaultLoopDetectionConfiguration(), nil)

	in := make(chan any, 3)
	in <- "streamed hello "
	in <- "world"
	in <- chunk.Chunk{Done: true}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var sawDone bool
	var finalContent string
	for sc := range p.ProcessStreaming(ctx, in, "session-stream") {
		if sc.Done {
			sawDone = true
			finalContent = sc.Content
		}
	}

	if !sawDone {
		t.Fatal("expected a terminal chunk")
	}
	if finalContent != "streamed hello world" {
		t.Errorf("final content = %q, want %q", finalContent, "streamed hello world")
	}
}
