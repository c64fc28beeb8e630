package stream

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/relaycore/gateway/internal/respproc"
)

// sendChunks is a test helper that sends chunks on a channel in a goroutine
// and closes the channel when done, simulating what ResponseProcessor does
// in production.
func sendChunks(chunks ...respproc.StreamedChunk) <-chan respproc.StreamedChunk {
	ch := make(chan respproc.StreamedChunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			ch <- c
		}
	}()
	return ch
}

// parseSSEEvents splits the raw SSE output into individual data payloads,
// excluding the "data: [DONE]" sentinel.
func parseSSEEvents(body string) []string {
	var events []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			payload := strings.TrimPrefix(line, "data: ")
			if payload != "[DONE]" {
				events = append(events, payload)
			}
		}
	}
	return events
}

func TestWrite_IntermediateChunksThenTerminalContent(t *testing.T) {
	// Mirrors ContentAccumulationProcessor's actual behavior: intermediate
	// chunks carry no content, only the terminal chunk releases the full
	// joined text.
	ch := sendChunks(
		respproc.StreamedChunk{Content: ""},
		respproc.StreamedChunk{Content: ""},
		respproc.StreamedChunk{
			Content: "Hello world",
			Done:    true,
			Usage:   map[string]any{"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7},
		},
	)

	w := httptest.NewRecorder()
	if err := Write(w, "resp-1", "test-model", ch); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/event-stream")
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want %q", cc, "no-cache")
	}

	body := w.Body.String()
	if !strings.Contains(body, "data: [DONE]") {
		t.Fatal("missing [DONE] sentinel")
	}

	events := parseSSEEvents(body)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (content + finish)", len(events))
	}

	var content sseChunk
	if err := json.Unmarshal([]byte(events[0]), &content); err != nil {
		t.Fatalf("failed to parse content event: %v", err)
	}
	if content.Choices[0].Delta.Content != "Hello world" {
		t.Errorf("content = %q, want %q", content.Choices[0].Delta.Content, "Hello world")
	}
	if content.ID != "resp-1" || content.Model != "test-model" {
		t.Errorf("id/model = %q/%q, want %q/%q", content.ID, content.Model, "resp-1", "test-model")
	}

	var finish sseChunk
	if err := json.Unmarshal([]byte(events[1]), &finish); err != nil {
		t.Fatalf("failed to parse finish event: %v", err)
	}
	if finish.Choices[0].FinishReason == nil || *finish.Choices[0].FinishReason != "stop" {
		t.Error("finish event should have finish_reason=stop")
	}
	if finish.Choices[0].Delta.Content != "" {
		t.Errorf("finish event delta should be empty, got %q", finish.Choices[0].Delta.Content)
	}
	if finish.Usage == nil || finish.Usage.TotalTokens != 7 {
		t.Error("finish event should carry usage with total_tokens=7")
	}
}

func TestWrite_Cancellation(t *testing.T) {
	ch := sendChunks(
		respproc.StreamedChunk{Content: "partial output before the loop was detected", IsCancellation: true, Done: true},
	)

	w := httptest.NewRecorder()
	if err := Write(w, "resp-2", "test-model", ch); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	events := parseSSEEvents(w.Body.String())
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (content + finish)", len(events))
	}

	var finish sseChunk
	if err := json.Unmarshal([]byte(events[1]), &finish); err != nil {
		t.Fatalf("failed to parse finish event: %v", err)
	}
	if finish.Choices[0].FinishReason == nil || *finish.Choices[0].FinishReason != "cancelled" {
		t.Error("cancellation should surface finish_reason=cancelled")
	}
}

func TestWrite_SSEFormat(t *testing.T) {
	ch := sendChunks(
		respproc.StreamedChunk{Content: "hi", Done: true},
	)

	w := httptest.NewRecorder()
	if err := Write(w, "resp-3", "m", ch); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	body := w.Body.String()
	if !strings.Contains(body, "data: [DONE]\n\n") {
		t.Error("missing properly formatted [DONE] sentinel")
	}

	parts := strings.Split(body, "\n\n")
	nonEmpty := 0
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty++
		}
	}
	if nonEmpty != 3 {
		t.Errorf("got %d SSE events, want 3 (content + finish + DONE)", nonEmpty)
	}
}
