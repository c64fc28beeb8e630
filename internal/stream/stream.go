// Package stream writes the gateway's processed stream output as
// OpenAI-compatible Server-Sent Events.
//
// The teacher's version of this package translated a raw provider.StreamChunk
// channel straight onto the wire. That channel no longer reaches the
// transport layer directly — every chunk now passes through
// internal/respproc's ResponseProcessor first, so this package translates
// respproc.StreamedChunk instead: the content-accumulation stage means most
// chunks arrive with an empty Content and only the terminal chunk (or a
// cancellation) carries the joined text, so Write only has to emit a delta
// event when there's actually content to send.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/relaycore/gateway/internal/respproc"
)

// sseChunk is the top-level JSON object in each SSE event.
type sseChunk struct {
	ID      string      `json:"id"`
	Object  string      `json:"object"`
	Model   string      `json:"model"`
	Choices []sseChoice `json:"choices"`

	// Usage is included only on the final chunk, matching OpenAI's
	// behavior where usage only appears on the last event.
	Usage *sseUsage `json:"usage,omitempty"`
}

type sseChoice struct {
	Index int      `json:"index"`
	Delta sseDelta `json:"delta"`

	// FinishReason is null for all chunks except the final one.
	FinishReason *string `json:"finish_reason"`
}

type sseDelta struct {
	Content string `json:"content,omitempty"`
}

type sseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Write reads StreamedChunks from the channel and writes them to the
// http.ResponseWriter as OpenAI-compatible Server-Sent Events, identified
// by id and model (the processing pipeline itself carries neither — it
// only knows content/usage/metadata — so the caller supplies them from the
// original request/backend envelope).
func Write(w http.ResponseWriter, id, model string, chunks <-chan respproc.StreamedChunk) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for c := range chunks {
		if c.Content != "" {
			event := sseChunk{
				ID:     id,
				Object: "chat.completion.chunk",
				Model:  model,
				Choices: []sseChoice{{Index: 0, Delta: sseDelta{Content: c.Content}}},
			}
			if err := writeEvent(w, flusher, event); err != nil {
				return err
			}
		}

		if c.Done || c.IsCancellation {
			reason := "stop"
			if c.IsCancellation {
				reason = "cancelled"
			}
			if v, ok := c.Metadata["finish_reason"].(string); ok && v != "" {
				reason = v
			}

			event := sseChunk{
				ID:      id,
				Object:  "chat.completion.chunk",
				Model:   model,
				Choices: []sseChoice{{Index: 0, Delta: sseDelta{}, FinishReason: &reason}},
			}
			if c.Usage != nil {
				event.Usage = &sseUsage{
					PromptTokens:     toInt(c.Usage["prompt_tokens"]),
					CompletionTokens: toInt(c.Usage["completion_tokens"]),
					TotalTokens:      toInt(c.Usage["total_tokens"]),
				}
			}
			if err := writeEvent(w, flusher, event); err != nil {
				return err
			}
		}
	}

	if _, err := fmt.Fprintf(w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("writing SSE done marker: %w", err)
	}
	flusher.Flush()

	return nil
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event sseChunk) error {
	jsonBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling SSE chunk: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonBytes); err != nil {
		return fmt.Errorf("writing SSE event: %w", err)
	}
	flusher.Flush()
	return nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
