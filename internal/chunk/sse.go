package chunk

import (
	"encoding/json"
	"fmt"
)

// sseChoice/sseDelta/sseEnvelope mirror the teacher's stream.sseChunk family
// (internal/stream/stream.go in the teacher) generalized with tool_calls and
// a cancellation finish_reason.
type sseEnvelope struct {
	ID      string      `json:"id"`
	Object  string      `json:"object"`
	Model   string      `json:"model"`
	Created int64       `json:"created,omitempty"`
	Choices []sseChoice `json:"choices"`
	Usage   *Usage      `json:"usage,omitempty"`
}

type sseChoice struct {
	Index        int      `json:"index"`
	Delta        sseDelta `json:"delta"`
	FinishReason *string  `json:"finish_reason"`
}

type sseDelta struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToSSE renders a Chunk as one or more "data: {...}\n\n" frames, matching
// spec.md §4.1's emission rule. A terminal chunk renders as a final content
// frame (if it still carries content) followed by a finish frame and the
// "data: [DONE]\n\n" sentinel. A cancellation chunk uses
// finish_reason: "cancelled" instead of "stop" and never emits [DONE]'s
// sibling content frame.
func ToSSE(c Chunk) []byte {
	var out []byte

	if c.Content != "" {
		env := sseEnvelope{
			ID:      c.Metadata.ID,
			Object:  "chat.completion.chunk",
			Model:   c.Metadata.Model,
			Created: c.Metadata.Created,
			Choices: []sseChoice{{Delta: sseDelta{Content: c.Content}}},
		}
		out = append(out, frame(env)...)
	}

	if c.Done {
		reason := "stop"
		if c.IsCancellation {
			reason = "cancelled"
		} else if c.Metadata.FinishReason != "" {
			reason = c.Metadata.FinishReason
		}
		env := sseEnvelope{
			ID:      c.Metadata.ID,
			Object:  "chat.completion.chunk",
			Model:   c.Metadata.Model,
			Created: c.Metadata.Created,
			Choices: []sseChoice{{FinishReason: &reason, Delta: sseDelta{ToolCalls: c.Metadata.ToolCalls}}},
			Usage:   c.Usage,
		}
		out = append(out, frame(env)...)
		out = append(out, []byte("data: [DONE]\n\n")...)
	}

	return out
}

func frame(env sseEnvelope) []byte {
	b, err := json.Marshal(env)
	if err != nil {
		// Marshaling a struct of only strings/slices/pointers never fails;
		// this branch exists only to satisfy the error return of json.Marshal.
		return nil
	}
	return []byte(fmt.Sprintf("data: %s\n\n", b))
}
