// Package chunk implements StreamChunk (spec.md §3, §4.1): the single
// internal shape every upstream chunk format — raw SSE bytes, a decoded
// JSON object, a plain string, or a dialect-specific chunk value — is
// normalized into before it enters the processor chain.
//
// This mirrors the teacher's provider.StreamChunk (internal/provider/provider.go)
// generalized from "one delta string" to the full metadata-bearing shape
// the spec requires, plus the bytes/object/string constructors that the
// teacher didn't need (it only ever built a StreamChunk from a typed
// provider response, never from raw upstream bytes).
package chunk

import (
	"encoding/json"
	"strings"
)

// Usage mirrors provider.Usage in the teacher: token accounting normalized
// across backends.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolCall is the OpenAI-compatible structured shape tool-call repair
// (internal/toolcall) produces and the SSE writer re-emits.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction holds the name and JSON-string-encoded arguments of one tool
// call, matching OpenAI's function-calling wire shape.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Metadata carries the per-chunk bookkeeping fields named in spec.md §3.
type Metadata struct {
	ID           string
	Model        string
	Created      int64
	SessionID    string
	StreamID     string
	ExpectedJSON bool
	ContentType  string
	ToolCalls    []ToolCall
	FinishReason string
	ParseError   bool
	Extra        map[string]any
}

// Chunk is one unit of streamed or buffered content (spec.md §3's
// StreamChunk). Exactly one Chunk per stream has Done set to true
// (invariant enforced by internal/streamproc, not by this type).
type Chunk struct {
	Content        string
	Done           bool
	IsCancellation bool
	CancelMessage  string
	Metadata       Metadata
	Usage          *Usage
	Raw            any
}

// openaiChunk is the subset of the OpenAI chat-completion-chunk shape this
// package recognizes when constructing a Chunk from a decoded JSON object
// (spec.md §4.1 "object path").
type openaiChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Usage   *Usage `json:"usage"`
	Choices []struct {
		Delta struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"delta"`
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// FromBytes implements the bytes path of spec.md §4.1: decode UTF-8, strip
// an "data: " SSE prefix if present, recognize "[DONE]", otherwise try
// JSON, falling back to plain text.
func FromBytes(b []byte) Chunk {
	text := string(b)
	text = strings.TrimPrefix(text, "data: ")
	text = strings.TrimRight(text, "\r\n")

	if text == "[DONE]" {
		return Chunk{Done: true}
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Chunk{Content: ""}
	}
	if looksLikeJSON(trimmed) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			return FromObject(obj)
		}
	}
	return FromString(text)
}

// FromString implements the string path: JSON-parse if possible, otherwise
// store verbatim.
func FromString(s string) Chunk {
	trimmed := strings.TrimSpace(s)
	if looksLikeJSON(trimmed) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			return FromObject(obj)
		}
	}
	return Chunk{Content: s}
}

// FromObject implements the object path: recognize the OpenAI chunk shape
// (choices[0].delta.content or choices[0].message.content), copying id,
// model, created, and usage into metadata. Anything that doesn't round-trip
// through openaiChunk becomes a parse-error plain-text chunk rather than a
// fatal error, per spec.md §4.1.
func FromObject(obj map[string]any) Chunk {
	raw, err := json.Marshal(obj)
	if err != nil {
		return Chunk{Content: "", Metadata: Metadata{ParseError: true}, Raw: obj}
	}

	var oc openaiChunk
	if err := json.Unmarshal(raw, &oc); err != nil {
		return Chunk{Content: "", Metadata: Metadata{ParseError: true}, Raw: obj}
	}

	c := Chunk{
		Metadata: Metadata{
			ID:      oc.ID,
			Model:   oc.Model,
			Created: oc.Created,
		},
		Usage: oc.Usage,
		Raw:   obj,
	}

	if len(oc.Choices) > 0 {
		choice := oc.Choices[0]
		content := choice.Delta.Content
		toolCalls := choice.Delta.ToolCalls
		if content == "" && choice.Message.Content != "" {
			content = choice.Message.Content
		}
		if len(toolCalls) == 0 && len(choice.Message.ToolCalls) > 0 {
			toolCalls = choice.Message.ToolCalls
		}
		c.Content = content
		if len(toolCalls) > 0 {
			c.Metadata.ToolCalls = toolCalls
		}
		if choice.FinishReason != "" {
			c.Metadata.FinishReason = choice.FinishReason
			c.Done = true
		}
	}

	return c
}

// looksLikeJSON is a cheap heuristic to avoid invoking the JSON decoder on
// obviously-non-JSON text (the common case for plain-text deltas).
func looksLikeJSON(s string) bool {
	if s == "" {
		return false
	}
	switch s[0] {
	case '{', '[':
		return true
	default:
		return false
	}
}

// Cancellation builds the terminal chunk emitted when the loop detector
// aborts a stream (spec.md §4.2 "Failure semantics").
func Cancellation(message string) Chunk {
	return Chunk{
		Done:           true,
		IsCancellation: true,
		CancelMessage:  message,
		Metadata:       Metadata{FinishReason: "cancelled"},
	}
}
