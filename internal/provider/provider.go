// Package provider defines the unified request/response types every
// backend.Connector (internal/backend) translates to and from.
//
// The teacher's Provider interface and its GoogleProvider/AnthropicProvider
// implementations lived here; both dialects' translation logic moved to
// internal/backend.GoogleConnector/AnthropicConnector (the adapter contract
// spec.md §9 calls for), so only the shared wire-neutral types remain.
package provider

// ---------------------------------------------------------------------------
// Unified request types
// ---------------------------------------------------------------------------

// ChatRequest is the internal representation of a chat completion request.
// The HTTP handler parses the incoming OpenAI-format JSON into this struct,
// and provider adapters translate it into their backend-specific format.
type ChatRequest struct {
	Model     string    `json:"model"`      // e.g. "gemini-2.0-flash", "auto"
	Messages  []Message `json:"messages"`   // the conversation history
	Stream    bool      `json:"stream"`     // true = SSE streaming
	MaxTokens int       `json:"max_tokens"` // max tokens in the response
}

// Message is a single message in the conversation. This matches the OpenAI
// format, which uses role + content pairs. Google and Anthropic use different
// structures (Google has "parts", Anthropic separates "system"), so each
// adapter translates from this common format.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // the message text
}

// ---------------------------------------------------------------------------
// Unified response types
// ---------------------------------------------------------------------------

// ChatResponse is the internal representation of a complete (non-streaming)
// chat completion response. respproc.ResponseProcessor accepts it as one of
// its buffered input shapes; the backend connectors return a
// backend.ResponseEnvelope instead.
type ChatResponse struct {
	ID      string // unique response ID from the provider
	Model   string // the model that actually generated the response
	Content string // the generated text
	Usage   Usage  // token counts
}

// Usage holds token count information. Every provider returns this in some
// form — we normalize it here.
type Usage struct {
	PromptTokens     int // tokens in the input (our request)
	CompletionTokens int // tokens in the output (model's response)
	TotalTokens      int // sum of the above
}

// StreamChunk is one piece of a streaming response. The backend connector
// sends these over a channel, and the server handler converts each one
// into an OpenAI-style object for respproc's streaming path; the SSE writer
// (stream package) reads the resulting respproc.StreamedChunk values.
type StreamChunk struct {
	ID    string // response ID (same value across all chunks in one stream)
	Model string // model name
	Delta string // the new text fragment in this chunk
	Done  bool   // true on the final chunk — signals the stream is complete

	// Usage is only populated on the final chunk (some providers include
	// token counts at the end of a stream). It's a pointer so it can be
	// nil on all non-final chunks — like TypeScript's `usage?: Usage`.
	Usage *Usage

	// Error is set alongside Done=true when the stream ended because of a
	// decode failure or an I/O error reading the upstream body, rather
	// than a normal finish.
	Error error
}
