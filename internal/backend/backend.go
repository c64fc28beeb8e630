// Package backend implements the backend adapter contract (C9): the egress
// side of the core, consumed the same way regardless of which dialect a
// connector actually speaks to upstream.
//
// Grounded on spec.md §6's "Backend adapter (egress)" contract and
// original_source/src/core/services/backend_registry.py's registry of
// GeminiBackend/AnthropicBackend/OpenAIConnector subclasses. Re-expressed
// per spec.md §9's design note: inheritance becomes interface + composition
// — a Connector owns its transport client and shares nothing by embedding
// a base class, only by calling the same apierror/credstore helpers.
package backend

import (
	"context"
	"net/http"

	"github.com/relaycore/gateway/internal/provider"
)

// Capabilities is the small capability table spec.md §9 calls for in place
// of virtual dispatch: callers branch on these flags instead of type-
// asserting a concrete connector type.
type Capabilities struct {
	SupportsOAuth     bool
	SupportsStreaming bool
}

// ResponseEnvelope is the buffered shape spec.md §6 names:
// ResponseEnvelope = {content, headers, status_code}.
type ResponseEnvelope struct {
	Content    string
	Headers    http.Header
	StatusCode int
	Usage      provider.Usage
	Model      string
	ID         string
}

// StreamingResponseEnvelope is the streaming counterpart spec.md §6 names:
// StreamingResponseEnvelope = {async chunk source, media_type, headers}.
type StreamingResponseEnvelope struct {
	Chunks    <-chan provider.StreamChunk
	MediaType string
	Headers   http.Header
}

// Connector is the backend adapter contract every upstream (Google,
// Anthropic, Gemini OAuth Personal, ...) implements. The core consumes
// only this interface — it never knows which dialect a connector actually
// speaks upstream.
type Connector interface {
	// Name returns the connector identifier, e.g. "google" or
	// "gemini-cli-oauth-personal".
	Name() string

	// Capabilities reports what this connector supports, replacing the
	// virtual-dispatch checks (isinstance(backend, OAuthCapable)) the
	// original uses.
	Capabilities() Capabilities

	// Initialize prepares the connector for use: loading credentials,
	// discovering a project ID, validating configuration. Called once
	// before the connector serves any request.
	Initialize(ctx context.Context) error

	// ListModels returns the model identifiers this connector serves.
	ListModels(ctx context.Context) ([]string, error)

	// ChatCompletions is the buffered egress call.
	ChatCompletions(ctx context.Context, req *provider.ChatRequest) (*ResponseEnvelope, error)

	// ChatCompletionsStream is the streaming egress call.
	ChatCompletionsStream(ctx context.Context, req *provider.ChatRequest) (*StreamingResponseEnvelope, error)
}
