package middleware

import (
	"context"
	"sort"

	"github.com/relaycore/gateway/internal/session"
)

// ProcessedResponse is ProcessedResponse from
// original_source/src/core/interfaces/response_processor_interface.py: the
// mutable unit every middleware reads and rewrites as it passes through
// the chain.
type ProcessedResponse struct {
	Content  string
	Usage    map[string]any
	Metadata map[string]any
}

// RequestContext is the per-call context threaded through the chain,
// generalizing middleware_application_processor.py's plain dict context
// into a typed struct. ResponseType distinguishes a buffered
// (non-streaming) call from a per-chunk streaming one; both paths run the
// identical middleware chain, per spec.md §4.6's "applies uniformly"
// requirement.
type RequestContext struct {
	SessionID    string
	ResponseType string // "stream" or "non_streaming"
	ExpectedJSON bool
	Config       session.LoopDetectionConfiguration
	ToolCalls    []ToolCallRef

	ResponseSchema         string // non-empty enables StructuredOutputMiddleware
	StrictSchemaValidation bool
}

// ToolCallRef is the minimal view of a tool call a middleware needs —
// name and raw JSON arguments — independent of which backend's wire shape
// produced it.
type ToolCallRef struct {
	Name      string
	Arguments string
}

// Middleware is IResponseMiddleware: a single pipeline stage. Process may
// return a RetryError or BlockError (see errors.go) instead of a modified
// response to short-circuit the chain.
type Middleware interface {
	Priority() int
	Process(ctx context.Context, resp ProcessedResponse, rc RequestContext) (ProcessedResponse, error)
}

// Manager is MiddlewareApplicationProcessor: it holds a priority-sorted
// chain and runs every registered Middleware over one response in order,
// highest priority first — matching the original's
// `sorted(middleware, key=_priority, reverse=True)`.
type Manager struct {
	chain []Middleware
}

// NewManager builds a Manager from an unordered slice of middlewares,
// sorting them once up front. The sort is stable, so two middlewares
// registered with equal priority keep their registration order.
func NewManager(mws []Middleware) *Manager {
	sorted := append([]Middleware(nil), mws...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})
	return &Manager{chain: sorted}
}

// Apply runs resp through every middleware in priority order, returning
// whatever the last stage produced. A RetryError or BlockError from any
// stage aborts the chain immediately and propagates to the caller.
func (m *Manager) Apply(ctx context.Context, resp ProcessedResponse, rc RequestContext) (ProcessedResponse, error) {
	current := resp
	for _, mw := range m.chain {
		next, err := mw.Process(ctx, current, rc)
		if err != nil {
			return current, err
		}
		current = next
	}
	return current, nil
}
