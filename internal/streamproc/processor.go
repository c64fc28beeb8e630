package streamproc

import (
	"context"
	"time"

	"github.com/relaycore/gateway/internal/chunk"
)

// Processor is IStreamProcessor generalized to Go: one stage of the
// ordered chain spec.md §4.7 describes (tool-call repair, JSON repair,
// loop detection, content accumulation, middleware application). A
// Processor that wants to signal "stop the chain for this chunk, nothing
// more to emit yet" returns a chunk with empty Content and Done=false —
// Normalizer.Run treats that as the short-circuit spec.md names.
type Processor interface {
	// Process returns the transformed chunk, or a non-nil error if the
	// chain should abort for this stream (a middleware.RetryError or
	// middleware.BlockError). Keeping the error in the return value
	// instead of mutable processor state keeps every Processor safe to
	// share across concurrently running streams.
	Process(ctx context.Context, c chunk.Chunk) (chunk.Chunk, error)
	Reset()
}

// sweepable is implemented by every Processor that keys state on
// stream_id, so the Normalizer's janitor can drop state for streams
// abandoned before a terminal chunk ever arrived (spec.md §3's idle
// timeout for stream lifetime).
type sweepable interface {
	sweepIdle(idle time.Duration)
}
