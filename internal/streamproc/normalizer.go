package streamproc

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/relaycore/gateway/internal/chunk"
)

// Normalizer is StreamNormalizer (C7): it owns an ordered Processor chain
// and, per spec.md §4.7, assigns each stream a stable stream_id, builds a
// chunk.Chunk from every raw element the upstream source produces, and
// runs it through the chain in order. Grounded on
// streaming/stream_normalizer.py's StreamNormalizer — one Normalizer is
// long-lived and shared across concurrently running streams; isolation
// comes from each Processor keying its internal state on stream_id
// (spec.md §5's "no ordering across streams" + "per-stream state isolated
// by stream_id"), not from per-stream Normalizer instances.
type Normalizer struct {
	processors []Processor
}

// New builds a Normalizer with processors run in the given order. The
// default production order (spec.md §4.7) is tool-call repair, JSON
// repair, loop detection, content accumulation, middleware application —
// see DefaultChain.
func New(processors ...Processor) *Normalizer {
	return &Normalizer{processors: processors}
}

// Reset forwards to every processor that holds state, matching
// StreamNormalizer.reset()'s "reset any stateful processors" sweep.
func (n *Normalizer) Reset() {
	for _, p := range n.processors {
		p.Reset()
	}
}

// StartJanitor runs a background sweep every interval, dropping any
// per-stream state older than idle from every processor in the chain that
// keys state on stream_id. This catches streams abandoned before a
// terminal chunk ever arrives (client disconnect, upstream crash) — Run
// itself only cleans up state on a normal Done/cancellation chunk. The
// caller owns the Normalizer's lifetime and should cancel ctx on shutdown.
func (n *Normalizer) StartJanitor(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, p := range n.processors {
					if s, ok := p.(sweepable); ok {
						s.sweepIdle(idle)
					}
				}
			}
		}
	}()
}

// Run consumes raw upstream elements (bytes, decoded JSON objects, plain
// strings, or already-built chunk.Chunk values) from in, normalizes and
// runs each one through the processor chain, and sends the result on the
// returned channel. Run closes the output channel when in closes or ctx is
// cancelled. A chain error (middleware.BlockError from loop/tool-call-loop
// detection, or a RetryError the caller chooses to surface) is converted
// to a single cancellation chunk.Chunk and the stream ends.
func (n *Normalizer) Run(ctx context.Context, in <-chan any) <-chan chunk.Chunk {
	out := make(chan chunk.Chunk)

	go func() {
		defer close(out)
		streamID := uuid.NewString()

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-in:
				if !ok {
					return
				}

				c := toChunk(raw)
				if c.Metadata.StreamID == "" {
					c.Metadata.StreamID = streamID
				}

				if c.Content == "" && !c.Done {
					continue
				}

				var chainErr error
				for _, p := range n.processors {
					c, chainErr = p.Process(ctx, c)
					if chainErr != nil {
						break
					}
					if c.Content == "" && !c.Done {
						break
					}
				}

				if chainErr != nil {
					out <- cancellationFor(chainErr, c)
					return
				}

				if c.Content != "" || c.Done {
					select {
					case out <- c:
					case <-ctx.Done():
						return
					}
					if c.IsCancellation {
						// spec.md §5: "A loop detection cancellation emits
						// one final is_done=true, is_cancellation=true
						// chunk, then closes" — stop consuming the
						// upstream source immediately.
						return
					}
				}
			}
		}
	}()

	return out
}

// toChunk builds a chunk.Chunk from one raw upstream element, implementing
// spec.md §4.1's three construction paths plus a pass-through for values
// the backend adapter already built as a chunk.Chunk.
func toChunk(raw any) chunk.Chunk {
	switch v := raw.(type) {
	case chunk.Chunk:
		return v
	case []byte:
		return chunk.FromBytes(v)
	case string:
		return chunk.FromString(v)
	case map[string]any:
		return chunk.FromObject(v)
	default:
		return chunk.Chunk{Metadata: chunk.Metadata{ParseError: true}, Raw: raw}
	}
}
