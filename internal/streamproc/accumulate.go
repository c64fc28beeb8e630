package streamproc

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/gateway/internal/chunk"
)

// defaultAccumulationCapBytes matches content_accumulation_processor.py's
// 10 MB default.
const defaultAccumulationCapBytes = 10 * 1024 * 1024

type accumulatorState struct {
	chunks           []string
	byteLength       int
	truncationLogged bool
}

// ContentAccumulationProcessor is the streaming counterpart of
// streaming/content_accumulation_processor.py's ContentAccumulationProcessor:
// it buffers every non-terminal chunk's content per stream_id and only
// releases the full joined text on the stream's terminal chunk (a
// cancellation chunk is forwarded as is and the buffered text is dropped),
// so downstream middleware — schema validation, tool-call-loop
// extraction — always sees complete content rather than a fragment. Older
// chunks are evicted from the front once the buffer exceeds capBytes,
// trading early content for bounded memory on pathological streams.
type ContentAccumulationProcessor struct {
	capBytes int
	log      *zap.Logger
	states   *perStreamState[*accumulatorState]
}

func NewContentAccumulationProcessor(capBytes int, log *zap.Logger) *ContentAccumulationProcessor {
	if capBytes <= 0 {
		capBytes = defaultAccumulationCapBytes
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ContentAccumulationProcessor{
		capBytes: capBytes,
		log:      log,
		states:   newPerStreamState(func() *accumulatorState { return &accumulatorState{} }),
	}
}

func (p *ContentAccumulationProcessor) Reset() { p.states.reset() }

func (p *ContentAccumulationProcessor) sweepIdle(idle time.Duration) { p.states.sweep(time.Now(), idle) }

func (p *ContentAccumulationProcessor) Process(_ context.Context, c chunk.Chunk) (chunk.Chunk, error) {
	streamID := c.Metadata.StreamID
	st := p.states.get(streamID, time.Now())

	if c.IsCancellation {
		// A cancellation's Content is the cancellation message, not stream
		// text — forward it untouched rather than joining it with whatever
		// content this stream had already buffered.
		p.states.delete(streamID)
		return c, nil
	}

	if c.Content == "" && !c.Done {
		// Preserve metadata/usage even for a chunk with no text, matching
		// the original's "still forward updated usage" comment.
		return c, nil
	}

	if c.Content != "" {
		st.chunks = append(st.chunks, c.Content)
		st.byteLength += len(c.Content)
	}

	if st.byteLength > p.capBytes {
		if !st.truncationLogged {
			p.log.Warn("content accumulation buffer exceeded cap, truncating oldest content",
				zap.Int("cap_bytes", p.capBytes), zap.Int("current_bytes", st.byteLength))
			st.truncationLogged = true
		}
		for len(st.chunks) > 0 && st.byteLength > p.capBytes {
			st.byteLength -= len(st.chunks[0])
			st.chunks = st.chunks[1:]
		}
	}

	if c.Done {
		final := strings.Join(st.chunks, "")
		p.states.delete(streamID)
		c.Content = final
		c.Done = true
		return c, nil
	}

	c.Content = ""
	return c, nil
}
