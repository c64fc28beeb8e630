package streamproc

import (
	"context"
	"fmt"
	"time"

	"github.com/relaycore/gateway/internal/chunk"
	"github.com/relaycore/gateway/internal/loopdetect"
	"github.com/relaycore/gateway/internal/metrics"
)

// LoopDetectionProcessor is the streaming counterpart of
// domain/streaming_response_processor.py's LoopDetectionProcessor: one
// internal/loopdetect.Detector per stream_id, fed every chunk's content as
// it arrives. Firing replaces the chunk with a cancellation chunk
// (chunk.Cancellation) per spec.md §4.2's "Failure semantics" and
// suppresses all further content on this stream_id.
type LoopDetectionProcessor struct {
	cfg          loopdetect.Config
	nowUnix      func() int64
	states       *perStreamState[*loopdetect.Detector]
	responsePath string
}

// NewLoopDetectionProcessor builds a processor that constructs a fresh
// Detector per stream from cfg. responsePath labels the "path" metric
// dimension ("streaming").
func NewLoopDetectionProcessor(cfg loopdetect.Config, nowUnix func() int64) *LoopDetectionProcessor {
	if nowUnix == nil {
		nowUnix = func() int64 { return time.Now().Unix() }
	}
	return &LoopDetectionProcessor{
		cfg:          cfg,
		nowUnix:      nowUnix,
		responsePath: "streaming",
		states: newPerStreamState(func() *loopdetect.Detector {
			return loopdetect.New(cfg, nowUnix)
		}),
	}
}

func (p *LoopDetectionProcessor) Reset() { p.states.reset() }

func (p *LoopDetectionProcessor) sweepIdle(idle time.Duration) { p.states.sweep(time.Now(), idle) }

func (p *LoopDetectionProcessor) Process(_ context.Context, c chunk.Chunk) (chunk.Chunk, error) {
	streamID := c.Metadata.StreamID
	detector := p.states.get(streamID, time.Now())

	if c.Done {
		p.states.delete(streamID)
		return c, nil
	}
	if c.Content == "" || !detector.IsEnabled() {
		return c, nil
	}

	ev := detector.ProcessChunk(c.Content)
	if ev == nil {
		return c, nil
	}

	metrics.LoopDetections.WithLabelValues(ev.Strategy, p.responsePath).Inc()
	p.states.delete(streamID)

	message := fmt.Sprintf(
		"Loop detected: pattern repeated %d times (%s strategy). Session stopped to prevent unintended looping.",
		ev.RepetitionCount, ev.Strategy,
	)
	cancellation := chunk.Cancellation(message)
	cancellation.Metadata.SessionID = c.Metadata.SessionID
	cancellation.Metadata.StreamID = streamID
	cancellation.Metadata.ID = c.Metadata.ID
	cancellation.Metadata.Model = c.Metadata.Model
	return cancellation, nil
}
