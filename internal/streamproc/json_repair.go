package streamproc

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/gateway/internal/chunk"
	jsonrepairpkg "github.com/relaycore/gateway/internal/jsonrepair"
)

// JSONRepairProcessor is the streaming counterpart of
// streaming/json_repair_processor.py's JsonRepairProcessor: one
// internal/jsonrepair.Processor per stream_id, since its brace/string
// depth scan is stateful across chunks.
type JSONRepairProcessor struct {
	cfg     jsonrepairpkg.Config
	service *jsonrepairpkg.Service
	log     *zap.Logger
	states  *perStreamState[*jsonrepairpkg.Processor]
}

func NewJSONRepairProcessor(cfg jsonrepairpkg.Config, service *jsonrepairpkg.Service, log *zap.Logger) *JSONRepairProcessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &JSONRepairProcessor{
		cfg:     cfg,
		service: service,
		log:     log,
		states: newPerStreamState(func() *jsonrepairpkg.Processor {
			return jsonrepairpkg.NewProcessor(cfg, service, log)
		}),
	}
}

func (p *JSONRepairProcessor) Reset() { p.states.reset() }

func (p *JSONRepairProcessor) sweepIdle(idle time.Duration) { p.states.sweep(time.Now(), idle) }

func (p *JSONRepairProcessor) Process(_ context.Context, c chunk.Chunk) (chunk.Chunk, error) {
	streamID := c.Metadata.StreamID
	proc := p.states.get(streamID, time.Now())

	c.Content = proc.Process(c.Content, c.Done)

	if c.Done {
		p.states.delete(streamID)
	}
	return c, nil
}
