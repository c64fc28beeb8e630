package streamproc

import (
	"context"
	"encoding/json"

	"github.com/relaycore/gateway/internal/chunk"
	"github.com/relaycore/gateway/internal/toolcall"
)

// ToolCallRepairProcessor is the streaming counterpart of
// streaming/tool_call_repair_processor.py's ToolCallRepairProcessor: it
// runs internal/toolcall.Repair against each chunk's own content. It's
// stateless — like the original, it repairs whatever a single chunk
// contains rather than accumulating a cross-chunk buffer, since a
// complete fenced/textual tool call reliably arrives within one upstream
// chunk for every backend in the capability table.
type ToolCallRepairProcessor struct{}

func NewToolCallRepairProcessor() *ToolCallRepairProcessor {
	return &ToolCallRepairProcessor{}
}

func (p *ToolCallRepairProcessor) Reset() {}

func (p *ToolCallRepairProcessor) Process(_ context.Context, c chunk.Chunk) (chunk.Chunk, error) {
	if c.Content == "" {
		return c, nil
	}

	repaired := toolcall.Repair(c.Content)
	if repaired == nil {
		return c, nil
	}

	b, err := json.Marshal(repaired)
	if err != nil {
		return c, nil
	}

	c.Content = string(b)
	c.Metadata.ToolCalls = append(c.Metadata.ToolCalls, chunk.ToolCall{
		ID:   repaired.ID,
		Type: "function",
		Function: chunk.ToolFunction{
			Name:      repaired.Name,
			Arguments: repaired.Arguments,
		},
	})
	return c, nil
}
