package streamproc

import (
	"github.com/relaycore/gateway/internal/chunk"
	"github.com/relaycore/gateway/internal/middleware"
)

// cancellationFor maps a middleware chain error into the single
// cancellation chunk Run emits before closing the stream, matching
// spec.md §4.8's "on stream error, yields a final chunk with
// metadata.error=true rather than raising mid-iteration" and §4.2's
// loop/tool-call-loop cancellation duality.
func cancellationFor(err error, last chunk.Chunk) chunk.Chunk {
	message := err.Error()
	kind := "error"

	switch e := err.(type) {
	case *middleware.BlockError:
		message = e.Reason
		kind = e.Kind
	case *middleware.RetryError:
		kind = "empty_response_retry"
	}

	c := chunk.Cancellation(message)
	c.Metadata.StreamID = last.Metadata.StreamID
	c.Metadata.SessionID = last.Metadata.SessionID
	c.Metadata.ID = last.Metadata.ID
	c.Metadata.Model = last.Metadata.Model
	c.Metadata.Extra = map[string]any{
		"error":      true,
		"error_kind": kind,
	}
	return c
}
