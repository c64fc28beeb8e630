package middleware

import (
	"context"
	"fmt"

	"github.com/relaycore/gateway/internal/metrics"
	"github.com/relaycore/gateway/internal/session"
)

// LoopDetectionMiddleware accumulates each response's content per session
// and, once more than 100 characters have built up, feeds the accumulated
// text through the session's hybrid content-loop detector, blocking the
// response when a loop is declared. Grounded on how
// middleware_application_processor.py's chain wraps
// HybridLoopDetector-backed stream processing: here the detector call
// itself lives in internal/loopdetect, and this middleware is just the
// pipeline glue, mirroring the original's separation between the detector
// and the service that drives it from the middleware chain.
type LoopDetectionMiddleware struct {
	store *session.Store
}

func NewLoopDetectionMiddleware(store *session.Store) *LoopDetectionMiddleware {
	return &LoopDetectionMiddleware{store: store}
}

func (m *LoopDetectionMiddleware) Priority() int { return 50 }

func (m *LoopDetectionMiddleware) Process(_ context.Context, resp ProcessedResponse, rc RequestContext) (ProcessedResponse, error) {
	if !rc.Config.LoopDetectionEnabled || resp.Content == "" {
		return resp, nil
	}

	st := m.store.GetOrCreate(rc.SessionID, rc.Config)

	combined, ready := st.AccumulateLoopText(resp.Content)
	if !ready {
		return resp, nil
	}

	ev := st.Detector.ProcessChunk(combined)
	if ev == nil {
		return resp, nil
	}

	path := "buffered"
	if rc.ResponseType == "stream" {
		path = "streaming"
	}
	metrics.LoopDetections.WithLabelValues(ev.Strategy, path).Inc()

	return resp, &BlockError{
		Kind: "content_loop",
		Reason: fmt.Sprintf(
			"Loop detected: pattern repeated %d times (%s strategy). Session stopped to prevent unintended looping.",
			ev.RepetitionCount, ev.Strategy,
		),
	}
}
