package middleware

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/relaycore/gateway/internal/session"
)

// editFailureMarkers are regexes for edit-tool failure signatures,
// ported verbatim from edit_precision_response_middleware.py's fallback
// pattern list.
var editFailureMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<diff_error>|diff_error`),
	regexp.MustCompile(`(?is)hunk\s+failed\s+to\s+apply`),
	regexp.MustCompile(`(?is)no\s+sufficiently\s+similar\s+match\s+found`),
}

// EditPrecisionResponseMiddleware detects edit-failure markers in a
// response and increments the session's EditPrecisionPending counter, a
// one-shot flag that State.TakeEditPrecisionPending reads and clears.
// Nothing in this repository calls TakeEditPrecisionPending, so no
// outbound request's sampling parameters change because of the flag.
type EditPrecisionResponseMiddleware struct {
	store *session.Store
	log   *zap.Logger
}

func NewEditPrecisionResponseMiddleware(store *session.Store, log *zap.Logger) *EditPrecisionResponseMiddleware {
	if log == nil {
		log = zap.NewNop()
	}
	return &EditPrecisionResponseMiddleware{store: store, log: log}
}

func (m *EditPrecisionResponseMiddleware) Priority() int { return 10 }

func (m *EditPrecisionResponseMiddleware) Process(_ context.Context, resp ProcessedResponse, rc RequestContext) (ProcessedResponse, error) {
	if resp.Content == "" {
		return resp, nil
	}

	for _, pattern := range editFailureMarkers {
		if pattern.MatchString(resp.Content) {
			st := m.store.GetOrCreate(rc.SessionID, rc.Config)
			count := st.IncrementEditPrecisionPending()

			m.log.Info("edit-precision trigger detected",
				zap.String("session_id", rc.SessionID),
				zap.String("pattern", pattern.String()),
				zap.Int("count", count),
				zap.String("response_type", rc.ResponseType))
			break
		}
	}

	return resp, nil
}
