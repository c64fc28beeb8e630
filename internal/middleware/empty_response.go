package middleware

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/relaycore/gateway/internal/apierror"
	"github.com/relaycore/gateway/internal/metrics"
	"github.com/relaycore/gateway/internal/session"
)

const fallbackRecoveryPrompt = "The previous response was empty. Please provide a valid response " +
	"with either text content or tool calls. Never return an empty response."

// EmptyResponseMiddleware is the Go port of empty_response_middleware.py's
// EmptyResponseMiddleware: it detects a response with neither content nor
// tool calls and, up to MaxRetries times per session, aborts the chain
// with a *RetryError carrying a recovery prompt instead of letting an
// empty turn reach the client.
type EmptyResponseMiddleware struct {
	store              *session.Store
	maxRetries         int
	recoveryPromptPath string
	log                *zap.Logger

	loadOnce      sync.Once
	recoveryPrompt string
}

func NewEmptyResponseMiddleware(store *session.Store, maxRetries int, recoveryPromptPath string, log *zap.Logger) *EmptyResponseMiddleware {
	if log == nil {
		log = zap.NewNop()
	}
	return &EmptyResponseMiddleware{
		store:              store,
		maxRetries:         maxRetries,
		recoveryPromptPath: recoveryPromptPath,
		log:                log,
	}
}

func (m *EmptyResponseMiddleware) Priority() int { return 5 }

func (m *EmptyResponseMiddleware) loadRecoveryPrompt() string {
	m.loadOnce.Do(func() {
		if m.recoveryPromptPath == "" {
			m.recoveryPrompt = fallbackRecoveryPrompt
			return
		}
		b, err := os.ReadFile(m.recoveryPromptPath)
		if err != nil {
			m.log.Warn("recovery prompt file not found, using fallback", zap.String("path", m.recoveryPromptPath), zap.Error(err))
			m.recoveryPrompt = fallbackRecoveryPrompt
			return
		}
		m.recoveryPrompt = strings.TrimSpace(string(b))
	})
	return m.recoveryPrompt
}

func (m *EmptyResponseMiddleware) Process(_ context.Context, resp ProcessedResponse, rc RequestContext) (ProcessedResponse, error) {
	isEmpty := strings.TrimSpace(resp.Content) == "" && len(rc.ToolCalls) == 0
	st := m.store.GetOrCreate(rc.SessionID, rc.Config)

	if !isEmpty {
		st.ResetEmptyRetryCount()
		return resp, nil
	}

	retryCount := st.GetEmptyRetryCount()
	if retryCount >= m.maxRetries {
		st.ResetEmptyRetryCount()
		metrics.EmptyResponseRetries.WithLabelValues("exhausted").Inc()
		return resp, apierror.Backend(rc.SessionID, 0,
			"empty response (no content or tool calls) after retry attempts", nil)
	}

	newCount := st.RecordEmptyRetry()
	metrics.EmptyResponseRetries.WithLabelValues("retried").Inc()
	return resp, &RetryError{
		RecoveryPrompt: m.loadRecoveryPrompt(),
		SessionID:      rc.SessionID,
		RetryCount:     newCount,
	}
}
