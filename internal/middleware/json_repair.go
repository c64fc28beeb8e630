package middleware

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	jsonrepairpkg "github.com/relaycore/gateway/internal/jsonrepair"
)

// JsonRepairMiddleware is json_repair_middleware.py's JsonRepairMiddleware:
// the buffered (non-streaming) counterpart of internal/jsonrepair.Processor
// — it repairs a complete response body in one shot rather than scanning
// a chunk stream incrementally.
type JsonRepairMiddleware struct {
	enabled bool
	strict  bool
	service *jsonrepairpkg.Service
	log     *zap.Logger
}

func NewJsonRepairMiddleware(enabled, strict bool, service *jsonrepairpkg.Service, log *zap.Logger) *JsonRepairMiddleware {
	if log == nil {
		log = zap.NewNop()
	}
	return &JsonRepairMiddleware{enabled: enabled, strict: strict, service: service, log: log}
}

func (m *JsonRepairMiddleware) Priority() int { return 20 }

func (m *JsonRepairMiddleware) Process(_ context.Context, resp ProcessedResponse, rc RequestContext) (ProcessedResponse, error) {
	if !m.enabled || resp.Content == "" {
		return resp, nil
	}

	decoded, err := m.service.RepairAndValidate(resp.Content)
	if err != nil {
		if m.strict || rc.ExpectedJSON || rc.ResponseSchema != "" {
			return resp, err
		}
		return resp, nil
	}

	b, err := json.Marshal(decoded)
	if err != nil {
		return resp, nil
	}

	m.log.Info("json detected and repaired", zap.String("session_id", rc.SessionID))
	resp.Content = string(b)
	if resp.Metadata == nil {
		resp.Metadata = make(map[string]any)
	}
	resp.Metadata["repaired"] = true
	return resp, nil
}
