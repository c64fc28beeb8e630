package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/relaycore/gateway/internal/apierror"
	"github.com/relaycore/gateway/internal/backend"
	"github.com/relaycore/gateway/internal/provider"
	"github.com/relaycore/gateway/internal/stream"
)

// resolveConnector looks up the backend.Connector for a given model name
// using the model-to-connector registry built at startup from config.
func (s *Server) resolveConnector(model string) (string, error) {
	if _, ok := s.connectors[model]; !ok {
		return "", fmt.Errorf("unknown model: %q", model)
	}
	return model, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleChatCompletions handles POST /v1/chat/completions: it decodes the
// request, resolves the connector from the model name, calls the backend,
// and runs the raw response through the ResponseProcessor before writing
// it back — the same pipeline for both the buffered and streaming path.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req provider.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierror.Validation("invalid request body: "+err.Error()))
		return
	}

	model, err := s.resolveConnector(req.Model)
	if err != nil {
		writeError(w, apierror.Validation(err.Error()))
		return
	}
	conn := s.connectors[model]

	sessionID := r.Header.Get("X-Session-ID")
	if sessionID == "" {
		sessionID = req.Model
	}

	w.Header().Set("X-Relaycore-Backend", conn.Name())
	w.Header().Set("X-Relaycore-Model", req.Model)

	if req.Stream {
		s.handleStreaming(w, r, conn, &req, sessionID)
		return
	}
	s.handleBuffered(w, r, conn, &req, sessionID)
}

func (s *Server) handleBuffered(w http.ResponseWriter, r *http.Request, conn backend.Connector, req *provider.ChatRequest, sessionID string) {
	env, err := conn.ChatCompletions(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	processed, err := s.processor.ProcessResponse(r.Context(), env, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":      env.ID,
		"model":   env.Model,
		"object":  "chat.completion",
		"content": processed.Content,
		"usage":   env.Usage,
	})
}

func (s *Server) handleStreaming(w http.ResponseWriter, r *http.Request, conn backend.Connector, req *provider.ChatRequest, sessionID string) {
	streamEnv, err := conn.ChatCompletionsStream(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	source := make(chan any)
	go func() {
		defer close(source)
		for c := range streamEnv.Chunks {
			select {
			case source <- streamChunkToObject(c):
			case <-r.Context().Done():
				return
			}
		}
	}()

	processed := s.processor.ProcessStreaming(r.Context(), source, sessionID)
	if err := stream.Write(w, sessionID, req.Model, processed); err != nil {
		s.log.Warn("stream write error", zap.Error(err))
	}
}

// streamChunkToObject translates a provider.StreamChunk into the
// OpenAI-shaped object internal/chunk.FromObject recognizes, so the
// ResponseProcessor's streaming path never has to know about
// backend.Connector's wire types directly.
func streamChunkToObject(c provider.StreamChunk) map[string]any {
	obj := map[string]any{
		"id":    c.ID,
		"model": c.Model,
		"choices": []any{
			map[string]any{
				"delta": map[string]any{"content": c.Delta},
			},
		},
	}
	if c.Done {
		choice := obj["choices"].([]any)[0].(map[string]any)
		choice["finish_reason"] = "stop"
	}
	if c.Usage != nil {
		obj["usage"] = map[string]any{
			"prompt_tokens":     c.Usage.PromptTokens,
			"completion_tokens": c.Usage.CompletionTokens,
			"total_tokens":      c.Usage.TotalTokens,
		}
	}
	return obj
}

// writeError maps any error into the apierror taxonomy's HTTP status and
// writes a structured JSON error body, per spec.md §6's error mapping.
func writeError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*apierror.Error)
	if !ok {
		apiErr = apierror.Backend("unknown", 0, err.Error(), err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierror.HTTPStatus(apiErr.Kind))
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"kind":    apiErr.Kind,
			"message": apiErr.Message,
			"details": apiErr.Details,
		},
	})
}
