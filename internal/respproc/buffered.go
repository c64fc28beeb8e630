package respproc

import (
	"encoding/json"
	"strings"

	"github.com/relaycore/gateway/internal/backend"
	"github.com/relaycore/gateway/internal/middleware"
	"github.com/relaycore/gateway/internal/provider"
)

// extracted is the intermediate shape extractBuffered produces before it's
// wrapped into a middleware.ProcessedResponse and RequestContext.
type extracted struct {
	content   string
	usage     map[string]any
	metadata  map[string]any
	toolCalls []middleware.ToolCallRef
}

// extractBuffered pulls text content, usage, and tool calls out of
// whatever shape a backend adapter handed back: the teacher's
// provider.ChatResponse, a decoded OpenAI-style envelope/dict, or a plain
// string. Grounded on response_processor_service.py's process_response,
// which does the same dispatch over ChatResponse / ResponseEnvelope /
// dict / str in Python; unrecognized shapes fall through with empty
// content rather than erroring, matching the original's permissiveness.
func extractBuffered(raw any) extracted {
	switch v := raw.(type) {
	case *provider.ChatResponse:
		return extracted{
			content: v.Content,
			usage:   usageToMap(v.Usage),
			metadata: map[string]any{
				"model": v.Model,
				"id":    v.ID,
			},
		}
	case provider.ChatResponse:
		return extractBuffered(&v)
	case *backend.ResponseEnvelope:
		metadata := map[string]any{"model": v.Model, "id": v.ID}
		if ct := v.Headers.Get("Content-Type"); ct != "" {
			metadata["content_type"] = ct
		}
		return extracted{
			content:  v.Content,
			usage:    usageToMap(v.Usage),
			metadata: metadata,
		}
	case map[string]any:
		return extractFromEnvelope(v)
	case string:
		return extracted{content: v, metadata: map[string]any{}}
	default:
		return extracted{metadata: map[string]any{}}
	}
}

func usageToMap(u provider.Usage) map[string]any {
	return map[string]any{
		"prompt_tokens":     u.PromptTokens,
		"completion_tokens": u.CompletionTokens,
		"total_tokens":      u.TotalTokens,
	}
}

// extractFromEnvelope reads an OpenAI-compatible chat-completion dict:
// {"id", "model", "created", "choices":[{"message":{"content", "tool_calls"}}], "usage"}.
func extractFromEnvelope(v map[string]any) extracted {
	ex := extracted{metadata: map[string]any{}}
	if model, ok := v["model"].(string); ok {
		ex.metadata["model"] = model
	}
	if id, ok := v["id"].(string); ok {
		ex.metadata["id"] = id
	}
	if created, ok := v["created"]; ok {
		ex.metadata["created"] = created
	}

	choices, _ := v["choices"].([]any)
	if len(choices) > 0 {
		choice, _ := choices[0].(map[string]any)
		if message, ok := choice["message"].(map[string]any); ok {
			if content, ok := message["content"].(string); ok {
				ex.content = content
			}
			if rawToolCalls, ok := message["tool_calls"].([]any); ok {
				ex.toolCalls = extractToolCallRefs(rawToolCalls)
				ex.metadata["tool_calls"] = rawToolCalls
			}
		}
	}

	if usage, ok := v["usage"].(map[string]any); ok {
		ex.usage = usage
	}

	if contentVal, ok := v["content"]; ok && ex.content == "" {
		if s, ok := contentVal.(string); ok {
			ex.content = s
		}
	}

	return ex
}

func extractToolCallRefs(raw []any) []middleware.ToolCallRef {
	refs := make([]middleware.ToolCallRef, 0, len(raw))
	for _, item := range raw {
		tc, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fn, ok := tc["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		args := fn["arguments"]
		argsStr, ok := args.(string)
		if !ok {
			if b, err := json.Marshal(args); err == nil {
				argsStr = string(b)
			}
		}
		refs = append(refs, middleware.ToolCallRef{Name: name, Arguments: argsStr})
	}
	return refs
}

// isJSONContentType reports whether metadata carries an
// "application/json" content-type hint, one half of inferExpectedJSON.
func isJSONContentType(metadata map[string]any) bool {
	ct, _ := metadata["content_type"].(string)
	if ct == "" {
		if headers, ok := metadata["headers"].(map[string]any); ok {
			if v, ok := headers["Content-Type"].(string); ok {
				ct = v
			} else if v, ok := headers["content-type"].(string); ok {
				ct = v
			}
		}
	}
	return ct != "" && strings.Contains(strings.ToLower(ct), "application/json")
}

// isJSONLike reports whether content looks like a JSON object or array by
// its outer delimiters, without attempting a full parse.
func isJSONLike(content string) bool {
	s := strings.TrimSpace(content)
	if s == "" {
		return false
	}
	return (strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")) ||
		(strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"))
}

// inferExpectedJSON is the Go port of json_intent.py's infer_expected_json:
// a response whose transport declared application/json, or whose content
// outwardly looks like a JSON object/array, is treated as JSON-intended
// for JsonRepairMiddleware's strict-mode gating even when the caller never
// set ExpectedJSON explicitly.
func inferExpectedJSON(metadata map[string]any, content string) bool {
	if isJSONContentType(metadata) {
		return true
	}
	return isJSONLike(content)
}
