package toolcall

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Repaired is the OpenAI-compatible tool call produced by Repair, the Go
// port of original_source/src/core/services/tool_call_repair_service.py's
// ToolCallRepairService.repair_tool_calls.
type Repaired struct {
	ID   string
	Type string
	Name string
	// Arguments is always a JSON-encoded string, matching the OpenAI
	// function-call wire shape, even when the model emitted a bare string.
	Arguments string
}

var (
	codeBlockPattern = regexp.MustCompile(`(?s)` + "```" + `(?:json)?\s*(\{.*\}\s*)\s*` + "```")
	jsonKeyPattern   = regexp.MustCompile(`(?s)(\{?\s*"(function_call|tool)":\s*\{.*\}\s*\})`)
	textPattern      = regexp.MustCompile(`(?i)(?:TOOL CALL|Function call|Call)\s*:\s*(\w+)\s*(.*)`)
)

// Repair scans response content for a tool call embedded as text — a
// fenced JSON code block, an inline {"function_call": {...}} or
// {"tool": {...}} object, or a "TOOL CALL: name {...}" textual directive —
// and converts the first one found into a Repaired call. It returns nil
// when nothing matches.
//
// Detection runs cheapest-first: each regex only runs after a substring
// fast-path check confirms its trigger text is present, avoiding the cost
// of three regex passes over every plain-text response.
func Repair(responseContent string) *Repaired {
	if responseContent == "" {
		return nil
	}
	content := responseContent

	if strings.Contains(content, "```") {
		if m := codeBlockPattern.FindStringSubmatch(content); m != nil {
			if r := processJSONMatch(m[1]); r != nil {
				return r
			}
		}
	}

	if strings.Contains(content, `"function_call"`) || strings.Contains(content, `"tool"`) {
		if extracted := extractJSONObjectNearKey(content); extracted != "" {
			if r := processJSONMatch(extracted); r != nil {
				return r
			}
		}
		if m := jsonKeyPattern.FindStringSubmatch(content); m != nil {
			if r := processJSONMatch(m[1]); r != nil {
				return r
			}
		}
	}

	if strings.Contains(content, "TOOL CALL") || strings.Contains(content, "Function call") || strings.Contains(content, "Call:") {
		if m := textPattern.FindStringSubmatch(content); m != nil {
			if r := processTextMatch(m[1], m[2]); r != nil {
				return r
			}
		}
	}

	return nil
}

func processJSONMatch(jsonString string) *Repaired {
	var data map[string]any
	if err := json.Unmarshal([]byte(jsonString), &data); err != nil {
		return nil
	}

	if fc, ok := data["function_call"].(map[string]any); ok {
		return formatToolCall(stringOrEmpty(fc["name"]), fc["arguments"])
	}
	if tool, ok := data["tool"].(map[string]any); ok {
		return formatToolCall(stringOrEmpty(tool["name"]), tool["arguments"])
	}
	if name, hasName := data["name"]; hasName {
		if args, hasArgs := data["arguments"]; hasArgs {
			return formatToolCall(stringOrEmpty(name), args)
		}
	}
	return nil
}

func processTextMatch(name, argsString string) *Repaired {
	trimmed := strings.TrimSpace(argsString)

	var probe any
	if err := json.Unmarshal([]byte(trimmed), &probe); err == nil {
		return formatToolCall(name, probe)
	}

	return formatToolCall(name, map[string]any{"args": trimmed})
}

// extractJSONObjectNearKey finds a balanced {...} object containing a
// "function_call" or "tool" key by scanning braces and skipping over
// string contents, rather than risking a regex backtracking blow-up on a
// large buffer.
func extractJSONObjectNearKey(text string) string {
	keyIdx := strings.Index(text, `"function_call"`)
	if keyIdx == -1 {
		keyIdx = strings.Index(text, `"tool"`)
	}
	if keyIdx == -1 {
		return ""
	}

	start := keyIdx
	for start >= 0 && text[start] != '{' {
		start--
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func formatToolCall(name string, arguments any) *Repaired {
	var argsJSON string
	switch v := arguments.(type) {
	case string:
		if json.Valid([]byte(v)) {
			argsJSON = v
		} else {
			b, err := json.Marshal(map[string]any{"args": v})
			if err != nil {
				return nil
			}
			argsJSON = string(b)
		}
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		argsJSON = string(b)
	}

	return &Repaired{
		ID:        "call_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Type:      "function",
		Name:      name,
		Arguments: argsJSON,
	}
}

func stringOrEmpty(v any) string {
	s, _ := v.(string)
	return s
}
