package toolcall

import (
	"encoding/json"
	"testing"
)

func TestRepair_FencedJSONBlock(t *testing.T) {
	content := "Sure, let me do that.\n```json\n{\"function_call\": {\"name\": \"get_weather\", \"arguments\": {\"city\": \"nyc\"}}}\n```\n"
	r := Repair(content)
	if r == nil {
		t.Fatal("expected a repaired tool call")
	}
	if r.Name != "get_weather" {
		t.Errorf("name = %q, want get_weather", r.Name)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(r.Arguments), &args); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if args["city"] != "nyc" {
		t.Errorf("args city = %v, want nyc", args["city"])
	}
}

func TestRepair_InlineToolKey(t *testing.T) {
	content := `some preamble {"tool": {"name": "search", "arguments": {"q": "go"}}} trailing`
	r := Repair(content)
	if r == nil || r.Name != "search" {
		t.Fatalf("expected search tool call, got %+v", r)
	}
}

func TestRepair_TextualDirectiveWithJSONArgs(t *testing.T) {
	content := `TOOL CALL: lookup {"id": 42}`
	r := Repair(content)
	if r == nil || r.Name != "lookup" {
		t.Fatalf("expected lookup tool call, got %+v", r)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(r.Arguments), &args); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if args["id"].(float64) != 42 {
		t.Errorf("args id = %v, want 42", args["id"])
	}
}

func TestRepair_TextualDirectiveWithBareArgsWrapped(t *testing.T) {
	content := `Call: ping just a plain string`
	r := Repair(content)
	if r == nil || r.Name != "ping" {
		t.Fatalf("expected ping tool call, got %+v", r)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(r.Arguments), &args); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if args["args"] != "just a plain string" {
		t.Errorf("args.args = %v, want wrapped plain string", args["args"])
	}
}

func TestRepair_NoMatchReturnsNil(t *testing.T) {
	if r := Repair("just a normal sentence with no tool calls."); r != nil {
		t.Fatalf("expected nil, got %+v", r)
	}
}

func TestRepair_EmptyContent(t *testing.T) {
	if r := Repair(""); r != nil {
		t.Fatal("expected nil for empty content")
	}
}

func TestRepair_DirectNameArgumentsInFencedBlock(t *testing.T) {
	content := "```json\n{\"name\": \"echo\", \"arguments\": {\"text\": \"hi\"}}\n```"
	r := Repair(content)
	if r == nil || r.Name != "echo" {
		t.Fatalf("expected echo tool call, got %+v", r)
	}
}
