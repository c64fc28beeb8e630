package jsonrepair

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Service is the Go port of
// original_source/src/core/services/json_repair_service.py's
// JsonRepairService: it repairs a possibly-malformed JSON string with
// kaptinlin/jsonrepair, decodes it, and optionally validates the result
// against a compiled JSON schema.
type Service struct {
	schema *jsonschema.Schema
}

// NewService builds a Service. schemaJSON may be empty, in which case
// RepairAndValidate never validates — only repairs and decodes.
func NewService(schemaJSON string) (*Service, error) {
	if schemaJSON == "" {
		return &Service{}, nil
	}
	compiled, err := jsonschema.CompileString("tool_call_response", schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compiling json schema: %w", err)
	}
	return &Service{schema: compiled}, nil
}

// RepairAndValidate repairs jsonString, decodes it, and validates it
// against the configured schema if any. On any failure it returns a
// non-nil error; the caller decides whether that's fatal (strict mode) or
// just a "fall back to the raw buffer" signal.
func (s *Service) RepairAndValidate(jsonString string) (any, error) {
	repaired, err := jsonrepair.JSONRepair(jsonString)
	if err != nil {
		return nil, fmt.Errorf("repairing json: %w", err)
	}

	var decoded any
	if err := json.Unmarshal([]byte(repaired), &decoded); err != nil {
		return nil, fmt.Errorf("decoding repaired json: %w", err)
	}

	if s.schema != nil {
		if err := s.schema.Validate(decoded); err != nil {
			return nil, fmt.Errorf("schema validation: %w", err)
		}
	}

	return decoded, nil
}
