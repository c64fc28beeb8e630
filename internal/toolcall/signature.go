package toolcall

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

// Signature is ToolCallSignature from the original: a tracked tool call
// with a stable, comparable identity.
type Signature struct {
	Timestamp          time.Time
	ToolName           string
	ArgumentsSignature string
	RawArguments       string
}

// NewSignature builds a Signature from a tool name and its raw (possibly
// malformed) JSON arguments string. Arguments are repaired with
// jsonrepair and re-marshaled with sorted keys so that two semantically
// identical calls produce byte-identical signatures regardless of
// whitespace or key order; if repair or decoding still fails, the raw
// string is used verbatim as a last resort, matching the original's
// fallback.
func NewSignature(now time.Time, toolName, arguments string) Signature {
	canonical := arguments
	if repaired, err := jsonrepair.JSONRepair(arguments); err == nil {
		var parsed any
		if err := json.Unmarshal([]byte(repaired), &parsed); err == nil {
			// encoding/json marshals map[string]any keys in sorted order,
			// which is exactly the stable, order-independent signature the
			// original gets from json.dumps(..., sort_keys=True).
			if b, err := json.Marshal(parsed); err == nil {
				canonical = string(b)
			}
		}
	}

	return Signature{
		Timestamp:          now,
		ToolName:           toolName,
		ArgumentsSignature: canonical,
		RawArguments:       arguments,
	}
}

// FullSignature is get_full_signature(): the identity used for
// repeat-detection comparisons.
func (s Signature) FullSignature() string {
	return fmt.Sprintf("%s:%s", s.ToolName, s.ArgumentsSignature)
}

// Expired reports whether s is older than ttlSeconds as of now.
func (s Signature) Expired(now time.Time, ttlSeconds int) bool {
	return now.Sub(s.Timestamp).Seconds() > float64(ttlSeconds)
}
