package session

import "github.com/relaycore/gateway/internal/toolcall"

// LoopDetectionConfiguration is the Go port of
// original_source/src/core/domain/configuration/loop_detection_config.py's
// LoopDetectionConfiguration: the per-session knobs for both the
// content-loop detector and the tool-call-loop tracker. Like the Python
// value object, it's immutable — every With* method returns a modified
// copy rather than mutating the receiver, so a session can hand out its
// current config to a request without that request's code accidentally
// changing the session's state out from under it.
type LoopDetectionConfiguration struct {
	LoopDetectionEnabled     bool
	ToolLoopDetectionEnabled bool
	MinPatternLength         int
	MaxPatternLength         int

	// Tool-call-loop detection settings; nil means "use the tracker's
	// own default" (mirrors the Python Optional[int]/Optional[ToolLoopMode]).
	ToolLoopMaxRepeats *int
	ToolLoopTTLSeconds *int
	ToolLoopMode       *toolcall.Mode
}

// DefaultLoopDetectionConfiguration matches the original dataclass's
// field defaults.
func DefaultLoopDetectionConfiguration() LoopDetectionConfiguration {
	return LoopDetectionConfiguration{
		LoopDetectionEnabled:     true,
		ToolLoopDetectionEnabled: true,
		MinPatternLength:         100,
		MaxPatternLength:         8000,
	}
}

func (c LoopDetectionConfiguration) WithLoopDetectionEnabled(enabled bool) LoopDetectionConfiguration {
	out := c
	out.LoopDetectionEnabled = enabled
	return out
}

func (c LoopDetectionConfiguration) WithToolLoopDetectionEnabled(enabled bool) LoopDetectionConfiguration {
	out := c
	out.ToolLoopDetectionEnabled = enabled
	return out
}

func (c LoopDetectionConfiguration) WithPatternLengthRange(min, max int) LoopDetectionConfiguration {
	out := c
	out.MinPatternLength = min
	out.MaxPatternLength = max
	return out
}

func (c LoopDetectionConfiguration) WithToolLoopMaxRepeats(maxRepeats int) LoopDetectionConfiguration {
	out := c
	out.ToolLoopMaxRepeats = &maxRepeats
	return out
}

func (c LoopDetectionConfiguration) WithToolLoopTTLSeconds(ttlSeconds int) LoopDetectionConfiguration {
	out := c
	out.ToolLoopTTLSeconds = &ttlSeconds
	return out
}

func (c LoopDetectionConfiguration) WithToolLoopMode(mode toolcall.Mode) LoopDetectionConfiguration {
	out := c
	out.ToolLoopMode = &mode
	return out
}

// ToolCallLoopConfig builds the toolcall.Config this session's settings
// describe, falling back to toolcall.DefaultConfig()'s values for any
// unset (nil) field.
func (c LoopDetectionConfiguration) ToolCallLoopConfig() toolcall.Config {
	cfg := toolcall.DefaultConfig()
	cfg.Enabled = c.ToolLoopDetectionEnabled
	if c.ToolLoopMaxRepeats != nil {
		cfg.MaxRepeats = *c.ToolLoopMaxRepeats
	}
	if c.ToolLoopTTLSeconds != nil {
		cfg.TTLSeconds = *c.ToolLoopTTLSeconds
	}
	if c.ToolLoopMode != nil {
		cfg.Mode = *c.ToolLoopMode
	}
	return cfg
}
