package toolcall

import (
	"fmt"
	"time"
)

const defaultMaxSignatures = 100

// Tracker is ToolCallTracker from the original: it watches a session's
// sequence of tool calls and decides when an identical call has repeated
// often enough, closely enough together, to be a loop rather than
// deliberate retry.
type Tracker struct {
	cfg Config

	maxSignatures int
	signatures    []Signature

	// consecutiveRepeats and chanceGiven are keyed by Signature.FullSignature().
	consecutiveRepeats map[string]int
	chanceGiven        map[string]bool
}

// NewTracker builds a Tracker. maxSignatures bounds retained history
// regardless of TTL; pass 0 to use the original's default of 100.
func NewTracker(cfg Config, maxSignatures int) *Tracker {
	if maxSignatures <= 0 {
		maxSignatures = defaultMaxSignatures
	}
	return &Tracker{
		cfg:                cfg,
		maxSignatures:      maxSignatures,
		consecutiveRepeats: make(map[string]int),
		chanceGiven:        make(map[string]bool),
	}
}

// PruneExpired drops signatures older than cfg.TTLSeconds and recomputes
// consecutive-repeat counters and chance markers from what remains, so a
// burst from an hour ago can never combine with a burst from just now.
func (t *Tracker) PruneExpired(now time.Time) int {
	if len(t.signatures) == 0 {
		return 0
	}

	before := len(t.signatures)
	kept := make([]Signature, 0, len(t.signatures))
	for _, sig := range t.signatures {
		if !sig.Expired(now, t.cfg.TTLSeconds) {
			kept = append(kept, sig)
		}
	}
	t.signatures = kept
	pruned := before - len(kept)
	if pruned == 0 {
		return 0
	}

	newCounts := make(map[string]int)
	var currentSig string
	currentRun := 0
	for _, sig := range t.signatures {
		full := sig.FullSignature()
		if full == currentSig {
			currentRun++
		} else {
			if currentSig != "" {
				newCounts[currentSig] = currentRun
			}
			currentSig = full
			currentRun = 1
		}
	}
	if currentSig != "" {
		newCounts[currentSig] = currentRun
	}
	t.consecutiveRepeats = newCounts

	for sig := range t.chanceGiven {
		if count, ok := newCounts[sig]; !ok || count < t.cfg.MaxRepeats {
			delete(t.chanceGiven, sig)
		}
	}

	return pruned
}

// Decision is the result of TrackToolCall: whether the call should be
// blocked, why, and how many consecutive repeats triggered it.
type Decision struct {
	ShouldBlock bool
	Reason      string
	RepeatCount int
}

// TrackToolCall is track_tool_call(): records one tool call and reports
// whether it should be blocked. forceBlock implements the forced-block
// mode used for transparent retry: when a caller already knows a repair
// loop produced the same call again, it can short-circuit straight to a
// second-chance block without re-running signature comparison.
func (t *Tracker) TrackToolCall(now time.Time, toolName, arguments string, forceBlock bool) Decision {
	if !t.cfg.Enabled && !forceBlock {
		return Decision{}
	}

	if forceBlock {
		return Decision{
			ShouldBlock: true,
			Reason:      formatBlockReason(toolName, t.cfg.MaxRepeats, t.cfg.TTLSeconds, true),
			RepeatCount: t.cfg.MaxRepeats,
		}
	}

	t.PruneExpired(now)

	sig := NewSignature(now, toolName, arguments)
	full := sig.FullSignature()

	if len(t.signatures) > 0 && t.signatures[len(t.signatures)-1].FullSignature() == full {
		current, ok := t.consecutiveRepeats[full]
		if !ok {
			current = 1
		}
		t.consecutiveRepeats[full] = current + 1
		repeatCount := t.consecutiveRepeats[full]

		if repeatCount >= t.cfg.MaxRepeats {
			switch t.cfg.Mode {
			case ModeBreak:
				return Decision{
					ShouldBlock: true,
					Reason:      formatBlockReason(toolName, repeatCount, t.cfg.TTLSeconds, false),
					RepeatCount: repeatCount,
				}
			case ModeChanceThenBreak:
				if t.chanceGiven[full] {
					return Decision{
						ShouldBlock: true,
						Reason:      formatBlockReason(toolName, repeatCount, t.cfg.TTLSeconds, true),
						RepeatCount: repeatCount,
					}
				}
				t.chanceGiven[full] = true
				return Decision{
					ShouldBlock: true,
					Reason:      formatChanceReason(toolName, repeatCount),
					RepeatCount: repeatCount,
				}
			}
		}
	} else {
		t.consecutiveRepeats[full] = 1
		delete(t.chanceGiven, full)
	}

	t.signatures = append(t.signatures, sig)
	if len(t.signatures) > t.maxSignatures {
		excess := len(t.signatures) - t.maxSignatures
		t.signatures = t.signatures[excess:]

		current := make(map[string]bool, len(t.signatures))
		for _, s := range t.signatures {
			current[s.FullSignature()] = true
		}
		for sig := range t.consecutiveRepeats {
			if !current[sig] {
				delete(t.consecutiveRepeats, sig)
				delete(t.chanceGiven, sig)
			}
		}
	}

	return Decision{}
}

func formatBlockReason(toolName string, repeatCount, ttlSeconds int, secondChance bool) string {
	prefix := ""
	if secondChance {
		prefix = "After guidance, "
	}
	return fmt.Sprintf(
		"%sTool call loop detected: '%s' invoked with identical parameters %d times within %ds. "+
			"Session stopped to prevent unintended looping. Try changing your inputs or approach.",
		prefix, toolName, repeatCount, ttlSeconds,
	)
}

func formatChanceReason(toolName string, repeatCount int) string {
	return fmt.Sprintf(
		"Tool call loop warning: '%s' has been called with identical parameters %d times. "+
			"Please modify your approach or parameters. If the next call uses the same parameters, "+
			"the session will be stopped.",
		toolName, repeatCount,
	)
}
