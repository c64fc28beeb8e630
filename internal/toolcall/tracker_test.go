package toolcall

import (
	"testing"
	"time"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestConfig_Validate(t *testing.T) {
	cfg := Config{MaxRepeats: 1, TTLSeconds: 0}
	errs := cfg.Validate()
	if len(errs) != 2 {
		t.Fatalf("expected 2 validation errors, got %v", errs)
	}
}

// spec.md §8's headline scenario: max_repeats=4, the 4th identical call in
// break mode is blocked.
func TestTracker_BlocksOnFourthIdenticalCall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRepeats = 4
	cfg.Mode = ModeBreak
	tr := NewTracker(cfg, 0)

	var d Decision
	for i := 0; i < 3; i++ {
		d = tr.TrackToolCall(base.Add(time.Duration(i)*time.Second), "search", `{"q":"go"}`, false)
		if d.ShouldBlock {
			t.Fatalf("blocked early on call %d", i+1)
		}
	}
	d = tr.TrackToolCall(base.Add(3*time.Second), "search", `{"q":"go"}`, false)
	if !d.ShouldBlock {
		t.Fatal("expected the 4th identical call to be blocked")
	}
	if d.RepeatCount != 4 {
		t.Errorf("repeat count = %d, want 4", d.RepeatCount)
	}
}

func TestTracker_DifferentArgumentsDoNotAccumulate(t *testing.T) {
	cfg := DefaultConfig()
	tr := NewTracker(cfg, 0)

	for i := 0; i < 10; i++ {
		args := `{"q":"go"}`
		if i%2 == 0 {
			args = `{"q":"rust"}`
		}
		d := tr.TrackToolCall(base.Add(time.Duration(i)*time.Second), "search", args, false)
		if d.ShouldBlock {
			t.Fatalf("alternating arguments should never trip the threshold, blocked at %d", i)
		}
	}
}

func TestTracker_ChanceThenBreakGivesOneWarningThenBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRepeats = 3
	cfg.Mode = ModeChanceThenBreak
	tr := NewTracker(cfg, 0)

	tr.TrackToolCall(base, "f", `{}`, false)
	tr.TrackToolCall(base.Add(time.Second), "f", `{}`, false)
	chance := tr.TrackToolCall(base.Add(2*time.Second), "f", `{}`, false)
	if !chance.ShouldBlock {
		t.Fatal("expected a chance-block on reaching the threshold")
	}

	again := tr.TrackToolCall(base.Add(3*time.Second), "f", `{}`, false)
	if !again.ShouldBlock {
		t.Fatal("expected the call after the chance to be blocked outright")
	}
}

func TestTracker_ForceBlockShortCircuits(t *testing.T) {
	cfg := DefaultConfig()
	tr := NewTracker(cfg, 0)
	d := tr.TrackToolCall(base, "anything", `{}`, true)
	if !d.ShouldBlock {
		t.Fatal("expected forced block to always block")
	}
	if d.RepeatCount != cfg.MaxRepeats {
		t.Errorf("forced block repeat count = %d, want MaxRepeats %d", d.RepeatCount, cfg.MaxRepeats)
	}
}

func TestTracker_TTLExpiryResetsStreak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRepeats = 3
	cfg.TTLSeconds = 5
	tr := NewTracker(cfg, 0)

	tr.TrackToolCall(base, "f", `{}`, false)
	tr.TrackToolCall(base.Add(time.Second), "f", `{}`, false)

	// Jump far past the TTL: the prior two calls expire, so the streak
	// should restart instead of hitting the threshold on this 3rd call.
	d := tr.TrackToolCall(base.Add(time.Hour), "f", `{}`, false)
	if d.ShouldBlock {
		t.Fatal("expired signatures must not count toward the repeat streak")
	}
}

func TestTracker_DisabledNeverBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	tr := NewTracker(cfg, 0)
	for i := 0; i < 10; i++ {
		d := tr.TrackToolCall(base.Add(time.Duration(i)*time.Second), "f", `{}`, false)
		if d.ShouldBlock {
			t.Fatal("disabled tracker must never block")
		}
	}
}

func TestSignature_CanonicalizesArgumentOrder(t *testing.T) {
	a := NewSignature(base, "f", `{"b":1,"a":2}`)
	b := NewSignature(base, "f", `{"a": 2, "b": 1}`)
	if a.FullSignature() != b.FullSignature() {
		t.Errorf("expected equal signatures regardless of key order: %q vs %q", a.FullSignature(), b.FullSignature())
	}
}

func TestSignature_FallsBackToRawOnUnrepairable(t *testing.T) {
	raw := "this is ordinary prose with no braces brackets or colons whatsoever"
	s := NewSignature(base, "f", raw)
	if s.ArgumentsSignature != raw {
		t.Errorf("expected raw fallback, got %q", s.ArgumentsSignature)
	}
}
