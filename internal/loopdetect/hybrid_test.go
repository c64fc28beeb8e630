package loopdetect

import (
	"strings"
	"testing"
)

func newTestDetector() *Detector {
	return New(DefaultConfig(), func() int64 { return 1000 })
}

// Ten 50-char chunks of identical content must fire on the 10th, not the
// 9th: spec.md §8's headline short-pattern scenario.
func TestShortPattern_FiresOnTenthRepeatNotNinth(t *testing.T) {
	d := newTestDetector()
	chunk := strings.Repeat("x", 50)

	var ev *Event
	for i := 0; i < 9; i++ {
		ev = d.ProcessChunk(chunk)
		if ev != nil {
			t.Fatalf("fired early on repetition %d", i+1)
		}
	}
	ev = d.ProcessChunk(chunk)
	if ev == nil {
		t.Fatal("expected a fired Event on the 10th repetition")
	}
	if ev.Strategy != "short" {
		t.Errorf("strategy = %q, want short", ev.Strategy)
	}
	if ev.RepetitionCount != 10 {
		t.Errorf("repetition count = %d, want 10", ev.RepetitionCount)
	}
}

// Repeated content inside a fenced code block must not trigger the
// short-pattern strategy.
func TestShortPattern_SuppressedInsideCodeFence(t *testing.T) {
	d := newTestDetector()
	chunk := strings.Repeat("y", 50)

	d.ProcessChunk("```go\n")
	for i := 0; i < 15; i++ {
		if ev := d.ProcessChunk(chunk); ev != nil {
			t.Fatalf("fired inside code fence on repetition %d", i+1)
		}
	}
}

// A divider line resets tracking so content before/after it never combines
// into a false-positive window.
func TestShortPattern_DividerResetsWindow(t *testing.T) {
	d := newTestDetector()
	chunk := strings.Repeat("z", 50)

	for i := 0; i < 9; i++ {
		d.ProcessChunk(chunk)
	}
	d.ProcessChunk("----------")
	for i := 0; i < 8; i++ {
		if ev := d.ProcessChunk(chunk); ev != nil {
			t.Fatalf("fired after divider reset on repetition %d", i+1)
		}
	}
}

// A 78-char prose block (long enough to clear LongMinPatternLength, with
// no internal periodicity of its own) repeated 3x should be caught by the
// long-pattern strategy as a single 78-char pattern, not chopped into
// several overlapping short-pattern hits.
func TestLongPattern_FiresOnRepeatedBlock(t *testing.T) {
	d := newTestDetector()
	block := "The biography committee reviewed quarterly submissions before adjourning today"

	var ev *Event
	for i := 0; i < 3; i++ {
		ev = d.ProcessChunk(block)
	}
	if ev == nil {
		t.Fatal("expected long-pattern Event after three repeats of the block")
	}
	if ev.Strategy != "long" {
		t.Errorf("strategy = %q, want long", ev.Strategy)
	}
	if ev.RepetitionCount != 3 {
		t.Errorf("repetition count = %d, want 3", ev.RepetitionCount)
	}
	if ev.Pattern != block {
		t.Errorf("pattern = %q, want the repeated block verbatim", ev.Pattern)
	}
}

func TestDetector_SilentAfterFiring(t *testing.T) {
	d := newTestDetector()
	chunk := strings.Repeat("x", 50)
	for i := 0; i < 10; i++ {
		d.ProcessChunk(chunk)
	}
	if ev := d.ProcessChunk(chunk); ev != nil {
		t.Fatal("expected detector to stay silent after firing once")
	}
}

func TestDetector_ResetClearsFiredLatch(t *testing.T) {
	d := newTestDetector()
	chunk := strings.Repeat("x", 50)
	for i := 0; i < 10; i++ {
		d.ProcessChunk(chunk)
	}
	if d.GetHistory() == nil {
		t.Fatal("expected a recorded event before reset")
	}
	d.Reset()
	if d.GetHistory() != nil {
		t.Error("expected history cleared after Reset")
	}
	for i := 0; i < 9; i++ {
		if ev := d.ProcessChunk(chunk); ev != nil {
			t.Fatalf("fired early post-reset on repetition %d", i+1)
		}
	}
}

func TestDetector_CheckForLoopsRollsBackNoOpProbe(t *testing.T) {
	d := newTestDetector()
	before := d.Stats()

	ev := d.CheckForLoops("just some normal prose, not a loop")
	if ev != nil {
		t.Fatal("did not expect a loop on ordinary prose")
	}
	after := d.Stats()
	if after.TotalBytesSeen != before.TotalBytesSeen {
		t.Errorf("expected state rollback, totalBytes before=%d after=%d", before.TotalBytesSeen, after.TotalBytesSeen)
	}
}

func TestDetector_CheckForLoopsKeepsStateWhenFired(t *testing.T) {
	d := newTestDetector()
	chunk := strings.Repeat("x", 50)
	for i := 0; i < 9; i++ {
		d.ProcessChunk(chunk)
	}
	ev := d.CheckForLoops(chunk)
	if ev == nil {
		t.Fatal("expected the 10th repetition to fire even via CheckForLoops")
	}
	if !d.Stats().Fired {
		t.Error("expected fired state to persist after a real detection")
	}
}

func TestDetector_DisabledNeverFires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	d := New(cfg, nil)
	chunk := strings.Repeat("x", 50)
	for i := 0; i < 20; i++ {
		if ev := d.ProcessChunk(chunk); ev != nil {
			t.Fatal("disabled detector must never fire")
		}
	}
	if d.IsEnabled() {
		t.Error("expected IsEnabled() == false")
	}
}
