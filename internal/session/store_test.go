package session

import (
	"testing"
	"time"
)

func TestStore_GetOrCreateReusesState(t *testing.T) {
	s := NewStore(time.Hour, nil)
	defer s.Stop()

	cfg := DefaultLoopDetectionConfiguration()
	a := s.GetOrCreate("sess-1", cfg)
	a.EmptyRetryCount = 3

	b := s.GetOrCreate("sess-1", cfg)
	if b.EmptyRetryCount != 3 {
		t.Errorf("expected reused state, got EmptyRetryCount=%d", b.EmptyRetryCount)
	}
}

func TestStore_ResetDropsState(t *testing.T) {
	s := NewStore(time.Hour, nil)
	defer s.Stop()

	cfg := DefaultLoopDetectionConfiguration()
	a := s.GetOrCreate("sess-2", cfg)
	a.EmptyRetryCount = 5
	s.Reset("sess-2")

	b := s.GetOrCreate("sess-2", cfg)
	if b.EmptyRetryCount != 0 {
		t.Errorf("expected fresh state after reset, got EmptyRetryCount=%d", b.EmptyRetryCount)
	}
}

func TestLoopDetectionConfiguration_WithBuildersAreCopyOnWrite(t *testing.T) {
	base := DefaultLoopDetectionConfiguration()
	modified := base.WithToolLoopMaxRepeats(8)

	if base.ToolLoopMaxRepeats != nil {
		t.Fatal("expected base config untouched by With* builder")
	}
	if modified.ToolLoopMaxRepeats == nil || *modified.ToolLoopMaxRepeats != 8 {
		t.Fatalf("expected modified config to carry the new value, got %+v", modified.ToolLoopMaxRepeats)
	}
}

func TestLoopDetectionConfiguration_ToolCallLoopConfigFallsBackToDefaults(t *testing.T) {
	cfg := DefaultLoopDetectionConfiguration()
	tc := cfg.ToolCallLoopConfig()
	if tc.MaxRepeats != 4 || tc.TTLSeconds != 120 {
		t.Errorf("expected default toolcall values, got %+v", tc)
	}
}
