package backend

import (
	"context"
	"net/http"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v4/pkg/cassette"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/recorder"

	"github.com/relaycore/gateway/internal/provider"
)

// newReplayClient opens a pre-recorded cassette in replay-only mode: the
// test never touches the network, matching the "HTTP cassette recording
// for the Google/Anthropic adapter tests" this package wires go-vcr for.
func newReplayClient(t *testing.T, path string) *http.Client {
	t.Helper()
	rec, err := recorder.New(path, recorder.WithMode(cassette.ModeReplayOnly))
	if err != nil {
		t.Fatalf("opening cassette %s: %v", path, err)
	}
	t.Cleanup(func() {
		if err := rec.Stop(); err != nil {
			t.Errorf("stopping recorder: %v", err)
		}
	})
	return &http.Client{Transport: rec}
}

func TestGoogleConnector_ChatCompletions(t *testing.T) {
	client := newReplayClient(t, "testdata/google_chat")
	conn := NewGoogleConnector("test-key", "https://generativelanguage.googleapis.com/v1beta", client, []string{"gemini-2.0-flash"})

	req := &provider.ChatRequest{
		Model:    "gemini-2.0-flash",
		Messages: []provider.Message{{Role: "user", Content: "Say hello in one word."}},
	}

	env, err := conn.ChatCompletions(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Content != "Hello!" {
		t.Errorf("content = %q, want %q", env.Content, "Hello!")
	}
	if env.Usage.TotalTokens != 8 {
		t.Errorf("total tokens = %d, want 8", env.Usage.TotalTokens)
	}
}
