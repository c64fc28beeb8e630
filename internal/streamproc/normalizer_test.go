package streamproc

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relaycore/gateway/internal/chunk"
	"github.com/relaycore/gateway/internal/loopdetect"
	"github.com/relaycore/gateway/internal/middleware"
	"github.com/relaycore/gateway/internal/session"
)

// spec.md §8 scenario 9 ("Parallel stream isolation"): two concurrent
// streams feeding tool-call repair must each see only their own fragment.
// ToolCallRepairProcessor is stateless, but ContentAccumulationProcessor
// keys its buffer on stream_id, so running both through one shared
// Normalizer is what actually exercises isolation: a bug that keyed state
// globally instead of per-stream would leak content between the two runs
// below.
func TestNormalizer_ParallelStreamIsolation(t *testing.T) {
	n := New(
		NewToolCallRepairProcessor(),
		NewContentAccumulationProcessor(0, nil),
	)

	runStream := func(wg *sync.WaitGroup, content string, result *string) {
		defer wg.Done()
		in := make(chan any, 2)
		in <- content
		in <- chunk.Chunk{Done: true}
		close(in)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		out := n.Run(ctx, in)
		for c := range out {
			if c.Content != "" {
				*result = c.Content
			}
		}
	}

	var wg sync.WaitGroup
	var resultA, resultB string
	wg.Add(2)
	go runStream(&wg, `TOOL CALL: alpha {"x":1}`, &resultA)
	go runStream(&wg, `TOOL CALL: bravo {"y":2}`, &resultB)
	wg.Wait()

	if !strings.Contains(resultA, "alpha") || strings.Contains(resultA, "bravo") {
		t.Errorf("stream A leaked cross-stream content: %q", resultA)
	}
	if !strings.Contains(resultB, "bravo") || strings.Contains(resultB, "alpha") {
		t.Errorf("stream B leaked cross-stream content: %q", resultB)
	}
}

// spec.md §8 scenario 4 ("Loop-before-tool-call-repair order"): loop
// detection firing mid-stream must cancel before any later tool-call text
// is ever processed. The default chain runs tool-call repair before loop
// detection, but since the loop-triggering text and the tool-call text
// arrive as separate upstream chunks, the cancellation — once emitted —
// stops the Normalizer from ever pulling the tool-call chunk off the
// input channel.
func TestNormalizer_LoopDetectionCancelsBeforeLaterToolCall(t *testing.T) {
	cfg := loopdetect.Config{
		Enabled:              true,
		ShortChunkSize:       5,
		ShortThreshold:       3,
		ShortMaxHistoryLen:   1000,
		LongMinPatternLength: 1_000_000,
		LongMaxPatternLength: 2_000_000,
		LongMinRepetitions:   1000,
		LongMaxHistory:       1000,
	}

	n := New(
		NewToolCallRepairProcessor(),
		NewLoopDetectionProcessor(cfg, func() int64 { return 1000 }),
	)

	in := make(chan any, 3)
	in <- "Prelude "
	in <- "LOOP!LOOP!LOOP!LOOP!LOOP!LOOP!"
	in <- `and TOOL CALL: myfunc {"x":1}`
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out := n.Run(ctx, in)

	sawCancellation := false
	sawToolCall := false
	for c := range out {
		if c.IsCancellation {
			sawCancellation = true
		}
		if len(c.Metadata.ToolCalls) > 0 {
			sawToolCall = true
		}
	}

	if !sawCancellation {
		t.Fatal("expected a cancellation chunk")
	}
	if sawToolCall {
		t.Error("tool call text was processed after the loop-detection cancellation; stream should have stopped")
	}
}

// spec.md §5/§4.7: a non-terminal chunk whose chain output is empty and
// not done is short-circuited and never reaches the output channel.
func TestNormalizer_EmptyNonTerminalChunkIsSuppressed(t *testing.T) {
	n := New(NewContentAccumulationProcessor(0, nil))

	in := make(chan any, 2)
	in <- "hello "
	in <- "world"
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out := n.Run(ctx, in)

	count := 0
	for range out {
		count++
	}
	// ContentAccumulationProcessor suppresses every non-terminal chunk and
	// nothing here ever marks Done, so no chunk should reach the consumer.
	if count != 0 {
		t.Errorf("expected 0 emitted chunks (no terminal chunk was sent), got %d", count)
	}
}

// spec.md §4.8: a middleware chain error converts to one terminal
// cancellation chunk with Metadata.Extra["error"]=true rather than a
// panic or an error return from Run.
func TestNormalizer_ChainErrorBecomesCancellationChunk(t *testing.T) {
	manager := middleware.NewManager([]middleware.Middleware{&alwaysBlockMiddleware{}})

	n := New(NewMiddlewareApplicationProcessor(manager, session.LoopDetectionConfiguration{}))

	in := make(chan any, 1)
	in <- "some content"
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out := n.Run(ctx, in)

	var got []chunkResult
	for c := range out {
		got = append(got, chunkResult{isCancellation: c.IsCancellation, extra: c.Metadata.Extra})
	}

	if len(got) != 1 {
		t.Fatalf("expected exactly one emitted chunk, got %d", len(got))
	}
	if !got[0].isCancellation {
		t.Fatal("expected a cancellation chunk")
	}
	if errFlag, _ := got[0].extra["error"].(bool); !errFlag {
		t.Errorf("expected Metadata.Extra[error]=true, got %v", got[0].extra)
	}
}

type chunkResult struct {
	isCancellation bool
	extra          map[string]any
}

type alwaysBlockMiddleware struct{}

func (m *alwaysBlockMiddleware) Priority() int { return 1 }

func (m *alwaysBlockMiddleware) Process(_ context.Context, resp middleware.ProcessedResponse, _ middleware.RequestContext) (middleware.ProcessedResponse, error) {
	return resp, &middleware.BlockError{Kind: "test_block", Reason: "blocked for test"}
}
