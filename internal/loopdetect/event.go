package loopdetect

// Event is LoopDetectionEvent from spec.md §3: emitted once a strategy
// fires, then detection is silenced for the remainder of the stream.
type Event struct {
	Pattern          string
	RepetitionCount  int
	TotalLength      int
	Confidence       float64
	BufferTail       string
	Strategy         string // "short" or "long", used for metrics labeling
	TimestampUnixSec int64
}
