package loopdetect

// Config holds the tunables for both strategies of the hybrid detector.
// Defaults match spec.md §4.2 and the original gemini-cli/rolling-hash
// implementation it was ported from (original_source/src/loop_detection).
type Config struct {
	Enabled bool

	// Short-pattern (chunk-hash) strategy.
	ShortChunkSize     int // K: size of each hashed window, default 50
	ShortThreshold     int // T: repetitions required to declare a loop, default 10
	ShortMaxHistoryLen int // bound on retained content history, default 1000

	// Long-pattern (rolling-hash) strategy.
	LongMinPatternLength int // default 60
	LongMaxPatternLength int // default 500
	LongMinRepetitions   int // default 3
	LongMaxHistory       int // default 2000
}

// DefaultConfig returns the spec.md §4.2 defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		ShortChunkSize:       50,
		ShortThreshold:       10,
		ShortMaxHistoryLen:   1000,
		LongMinPatternLength: 60,
		LongMaxPatternLength: 500,
		LongMinRepetitions:   3,
		LongMaxHistory:       2000,
	}
}
