package loopdetect

// Detector is the hybrid loop detector from spec.md §4.2 (C2): it runs the
// short-pattern (chunk-hash) and long-pattern (rolling-hash) strategies in
// parallel over the same content stream, grounded on
// original_source/src/loop_detection/hybrid_detector.py's HybridLoopDetector.
// Once either strategy fires, the Detector goes silent for the rest of the
// stream — a second Event is never emitted for one response.
type Detector struct {
	cfg   Config
	short *shortDetector
	long  *longDetector

	fired      bool
	lastEvent  *Event
	nowUnixSec func() int64
	totalBytes int
}

// New builds a Detector. nowUnixSec lets callers (and tests) control the
// clock used to stamp fired Events; pass nil to stamp nothing (0).
func New(cfg Config, nowUnixSec func() int64) *Detector {
	return &Detector{
		cfg:        cfg,
		short:      newShortDetector(cfg),
		long:       newLongDetector(cfg),
		nowUnixSec: nowUnixSec,
	}
}

// IsEnabled reports whether this detector should be fed at all; callers
// skip invoking ProcessChunk entirely when this is false, matching the
// original's is_enabled() fast path.
func (d *Detector) IsEnabled() bool {
	return d.cfg.Enabled
}

// ProcessChunk feeds one piece of streamed content into both strategies.
// Once a strategy fires, the Detector stays silent (returns nil) for every
// subsequent call until Reset.
func (d *Detector) ProcessChunk(content string) *Event {
	if !d.cfg.Enabled || d.fired || content == "" {
		return nil
	}
	d.totalBytes += len(content)

	if ev := d.short.process(content); ev != nil {
		return d.fire(ev)
	}
	if ev := d.long.process(content); ev != nil {
		return d.fire(ev)
	}
	return nil
}

func (d *Detector) fire(ev *Event) *Event {
	if d.nowUnixSec != nil {
		ev.TimestampUnixSec = d.nowUnixSec()
	}
	d.fired = true
	d.lastEvent = ev
	return ev
}

// Reset clears all strategy state and the fired latch, readying the
// Detector for a new stream on the same session.
func (d *Detector) Reset() {
	d.short.reset(true)
	d.long.reset()
	d.fired = false
	d.lastEvent = nil
	d.totalBytes = 0
}

// snapshot captures enough of the Detector's internal state to undo one
// ProcessChunk call.
type snapshot struct {
	shortBuffer   string
	shortHashes   []uint64
	shortStarts   []int
	inCodeBlock   bool
	shortConsumed int

	longBuffer string

	fired      bool
	lastEvent  *Event
	totalBytes int
}

func (d *Detector) snapshot() snapshot {
	return snapshot{
		shortBuffer:   d.short.buffer.String(),
		shortHashes:   append([]uint64(nil), d.short.chunkHashes...),
		shortStarts:   append([]int(nil), d.short.chunkStarts...),
		inCodeBlock:   d.short.inCodeBlock,
		shortConsumed: d.short.totalConsumed,
		longBuffer:    d.long.buffer.String(),
		fired:         d.fired,
		lastEvent:     d.lastEvent,
		totalBytes:    d.totalBytes,
	}
}

func (d *Detector) restore(s snapshot) {
	d.short.buffer.Reset()
	d.short.buffer.WriteString(s.shortBuffer)
	d.short.chunkHashes = s.shortHashes
	d.short.chunkStarts = s.shortStarts
	d.short.inCodeBlock = s.inCodeBlock
	d.short.totalConsumed = s.shortConsumed

	d.long.buffer.Reset()
	d.long.buffer.WriteString(s.longBuffer)

	d.fired = s.fired
	d.lastEvent = s.lastEvent
	d.totalBytes = s.totalBytes
}

// CheckForLoops speculatively feeds content through ProcessChunk and, if it
// does not trigger a loop, rolls the Detector's state back as though the
// call never happened. This lets a caller probe "would appending this
// content cause a loop?" — e.g. before committing a recovery-prompt
// injection — without permanently mutating detector state on a no-op probe.
// A real loop firing is never rolled back.
func (d *Detector) CheckForLoops(content string) *Event {
	pre := d.snapshot()
	ev := d.ProcessChunk(content)
	if ev == nil {
		d.restore(pre)
	}
	return ev
}

// GetHistory returns the most recently fired Event, or nil if the Detector
// has not fired on this stream.
func (d *Detector) GetHistory() *Event {
	return d.lastEvent
}

// Stats is introspection for metrics/diagnostics endpoints, not present in
// the original Python detector's public surface but called for by
// SPEC_FULL.md's supplemented-features section.
type Stats struct {
	Enabled        bool
	Fired          bool
	TotalBytesSeen int
	ShortWindows   int
	LongBufferLen  int
	InCodeBlock    bool
}

func (d *Detector) Stats() Stats {
	return Stats{
		Enabled:        d.cfg.Enabled,
		Fired:          d.fired,
		TotalBytesSeen: d.totalBytes,
		ShortWindows:   len(d.short.chunkHashes),
		LongBufferLen:  d.long.buffer.Len(),
		InCodeBlock:    d.short.inCodeBlock,
	}
}
