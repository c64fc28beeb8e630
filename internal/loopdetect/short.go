package loopdetect

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// shortDetector is the Go port of original_source/src/loop_detection's
// GeminiCliLoopDetector: a sliding window over fixed-size content chunks,
// hashed for cheap equality, that fires once the same chunk recurs enough
// times close together. Unlike the Python original (which hashes with a
// truncated SHA256 hex digest), this uses xxhash.Sum64 per SPEC_FULL.md's
// domain-stack wiring — a 64-bit hash is plenty for equality-only lookups
// and is an order of magnitude cheaper per chunk.
type shortDetector struct {
	cfg Config

	buffer      strings.Builder
	inCodeBlock bool

	// chunkHashes[i] is the hash of content[i*ChunkSize:(i+1)*ChunkSize],
	// aligned with chunkStarts[i] giving that window's start offset in the
	// logical (unbounded) stream, used to compute average spacing.
	chunkHashes []uint64
	chunkStarts []int
	totalConsumed int
}

func newShortDetector(cfg Config) *shortDetector {
	return &shortDetector{cfg: cfg}
}

// reset clears all short-pattern state. Callers pass resetCodeBlock=false
// for markdown-structure resets (heading/blockquote/list/table), which
// clear the sliding window but leave an open code fence open, and true for
// divider resets, which also clear in_code_block. A fence flips
// in_code_block itself and then resets with false.
func (d *shortDetector) reset(resetCodeBlock bool) {
	d.buffer.Reset()
	d.chunkHashes = d.chunkHashes[:0]
	d.chunkStarts = d.chunkStarts[:0]
	if resetCodeBlock {
		d.inCodeBlock = false
	}
}

// process feeds one content chunk (as received from the model) into the
// detector and returns a fired Event, or nil if no loop is declared yet.
func (d *shortDetector) process(content string) *Event {
	if fences := countFences(content); fences%2 == 1 {
		d.inCodeBlock = !d.inCodeBlock
		d.reset(false)
		return nil
	}
	if isDivider(content) {
		d.reset(true)
		return nil
	}
	if shouldResetForMarkdownStructure(content) {
		d.reset(false)
		return nil
	}
	if d.inCodeBlock {
		// Code content legitimately repeats (indentation, boilerplate);
		// the short-pattern strategy is suspended until the fence closes.
		d.totalConsumed += len(content)
		return nil
	}

	d.buffer.WriteString(content)
	d.totalConsumed += len(content)

	return d.scanForLoop()
}

// scanForLoop hashes every complete ChunkSize-sized window currently sitting
// at the tail of the buffer and checks whether the most recent window's hash
// has occurred ShortThreshold times within a tight enough span to call it a
// loop (average_distance <= chunk_size*1.5, matching the original).
func (d *shortDetector) scanForLoop() *Event {
	buf := d.buffer.String()
	size := d.cfg.ShortChunkSize

	for len(buf) >= size {
		window := buf[:size]
		start := d.totalConsumed - len(buf)
		h := xxhash.Sum64String(window)

		d.chunkHashes = append(d.chunkHashes, h)
		d.chunkStarts = append(d.chunkStarts, start)
		// Keep only windows that lie entirely inside the last
		// ShortMaxHistoryLen characters of content.
		cutoff := start + size - d.cfg.ShortMaxHistoryLen
		overflow := 0
		for overflow < len(d.chunkStarts) && d.chunkStarts[overflow] < cutoff {
			overflow++
		}
		d.chunkHashes = d.chunkHashes[overflow:]
		d.chunkStarts = d.chunkStarts[overflow:]

		if ev := d.checkRepetition(window, h); ev != nil {
			return ev
		}

		buf = buf[size:]
	}

	remainder := buf
	d.buffer.Reset()
	d.buffer.WriteString(remainder)

	return nil
}

// checkRepetition looks for the last ShortThreshold occurrences of hash h
// and, if found, confirms they're densely packed before declaring a loop.
func (d *shortDetector) checkRepetition(window string, h uint64) *Event {
	threshold := d.cfg.ShortThreshold
	matches := make([]int, 0, threshold)
	for i := len(d.chunkHashes) - 1; i >= 0 && len(matches) < threshold; i-- {
		if d.chunkHashes[i] == h {
			matches = append(matches, d.chunkStarts[i])
		}
	}
	if len(matches) < threshold {
		return nil
	}

	// matches is newest-first; span is oldest to newest start offset.
	oldest, newest := matches[len(matches)-1], matches[0]
	span := newest - oldest
	avgDistance := float64(span) / float64(threshold-1)
	if avgDistance > float64(d.cfg.ShortChunkSize)*1.5 {
		return nil
	}

	return &Event{
		Pattern:         window,
		RepetitionCount: threshold,
		TotalLength:     threshold * d.cfg.ShortChunkSize,
		Confidence:      1.0,
		BufferTail:      window,
		Strategy:        "short",
	}
}
