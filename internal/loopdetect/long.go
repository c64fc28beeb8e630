package loopdetect

import "strings"

const (
	rkBase = 257
	rkMod  = 1_000_000_007
)

// rollingHash computes a Rabin-Karp polynomial hash of s. It's used as a
// cheap pre-filter before the exact string comparison in checkPatternLength
// below — a hash match that turns out to be a collision is rejected by that
// comparison, never trusted on its own.
func rollingHash(s string) uint64 {
	var h uint64
	for i := 0; i < len(s); i++ {
		h = (h*rkBase + uint64(s[i])) % rkMod
	}
	return h
}

// longDetector is the Go port of hybrid_detector.py's long-pattern strategy:
// it looks for a block of text (tens to hundreds of characters, e.g. a
// paragraph or code snippet) repeated back-to-back at the tail of the
// stream, trying the longest candidate pattern length first so a 200-char
// repeating block is reported as one long pattern rather than four
// overlapping 50-char ones.
type longDetector struct {
	cfg    Config
	buffer strings.Builder
}

func newLongDetector(cfg Config) *longDetector {
	return &longDetector{cfg: cfg}
}

func (d *longDetector) reset() {
	d.buffer.Reset()
}

func (d *longDetector) process(content string) *Event {
	d.buffer.WriteString(content)
	buf := d.buffer.String()

	if len(buf) > d.cfg.LongMaxHistory {
		buf = buf[len(buf)-d.cfg.LongMaxHistory:]
		d.buffer.Reset()
		d.buffer.WriteString(buf)
	}

	for length := d.cfg.LongMaxPatternLength; length >= d.cfg.LongMinPatternLength; length-- {
		if ev := d.checkPatternLength(buf, length); ev != nil {
			return ev
		}
	}
	return nil
}

// checkPatternLength walks backward from the end of buf in length-sized
// steps, counting consecutive repeats of the tail pattern, and declares a
// loop once LongMinRepetitions consecutive repeats are confirmed.
func (d *longDetector) checkPatternLength(buf string, length int) *Event {
	if length <= 0 || len(buf) < length*d.cfg.LongMinRepetitions {
		return nil
	}

	end := len(buf)
	tail := buf[end-length : end]
	tailHash := rollingHash(tail)

	reps := 1
	pos := end - length
	for {
		prevStart := pos - length
		if prevStart < 0 {
			break
		}
		candidate := buf[prevStart:pos]
		if rollingHash(candidate) != tailHash || candidate != tail {
			break
		}
		reps++
		pos = prevStart
	}

	if reps < d.cfg.LongMinRepetitions {
		return nil
	}

	// A tail that is itself a repetition of a unit no longer than the
	// short-pattern chunk size is a short pattern; the long strategy
	// leaves it to the short-pattern strategy.
	for p := 1; p <= d.cfg.ShortChunkSize && p < length; p++ {
		if tail[p:] == tail[:length-p] {
			return nil
		}
	}

	return &Event{
		Pattern:         tail,
		RepetitionCount: reps,
		TotalLength:     reps * length,
		Confidence:      1.0,
		BufferTail:      tail,
		Strategy:        "long",
	}
}
