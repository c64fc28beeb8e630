package jsonrepair

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/relaycore/gateway/internal/metrics"
)

// Config tunes one stream's Processor.
type Config struct {
	Enabled        bool
	BufferCapBytes int
	// Strict gates whether a repair/validate failure is propagated to the
	// caller (true) or silently flushed as raw text (false). Per
	// SPEC_FULL.md, Strict is the OR of expected_json, a declared JSON
	// content_type, and whether a schema was configured for this stream.
	Strict bool
}

// DefaultConfig matches the original processor's common instantiation: a
// generous 64KB soft cap, best-effort (non-strict) repair.
func DefaultConfig() Config {
	return Config{Enabled: true, BufferCapBytes: 64 * 1024}
}

// Processor is the Go port of
// original_source/src/core/services/streaming/json_repair_processor.py's
// JsonRepairProcessor: it watches a stream of text chunks for an embedded
// JSON object or array, buffers exactly that span by scanning braces and
// strings (never regex, so it's immune to partial-chunk boundaries), and
// repairs+emits it once balanced.
type Processor struct {
	cfg     Config
	service *Service
	log     *zap.Logger

	buffer      strings.Builder
	braceLevel  int
	inString    bool
	jsonStarted bool

	softCapLogged bool
}

// NewProcessor builds a Processor bound to one stream. service may be
// shared across streams (it's stateless); the Processor itself is not and
// must not be reused across streams.
func NewProcessor(cfg Config, service *Service, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{cfg: cfg, service: service, log: log}
}

// Process consumes one chunk of streamed text and returns whatever output
// should be forwarded downstream this round — usually the same text
// passed straight through, but a repaired JSON block once one closes, or
// empty while a block is still being buffered.
func (p *Processor) Process(content string, done bool) string {
	if !p.cfg.Enabled {
		return content
	}
	if content == "" && !done {
		return ""
	}

	var out strings.Builder
	i, n := 0, len(content)

	for i < n {
		if !p.jsonStarted {
			objPos := strings.IndexByte(content[i:], '{')
			arrPos := strings.IndexByte(content[i:], '[')
			start := -1
			switch {
			case objPos == -1 && arrPos == -1:
				out.WriteString(content[i:])
				i = n
				continue
			case objPos == -1:
				start = i + arrPos
			case arrPos == -1:
				start = i + objPos
			default:
				start = i + min(objPos, arrPos)
			}

			if start > i {
				out.WriteString(content[i:start])
			}
			p.jsonStarted = true
			p.buffer.Reset()
			p.buffer.WriteByte(content[start])
			p.braceLevel = 1
			p.inString = false
			i = start + 1
			continue
		}

		ch := content[i]
		buffered := p.buffer.String()
		if ch == '"' {
			if !strings.HasSuffix(buffered, `\`) {
				p.inString = !p.inString
			}
		} else if !p.inString {
			switch ch {
			case '{', '[':
				p.braceLevel++
			case '}', ']':
				p.braceLevel--
			}
		}
		p.buffer.WriteByte(ch)
		i++

		if p.jsonStarted && p.braceLevel == 0 && !p.inString {
			out.WriteString(p.flushBlock())
		} else if p.jsonStarted && p.buffer.Len() > p.cfg.BufferCapBytes && !p.softCapLogged {
			p.softCapLogged = true
			p.log.Warn("json repair buffer exceeded soft cap, continuing to buffer until completion",
				zap.Int("buffered_bytes", p.buffer.Len()), zap.Int("cap_bytes", p.cfg.BufferCapBytes))
		}
	}

	if done && p.jsonStarted && p.buffer.Len() > 0 {
		buf := p.buffer.String()
		if !p.inString && strings.HasSuffix(strings.TrimRight(buf, " \t\r\n"), ":") {
			buf += " null"
		}
		out.WriteString(p.flushRaw(buf))
	}

	return out.String()
}

// flushBlock repairs+validates the currently closed buffer and resets
// state for the next detection. It's only called once braceLevel has
// returned to zero outside a string.
func (p *Processor) flushBlock() string {
	result := p.flushRaw(p.buffer.String())
	p.jsonStarted = false
	p.buffer.Reset()
	p.braceLevel = 0
	p.inString = false
	p.softCapLogged = false
	return result
}

func (p *Processor) flushRaw(raw string) string {
	mode := "best_effort"
	if p.cfg.Strict {
		mode = "strict"
	}

	decoded, err := p.service.RepairAndValidate(raw)
	if err != nil {
		metrics.JSONRepairOutcomes.WithLabelValues(mode, "fail").Inc()
		p.log.Warn("json block detected but failed to repair, flushing raw buffer", zap.Error(err))
		return raw
	}

	metrics.JSONRepairOutcomes.WithLabelValues(mode, "success").Inc()
	b, err := json.Marshal(decoded)
	if err != nil {
		return raw
	}
	return string(b)
}
