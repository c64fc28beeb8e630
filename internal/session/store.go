package session

import (
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/relaycore/gateway/internal/loopdetect"
	"github.com/relaycore/gateway/internal/toolcall"
)

// loopAccumulationThreshold is the buffered-path fallback's minimum
// accumulated length before LoopDetectionMiddleware bothers invoking the
// detector at all, matching spec.md §4.6's "accumulates per-session text
// and invokes C2 when accumulation exceeds 100 chars".
const loopAccumulationThreshold = 100

// State is everything the middleware chain keeps per session: the loop
// detector, the tool-call tracker, the session's loop-detection config,
// the empty-response retry counter, and the one-shot edit-precision
// nudge counter. Grounded on how the original spreads this same state
// across several middleware-local dicts keyed by session_id — here it's
// consolidated behind one store so a single TTL sweep can janitor all of
// it together.
type State struct {
	mu sync.Mutex

	Config               LoopDetectionConfiguration
	Detector             *loopdetect.Detector
	Tracker              *toolcall.Tracker
	EmptyRetryCount      int
	EditPrecisionPending int
	loopAccumulator      strings.Builder

	lastTouched time.Time
}

// Touch records activity so the janitor doesn't reap a session that's
// still in use.
func (s *State) Touch(now time.Time) {
	s.mu.Lock()
	s.lastTouched = now
	s.mu.Unlock()
}

func (s *State) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastTouched)
}

// IncrementEditPrecisionPending bumps the one-shot edit-precision nudge
// counter and returns the new value.
func (s *State) IncrementEditPrecisionPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EditPrecisionPending++
	return s.EditPrecisionPending
}

// TakeEditPrecisionPending reports whether an edit-precision nudge is
// pending and clears it — it's consumed exactly once by the next outbound
// request, matching the original's "one-shot" framing.
func (s *State) TakeEditPrecisionPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.EditPrecisionPending > 0
	s.EditPrecisionPending = 0
	return pending
}

// GetEmptyRetryCount returns (and RecordEmptyRetry increments) the
// empty-response retry counter for this session.
func (s *State) GetEmptyRetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EmptyRetryCount
}

func (s *State) RecordEmptyRetry() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EmptyRetryCount++
	return s.EmptyRetryCount
}

func (s *State) ResetEmptyRetryCount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EmptyRetryCount = 0
}

// AccumulateLoopText appends text to the buffered-path loop accumulator and
// reports whether the accumulated total has crossed loopAccumulationThreshold.
// When it has, the accumulator is drained and returned to the caller (the
// middleware feeds the drained text to the detector); otherwise it returns
// ("", false) and keeps buffering.
func (s *State) AccumulateLoopText(text string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loopAccumulator.WriteString(text)
	if s.loopAccumulator.Len() <= loopAccumulationThreshold {
		return "", false
	}
	combined := s.loopAccumulator.String()
	s.loopAccumulator.Reset()
	return combined, true
}

// Store is the session registry. One Store is shared by every request
// goroutine in the process.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*State

	idleTTL time.Duration
	log     *zap.Logger
	cron    *cron.Cron
	nowFn   func() time.Time
}

// NewStore builds a Store and starts its background janitor, which prunes
// sessions idle for longer than idleTTL once a minute via robfig/cron —
// the same scheduling library the pack's task-scheduling repo
// (haasonsaas-nexus) uses for periodic background work.
func NewStore(idleTTL time.Duration, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		sessions: make(map[string]*State),
		idleTTL:  idleTTL,
		log:      log,
		cron:     cron.New(),
		nowFn:    time.Now,
	}
	if _, err := s.cron.AddFunc("@every 1m", s.sweep); err != nil {
		log.Error("failed to schedule session janitor", zap.Error(err))
	} else {
		s.cron.Start()
	}
	return s
}

// Stop halts the background janitor. Call it on process shutdown.
func (s *Store) Stop() {
	s.cron.Stop()
}

// GetOrCreate returns the session's State, creating a fresh one (with a
// new Detector/Tracker built from cfg) if this is the first time
// sessionID has been seen.
func (s *Store) GetOrCreate(sessionID string, cfg LoopDetectionConfiguration) *State {
	s.mu.RLock()
	st, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		st.Touch(s.nowFn())
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[sessionID]; ok {
		st.Touch(s.nowFn())
		return st
	}

	loopCfg := loopdetect.DefaultConfig()
	loopCfg.Enabled = cfg.LoopDetectionEnabled

	st = &State{
		Config:      cfg,
		Detector:    loopdetect.New(loopCfg, func() int64 { return s.nowFn().Unix() }),
		Tracker:     toolcall.NewTracker(cfg.ToolCallLoopConfig(), 0),
		lastTouched: s.nowFn(),
	}
	s.sessions[sessionID] = st
	return st
}

// Reset drops a session's state entirely, matching the original's several
// reset_session(session_id) methods spread across middleware classes.
func (s *Store) Reset(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

func (s *Store) sweep() {
	now := s.nowFn()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.sessions {
		if st.idleSince(now) > s.idleTTL {
			delete(s.sessions, id)
			s.log.Debug("reaped idle session", zap.String("session_id", id))
		}
	}
}
