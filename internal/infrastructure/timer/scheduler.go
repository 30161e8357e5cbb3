package timer

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler tracks one cancellable deadline per session and fires a
// callback when it expires. It owns no session state; the coordinator
// decides what expiry means.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	logger zerolog.Logger
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		timers: make(map[string]*time.Timer),
		logger: logger.With().Str("component", "timer").Logger(),
	}
}

// Schedule registers a one-shot callback for the session. An existing
// deadline for the same session is replaced. Deadlines in the past fire
// immediately.
func (s *Scheduler) Schedule(sessionID string, fireAt time.Time, fn func(sessionID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
	}

	d := time.Until(fireAt)
	if d < 0 {
		d = 0
	}
	s.timers[sessionID] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, sessionID)
		s.mu.Unlock()
		fn(sessionID)
	})
	s.logger.Debug().Str("session_id", sessionID).Time("fire_at", fireAt).Msg("deadline scheduled")
}

// Cancel stops the session's pending deadline. Cancelling an absent or
// already-fired deadline is a no-op.
func (s *Scheduler) Cancel(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
		delete(s.timers, sessionID)
	}
}

// Pending reports whether the session has a scheduled deadline.
func (s *Scheduler) Pending(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[sessionID]
	return ok
}

// Shutdown cancels every pending deadline.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
