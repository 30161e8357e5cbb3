package session

import (
	"errors"
	"time"
)

// State represents session lifecycle state.
type State string

const (
	StateOpen      State = "OPEN"
	StateResolving State = "RESOLVING"
	StateFinalized State = "FINALIZED"
)

// Outcome represents the result of a voting session.
type Outcome string

const (
	OutcomeUnset  Outcome = "UNSET"
	OutcomePassed Outcome = "PASSED"
	OutcomeFailed Outcome = "FAILED"
)

// Reason indicates what triggered resolution.
type Reason string

const (
	ReasonTimerExpired Reason = "TIMER_EXPIRED"
	ReasonOverride     Reason = "OVERRIDE"
)

var (
	ErrDuplicateSession  = errors.New("session already exists")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionNotOpen    = errors.New("session is not open")
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// Policy is the tally policy snapshot taken when a session opens.
type Policy struct {
	ApproveThreshold float64 `json:"approveThreshold"`
	MinParticipants  int     `json:"minParticipants"`
	CountAbstain     bool    `json:"countAbstain"`
	TiesPass         bool    `json:"tiesPass"`
	IgnoreWeights    bool    `json:"ignoreWeights"`
	RetainBallots    bool    `json:"retainBallots"`
	PassCondition    string  `json:"passCondition,omitempty"`
}

// Resolution records why a session left the OPEN state. Forced is nil when
// the outcome was computed from the tally (timer expiry or a privileged
// early close without a decision).
type Resolution struct {
	Reason Reason   `json:"reason"`
	Actor  string   `json:"actor,omitempty"`
	Forced *Outcome `json:"forced,omitempty"`
}

// Session represents one open-to-closed voting period for a role request.
type Session struct {
	ID               string      `json:"sessionId"`
	Requester        string      `json:"requester"`
	Role             string      `json:"role"`
	State            State       `json:"state"`
	Outcome          Outcome     `json:"outcome"`
	Policy           Policy      `json:"policy"`
	Resolution       *Resolution `json:"resolution,omitempty"`
	ConsequenceError *string     `json:"consequenceError,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	Deadline         time.Time   `json:"deadline"`
	ResolvedAt       *time.Time  `json:"resolvedAt,omitempty"`
	FinalizedAt      *time.Time  `json:"finalizedAt,omitempty"`
}

// New creates an open session with its deadline set from the vote duration.
func New(id, requester, role string, policy Policy, duration time.Duration, now time.Time) (*Session, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}
	if requester == "" {
		return nil, errors.New("requester is required")
	}
	if role == "" {
		return nil, errors.New("role is required")
	}
	if duration <= 0 {
		return nil, errors.New("duration must be positive")
	}
	return &Session{
		ID:        id,
		Requester: requester,
		Role:      role,
		State:     StateOpen,
		Outcome:   OutcomeUnset,
		Policy:    policy,
		CreatedAt: now.UTC(),
		Deadline:  now.UTC().Add(duration),
	}, nil
}

// CanTransitionTo validates session state transition.
func (s *Session) CanTransitionTo(target State) bool {
	transitions := map[State][]State{
		StateOpen:      {StateResolving},
		StateResolving: {StateFinalized},
		StateFinalized: {},
	}
	for _, t := range transitions[s.State] {
		if t == target {
			return true
		}
	}
	return false
}

// Claim moves the session out of OPEN, recording the decided outcome and the
// resolution reason. It is the single step that wins the timer/override race;
// callers must serialize it per session.
func (s *Session) Claim(outcome Outcome, res Resolution, now time.Time) error {
	if s.State != StateOpen {
		return ErrSessionNotOpen
	}
	if !s.CanTransitionTo(StateResolving) {
		return ErrInvalidTransition
	}
	ts := now.UTC()
	s.State = StateResolving
	s.Outcome = outcome
	s.Resolution = &res
	s.ResolvedAt = &ts
	return nil
}

// Finalize marks a resolving session finalized.
func (s *Session) Finalize(now time.Time) error {
	if !s.CanTransitionTo(StateFinalized) {
		return ErrInvalidTransition
	}
	ts := now.UTC()
	s.State = StateFinalized
	s.FinalizedAt = &ts
	return nil
}

// Expired reports whether the deadline has passed.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.Deadline)
}
