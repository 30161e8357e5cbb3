package vote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	appAudit "github.com/rolewarden/rolewarden/internal/application/audit"
	domainAudit "github.com/rolewarden/rolewarden/internal/domain/audit"
	"github.com/rolewarden/rolewarden/internal/domain/ballot"
	"github.com/rolewarden/rolewarden/internal/domain/session"
	"github.com/rolewarden/rolewarden/internal/domain/tally"
)

var (
	// ErrNotPrivileged is returned when the override actor fails the
	// external privilege check.
	ErrNotPrivileged = errors.New("actor is not privileged")
	// ErrSelfResolve is returned when a requester tries to resolve their
	// own session.
	ErrSelfResolve = errors.New("requester cannot resolve their own session")
	// ErrStoreUnavailable wraps persistence failures; the operation aborts
	// without partial in-memory mutation.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrConsequenceFailed records a failed consequence callback. It never
	// reverts a finalized outcome.
	ErrConsequenceFailed = errors.New("consequence callback failed")
)

// Scheduler tracks one deadline per open session.
type Scheduler interface {
	Schedule(sessionID string, fireAt time.Time, fn func(sessionID string))
	Cancel(sessionID string)
	Shutdown()
}

// Snapshot is what renderers receive after every state-affecting event.
// Deliveries are at-least-once; renderers must tolerate duplicates.
type Snapshot struct {
	Session *session.Session `json:"session"`
	Ballots []*ballot.Ballot `json:"ballots"`
	Counts  tally.Counts     `json:"counts"`
}

// Renderer turns a session snapshot into user-visible content.
type Renderer interface {
	Render(ctx context.Context, snap Snapshot)
}

// Consequence applies the requested outcome once a session passes. The
// implementation must be idempotent keyed on the session ID; the
// coordinator may retry after a crash between finalization and apply.
type Consequence interface {
	Apply(ctx context.Context, s *session.Session) error
}

// PrivilegeChecker is the external group-membership predicate.
type PrivilegeChecker interface {
	IsPrivileged(ctx context.Context, actor string) (bool, error)
}

// BallotAck acknowledges a cast.
type BallotAck struct {
	SessionID string        `json:"sessionId"`
	Voter     string        `json:"voter"`
	Choice    ballot.Choice `json:"choice"`
	Weight    int           `json:"weight"`
	Replaced  bool          `json:"replaced"`
	Counts    tally.Counts  `json:"counts"`
}

// Service coordinates the session lifecycle: open, ballots, overrides,
// timer expiry, finalization and restart recovery.
type Service struct {
	sessionRepo session.Repository
	ballotRepo  ballot.Repository
	sched       Scheduler
	renderer    Renderer
	consequence Consequence
	privilege   PrivilegeChecker
	auditSvc    *appAudit.Service
	logger      zerolog.Logger

	locks *sessionLocks

	mu      sync.Mutex
	ledgers map[string]*ballot.Ledger
}

// NewService creates the session coordinator.
func NewService(
	sessionRepo session.Repository,
	ballotRepo ballot.Repository,
	sched Scheduler,
	renderer Renderer,
	consequence Consequence,
	privilege PrivilegeChecker,
	auditSvc *appAudit.Service,
	logger zerolog.Logger,
) *Service {
	return &Service{
		sessionRepo: sessionRepo,
		ballotRepo:  ballotRepo,
		sched:       sched,
		renderer:    renderer,
		consequence: consequence,
		privilege:   privilege,
		auditSvc:    auditSvc,
		logger:      logger.With().Str("service", "vote").Logger(),
		locks:       newSessionLocks(),
		ledgers:     make(map[string]*ballot.Ledger),
	}
}

// Open creates a new voting session, persists it, schedules its deadline
// and triggers the initial render.
func (s *Service) Open(ctx context.Context, id, requester, role string, policy session.Policy, duration time.Duration) (*session.Session, error) {
	policy = normalizePolicy(policy)
	if err := tally.ValidateCondition(policy.PassCondition); err != nil {
		return nil, fmt.Errorf("invalid pass condition: %w", err)
	}

	lock := s.locks.lock(id)
	defer lock.Unlock()

	existing, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if existing != nil {
		return nil, session.ErrDuplicateSession
	}

	sess, err := session.New(id, requester, role, policy, duration, time.Now())
	if err != nil {
		return nil, err
	}
	if err := s.sessionRepo.Create(ctx, sess); err != nil {
		return nil, storeErr(err)
	}

	s.mu.Lock()
	s.ledgers[id] = ballot.NewLedger()
	s.mu.Unlock()

	s.scheduleDeadline(sess)

	s.auditSvc.Log(ctx, &domainAudit.AuditEntry{
		EntityType: domainAudit.EntityTypeSession,
		EntityID:   sess.ID,
		Action:     domainAudit.ActionOpen,
		Actor:      requester,
		Reason:     "role request opened: " + role,
	})
	s.render(ctx, sess, nil)

	s.logger.Info().
		Str("session_id", sess.ID).
		Str("requester", requester).
		Str("role", role).
		Time("deadline", sess.Deadline).
		Msg("session opened")
	return sess, nil
}

// CastBallot upserts the voter's ballot. A voter changing their vote
// overwrites in place; ledger cardinality never grows for a recast.
func (s *Service) CastBallot(ctx context.Context, id, voter string, choice ballot.Choice, weight int) (*BallotAck, error) {
	if voter == "" {
		return nil, errors.New("voter is required")
	}
	if _, err := ballot.ParseChoice(string(choice)); err != nil {
		return nil, err
	}
	if weight < 1 {
		weight = 1
	}

	lock := s.locks.lock(id)
	defer lock.Unlock()

	sess, err := s.openSession(ctx, id)
	if err != nil {
		return nil, err
	}
	ledger, err := s.ledgerLocked(ctx, id)
	if err != nil {
		return nil, err
	}

	b := &ballot.Ballot{
		SessionID: id,
		Voter:     voter,
		Choice:    choice,
		Weight:    weight,
		CastAt:    time.Now().UTC(),
	}
	if err := s.ballotRepo.Upsert(ctx, b); err != nil {
		return nil, storeErr(err)
	}
	replaced := ledger.Upsert(b)

	snapshot := ledger.Snapshot()
	counts := tally.Count(snapshot, sess.Policy)

	s.auditSvc.Log(ctx, &domainAudit.AuditEntry{
		EntityType: domainAudit.EntityTypeBallot,
		EntityID:   sess.ID,
		Action:     domainAudit.ActionCast,
		Actor:      voter,
		Reason:     string(choice),
	})
	s.render(ctx, sess, snapshot)

	return &BallotAck{
		SessionID: id,
		Voter:     voter,
		Choice:    choice,
		Weight:    weight,
		Replaced:  replaced,
		Counts:    counts,
	}, nil
}

// RetractBallot removes the voter's ballot. A missing ballot is not an
// error.
func (s *Service) RetractBallot(ctx context.Context, id, voter string) error {
	lock := s.locks.lock(id)
	defer lock.Unlock()

	sess, err := s.openSession(ctx, id)
	if err != nil {
		return err
	}
	ledger, err := s.ledgerLocked(ctx, id)
	if err != nil {
		return err
	}
	if ledger.Get(voter) == nil {
		return nil
	}
	if err := s.ballotRepo.Delete(ctx, id, voter); err != nil {
		return storeErr(err)
	}
	ledger.Remove(voter)

	s.auditSvc.Log(ctx, &domainAudit.AuditEntry{
		EntityType: domainAudit.EntityTypeBallot,
		EntityID:   sess.ID,
		Action:     domainAudit.ActionRetract,
		Actor:      voter,
	})
	s.render(ctx, sess, ledger.Snapshot())
	return nil
}

// OverrideResolve forces resolution with the actor's chosen outcome,
// bypassing the tally. The privilege predicate is consulted before any
// state changes; losers of the timer race observe ErrSessionNotOpen.
func (s *Service) OverrideResolve(ctx context.Context, id, actor string, forced session.Outcome) (*session.Session, error) {
	if forced != session.OutcomePassed && forced != session.OutcomeFailed {
		return nil, fmt.Errorf("invalid forced outcome: %s", forced)
	}
	return s.privilegedResolve(ctx, id, actor, &forced)
}

// CloseEarly ends the voting period ahead of the deadline but resolves via
// the normal tally instead of a forced outcome.
func (s *Service) CloseEarly(ctx context.Context, id, actor string) (*session.Session, error) {
	return s.privilegedResolve(ctx, id, actor, nil)
}

func (s *Service) privilegedResolve(ctx context.Context, id, actor string, forced *session.Outcome) (*session.Session, error) {
	lock := s.locks.lock(id)
	defer lock.Unlock()

	sess, err := s.openSession(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.privilege.IsPrivileged(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("privilege check: %w", err)
	}
	if !ok {
		return nil, ErrNotPrivileged
	}
	if actor == sess.Requester {
		return nil, ErrSelfResolve
	}

	ledger, err := s.ledgerLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	snapshot := ledger.Snapshot()

	outcome := session.OutcomeFailed
	if forced != nil {
		outcome = *forced
	} else {
		outcome = tally.Compute(snapshot, sess.Policy)
	}
	res := session.Resolution{
		Reason: session.ReasonOverride,
		Actor:  actor,
		Forced: forced,
	}
	if err := s.resolveLocked(ctx, sess, snapshot, outcome, res); err != nil {
		return nil, err
	}
	return sess, nil
}

// ResolveByTimer is invoked by the scheduler at deadline expiry. If the
// session already left OPEN (an override won the race) this is a no-op.
func (s *Service) ResolveByTimer(ctx context.Context, id string) error {
	lock := s.locks.lock(id)
	defer lock.Unlock()

	sess, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		return storeErr(err)
	}
	if sess == nil || sess.State != session.StateOpen {
		return nil
	}

	ledger, err := s.ledgerLocked(ctx, id)
	if err != nil {
		return err
	}
	snapshot := ledger.Snapshot()
	outcome := tally.Compute(snapshot, sess.Policy)
	res := session.Resolution{Reason: session.ReasonTimerExpired}
	return s.resolveLocked(ctx, sess, snapshot, outcome, res)
}

// Get returns a session with its current ballot snapshot and counts.
func (s *Service) Get(ctx context.Context, id string) (*Snapshot, error) {
	lock := s.locks.lock(id)
	defer lock.Unlock()

	sess, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if sess == nil {
		return nil, session.ErrSessionNotFound
	}
	ballots, err := s.ballotRepo.ListBySession(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return &Snapshot{
		Session: sess,
		Ballots: ballots,
		Counts:  tally.Count(ballots, sess.Policy),
	}, nil
}

// List returns sessions, optionally filtered by state.
func (s *Service) List(ctx context.Context, state *session.State) ([]*session.Session, error) {
	var (
		sessions []*session.Session
		err      error
	)
	if state != nil {
		sessions, err = s.sessionRepo.ListByState(ctx, *state)
	} else {
		sessions, err = s.sessionRepo.ListAll(ctx)
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return sessions, nil
}

// Recover rebuilds timers and ledgers from the store after a restart.
// Open sessions whose deadline already passed resolve immediately;
// sessions that crashed mid-resolution are driven to finalization using
// their persisted outcome.
func (s *Service) Recover(ctx context.Context) error {
	sessions, err := s.sessionRepo.ListAll(ctx)
	if err != nil {
		return storeErr(err)
	}
	for _, sess := range sessions {
		switch sess.State {
		case session.StateOpen:
			s.scheduleDeadline(sess)
			s.logger.Info().
				Str("session_id", sess.ID).
				Time("deadline", sess.Deadline).
				Msg("open session recovered")
		case session.StateResolving:
			if err := s.recoverResolving(ctx, sess); err != nil {
				s.logger.Error().Err(err).
					Str("session_id", sess.ID).
					Msg("failed to recover resolving session")
			}
		}
	}
	return nil
}

// ReconcileConsequences retries the consequence callback for finalized
// sessions whose apply previously failed. Safe because the consequence
// layer is idempotent keyed on session ID.
func (s *Service) ReconcileConsequences(ctx context.Context) (int, error) {
	sessions, err := s.sessionRepo.ListByState(ctx, session.StateFinalized)
	if err != nil {
		return 0, storeErr(err)
	}
	retried := 0
	for _, sess := range sessions {
		if sess.ConsequenceError == nil || sess.Outcome != session.OutcomePassed {
			continue
		}
		lock := s.locks.lock(sess.ID)
		if err := s.consequence.Apply(ctx, sess); err != nil {
			msg := err.Error()
			sess.ConsequenceError = &msg
			if uerr := s.sessionRepo.Update(ctx, sess); uerr != nil {
				s.logger.Warn().Err(uerr).Str("session_id", sess.ID).Msg("failed to record consequence error")
			}
			lock.Unlock()
			continue
		}
		sess.ConsequenceError = nil
		if err := s.sessionRepo.Update(ctx, sess); err != nil {
			lock.Unlock()
			return retried, storeErr(err)
		}
		retried++
		lock.Unlock()
	}
	return retried, nil
}

// Shutdown cancels all pending deadlines.
func (s *Service) Shutdown() {
	s.sched.Shutdown()
}

func (s *Service) recoverResolving(ctx context.Context, sess *session.Session) error {
	lock := s.locks.lock(sess.ID)
	defer lock.Unlock()

	ledger, err := s.ledgerLocked(ctx, sess.ID)
	if err != nil {
		return err
	}
	return s.finalizeLocked(ctx, sess, ledger.Snapshot())
}

// resolveLocked performs the atomic resolution claim and runs to
// finalization. The caller holds the session lock; once claimed the
// resolution is never abandoned with partial state.
func (s *Service) resolveLocked(ctx context.Context, sess *session.Session, snapshot []*ballot.Ballot, outcome session.Outcome, res session.Resolution) error {
	if err := sess.Claim(outcome, res, time.Now()); err != nil {
		return err
	}
	if err := s.sessionRepo.Update(ctx, sess); err != nil {
		return storeErr(err)
	}
	// Cancel only after the claim is durable: a failed update must leave
	// the open session with its deadline intact. A timer firing in the
	// window sees RESOLVING and no-ops.
	s.sched.Cancel(sess.ID)

	actor := res.Actor
	if actor == "" {
		actor = "system"
	}
	action := domainAudit.ActionResolve
	if res.Reason == session.ReasonOverride {
		action = domainAudit.ActionOverride
	}
	s.auditSvc.Log(ctx, &domainAudit.AuditEntry{
		EntityType: domainAudit.EntityTypeSession,
		EntityID:   sess.ID,
		Action:     action,
		Actor:      actor,
		Reason:     string(outcome),
	})

	return s.finalizeLocked(ctx, sess, snapshot)
}

// finalizeLocked applies the consequence, persists the terminal state and
// renders the final snapshot. It is re-entrant for crash recovery: the
// consequence layer deduplicates on session ID.
func (s *Service) finalizeLocked(ctx context.Context, sess *session.Session, snapshot []*ballot.Ballot) error {
	if sess.Outcome == session.OutcomePassed {
		if err := s.consequence.Apply(ctx, sess); err != nil {
			msg := err.Error()
			sess.ConsequenceError = &msg
			s.logger.Warn().Err(err).
				Str("session_id", sess.ID).
				Str("role", sess.Role).
				Msg("consequence callback failed; outcome stands")
			s.auditSvc.Log(ctx, &domainAudit.AuditEntry{
				EntityType: domainAudit.EntityTypeGrant,
				EntityID:   sess.ID,
				Action:     domainAudit.ActionGrant,
				Actor:      "system",
				Reason:     fmt.Sprintf("%v: %v", ErrConsequenceFailed, err),
			})
		} else {
			sess.ConsequenceError = nil
			s.auditSvc.Log(ctx, &domainAudit.AuditEntry{
				EntityType: domainAudit.EntityTypeGrant,
				EntityID:   sess.ID,
				Action:     domainAudit.ActionGrant,
				Actor:      "system",
				Reason:     sess.Role + " granted to " + sess.Requester,
			})
		}
	}

	if err := sess.Finalize(time.Now()); err != nil {
		return err
	}
	if err := s.sessionRepo.Update(ctx, sess); err != nil {
		return storeErr(err)
	}

	if !sess.Policy.RetainBallots {
		if err := s.ballotRepo.DeleteBySession(ctx, sess.ID); err != nil {
			s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to purge ballots")
		}
	}
	s.mu.Lock()
	delete(s.ledgers, sess.ID)
	s.mu.Unlock()
	s.locks.forget(sess.ID)

	s.auditSvc.Log(ctx, &domainAudit.AuditEntry{
		EntityType: domainAudit.EntityTypeSession,
		EntityID:   sess.ID,
		Action:     domainAudit.ActionFinalize,
		Actor:      "system",
		Reason:     string(sess.Outcome),
	})
	s.render(ctx, sess, snapshot)

	s.logger.Info().
		Str("session_id", sess.ID).
		Str("outcome", string(sess.Outcome)).
		Str("reason", string(sess.Resolution.Reason)).
		Msg("session finalized")
	return nil
}

// openSession loads a session and validates it is accepting events.
func (s *Service) openSession(ctx context.Context, id string) (*session.Session, error) {
	sess, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if sess == nil {
		return nil, session.ErrSessionNotFound
	}
	if sess.State != session.StateOpen {
		return nil, session.ErrSessionNotOpen
	}
	return sess, nil
}

// ledgerLocked returns the session's in-memory ledger, rebuilding it from
// the ballot store if this process has not seen the session yet.
func (s *Service) ledgerLocked(ctx context.Context, id string) (*ballot.Ledger, error) {
	s.mu.Lock()
	ledger, ok := s.ledgers[id]
	s.mu.Unlock()
	if ok {
		return ledger, nil
	}

	ballots, err := s.ballotRepo.ListBySession(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	ledger = ballot.NewLedger()
	for _, b := range ballots {
		ledger.Upsert(b)
	}
	s.mu.Lock()
	s.ledgers[id] = ledger
	s.mu.Unlock()
	return ledger, nil
}

func (s *Service) scheduleDeadline(sess *session.Session) {
	s.sched.Schedule(sess.ID, sess.Deadline, func(id string) {
		if err := s.ResolveByTimer(context.Background(), id); err != nil {
			s.logger.Error().Err(err).Str("session_id", id).Msg("timer resolution failed")
		}
	})
}

func (s *Service) render(ctx context.Context, sess *session.Session, snapshot []*ballot.Ballot) {
	s.renderer.Render(ctx, Snapshot{
		Session: sess,
		Ballots: snapshot,
		Counts:  tally.Count(snapshot, sess.Policy),
	})
}

func normalizePolicy(p session.Policy) session.Policy {
	if p.ApproveThreshold <= 0 || p.ApproveThreshold > 1 {
		p.ApproveThreshold = 0.5
	}
	if p.MinParticipants < 0 {
		p.MinParticipants = 0
	}
	return p
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
