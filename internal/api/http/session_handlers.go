package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	appVote "github.com/rolewarden/rolewarden/internal/application/vote"
	"github.com/rolewarden/rolewarden/internal/domain/ballot"
	"github.com/rolewarden/rolewarden/internal/domain/session"
)

type openSessionRequest struct {
	SessionID       string   `json:"session_id"`
	Requester       string   `json:"requester"`
	Role            string   `json:"role"`
	DurationSeconds int      `json:"duration_seconds,omitempty"`
	Policy          *policy  `json:"policy,omitempty"`
}

type policy struct {
	ApproveThreshold *float64 `json:"approve_threshold,omitempty"`
	MinParticipants  *int     `json:"min_participants,omitempty"`
	CountAbstain     *bool    `json:"count_abstain,omitempty"`
	TiesPass         *bool    `json:"ties_pass,omitempty"`
	IgnoreWeights    *bool    `json:"ignore_weights,omitempty"`
	RetainBallots    *bool    `json:"retain_ballots,omitempty"`
	PassCondition    *string  `json:"pass_condition,omitempty"`
}

type castBallotRequest struct {
	Voter  string `json:"voter"`
	Choice string `json:"choice"`
	Weight int    `json:"weight,omitempty"`
}

type closeSessionRequest struct {
	Actor   string `json:"actor"`
	Outcome string `json:"outcome"`
}

func (s *Server) openSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}

	duration := s.defaultDuration
	if req.DurationSeconds > 0 {
		duration = time.Duration(req.DurationSeconds) * time.Second
	}
	pol := s.mergePolicy(req.Policy)

	sess, err := s.voteSvc.Open(r.Context(), req.SessionID, req.Requester, req.Role, pol, duration)
	if err != nil {
		respondVoteError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	var state *session.State
	if v := r.URL.Query().Get("state"); v != "" {
		st := session.State(v)
		state = &st
	}
	sessions, err := s.voteSvc.List(r.Context(), state)
	if err != nil {
		respondVoteError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.voteSvc.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondVoteError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) castBallot(w http.ResponseWriter, r *http.Request) {
	var req castBallotRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	ack, err := s.voteSvc.CastBallot(r.Context(), chi.URLParam(r, "sessionID"), req.Voter, ballot.Choice(req.Choice), req.Weight)
	if err != nil {
		respondVoteError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ack)
}

func (s *Server) retractBallot(w http.ResponseWriter, r *http.Request) {
	err := s.voteSvc.RetractBallot(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "voter"))
	if err != nil {
		respondVoteError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"retracted": true})
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	var req closeSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	id := chi.URLParam(r, "sessionID")

	var (
		sess *session.Session
		err  error
	)
	switch req.Outcome {
	case "APPROVE":
		sess, err = s.voteSvc.OverrideResolve(r.Context(), id, req.Actor, session.OutcomePassed)
	case "DENY":
		sess, err = s.voteSvc.OverrideResolve(r.Context(), id, req.Actor, session.OutcomeFailed)
	case "", "TALLY":
		sess, err = s.voteSvc.CloseEarly(r.Context(), id, req.Actor)
	default:
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "outcome must be APPROVE, DENY or TALLY")
		return
	}
	if err != nil {
		respondVoteError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) mergePolicy(p *policy) session.Policy {
	pol := s.defaultPolicy
	if p == nil {
		return pol
	}
	if p.ApproveThreshold != nil {
		pol.ApproveThreshold = *p.ApproveThreshold
	}
	if p.MinParticipants != nil {
		pol.MinParticipants = *p.MinParticipants
	}
	if p.CountAbstain != nil {
		pol.CountAbstain = *p.CountAbstain
	}
	if p.TiesPass != nil {
		pol.TiesPass = *p.TiesPass
	}
	if p.IgnoreWeights != nil {
		pol.IgnoreWeights = *p.IgnoreWeights
	}
	if p.RetainBallots != nil {
		pol.RetainBallots = *p.RetainBallots
	}
	if p.PassCondition != nil {
		pol.PassCondition = *p.PassCondition
	}
	return pol
}

func respondVoteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrDuplicateSession):
		respondError(w, http.StatusConflict, "DUPLICATE_SESSION", err.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error())
	case errors.Is(err, session.ErrSessionNotOpen):
		respondError(w, http.StatusConflict, "SESSION_NOT_OPEN", err.Error())
	case errors.Is(err, appVote.ErrNotPrivileged):
		respondError(w, http.StatusForbidden, "NOT_PRIVILEGED", err.Error())
	case errors.Is(err, appVote.ErrSelfResolve):
		respondError(w, http.StatusForbidden, "SELF_RESOLVE", err.Error())
	case errors.Is(err, appVote.ErrStoreUnavailable):
		respondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error())
	case errors.Is(err, ballot.ErrInvalidChoice):
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
	default:
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
	}
}
