package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	appAudit "github.com/rolewarden/rolewarden/internal/application/audit"
	appVote "github.com/rolewarden/rolewarden/internal/application/vote"
	domainAudit "github.com/rolewarden/rolewarden/internal/domain/audit"
	"github.com/rolewarden/rolewarden/internal/domain/ballot"
	"github.com/rolewarden/rolewarden/internal/domain/session"
	"github.com/rolewarden/rolewarden/internal/infrastructure/sse"
)

type stubSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]session.Session
}

func (r *stubSessionRepo) Create(ctx context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = *s
	return nil
}

func (r *stubSessionRepo) GetByID(ctx context.Context, id string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := s
	return &cp, nil
}

func (r *stubSessionRepo) Update(ctx context.Context, s *session.Session) error {
	return r.Create(ctx, s)
}

func (r *stubSessionRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *stubSessionRepo) ListByState(ctx context.Context, state session.State) ([]*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*session.Session
	for _, s := range r.sessions {
		if s.State == state {
			cp := s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *stubSessionRepo) ListAll(ctx context.Context) ([]*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*session.Session
	for _, s := range r.sessions {
		cp := s
		out = append(out, &cp)
	}
	return out, nil
}

type stubBallotRepo struct {
	mu      sync.Mutex
	ballots map[string]map[string]ballot.Ballot
}

func (r *stubBallotRepo) Upsert(ctx context.Context, b *ballot.Ballot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ballots[b.SessionID] == nil {
		r.ballots[b.SessionID] = make(map[string]ballot.Ballot)
	}
	r.ballots[b.SessionID][b.Voter] = *b
	return nil
}

func (r *stubBallotRepo) Delete(ctx context.Context, sessionID, voter string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ballots[sessionID], voter)
	return nil
}

func (r *stubBallotRepo) ListBySession(ctx context.Context, sessionID string) ([]*ballot.Ballot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ballot.Ballot
	for _, b := range r.ballots[sessionID] {
		cp := b
		out = append(out, &cp)
	}
	return out, nil
}

func (r *stubBallotRepo) DeleteBySession(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ballots, sessionID)
	return nil
}

type stubAuditRepo struct{}

func (stubAuditRepo) Create(ctx context.Context, log *domainAudit.AuditLog) error { return nil }
func (stubAuditRepo) Query(ctx context.Context, filter domainAudit.QueryFilter, limit, offset int) ([]*domainAudit.AuditLog, error) {
	return nil, nil
}

type stubScheduler struct{}

func (stubScheduler) Schedule(sessionID string, fireAt time.Time, fn func(string)) {}
func (stubScheduler) Cancel(sessionID string)                                      {}
func (stubScheduler) Shutdown()                                                    {}

type stubRenderer struct{}

func (stubRenderer) Render(ctx context.Context, snap appVote.Snapshot) {}

type stubConsequence struct{}

func (stubConsequence) Apply(ctx context.Context, s *session.Session) error { return nil }

type stubPrivilege struct{ actors map[string]bool }

func (s stubPrivilege) IsPrivileged(ctx context.Context, actor string) (bool, error) {
	return s.actors[actor], nil
}

func newTestServer(t *testing.T, apiTokenHash string) *Server {
	t.Helper()
	auditSvc := appAudit.NewService(stubAuditRepo{}, zerolog.Nop(), nil)
	voteSvc := appVote.NewService(
		&stubSessionRepo{sessions: make(map[string]session.Session)},
		&stubBallotRepo{ballots: make(map[string]map[string]ballot.Ballot)},
		stubScheduler{},
		stubRenderer{},
		stubConsequence{},
		stubPrivilege{actors: map[string]bool{"admin": true}},
		auditSvc,
		zerolog.Nop(),
	)
	return NewServer(voteSvc, auditSvc, sse.NewHub(), apiTokenHash, session.Policy{ApproveThreshold: 0.5}, 7*24*time.Hour)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestOpenSessionEndpoint(t *testing.T) {
	srv := newTestServer(t, "")
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/sessions", map[string]interface{}{
		"session_id": "sess-1",
		"requester":  "alice",
		"role":       "moderator",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var sess session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, "sess-1", sess.ID)
	assert.Equal(t, session.StateOpen, sess.State)

	// Duplicate opens conflict.
	rec = doJSON(t, router, http.MethodPost, "/v1/sessions", map[string]interface{}{
		"session_id": "sess-1",
		"requester":  "bob",
		"role":       "builder",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOpenSessionEndpoint_UnknownField(t *testing.T) {
	srv := newTestServer(t, "")
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/sessions", map[string]interface{}{
		"session_id": "sess-1",
		"requester":  "alice",
		"role":       "moderator",
		"bogus":      true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCastBallotEndpoint(t *testing.T) {
	srv := newTestServer(t, "")
	router := srv.Router()

	doJSON(t, router, http.MethodPost, "/v1/sessions", map[string]interface{}{
		"session_id": "sess-1", "requester": "alice", "role": "moderator",
	})

	rec := doJSON(t, router, http.MethodPost, "/v1/sessions/sess-1/ballots", map[string]interface{}{
		"voter": "bob", "choice": "APPROVE",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var ack appVote.BallotAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, 1, ack.Counts.Approve)

	rec = doJSON(t, router, http.MethodPost, "/v1/sessions/sess-1/ballots", map[string]interface{}{
		"voter": "bob", "choice": "MAYBE",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/sessions/missing/ballots", map[string]interface{}{
		"voter": "bob", "choice": "APPROVE",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCloseSessionEndpoint(t *testing.T) {
	srv := newTestServer(t, "")
	router := srv.Router()

	doJSON(t, router, http.MethodPost, "/v1/sessions", map[string]interface{}{
		"session_id": "sess-1", "requester": "alice", "role": "moderator",
	})

	rec := doJSON(t, router, http.MethodPost, "/v1/sessions/sess-1/close", map[string]interface{}{
		"actor": "mallory", "outcome": "APPROVE",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/sessions/sess-1/close", map[string]interface{}{
		"actor": "admin", "outcome": "APPROVE",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var sess session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, session.StateFinalized, sess.State)
	assert.Equal(t, session.OutcomePassed, sess.Outcome)

	// Closing again conflicts.
	rec = doJSON(t, router, http.MethodPost, "/v1/sessions/sess-1/close", map[string]interface{}{
		"actor": "admin", "outcome": "DENY",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCloseSessionEndpoint_BadOutcome(t *testing.T) {
	srv := newTestServer(t, "")
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/sessions/sess-1/close", map[string]interface{}{
		"actor": "admin", "outcome": "SHRUG",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-token"), bcrypt.MinCost)
	require.NoError(t, err)

	srv := newTestServer(t, string(hash))
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireToken_DisabledWithoutHash(t *testing.T) {
	srv := newTestServer(t, "")
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
