package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rolewarden/rolewarden/internal/domain/session"
)

// SessionRepository implements session.Repository.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, s *session.Session) error {
	policy, err := json.Marshal(s.Policy)
	if err != nil {
		return err
	}
	resolution, err := marshalResolution(s.Resolution)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO vote_sessions
		(session_id, requester, role, state, outcome, policy, resolution, consequence_error, created_at, deadline, resolved_at, finalized_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, s.ID, s.Requester, s.Role, s.State, s.Outcome, policy, resolution, s.ConsequenceError, s.CreatedAt, s.Deadline, s.ResolvedAt, s.FinalizedAt)
	return err
}

func (r *SessionRepository) Update(ctx context.Context, s *session.Session) error {
	policy, err := json.Marshal(s.Policy)
	if err != nil {
		return err
	}
	resolution, err := marshalResolution(s.Resolution)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE vote_sessions
		SET state=$1, outcome=$2, policy=$3, resolution=$4, consequence_error=$5, resolved_at=$6, finalized_at=$7
		WHERE session_id=$8
	`, s.State, s.Outcome, policy, resolution, s.ConsequenceError, s.ResolvedAt, s.FinalizedAt, s.ID)
	return err
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*session.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT session_id, requester, role, state, outcome, policy, resolution, consequence_error, created_at, deadline, resolved_at, finalized_at
		FROM vote_sessions WHERE session_id=$1
	`, sessionID)
	return scanVoteSession(row)
}

func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM vote_sessions WHERE session_id=$1`, sessionID)
	return err
}

func (r *SessionRepository) ListByState(ctx context.Context, state session.State) ([]*session.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT session_id, requester, role, state, outcome, policy, resolution, consequence_error, created_at, deadline, resolved_at, finalized_at
		FROM vote_sessions WHERE state=$1 ORDER BY created_at
	`, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectVoteSessions(rows)
}

func (r *SessionRepository) ListAll(ctx context.Context) ([]*session.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT session_id, requester, role, state, outcome, policy, resolution, consequence_error, created_at, deadline, resolved_at, finalized_at
		FROM vote_sessions ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectVoteSessions(rows)
}

func collectVoteSessions(rows pgx.Rows) ([]*session.Session, error) {
	var sessions []*session.Session
	for rows.Next() {
		s, err := scanVoteSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func scanVoteSession(row pgx.Row) (*session.Session, error) {
	var s session.Session
	var policy []byte
	var resolution []byte
	if err := row.Scan(&s.ID, &s.Requester, &s.Role, &s.State, &s.Outcome, &policy, &resolution, &s.ConsequenceError, &s.CreatedAt, &s.Deadline, &s.ResolvedAt, &s.FinalizedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(policy, &s.Policy); err != nil {
		return nil, err
	}
	if len(resolution) > 0 {
		var res session.Resolution
		if err := json.Unmarshal(resolution, &res); err != nil {
			return nil, err
		}
		s.Resolution = &res
	}
	return &s, nil
}

func marshalResolution(res *session.Resolution) ([]byte, error) {
	if res == nil {
		return nil, nil
	}
	return json.Marshal(res)
}
