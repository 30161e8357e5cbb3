package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rolewarden/rolewarden/internal/domain/session"
)

// GrantRepository records passed role grants. Apply is idempotent keyed on
// the session ID, so the coordinator may safely retry after a crash
// between finalization and grant.
type GrantRepository struct {
	pool *pgxpool.Pool
}

func NewGrantRepository(pool *pgxpool.Pool) *GrantRepository {
	return &GrantRepository{pool: pool}
}

// Apply implements vote.Consequence. A re-apply for the same session is a
// no-op.
func (r *GrantRepository) Apply(ctx context.Context, s *session.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO role_grants (grant_id, session_id, requester, role, granted_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (session_id) DO NOTHING
	`, uuid.New(), s.ID, s.Requester, s.Role, time.Now().UTC())
	return err
}

// Granted reports whether a grant was recorded for the session.
func (r *GrantRepository) Granted(ctx context.Context, sessionID string) (bool, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(1) FROM role_grants WHERE session_id=$1`, sessionID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
