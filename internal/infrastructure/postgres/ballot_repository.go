package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rolewarden/rolewarden/internal/domain/ballot"
)

// BallotRepository implements ballot.Repository.
type BallotRepository struct {
	pool *pgxpool.Pool
}

func NewBallotRepository(pool *pgxpool.Pool) *BallotRepository {
	return &BallotRepository{pool: pool}
}

// Upsert overwrites the voter's ballot in place; the (session_id, voter)
// primary key keeps ledger cardinality at one per voter.
func (r *BallotRepository) Upsert(ctx context.Context, b *ballot.Ballot) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ballots (session_id, voter, choice, weight, cast_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (session_id, voter)
		DO UPDATE SET choice=EXCLUDED.choice, weight=EXCLUDED.weight, cast_at=EXCLUDED.cast_at
	`, b.SessionID, b.Voter, b.Choice, b.Weight, b.CastAt)
	return err
}

func (r *BallotRepository) Delete(ctx context.Context, sessionID, voter string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM ballots WHERE session_id=$1 AND voter=$2`, sessionID, voter)
	return err
}

func (r *BallotRepository) ListBySession(ctx context.Context, sessionID string) ([]*ballot.Ballot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT session_id, voter, choice, weight, cast_at
		FROM ballots WHERE session_id=$1 ORDER BY voter
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ballots []*ballot.Ballot
	for rows.Next() {
		b, err := scanBallot(rows)
		if err != nil {
			return nil, err
		}
		ballots = append(ballots, b)
	}
	return ballots, rows.Err()
}

func (r *BallotRepository) DeleteBySession(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM ballots WHERE session_id=$1`, sessionID)
	return err
}

func scanBallot(row pgx.Row) (*ballot.Ballot, error) {
	var b ballot.Ballot
	if err := row.Scan(&b.SessionID, &b.Voter, &b.Choice, &b.Weight, &b.CastAt); err != nil {
		return nil, err
	}
	return &b, nil
}
