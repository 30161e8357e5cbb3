package ballot

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"
)

// Repository defines ballot persistence. Upsert must be atomic per
// (session, voter) so a recast never duplicates.
type Repository interface {
	Upsert(ctx context.Context, b *Ballot) error
	Delete(ctx context.Context, sessionID, voter string) error
	ListBySession(ctx context.Context, sessionID string) ([]*Ballot, error)
	DeleteBySession(ctx context.Context, sessionID string) error
}
