package audit

import (
	"context"
	"time"
)

// QueryFilter narrows audit log queries.
type QueryFilter struct {
	EntityType *EntityType
	EntityID   *string
	Action     *Action
	Actor      *string
	StartTime  *time.Time
	EndTime    *time.Time
}

// Repository defines audit log persistence.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	Query(ctx context.Context, filter QueryFilter, limit, offset int) ([]*AuditLog, error)
}
