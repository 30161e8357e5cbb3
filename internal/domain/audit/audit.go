package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// EntityType identifies what an audit entry is about.
type EntityType string

const (
	EntityTypeSession EntityType = "SESSION"
	EntityTypeBallot  EntityType = "BALLOT"
	EntityTypeGrant   EntityType = "GRANT"
)

// Action identifies the audited operation.
type Action string

const (
	ActionOpen     Action = "OPEN"
	ActionCast     Action = "CAST"
	ActionRetract  Action = "RETRACT"
	ActionOverride Action = "OVERRIDE"
	ActionResolve  Action = "RESOLVE"
	ActionFinalize Action = "FINALIZE"
	ActionGrant    Action = "GRANT"
)

// AuditEntry is the caller-facing input for one audit record.
type AuditEntry struct {
	EntityType EntityType
	EntityID   string
	Action     Action
	Actor      string
	Reason     string
}

// AuditLog is a persisted, optionally signed audit record.
type AuditLog struct {
	ID         int64      `json:"id"`
	AuditID    uuid.UUID  `json:"auditId"`
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	Action     Action     `json:"action"`
	Actor      string     `json:"actor"`
	Reason     string     `json:"reason,omitempty"`
	Signature  []byte     `json:"signature,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// NewAuditLog validates an entry and stamps identity and time.
func NewAuditLog(entry *AuditEntry) (*AuditLog, error) {
	if entry == nil {
		return nil, errors.New("audit entry is required")
	}
	if entry.EntityType == "" || entry.EntityID == "" || entry.Action == "" {
		return nil, errors.New("entity type, entity id and action are required")
	}
	return &AuditLog{
		AuditID:    uuid.New(),
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Actor:      entry.Actor,
		Reason:     entry.Reason,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
