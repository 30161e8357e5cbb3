package notify

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/rolewarden/rolewarden/internal/application/vote"
	"github.com/rolewarden/rolewarden/internal/domain/notification"
	"github.com/rolewarden/rolewarden/internal/domain/session"
)

// SSERenderer implements vote.Renderer by broadcasting session snapshots
// over the SSE hub. The chat connectivity layer subscribes and turns these
// into message edits.
type SSERenderer struct {
	hub    notification.SSEHub
	logger zerolog.Logger
}

func NewSSERenderer(hub notification.SSEHub, logger zerolog.Logger) *SSERenderer {
	return &SSERenderer{
		hub:    hub,
		logger: logger.With().Str("component", "renderer").Logger(),
	}
}

// Render broadcasts the snapshot. Rendering is best-effort and
// at-least-once; consumers must tolerate duplicate or stale snapshots.
func (r *SSERenderer) Render(ctx context.Context, snap vote.Snapshot) {
	if snap.Session == nil {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to marshal session snapshot")
		return
	}
	event := "session"
	if snap.Session.State == session.StateFinalized {
		event = "session_finalized"
	}
	r.hub.BroadcastToSession(snap.Session.ID, notification.NewSSEMessage(event, payload))
}
