package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	appAudit "github.com/rolewarden/rolewarden/internal/application/audit"
	appVote "github.com/rolewarden/rolewarden/internal/application/vote"
	"github.com/rolewarden/rolewarden/internal/domain/session"
	"github.com/rolewarden/rolewarden/internal/infrastructure/sse"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	voteSvc         *appVote.Service
	auditSvc        *appAudit.Service
	sseHub          *sse.Hub
	apiTokenHash    string
	defaultPolicy   session.Policy
	defaultDuration time.Duration
}

func NewServer(voteSvc *appVote.Service, auditSvc *appAudit.Service, sseHub *sse.Hub, apiTokenHash string, defaultPolicy session.Policy, defaultDuration time.Duration) *Server {
	return &Server{
		voteSvc:         voteSvc,
		auditSvc:        auditSvc,
		sseHub:          sseHub,
		apiTokenHash:    apiTokenHash,
		defaultPolicy:   defaultPolicy,
		defaultDuration: defaultDuration,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", s.openSession)
				r.Get("/", s.listSessions)
				r.Get("/{sessionID}", s.getSession)
				r.Post("/{sessionID}/ballots", s.castBallot)
				r.Delete("/{sessionID}/ballots/{voter}", s.retractBallot)
				r.Post("/{sessionID}/close", s.closeSession)
			})

			r.Get("/stream", s.sseEndpoint)

			r.Route("/admin", func(r chi.Router) {
				r.Get("/audit", s.queryAudit)
			})
		})
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
