package httpapi

import (
	"net/http"
	"time"

	"github.com/rolewarden/rolewarden/internal/domain/audit"
)

func (s *Server) queryAudit(w http.ResponseWriter, r *http.Request) {
	var filter audit.QueryFilter
	q := r.URL.Query()
	if v := q.Get("entity_type"); v != "" {
		et := audit.EntityType(v)
		filter.EntityType = &et
	}
	if v := q.Get("entity_id"); v != "" {
		filter.EntityID = &v
	}
	if v := q.Get("action"); v != "" {
		a := audit.Action(v)
		filter.Action = &a
	}
	if v := q.Get("actor"); v != "" {
		filter.Actor = &v
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.EndTime = &t
		}
	}
	limit, offset := parseLimitOffset(r, 50, 200)

	logs, err := s.auditSvc.Query(r.Context(), filter, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})
}
