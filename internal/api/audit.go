package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/tagbox-core/internal/audit"
)

// handleListAuditLogs serves GET /audit. Filters: action, entity_type,
// entity_id; paging: limit (default 50, capped at 200) and offset.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}
	var err error
	if filter.Limit, err = queryCount(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit: "+err.Error())
		return
	}
	if filter.Offset, err = queryCount(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset: "+err.Error())
		return
	}

	page, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit log", "error", err, "request_id", requestID(r.Context()))
		writeInternalError(w, "failed to list audit log")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// queryCount parses an optional non-negative integer; "" is zero.
func queryCount(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return n, nil
}
