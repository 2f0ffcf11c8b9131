package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-adms/internal/audit"
)

// handleListEvents returns the device event history.
//
// Query parameters:
//   - serial_number, type, command_id: exact-match filters
//   - since: RFC 3339 lower bound on occurred_at
//   - limit, offset: pagination
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event history is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		SerialNumber: q.Get("serial_number"),
		Type:         q.Get("type"),
		CommandID:    q.Get("command_id"),
	}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing device events failed", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
