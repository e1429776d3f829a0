package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/audit"
)

// handleListSessionEvents returns paginated session events with optional filters.
//
// Query parameters:
//   - kind: connection or device
//   - action: opened or closed
//   - subject_id: user or device id
//   - since: RFC 3339 timestamp, inclusive
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeUnavailable(w, "session trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Kind:   q.Get("kind"),
		Action: q.Get("action"),
	}

	switch filter.Kind {
	case "", audit.KindConnection, audit.KindDevice:
	default:
		writeBadRequest(w, "kind must be connection or device")
		return
	}
	switch filter.Action {
	case "", audit.ActionOpened, audit.ActionClosed:
	default:
		writeBadRequest(w, "action must be opened or closed")
		return
	}

	if v := q.Get("subject_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeBadRequest(w, "invalid subject_id")
			return
		}
		filter.SubjectID = id
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.sessions.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list session events", "error", err)
		writeInternalError(w, "failed to list session events")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
