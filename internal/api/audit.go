package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/purifier-bridge/internal/audit"
)

// auditWriteTimeout bounds the audit insert after a state write. It is
// detached from the request so a client hanging up does not lose the row.
const auditWriteTimeout = 5 * time.Second

// recordAudit stores the outcome of a PUT /devices/{id}/state.
func (s *Server) recordAudit(r *http.Request, deviceID string, req SetStateRequest, setErr error) {
	if s.audit == nil {
		return
	}

	e := &audit.Entry{
		DeviceID: deviceID,
		Field:    req.Field,
		Value:    req.Value,
		Source:   audit.SourceAPI,
		Result:   audit.ResultOK,
	}
	if subject, ok := r.Context().Value(ctxKeySubject).(string); ok {
		e.Actor = subject
	}
	if reqID, ok := r.Context().Value(ctxKeyRequestID).(string); ok {
		e.CommandID = reqID
	}
	if setErr != nil {
		e.Result = audit.ResultFailed
		e.Error = setErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditWriteTimeout)
	defer cancel()
	if err := s.audit.Create(ctx, e); err != nil {
		s.logger.Warn("recording audit entry failed", "device_id", deviceID, "error", err)
	}
}

// handleListAudit returns recorded state writes, newest first.
//
// Query parameters: device_id, source (api|mqtt), result (ok|failed),
// limit (1-200, default 50) and offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID: q.Get("device_id"),
		Source:   q.Get("source"),
		Result:   q.Get("result"),
	}

	var ok bool
	if filter.Limit, ok = queryInt(q.Get("limit"), 1); !ok {
		writeBadRequest(w, "limit must be a positive integer")
		return
	}
	if filter.Offset, ok = queryInt(q.Get("offset"), 0); !ok {
		writeBadRequest(w, "offset must be a non-negative integer")
		return
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// queryInt parses an optional integer query value that must be at least
// minimum. An empty value yields 0.
func queryInt(v string, minimum int) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < minimum {
		return 0, false
	}
	return n, true
}
