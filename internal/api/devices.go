package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/purifier-bridge/internal/bridge"
	"github.com/nerrad567/purifier-bridge/internal/codec"
	"github.com/nerrad567/purifier-bridge/internal/coordinator"
	"github.com/nerrad567/purifier-bridge/internal/history"
	"github.com/nerrad567/purifier-bridge/internal/normalize"
	"github.com/nerrad567/purifier-bridge/internal/profile"
)

// setStateTimeout bounds a PUT /state request, including the wait for the
// poll loop to pick the command up.
const setStateTimeout = 10 * time.Second

// DeviceResponse describes one polled endpoint.
type DeviceResponse struct {
	bridge.EndpointHealth
	Generation   profile.Generation `json:"generation"`
	Capabilities []string           `json:"capabilities"`
	Status       normalize.Status   `json:"status,omitempty"`
}

// StatusResponse is returned by GET /devices/{id}/status.
type StatusResponse struct {
	DeviceID  string           `json:"device_id"`
	Available bool             `json:"available"`
	Status    normalize.Status `json:"status"`
	Changed   []string         `json:"changed_fields"`
	Source    string           `json:"source,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// SetStateRequest is the body of PUT /devices/{id}/state.
type SetStateRequest struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status           string             `json:"status"`
	Version          string             `json:"version"`
	UptimeSeconds    int64              `json:"uptime_seconds"`
	DevicesManaged   int                `json:"devices_managed"`
	DevicesAvailable int                `json:"devices_available"`
	WebSocketClients int                `json:"websocket_clients"`
	Bridge           *bridge.Statistics `json:"bridge,omitempty"`
}

func deviceResponse(p *coordinator.Poller) DeviceResponse {
	prof := p.Profile()
	caps := prof.Capabilities
	if caps == nil {
		caps = []string{}
	}
	return DeviceResponse{
		EndpointHealth: bridge.PollerHealth(p),
		Generation:     prof.Generation,
		Capabilities:   caps,
		Status:         p.Status(),
	}
}

// handleHealth reports whether every endpoint is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	pollers := s.manager.List()
	resp := HealthResponse{
		Status:           "ok",
		Version:          s.version,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
		DevicesManaged:   len(pollers),
		WebSocketClients: s.hub.ClientCount(),
	}
	for _, p := range pollers {
		if p.Available() {
			resp.DevicesAvailable++
		}
	}
	if resp.DevicesAvailable < resp.DevicesManaged {
		resp.Status = "degraded"
	}
	if s.bridgeStats != nil {
		stats := s.bridgeStats()
		resp.Bridge = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListDevices returns every polled endpoint, sorted by ID.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	pollers := s.manager.List()
	devices := make([]DeviceResponse, 0, len(pollers))
	for _, p := range pollers {
		devices = append(devices, deviceResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one endpoint.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, deviceResponse(p))
}

// handleGetStatus returns the last known normalized status.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poller(w, r)
	if !ok {
		return
	}
	status := p.Status()
	if status == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "no status received yet")
		return
	}

	last := p.Last()
	changed := last.Changed
	if changed == nil {
		changed = []string{}
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		DeviceID:  p.ID(),
		Available: p.Available(),
		Status:    status,
		Changed:   changed,
		Source:    last.Source,
		Timestamp: last.Timestamp.UTC(),
	})
}

// handleSetState writes one semantic field through the poller.
func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SetStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Field == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "field is required")
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "value is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), setStateTimeout)
	defer cancel()

	err := s.manager.Set(ctx, id, req.Field, req.Value)
	s.recordAudit(r, id, req, err)
	if err != nil {
		status, code := setStateError(err)
		s.logger.Warn("set state failed",
			"device_id", id,
			"field", req.Field,
			"error", err,
			"subject", r.Context().Value(ctxKeySubject),
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeError(w, status, code, err.Error())
		return
	}

	s.logger.Info("set state",
		"device_id", id,
		"field", req.Field,
		"subject", r.Context().Value(ctxKeySubject),
	)

	resp := map[string]any{
		"device_id": id,
		"field":     req.Field,
		"value":     req.Value,
	}
	if p, err := s.manager.Get(id); err == nil {
		resp["status"] = p.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

// setStateError maps a Set error to an HTTP status and error code.
func setStateError(err error) (int, string) {
	switch {
	case errors.Is(err, coordinator.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, codec.ErrUnsupportedCapability), errors.Is(err, normalize.ErrInvalidValue):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, coordinator.ErrStopped):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	}
	switch coordinator.Reason(err) {
	case coordinator.ReasonTimeout, coordinator.ReasonCanceled:
		return http.StatusGatewayTimeout, ErrCodeDeviceTimeout
	default:
		return http.StatusBadGateway, ErrCodeDeviceError
	}
}

// handleGetHistory returns recorded poll history, newest first.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "history is disabled")
		return
	}
	id := chi.URLParam(r, "id")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.GetHistory(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("history query failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to read history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"entries":   entries,
		"count":     len(entries),
	})
}

// poller resolves the {id} URL parameter, writing a 404 when unknown.
func (s *Server) poller(w http.ResponseWriter, r *http.Request) (*coordinator.Poller, bool) {
	id := chi.URLParam(r, "id")
	p, err := s.manager.Get(id)
	if err != nil {
		writeNotFound(w, "device not found: "+id)
		return nil, false
	}
	return p, true
}
