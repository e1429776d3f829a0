package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hub/internal/notify"
)

// defaultNotifyTimeout bounds one notification request when none is configured.
const defaultNotifyTimeout = 5 * time.Second

// NotifyRequest is the body of the notification endpoints.
type NotifyRequest struct {
	Method   string          `json:"method"`
	EntityID int64           `json:"entity_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// NotifyResponse reports how many connections received a notification.
type NotifyResponse struct {
	Delivered int    `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// handleNotifyGroup pushes to every subscriber of a group.
func (s *Server) handleNotifyGroup(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeNotify(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.notifyTimeout)
	defer cancel()

	n, err := s.comm.NotifyGroup(ctx, chi.URLParam(r, "name"), req.Method, payloadOf(req))
	s.writeNotifyResult(w, n, err)
}

// handleNotifyUser pushes to every live connection of a user.
func (s *Server) handleNotifyUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid user id")
		return
	}
	req, ok := decodeNotify(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.notifyTimeout)
	defer cancel()

	n, err := s.comm.NotifyUser(ctx, userID, req.Method, payloadOf(req))
	s.writeNotifyResult(w, n, err)
}

// handleNotifyEntity pushes to followers of an entity and its sub-topics.
func (s *Server) handleNotifyEntity(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	id, ok := pathID(r, "id")
	if kind == "" || !ok {
		writeBadRequest(w, "invalid entity")
		return
	}
	req, ok := decodeNotify(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.notifyTimeout)
	defer cancel()

	n, err := s.comm.NotifyForEntity(ctx, notify.EntityRef{Kind: kind, ID: id}, req.Method, payloadOf(req))
	s.writeNotifyResult(w, n, err)
}

// handleNotifyConnection pushes to a single connection. An offline
// connection is not an error and reports zero deliveries.
func (s *Server) handleNotifyConnection(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeNotify(w, r)
	if !ok {
		return
	}
	connectionID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), s.notifyTimeout)
	defer cancel()

	_, online := s.comm.Connection(connectionID)
	err := s.comm.NotifyConnection(ctx, connectionID, req.EntityID, req.Method, payloadOf(req))
	n := 0
	if online && err == nil {
		n = 1
	}
	s.writeNotifyResult(w, n, err)
}

func (s *Server) writeNotifyResult(w http.ResponseWriter, delivered int, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, NotifyResponse{Delivered: delivered})
	case errors.Is(err, notify.ErrNoPusher):
		writeUnavailable(w, "notification transport not available")
	default:
		// Partial fan-out: report what was delivered.
		s.logger.Warn("notification partially failed", "delivered", delivered, "error", err)
		writeJSON(w, http.StatusOK, NotifyResponse{Delivered: delivered, Error: err.Error()})
	}
}

func decodeNotify(w http.ResponseWriter, r *http.Request) (NotifyRequest, bool) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return req, false
	}
	if strings.TrimSpace(req.Method) == "" {
		writeBadRequest(w, "method is required")
		return req, false
	}
	return req, true
}

// payloadOf keeps an absent payload absent instead of encoding null.
func payloadOf(req NotifyRequest) any {
	if len(req.Payload) == 0 {
		return nil
	}
	return req.Payload
}

// ----------------------------------------------------------------------------
// Device messages
// ----------------------------------------------------------------------------

// handleEnqueueDeviceMessage queues the raw request body for a device.
func (s *Server) handleEnqueueDeviceMessage(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid device id")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading body failed")
		return
	}
	if len(body) == 0 {
		writeBadRequest(w, "message body is required")
		return
	}

	if !s.comm.EnqueuePayload(deviceID, body) {
		writeNotFound(w, "device is not online")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": deviceID,
		"queued":    true,
	})
}

// handleStopDevice cancels the device loop's pending wait.
func (s *Server) handleStopDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid device id")
		return
	}
	if !s.comm.IsDeviceOnline(deviceID) {
		writeNotFound(w, "device is not online")
		return
	}
	s.comm.StopDevice(deviceID)
	w.WriteHeader(http.StatusNoContent)
}
