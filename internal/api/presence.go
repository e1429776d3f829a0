package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hub/internal/presence"
)

// GroupsRequest is the body of the user group endpoints.
type GroupsRequest struct {
	Groups []string `json:"groups"`
}

// handlePresenceStats returns presence and device queue totals.
func (s *Server) handlePresenceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.comm.Stats())
}

// handleOnlineUsers lists users with at least one live connection.
func (s *Server) handleOnlineUsers(w http.ResponseWriter, _ *http.Request) {
	ids := s.comm.OnlineUserIDs()
	writeJSON(w, http.StatusOK, map[string]any{
		"user_ids": ids,
		"count":    len(ids),
	})
}

// handleUserPresence reports whether one user is online.
func (s *Server) handleUserPresence(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid user id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"online":  s.comm.IsUserOnline(userID),
	})
}

// handleUserConnections lists the live connections of one user.
func (s *Server) handleUserConnections(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid user id")
		return
	}
	writeConnections(w, s.comm.UserConnections(userID))
}

// handleOnlineDevices lists devices with an open stream and their queues.
func (s *Server) handleOnlineDevices(w http.ResponseWriter, _ *http.Request) {
	channels := s.comm.DeviceChannels()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": channels,
		"count":   len(channels),
	})
}

// handleDevicePresence reports whether one device is online.
func (s *Server) handleDevicePresence(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid device id")
		return
	}

	resp := map[string]any{
		"device_id": deviceID,
		"online":    s.comm.IsDeviceOnline(deviceID),
	}
	if stream, err := s.comm.DeviceStream(deviceID); err == nil {
		resp["remote_address"] = stream.RemoteAddr()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetConnection returns one live connection.
func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.comm.Connection(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// handleFindConnections lists connections in any of the ?group= names or
// matching any of the ?template= patterns.
func (s *Server) handleFindConnections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	groups, templates := q["group"], q["template"]
	if len(groups) == 0 && len(templates) == 0 {
		writeBadRequest(w, "at least one group or template is required")
		return
	}

	var conns []presence.Connection
	switch {
	case len(templates) == 0:
		conns = s.comm.ConnectionsByGroups(groups...)
	case len(groups) == 0:
		conns = s.comm.ConnectionsByTemplates(templates...)
	default:
		conns = mergeByID(s.comm.ConnectionsByGroups(groups...), s.comm.ConnectionsByTemplates(templates...))
	}
	writeConnections(w, conns)
}

// handleListGroups lists every group with at least one subscriber.
func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	groups := s.comm.Groups()
	writeJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"count":  len(groups),
	})
}

// handleGroupConnections lists subscribers of one group. A name containing
// '*' or '?' is treated as a template.
func (s *Server) handleGroupConnections(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if strings.ContainsAny(name, "*?") {
		writeConnections(w, s.comm.ConnectionsByTemplates(name))
		return
	}
	writeConnections(w, s.comm.ConnectionsByGroup(name))
}

// handleAddUserToGroups subscribes every live connection of a user.
func (s *Server) handleAddUserToGroups(w http.ResponseWriter, r *http.Request) {
	userID, groups, ok := s.userGroupsRequest(w, r)
	if !ok {
		return
	}
	s.comm.AddUserToGroups(userID, groups...)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"groups":      groups,
		"connections": len(s.comm.UserConnections(userID)),
	})
}

// handleRemoveUserFromGroups unsubscribes every live connection of a user.
func (s *Server) handleRemoveUserFromGroups(w http.ResponseWriter, r *http.Request) {
	userID, groups, ok := s.userGroupsRequest(w, r)
	if !ok {
		return
	}
	s.comm.RemoveUserFromGroups(userID, groups...)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"groups":      groups,
		"connections": len(s.comm.UserConnections(userID)),
	})
}

func (s *Server) userGroupsRequest(w http.ResponseWriter, r *http.Request) (int64, []string, bool) {
	userID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid user id")
		return 0, nil, false
	}

	var req GroupsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return 0, nil, false
	}

	groups := make([]string, 0, len(req.Groups))
	for _, g := range req.Groups {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 {
		writeBadRequest(w, "groups are required")
		return 0, nil, false
	}
	return userID, groups, true
}

func writeConnections(w http.ResponseWriter, conns []presence.Connection) {
	if conns == nil {
		conns = []presence.Connection{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": conns,
		"count":       len(conns),
	})
}

// mergeByID concatenates connection lists, keeping the first occurrence of
// each connection.
func mergeByID(lists ...[]presence.Connection) []presence.Connection {
	seen := make(map[string]struct{})
	var out []presence.Connection
	for _, list := range lists {
		for _, c := range list {
			if _, dup := seen[c.ConnectionID]; dup {
				continue
			}
			seen[c.ConnectionID] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
