package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-hub/internal/communicator"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/notify"
)

// WebSocket message types.
const (
	WSTypeConnected    = "connected"
	WSTypeNotification = "notification"
	WSTypeSubscribe    = "subscribe"
	WSTypeUnsubscribe  = "unsubscribe"
	WSTypePing         = "ping"
	WSTypePong         = "pong"
	WSTypeResponse     = "response"
	WSTypeError        = "error"

	// defaultSendBuffer is the per-client outbound buffer when none is configured.
	defaultSendBuffer = 256
)

// WSMessage is the envelope of every frame on a client session.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Method    string `json:"method,omitempty"`
	Group     string `json:"group,omitempty"`
	EntityID  int64  `json:"entity_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSGroupsPayload is the payload of subscribe and unsubscribe requests.
type WSGroupsPayload struct {
	Groups []string `json:"groups"`
}

// SessionHub owns the client WebSocket sessions and delivers notifications
// to them. It implements notify.Pusher.
type SessionHub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	comm    *communicator.Communicator
	metrics *hubMetrics
	clients map[string]*WSClient
	mu      sync.RWMutex
}

// WSClient is one connected client session.
type WSClient struct {
	hub          *SessionHub
	conn         *websocket.Conn
	send         chan []byte
	userID       int64
	connectionID string
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewSessionHub creates a session hub bound to the communicator.
func NewSessionHub(cfg config.WebSocketConfig, logger *logging.Logger, comm *communicator.Communicator) *SessionHub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	return &SessionHub{
		cfg:     cfg,
		logger:  logger,
		comm:    comm,
		clients: make(map[string]*WSClient),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *SessionHub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Push implements notify.Pusher. It never blocks: a client whose buffer is
// full misses the message.
func (h *SessionHub) Push(_ context.Context, connectionID string, msg notify.Message) (err error) {
	defer func() { h.metrics.observePush(err) }()

	h.mu.RLock()
	client, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return notify.ErrConnectionGone
	}

	data, err := json.Marshal(WSMessage{
		Type:      WSTypeNotification,
		Method:    msg.Method,
		Group:     msg.Group,
		EntityID:  msg.EntityID,
		Timestamp: msg.Timestamp,
		Payload:   msg.Payload,
	})
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	return client.trySend(data)
}

// Register adds a client and records its connection in the communicator.
// Every connection joins its user's personal group.
func (h *SessionHub) Register(client *WSClient, remoteAddress string) {
	h.mu.Lock()
	h.clients[client.connectionID] = client
	h.mu.Unlock()

	h.comm.RegisterConnection(client.userID, client.connectionID, remoteAddress)
	h.comm.AddConnectionToGroups(client.connectionID, notify.UserGroup(client.userID))

	h.logger.Debug("websocket client connected",
		"user_id", client.userID,
		"connection_id", client.connectionID,
		"clients", h.ClientCount(),
	)
}

// Unregister removes a client and its connection record.
// Only the goroutine that removes the client from the map closes the send
// channel, preventing double-close panics during shutdown.
func (h *SessionHub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client.connectionID]
	delete(h.clients, client.connectionID)
	h.mu.Unlock()

	if !existed {
		return
	}
	close(client.send)
	h.comm.UnregisterConnection(client.connectionID)
	h.logger.Debug("websocket client disconnected",
		"user_id", client.userID,
		"connection_id", client.connectionID,
		"clients", h.ClientCount(),
	)
}

// ClientCount returns the number of connected clients.
func (h *SessionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients so their pumps exit.
func (h *SessionHub) closeAll() {
	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for id, client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, id)
	}
	h.mu.Unlock()

	for _, client := range clients {
		close(client.send)
		h.comm.UnregisterConnection(client.connectionID)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// handleWebSocket upgrades an authenticated user request to a client session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	userID, err := claims.SubjectID()
	if err != nil {
		writeForbidden(w, "client sessions require a numeric user id")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:          s.hub,
		conn:         conn,
		send:         make(chan []byte, s.hub.cfg.SendBuffer),
		userID:       userID,
		connectionID: uuid.NewString(),
	}

	s.hub.Register(client, r.RemoteAddr)
	client.sendResponse("", WSTypeConnected, map[string]any{
		"connection_id": client.connectionID,
		"user_id":       userID,
	})

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	pingInterval := seconds(cfg.PingInterval, defaultPingInterval)
	pongWait := seconds(cfg.PongTimeout, defaultPongTimeout)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err, "connection_id", c.connectionID)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err, "connection_id", c.connectionID)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := seconds(cfg.PingInterval, defaultPingInterval)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := seconds(cfg.WriteTimeout, defaultWriteTimeout)

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleGroups(msg, true)
	case WSTypeUnsubscribe:
		c.handleGroups(msg, false)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleGroups joins or leaves the requested groups.
func (c *WSClient) handleGroups(msg WSMessage, join bool) {
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return
	}

	var req WSGroupsPayload
	if err := json.Unmarshal(payloadBytes, &req); err != nil || len(req.Groups) == 0 {
		c.sendError(msg.ID, "groups are required")
		return
	}

	for _, g := range req.Groups {
		if !c.mayFollow(g) {
			c.sendError(msg.ID, "group not permitted: "+g)
			return
		}
	}

	if join {
		c.hub.comm.AddConnectionToGroups(c.connectionID, req.Groups...)
		c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"subscribed": req.Groups})
		return
	}
	c.hub.comm.RemoveConnectionFromGroups(c.connectionID, req.Groups...)
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": req.Groups})
}

// mayFollow rejects empty names and other users' personal groups.
func (c *WSClient) mayFollow(group string) bool {
	if strings.TrimSpace(group) == "" {
		return false
	}
	if strings.HasPrefix(group, notify.KindUser+"-") {
		return group == notify.UserGroup(c.userID)
	}
	return true
}

// trySend queues data for the write pump. A closed channel means the client
// disconnected concurrently.
func (c *WSClient) trySend(data []byte) (err error) {
	defer func() {
		if recover() != nil {
			err = notify.ErrConnectionGone
		}
	}()

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// sendResponse sends a response message to the client.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	//nolint:errcheck // Replies to a departing client are dropped
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
