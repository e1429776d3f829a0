// Package notify fans out notifications to client connections.
//
// The Notifier resolves a target (group, user, entity or single connection)
// to live connections through the presence registry and hands one Message
// per connection to a Pusher, the transport that owns the sockets.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/presence"
)

// Message is what a Pusher delivers to one connection.
type Message struct {
	Method    string `json:"method"`
	Group     string `json:"group,omitempty"`
	EntityID  int64  `json:"entity_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Pusher delivers a message to one live connection.
//
// Implementations must not block for long; a slow client should be skipped
// rather than stall the fan-out. A connection that has already closed should
// yield ErrConnectionGone.
type Pusher interface {
	Push(ctx context.Context, connectionID string, msg Message) error
}

// Resolver looks up target connections. *presence.Registry satisfies it.
type Resolver interface {
	Connection(connectionID string) (presence.Connection, bool)
	UserConnections(userID int64) []presence.Connection
	ConnectionsByGroup(group string) []presence.Connection
	ConnectionsByGroups(groups ...string) []presence.Connection
	ConnectionsByTemplates(templates ...string) []presence.Connection
}

// Logger defines the logging interface used by the Notifier.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Notifier pushes messages to the connections behind a target.
//
// Thread Safety: all methods are safe for concurrent use once SetPusher and
// SetLogger have been called during setup.
type Notifier struct {
	resolver Resolver
	pusher   Pusher
	logger   Logger
	now      func() time.Time
}

// New creates a Notifier. The pusher may be nil and set later with SetPusher,
// which lets the transport be built after the facade.
func New(resolver Resolver, pusher Pusher) *Notifier {
	return &Notifier{
		resolver: resolver,
		pusher:   pusher,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetPusher sets the transport used for delivery.
func (n *Notifier) SetPusher(p Pusher) {
	n.pusher = p
}

// SetLogger sets the logger for the notifier.
func (n *Notifier) SetLogger(logger Logger) {
	n.logger = logger
}

func (n *Notifier) message(method, group string, entityID int64, payload any) Message {
	return Message{
		Method:    method,
		Group:     group,
		EntityID:  entityID,
		Payload:   payload,
		Timestamp: n.now().UTC().Format(time.RFC3339),
	}
}

// NotifyGroup pushes to every subscriber of the group.
// It returns the number of connections the message was handed to.
func (n *Notifier) NotifyGroup(ctx context.Context, group, method string, payload any) (int, error) {
	targets := n.resolver.ConnectionsByGroup(group)
	return n.pushAll(ctx, targets, n.message(method, group, 0, payload))
}

// NotifyUser pushes to every live connection of the user.
func (n *Notifier) NotifyUser(ctx context.Context, userID int64, method string, payload any) (int, error) {
	targets := n.resolver.UserConnections(userID)
	return n.pushAll(ctx, targets, n.message(method, UserGroup(userID), 0, payload))
}

// NotifyForEntity pushes to connections following the entity: subscribers
// of its group and of any of its sub-topic groups.
func (n *Notifier) NotifyForEntity(ctx context.Context, entity Entity, method string, payload any) (int, error) {
	if entity == nil {
		return 0, fmt.Errorf("notify: entity is required")
	}
	kind, id := entity.EntityKind(), entity.EntityID()
	group := EntityGroup(kind, id)

	targets := mergeConnections(
		n.resolver.ConnectionsByGroup(group),
		n.resolver.ConnectionsByTemplates(EntityTemplate(kind, id)),
	)
	return n.pushAll(ctx, targets, n.message(method, group, id, payload))
}

// NotifyConnection pushes to a single connection. A connection that is not
// live is silently skipped.
func (n *Notifier) NotifyConnection(ctx context.Context, connectionID string, entityID int64, method string, payload any) error {
	conn, ok := n.resolver.Connection(connectionID)
	if !ok {
		n.logger.Debug("notify skipped: connection offline", "connection_id", connectionID)
		return nil
	}
	_, err := n.pushAll(ctx, []presence.Connection{conn}, n.message(method, "", entityID, payload))
	return err
}

// pushAll hands msg to every target. Gone connections are skipped; other
// failures are collected and returned together.
func (n *Notifier) pushAll(ctx context.Context, targets []presence.Connection, msg Message) (int, error) {
	if len(targets) == 0 {
		return 0, nil
	}
	if n.pusher == nil {
		return 0, ErrNoPusher
	}

	var errs []error
	delivered := 0
	for _, conn := range targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		err := n.pusher.Push(ctx, conn.ConnectionID, msg)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrConnectionGone):
			n.logger.Debug("notify skipped: connection gone", "connection_id", conn.ConnectionID)
		default:
			n.logger.Warn("notify push failed", "connection_id", conn.ConnectionID, "method", msg.Method, "error", err)
			errs = append(errs, fmt.Errorf("pushing to %s: %w", conn.ConnectionID, err))
		}
	}
	return delivered, errors.Join(errs...)
}

// mergeConnections concatenates connection lists, dropping duplicates.
func mergeConnections(lists ...[]presence.Connection) []presence.Connection {
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
