// Package communicator is the single entry point domain services use to reach
// connected users and devices.
//
// It combines the presence registry, the device channel manager and the
// notifier behind one type, and reports lifecycle changes to registered
// observers (audit trail, MQTT presence publisher).
package communicator

import (
	"context"
	"sync"

	"github.com/nerrad567/gray-logic-hub/internal/devicechannel"
	"github.com/nerrad567/gray-logic-hub/internal/notify"
	"github.com/nerrad567/gray-logic-hub/internal/presence"
)

// Logger defines the logging interface used by the communicator and the
// components it owns.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Observer receives lifecycle events. Hooks run synchronously on the caller's
// goroutine and must not block; hand work off to a worker instead.
type Observer interface {
	ConnectionOpened(conn presence.Connection)
	ConnectionClosed(conn presence.Connection)
	DeviceOnline(deviceID int64, remoteAddress string)
	DeviceOffline(deviceID int64)
}

// Options configures a Communicator.
type Options struct {
	// QueueCapacity is the default per-device queue capacity.
	// Zero means devicechannel.DefaultCapacity.
	QueueCapacity int

	// Pusher delivers notifications. It may be set later with SetPusher.
	Pusher notify.Pusher

	Logger Logger
}

// Stats aggregates presence and device channel statistics.
type Stats struct {
	Presence presence.Stats      `json:"presence"`
	Devices  devicechannel.Stats `json:"devices"`
}

// Communicator combines presence, device channels and notifications.
//
// Thread Safety: all methods are safe for concurrent use.
type Communicator struct {
	registry *presence.Registry
	devices  *devicechannel.Manager
	notifier *notify.Notifier

	mu        sync.RWMutex
	observers []Observer
}

// New creates a Communicator with empty state.
func New(opts Options) *Communicator {
	registry := presence.NewRegistry()
	devices := devicechannel.NewManager(opts.QueueCapacity)
	notifier := notify.New(registry, opts.Pusher)

	if opts.Logger != nil {
		registry.SetLogger(opts.Logger)
		devices.SetLogger(opts.Logger)
		notifier.SetLogger(opts.Logger)
	}

	return &Communicator{
		registry: registry,
		devices:  devices,
		notifier: notifier,
	}
}

// SetPusher sets the notification transport. Call during setup.
func (c *Communicator) SetPusher(p notify.Pusher) {
	c.notifier.SetPusher(p)
}

// AddObserver registers an observer for lifecycle events.
func (c *Communicator) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Communicator) observersSnapshot() []Observer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.observers
}

// ----------------------------------------------------------------------------
// Presence queries
// ----------------------------------------------------------------------------

// OnlineUserIDs returns the users with at least one live connection.
func (c *Communicator) OnlineUserIDs() []int64 {
	return c.registry.OnlineUserIDs()
}

// OnlineDeviceIDs returns the devices with a live channel.
func (c *Communicator) OnlineDeviceIDs() []int64 {
	return c.devices.OnlineDeviceIDs()
}

// IsUserOnline reports whether the user has at least one live connection.
func (c *Communicator) IsUserOnline(userID int64) bool {
	return c.registry.IsUserOnline(userID)
}

// IsDeviceOnline reports whether the device has a live channel.
func (c *Communicator) IsDeviceOnline(deviceID int64) bool {
	return c.devices.IsOnline(deviceID)
}

// UserConnections returns the user's live connections. Empty means offline.
func (c *Communicator) UserConnections(userID int64) []presence.Connection {
	return c.registry.UserConnections(userID)
}

// Connection returns a live connection by id.
func (c *Communicator) Connection(connectionID string) (presence.Connection, bool) {
	return c.registry.Connection(connectionID)
}

// ConnectionsByGroup returns the subscribers of a group.
func (c *Communicator) ConnectionsByGroup(group string) []presence.Connection {
	return c.registry.ConnectionsByGroup(group)
}

// ConnectionsByGroups returns connections subscribed to any of the groups.
func (c *Communicator) ConnectionsByGroups(groups ...string) []presence.Connection {
	return c.registry.ConnectionsByGroups(groups...)
}

// ConnectionsByTemplates returns connections subscribed to any group matching
// one of the templates.
func (c *Communicator) ConnectionsByTemplates(templates ...string) []presence.Connection {
	return c.registry.ConnectionsByTemplates(templates...)
}

// Groups returns every group with at least one subscriber.
func (c *Communicator) Groups() []string {
	return c.registry.Groups()
}

// DeviceChannels describes every live device channel.
func (c *Communicator) DeviceChannels() []devicechannel.Info {
	return c.devices.Channels()
}

// Stats returns a snapshot of hub statistics.
func (c *Communicator) Stats() Stats {
	return Stats{
		Presence: c.registry.Stats(),
		Devices:  c.devices.Stats(),
	}
}

// ----------------------------------------------------------------------------
// Connection lifecycle
// ----------------------------------------------------------------------------

// RegisterConnection records a new live connection with no groups.
func (c *Communicator) RegisterConnection(userID int64, connectionID, remoteAddress string) presence.Connection {
	conn := c.registry.Register(userID, connectionID, remoteAddress)
	for _, o := range c.observersSnapshot() {
		o.ConnectionOpened(conn)
	}
	return conn
}

// UnregisterConnection removes a connection and all its memberships.
// Unknown ids are a no-op.
func (c *Communicator) UnregisterConnection(connectionID string) bool {
	conn, ok := c.registry.Unregister(connectionID)
	if !ok {
		return false
	}
	for _, o := range c.observersSnapshot() {
		o.ConnectionClosed(conn)
	}
	return true
}

// ----------------------------------------------------------------------------
// Group membership
// ----------------------------------------------------------------------------

// AddConnectionToGroups subscribes one connection to groups.
func (c *Communicator) AddConnectionToGroups(connectionID string, groups ...string) {
	c.registry.AddToGroups(connectionID, groups...)
}

// RemoveConnectionFromGroups unsubscribes one connection from groups.
func (c *Communicator) RemoveConnectionFromGroups(connectionID string, groups ...string) {
	c.registry.RemoveFromGroups(connectionID, groups...)
}

// AddUserToGroups subscribes every live connection of the user.
// Connections opened later are not affected.
func (c *Communicator) AddUserToGroups(userID int64, groups ...string) {
	c.registry.AddUserToGroups(userID, groups...)
}

// RemoveUserFromGroups unsubscribes every live connection of the user.
func (c *Communicator) RemoveUserFromGroups(userID int64, groups ...string) {
	c.registry.RemoveUserFromGroups(userID, groups...)
}

// ----------------------------------------------------------------------------
// Notification
// ----------------------------------------------------------------------------

// NotifyGroup pushes to every subscriber of the group.
func (c *Communicator) NotifyGroup(ctx context.Context, group, method string, payload any) (int, error) {
	return c.notifier.NotifyGroup(ctx, group, method, payload)
}

// NotifyConnection pushes to one connection; offline connections are skipped.
func (c *Communicator) NotifyConnection(ctx context.Context, connectionID string, entityID int64, method string, payload any) error {
	return c.notifier.NotifyConnection(ctx, connectionID, entityID, method, payload)
}

// NotifyForEntity pushes to connections following the entity or any of its
// sub-topics.
func (c *Communicator) NotifyForEntity(ctx context.Context, entity notify.Entity, method string, payload any) (int, error) {
	return c.notifier.NotifyForEntity(ctx, entity, method, payload)
}

// NotifyUser pushes to every live connection of the user.
func (c *Communicator) NotifyUser(ctx context.Context, userID int64, method string, payload any) (int, error) {
	return c.notifier.NotifyUser(ctx, userID, method, payload)
}

// ----------------------------------------------------------------------------
// Device channels
// ----------------------------------------------------------------------------

// RegisterDeviceChannel installs the device's channel, replacing and
// cancelling any previous one. A capacity <= 0 uses the configured default.
// The returned handle is what the device loop should consume from and
// eventually pass to ReleaseDeviceChannel.
func (c *Communicator) RegisterDeviceChannel(deviceID int64, stream devicechannel.Stream, capacity int) *devicechannel.Channel {
	ch := c.devices.Register(deviceID, stream, capacity)
	remote := ""
	if stream != nil {
		remote = stream.RemoteAddr()
	}
	for _, o := range c.observersSnapshot() {
		o.DeviceOnline(deviceID, remote)
	}
	return ch
}

// UnregisterDeviceChannel removes the device's channel and stops its waiter.
func (c *Communicator) UnregisterDeviceChannel(deviceID int64) bool {
	if !c.devices.Unregister(deviceID) {
		return false
	}
	c.deviceOffline(deviceID)
	return true
}

// ReleaseDeviceChannel removes ch if it is still the device's current
// channel. Device loops call this on exit so a stale loop never removes a
// newer channel.
func (c *Communicator) ReleaseDeviceChannel(ch *devicechannel.Channel) bool {
	if !c.devices.Release(ch) {
		return false
	}
	c.deviceOffline(ch.DeviceID())
	return true
}

func (c *Communicator) deviceOffline(deviceID int64) {
	for _, o := range c.observersSnapshot() {
		o.DeviceOffline(deviceID)
	}
}

// DeviceStream returns the stream of the device's live channel.
// It fails with devicechannel.ErrNotRegistered when the device is offline.
func (c *Communicator) DeviceStream(deviceID int64) (devicechannel.Stream, error) {
	return c.devices.Stream(deviceID)
}

// Enqueue queues a message producer for the device. It never blocks and
// returns false when the device is offline.
func (c *Communicator) Enqueue(deviceID int64, p devicechannel.Producer) bool {
	return c.devices.Enqueue(deviceID, p)
}

// EnqueuePayload queues a fixed payload for the device.
func (c *Communicator) EnqueuePayload(deviceID int64, payload []byte) bool {
	data := append([]byte(nil), payload...)
	return c.devices.Enqueue(deviceID, func(context.Context) ([]byte, error) {
		return data, nil
	})
}

// NextMessage blocks until a message is available for the device, the
// channel is stopped or ctx is done.
func (c *Communicator) NextMessage(ctx context.Context, deviceID int64) (devicechannel.Producer, error) {
	return c.devices.Next(ctx, deviceID)
}

// StopDevice cancels the device's pending wait, or the next one if none is
// parked.
func (c *Communicator) StopDevice(deviceID int64) {
	c.devices.Stop(deviceID)
}
