package devicechannel

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// counters are shared by all channels of a Manager, including channels that
// have since been unregistered.
type counters struct {
	enqueued  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Stats summarises device channel activity.
type Stats struct {
	Channels  int    `json:"channels"`
	Waiting   int    `json:"waiting"`
	Queued    int    `json:"queued"`
	Enqueued  uint64 `json:"enqueued_total"`
	Delivered uint64 `json:"delivered_total"`
	Dropped   uint64 `json:"dropped_total"`
}

// Info describes one live device channel.
type Info struct {
	DeviceID      int64     `json:"device_id"`
	RemoteAddress string    `json:"remote_address,omitempty"`
	OpenedAt      time.Time `json:"opened_at"`
	Queued        int       `json:"queued"`
	Capacity      int       `json:"capacity"`
	Waiting       bool      `json:"waiting"`
}

// Manager owns the channel of every connected device.
//
// There is at most one authoritative channel per device ID.
//
// Thread Safety: all methods are safe for concurrent use. The manager lock
// only guards the ID -> channel map; queue operations use per-channel locks.
type Manager struct {
	mu              sync.RWMutex
	channels        map[int64]*Channel
	defaultCapacity int
	counters        counters
	logger          Logger
}

// NewManager creates a device channel manager. Channels registered without an
// explicit capacity use defaultCapacity (DefaultCapacity if <= 0).
func NewManager(defaultCapacity int) *Manager {
	if defaultCapacity <= 0 {
		defaultCapacity = DefaultCapacity
	}
	return &Manager{
		channels:        make(map[int64]*Channel),
		defaultCapacity: defaultCapacity,
		logger:          noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Register installs a new channel for the device and returns it.
//
// A capacity <= 0 selects the manager default. If the device already had a
// channel, the old one is closed: its parked consumer (if any) receives
// ErrStopped and its queued messages are discarded.
func (m *Manager) Register(deviceID int64, stream Stream, capacity int) *Channel {
	if capacity <= 0 {
		capacity = m.defaultCapacity
	}
	ch := newChannel(deviceID, stream, capacity, &m.counters)

	m.mu.Lock()
	old := m.channels[deviceID]
	m.channels[deviceID] = ch
	m.mu.Unlock()

	if old != nil {
		old.close()
		m.logger.Warn("device channel replaced", "device_id", deviceID)
	}
	m.logger.Debug("device channel registered", "device_id", deviceID, "capacity", capacity)
	return ch
}

// Unregister removes the device's channel and stops it.
// It returns false if the device had no channel.
func (m *Manager) Unregister(deviceID int64) bool {
	m.mu.Lock()
	ch, ok := m.channels[deviceID]
	delete(m.channels, deviceID)
	m.mu.Unlock()

	if !ok {
		return false
	}
	ch.close()
	m.logger.Debug("device channel unregistered", "device_id", deviceID)
	return true
}

// Release closes ch and unregisters it if it is still the device's current
// channel. A device loop should defer Release on the channel it registered so
// that a stale loop can never remove the channel that replaced it.
// It returns true if ch was the current channel.
func (m *Manager) Release(ch *Channel) bool {
	if ch == nil {
		return false
	}

	m.mu.Lock()
	current := m.channels[ch.deviceID] == ch
	if current {
		delete(m.channels, ch.deviceID)
	}
	m.mu.Unlock()

	ch.close()
	if current {
		m.logger.Debug("device channel released", "device_id", ch.deviceID)
	}
	return current
}

// Channel returns the device's current channel.
func (m *Manager) Channel(deviceID int64) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[deviceID]
	return ch, ok
}

// Stream returns the device's stream handle, or ErrNotRegistered.
func (m *Manager) Stream(deviceID int64) (Stream, error) {
	ch, ok := m.Channel(deviceID)
	if !ok {
		return nil, ErrNotRegistered
	}
	return ch.Stream(), nil
}

// Enqueue offers a message to the device. Unknown devices are ignored and
// false is returned. It never blocks.
func (m *Manager) Enqueue(deviceID int64, p Producer) bool {
	ch, ok := m.Channel(deviceID)
	if !ok {
		return false
	}
	return ch.Enqueue(p)
}

// Next waits for the device's next message. See Channel.Next.
// It returns ErrNotRegistered if the device has no channel.
func (m *Manager) Next(ctx context.Context, deviceID int64) (Producer, error) {
	ch, ok := m.Channel(deviceID)
	if !ok {
		return nil, ErrNotRegistered
	}
	return ch.Next(ctx)
}

// Stop cancels the device's current or next wait. Unknown devices are ignored.
func (m *Manager) Stop(deviceID int64) {
	if ch, ok := m.Channel(deviceID); ok {
		ch.Stop()
	}
}

// IsOnline reports whether the device has a live channel.
func (m *Manager) IsOnline(deviceID int64) bool {
	_, ok := m.Channel(deviceID)
	return ok
}

// OnlineDeviceIDs returns the IDs of all devices with a live channel.
func (m *Manager) OnlineDeviceIDs() []int64 {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Channels describes every live channel, ordered by device ID.
func (m *Manager) Channels() []Info {
	m.mu.RLock()
	chans := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		chans = append(chans, ch)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(chans))
	for _, ch := range chans {
		info := Info{
			DeviceID: ch.deviceID,
			OpenedAt: ch.openedAt,
			Capacity: ch.capacity,
		}
		if ch.stream != nil {
			info.RemoteAddress = ch.stream.RemoteAddr()
		}
		ch.mu.Lock()
		info.Queued = len(ch.queue)
		info.Waiting = ch.waiting != nil
		ch.mu.Unlock()
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b Info) int {
		return cmp.Compare(a.DeviceID, b.DeviceID)
	})
	return infos
}

// Stats returns current channel counters.
func (m *Manager) Stats() Stats {
	stats := Stats{
		Enqueued:  m.counters.enqueued.Load(),
		Delivered: m.counters.delivered.Load(),
		Dropped:   m.counters.dropped.Load(),
	}
	for _, info := range m.Channels() {
		stats.Channels++
		stats.Queued += info.Queued
		if info.Waiting {
			stats.Waiting++
		}
	}
	return stats
}
