// Package relay bridges the hub and the MQTT bus.
//
// Inbound, it accepts group notifications and raw device payloads published
// by other services. Outbound, it publishes retained user and device presence
// and forwards frames read from device streams. Outbound publishes go through
// a bounded queue drained by one worker, so observer hooks never wait on the
// broker.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hub/internal/presence"
)

const (
	// DefaultQueueSize is used when Options.QueueSize <= 0.
	DefaultQueueSize = 1024

	defaultNotifyTimeout = 5 * time.Second

	subscribeQoS = 1
)

// Presence states published on the presence topics.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// MQTTClient is the subset of *mqtt.Client used by the relay.
type MQTTClient interface {
	PublishRetained(topic string, payload []byte) error
	PublishEvent(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Hub is the subset of the communicator the relay drives.
type Hub interface {
	NotifyGroup(ctx context.Context, group, method string, payload any) (int, error)
	EnqueuePayload(deviceID int64, payload []byte) bool
	IsUserOnline(userID int64) bool
}

// Logger defines the logging interface used by the relay.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Relay.
type Options struct {
	Client MQTTClient
	Hub    Hub

	// PublishPresence enables the retained presence topics.
	PublishPresence bool

	// ForwardInbound enables publishing of device stream frames.
	ForwardInbound bool

	// QueueSize bounds the outbound backlog.
	QueueSize int

	// NotifyTimeout bounds one inbound notification fan-out.
	NotifyTimeout time.Duration

	Logger Logger
}

// NotifyRequest is the payload accepted on the notify topics.
type NotifyRequest struct {
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PresencePayload is the retained document on the presence topics.
type PresencePayload struct {
	Status        string `json:"status"`
	RemoteAddress string `json:"remote_address,omitempty"`
	Timestamp     string `json:"timestamp"`
}

type outbound struct {
	topic    string
	payload  []byte
	retained bool
}

// Relay connects the communicator to MQTT. It implements the communicator's
// Observer interface for presence publishing.
type Relay struct {
	client MQTTClient
	hub    Hub
	logger Logger
	now    func() time.Time

	publishPresence bool
	forwardInbound  bool
	notifyTimeout   time.Duration

	queue     chan outbound
	dropped   atomic.Uint64
	published atomic.Uint64

	ctx      context.Context
	cancel   context.CancelFunc
	started  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Relay. Call Start to subscribe and begin publishing.
func New(opts Options) (*Relay, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}

	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	timeout := opts.NotifyTimeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}

	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	return &Relay{
		client:          opts.Client,
		hub:             opts.Hub,
		logger:          logger,
		now:             time.Now,
		publishPresence: opts.PublishPresence,
		forwardInbound:  opts.ForwardInbound,
		notifyTimeout:   timeout,
		queue:           make(chan outbound, size),
		done:            make(chan struct{}),
	}, nil
}

// Start subscribes to the inbound topics and starts the publish worker.
// The worker runs until ctx is cancelled or Stop is called.
func (r *Relay) Start(ctx context.Context) error {
	if r.started.Swap(true) {
		return nil
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	topics := mqtt.Topics{}
	if err := r.client.Subscribe(topics.AllNotify(), subscribeQoS, r.handleNotify); err != nil {
		r.cancel()
		close(r.done)
		return fmt.Errorf("subscribe to notifications: %w", err)
	}
	if err := r.client.Subscribe(topics.AllDeviceCommands(), subscribeQoS, r.handleDeviceCommand); err != nil {
		r.cancel()
		close(r.done)
		return fmt.Errorf("subscribe to device commands: %w", err)
	}

	go r.run()

	r.logger.Info("MQTT relay started",
		"notify_topic", topics.AllNotify(),
		"command_topic", topics.AllDeviceCommands(),
		"publish_presence", r.publishPresence,
		"forward_inbound", r.forwardInbound,
	)
	return nil
}

// Stop unsubscribes, publishes what is already queued and waits for the
// worker to exit. It is a no-op if Start was never called.
func (r *Relay) Stop() {
	if !r.started.Load() {
		return
	}
	r.stopOnce.Do(func() {
		topics := mqtt.Topics{}
		for _, topic := range []string{topics.AllNotify(), topics.AllDeviceCommands()} {
			if err := r.client.Unsubscribe(topic); err != nil {
				r.logger.Debug("MQTT relay unsubscribe failed", "topic", topic, "error", err)
			}
		}
		r.cancel()
	})
	<-r.done
}

// Dropped returns how many outbound messages were discarded because the
// queue was full.
func (r *Relay) Dropped() uint64 { return r.dropped.Load() }

// Published returns how many outbound messages reached the broker.
func (r *Relay) Published() uint64 { return r.published.Load() }

// ----------------------------------------------------------------------------
// Inbound
// ----------------------------------------------------------------------------

func (r *Relay) handleNotify(topic string, payload []byte) error {
	group, err := mqtt.GroupFromNotifyTopic(topic)
	if err != nil {
		return err
	}

	var req NotifyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidNotify, err)
	}
	if req.Method == "" {
		return fmt.Errorf("%w: method is required", ErrInvalidNotify)
	}

	ctx, cancel := context.WithTimeout(r.baseContext(), r.notifyTimeout)
	defer cancel()

	var body any
	if len(req.Payload) > 0 {
		body = req.Payload
	}
	n, err := r.hub.NotifyGroup(ctx, group, req.Method, body)
	if err != nil {
		return fmt.Errorf("notify group %s: %w", group, err)
	}
	r.logger.Debug("relayed MQTT notification", "group", group, "method", req.Method, "delivered", n)
	return nil
}

func (r *Relay) handleDeviceCommand(topic string, payload []byte) error {
	deviceID, err := mqtt.DeviceIDFromCommandTopic(topic)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: device %d", ErrEmptyPayload, deviceID)
	}

	if !r.hub.EnqueuePayload(deviceID, payload) {
		r.logger.Debug("device offline, MQTT command dropped", "device_id", deviceID)
	}
	return nil
}

func (r *Relay) baseContext() context.Context {
	if r.ctx != nil {
		return r.ctx
	}
	return context.Background()
}

// ----------------------------------------------------------------------------
// Outbound
// ----------------------------------------------------------------------------

// ForwardInbound publishes a frame read from a device stream. The frame is
// copied; the caller may reuse its buffer.
func (r *Relay) ForwardInbound(deviceID int64, frame []byte) {
	if !r.forwardInbound {
		return
	}
	r.enqueue(outbound{
		topic:   mqtt.Topics{}.DeviceInbound(deviceID),
		payload: append([]byte(nil), frame...),
	})
}

// ConnectionOpened publishes the user as online.
func (r *Relay) ConnectionOpened(conn presence.Connection) {
	if !r.publishPresence {
		return
	}
	r.enqueuePresence(mqtt.Topics{}.UserPresence(conn.UserID), StatusOnline, "")
}

// ConnectionClosed publishes the user as offline once their last connection
// has gone.
func (r *Relay) ConnectionClosed(conn presence.Connection) {
	if !r.publishPresence || r.hub.IsUserOnline(conn.UserID) {
		return
	}
	r.enqueuePresence(mqtt.Topics{}.UserPresence(conn.UserID), StatusOffline, "")
}

// DeviceOnline publishes the device as online.
func (r *Relay) DeviceOnline(deviceID int64, remoteAddress string) {
	if !r.publishPresence {
		return
	}
	r.enqueuePresence(mqtt.Topics{}.DevicePresence(deviceID), StatusOnline, remoteAddress)
}

// DeviceOffline publishes the device as offline.
func (r *Relay) DeviceOffline(deviceID int64) {
	if !r.publishPresence {
		return
	}
	r.enqueuePresence(mqtt.Topics{}.DevicePresence(deviceID), StatusOffline, "")
}

func (r *Relay) enqueuePresence(topic, status, remoteAddress string) {
	payload, err := json.Marshal(PresencePayload{
		Status:        status,
		RemoteAddress: remoteAddress,
		Timestamp:     r.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		r.logger.Error("marshalling presence payload failed", "topic", topic, "error", err)
		return
	}
	r.enqueue(outbound{topic: topic, payload: payload, retained: true})
}

func (r *Relay) enqueue(msg outbound) {
	select {
	case r.queue <- msg:
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("MQTT relay queue full, dropping messages", "capacity", cap(r.queue))
		}
	}
}

func (r *Relay) run() {
	defer close(r.done)

	for {
		select {
		case msg := <-r.queue:
			r.publish(msg)
		case <-r.ctx.Done():
			r.drain()
			return
		}
	}
}

func (r *Relay) drain() {
	for {
		select {
		case msg := <-r.queue:
			r.publish(msg)
		default:
			return
		}
	}
}

func (r *Relay) publish(msg outbound) {
	var err error
	if msg.retained {
		err = r.client.PublishRetained(msg.topic, msg.payload)
	} else {
		err = r.client.PublishEvent(msg.topic, msg.payload)
	}
	if err != nil {
		r.logger.Warn("MQTT relay publish failed", "topic", msg.topic, "error", err)
		return
	}
	r.published.Add(1)
}
