package devicechannel

import (
	"context"
	"sync"
	"time"
)

// DefaultCapacity is the queue capacity used when none is configured.
const DefaultCapacity = 1000

// Producer builds the payload of one outbound device message.
//
// It is invoked by the device loop at delivery time, so a message evicted by
// backpressure is never built.
type Producer func(ctx context.Context) ([]byte, error)

// Stream is the opaque handle to a device's live streaming connection.
// The hub never reads from or writes to it; it is only handed back to callers.
type Stream interface {
	// Context is cancelled when the underlying connection ends.
	Context() context.Context

	// RemoteAddr identifies the peer for diagnostics.
	RemoteAddr() string
}

// waiter is the single parked Next call of a channel.
type waiter struct {
	deliver chan Producer // buffered(1): hand-off never blocks the producer
	stop    chan struct{} // closed by Stop
}

// Channel is the bounded, single-consumer message queue of one device.
//
// Thread Safety: all methods are safe for concurrent use. Each channel has
// its own lock, so a slow device never stalls operations on another.
type Channel struct {
	deviceID int64
	stream   Stream
	capacity int
	openedAt time.Time
	counters *counters

	mu            sync.Mutex
	queue         []Producer
	waiting       *waiter
	stopRequested bool
	closed        bool
}

func newChannel(deviceID int64, stream Stream, capacity int, c *counters) *Channel {
	return &Channel{
		deviceID: deviceID,
		stream:   stream,
		capacity: capacity,
		openedAt: time.Now().UTC(),
		counters: c,
	}
}

// DeviceID returns the device this channel belongs to.
func (c *Channel) DeviceID() int64 { return c.deviceID }

// Stream returns the device's stream handle.
func (c *Channel) Stream() Stream { return c.stream }

// Capacity returns the maximum number of queued messages.
func (c *Channel) Capacity() int { return c.capacity }

// OpenedAt returns when the channel was registered.
func (c *Channel) OpenedAt() time.Time { return c.openedAt }

// Len returns the number of queued messages.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Waiting reports whether a consumer is currently parked in Next.
func (c *Channel) Waiting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiting != nil
}

// Enqueue offers a message to the device. It never blocks.
//
// A parked consumer receives the message directly. Otherwise the message is
// queued; if the queue is full the oldest entry is evicted first.
// Enqueue on a closed channel is a no-op and returns false.
func (c *Channel) Enqueue(p Producer) bool {
	if p == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.counters.enqueued.Add(1)

	if w := c.waiting; w != nil {
		c.waiting = nil
		w.deliver <- p
		return true
	}

	c.queue = append(c.queue, p)
	c.trimLocked()
	return true
}

// Next returns the oldest queued message, or waits for one.
//
// It returns:
//   - the message, as soon as one is queued or handed over by Enqueue
//   - ErrStopped if Stop cancels the wait, if a stop was requested while
//     nobody was waiting, or if the channel has been unregistered
//   - ErrWaiterActive if another Next is already parked on this channel
//   - ctx.Err() if ctx ends first
func (c *Channel) Next(ctx context.Context) (Producer, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrStopped
	}
	if c.waiting != nil {
		c.mu.Unlock()
		return nil, ErrWaiterActive
	}
	if len(c.queue) > 0 {
		p := c.popLocked()
		c.mu.Unlock()
		c.counters.delivered.Add(1)
		return p, nil
	}
	if c.stopRequested {
		c.stopRequested = false
		c.mu.Unlock()
		return nil, ErrStopped
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	w := &waiter{
		deliver: make(chan Producer, 1),
		stop:    make(chan struct{}),
	}
	c.waiting = w
	c.mu.Unlock()

	select {
	case p := <-w.deliver:
		c.counters.delivered.Add(1)
		return p, nil
	case <-w.stop:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, c.abandon(w, ctx.Err())
	}
}

// abandon releases the waiter slot after ctx ended. If Enqueue handed a
// message over in the meantime it goes back to the head of the queue.
func (c *Channel) abandon(w *waiter, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.waiting == w {
		c.waiting = nil
		return cause
	}

	select {
	case p := <-w.deliver:
		if !c.closed {
			c.queue = append([]Producer{p}, c.queue...)
			c.trimLocked()
		}
	default:
	}
	return cause
}

// trimLocked evicts from the head until the queue fits its capacity.
// c.mu must be held.
func (c *Channel) trimLocked() {
	for len(c.queue) > c.capacity {
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.counters.dropped.Add(1)
	}
}

// popLocked removes and returns the head of the queue. c.mu must be held.
func (c *Channel) popLocked() Producer {
	p := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	if len(c.queue) == 0 {
		c.queue = nil
	}
	return p
}

// Stop cancels the parked consumer, if any. Otherwise the request is kept
// and cancels the next Next call that would have to wait. Stop is idempotent.
func (c *Channel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w := c.waiting; w != nil {
		c.waiting = nil
		close(w.stop)
		return
	}
	c.stopRequested = true
}

// close moves the channel to its terminal state: the parked consumer is
// cancelled, queued messages are discarded and every later Next fails.
func (c *Channel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if w := c.waiting; w != nil {
		c.waiting = nil
		close(w.stop)
	}
	c.queue = nil
}
