package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/presence"
)

const (
	// DefaultBufferSize is used when NewRecorder is given a size <= 0.
	DefaultBufferSize = 512

	writeTimeout  = 5 * time.Second
	pruneInterval = time.Hour
)

// Logger defines the logging interface used by the Recorder.
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

// Recorder writes session events in the background.
//
// Its hook methods satisfy the communicator's Observer interface. They never
// block: when the buffer is full the event is dropped and counted, so a slow
// disk cannot stall connection handling.
type Recorder struct {
	repo      Repository
	events    chan SessionEvent
	logger    Logger
	now       func() time.Time
	retention time.Duration

	dropped atomic.Uint64
	written atomic.Uint64

	started  atomic.Bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewRecorder creates a Recorder writing to repo.
func NewRecorder(repo Repository, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Recorder{
		repo:   repo,
		events: make(chan SessionEvent, bufferSize),
		logger: noopLogger{},
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// SetRetention enables hourly pruning of events older than d.
// Zero disables pruning. Call before Start.
func (r *Recorder) SetRetention(d time.Duration) {
	r.retention = d
}

// Start launches the writer goroutine. It runs until ctx is cancelled or
// Stop is called, then drains buffered events before exiting.
func (r *Recorder) Start(ctx context.Context) {
	if r.started.Swap(true) {
		return
	}
	go r.run(ctx)
}

// Stop stops the writer and waits for buffered events to be written.
// It is a no-op if Start was never called.
func (r *Recorder) Stop() {
	if !r.started.Load() {
		return
	}
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// Dropped returns how many events were discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns how many events were stored.
func (r *Recorder) Written() uint64 { return r.written.Load() }

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)

	var prune <-chan time.Time
	if r.retention > 0 {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		prune = ticker.C
		r.prune()
	}

	for {
		select {
		case e := <-r.events:
			r.write(e)
		case <-prune:
			r.prune()
		case <-ctx.Done():
			r.drain()
			return
		case <-r.stop:
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case e := <-r.events:
			r.write(e)
		default:
			return
		}
	}
}

// write uses its own context so events still land during shutdown.
func (r *Recorder) write(e SessionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, &e); err != nil {
		r.logger.Error("writing session event failed", "kind", e.Kind, "action", e.Action, "error", err)
		return
	}
	r.written.Add(1)
}

func (r *Recorder) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	n, err := r.repo.Prune(ctx, r.now().Add(-r.retention))
	if err != nil {
		r.logger.Warn("pruning session events failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("pruned session events", "count", n)
	}
}

func (r *Recorder) enqueue(e SessionEvent) {
	e.OccurredAt = r.now()
	select {
	case r.events <- e:
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("session event buffer full, dropping events", "capacity", cap(r.events))
		}
	}
}

// ConnectionOpened records a client connection opening.
func (r *Recorder) ConnectionOpened(conn presence.Connection) {
	r.enqueue(SessionEvent{
		Kind:          KindConnection,
		Action:        ActionOpened,
		SubjectID:     conn.UserID,
		ConnectionID:  conn.ConnectionID,
		RemoteAddress: conn.RemoteAddress,
	})
}

// ConnectionClosed records a client connection closing.
func (r *Recorder) ConnectionClosed(conn presence.Connection) {
	r.enqueue(SessionEvent{
		Kind:          KindConnection,
		Action:        ActionClosed,
		SubjectID:     conn.UserID,
		ConnectionID:  conn.ConnectionID,
		RemoteAddress: conn.RemoteAddress,
	})
}

// DeviceOnline records a device channel opening.
func (r *Recorder) DeviceOnline(deviceID int64, remoteAddress string) {
	r.enqueue(SessionEvent{
		Kind:          KindDevice,
		Action:        ActionOpened,
		SubjectID:     deviceID,
		RemoteAddress: remoteAddress,
	})
}

// DeviceOffline records a device channel closing.
func (r *Recorder) DeviceOffline(deviceID int64) {
	r.enqueue(SessionEvent{
		Kind:      KindDevice,
		Action:    ActionClosed,
		SubjectID: deviceID,
	})
}
