// Package telemetry periodically samples hub statistics and writes them to
// the time-series store.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/communicator"
	"github.com/nerrad567/gray-logic-hub/internal/devicechannel"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/influxdb"
)

// DefaultInterval is used when Config.Interval is zero.
const DefaultInterval = 15 * time.Second

// Source provides the statistics to sample. *communicator.Communicator
// satisfies it.
type Source interface {
	Stats() communicator.Stats
	DeviceChannels() []devicechannel.Info
}

// Writer stores samples. *influxdb.Client satisfies it.
type Writer interface {
	WritePresence(s influxdb.PresenceSample)
	WriteDeviceQueue(s influxdb.DeviceQueueSample)
}

// Logger defines the logging interface used by the sampler.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Config configures a Sampler.
type Config struct {
	SiteID   string
	Interval time.Duration
	Source   Source
	Writer   Writer
}

// Sampler writes one presence sample and one queue sample per live device
// channel every interval.
type Sampler struct {
	siteID   string
	interval time.Duration
	source   Source
	writer   Writer
	now      func() time.Time

	logger   Logger
	loggerMu sync.RWMutex

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Sampler. Call Start to begin sampling.
func New(cfg Config) *Sampler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{
		siteID:   cfg.SiteID,
		interval: interval,
		source:   cfg.Source,
		writer:   cfg.Writer,
		now:      time.Now,
		logger:   noopLogger{},
		done:     make(chan struct{}),
	}
}

// SetLogger sets the logger for the sampler.
func (s *Sampler) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Sampler) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Start takes a sample immediately and then every interval until ctx is
// cancelled or Stop is called.
func (s *Sampler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop ends sampling and waits for the loop to exit.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

func (s *Sampler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SampleNow()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.SampleNow()
		}
	}
}

// SampleNow writes one round of samples.
func (s *Sampler) SampleNow() {
	if s.source == nil || s.writer == nil {
		return
	}

	now := s.now()
	stats := s.source.Stats()
	s.writer.WritePresence(influxdb.PresenceSample{
		SiteID:      s.siteID,
		Connections: stats.Presence.Connections,
		OnlineUsers: stats.Presence.OnlineUsers,
		Groups:      stats.Presence.Groups,
		Devices:     stats.Devices.Channels,
		Waiting:     stats.Devices.Waiting,
		Queued:      stats.Devices.Queued,
		Enqueued:    stats.Devices.Enqueued,
		Delivered:   stats.Devices.Delivered,
		Dropped:     stats.Devices.Dropped,
		Time:        now,
	})

	channels := s.source.DeviceChannels()
	for _, ch := range channels {
		s.writer.WriteDeviceQueue(influxdb.DeviceQueueSample{
			SiteID:   s.siteID,
			DeviceID: ch.DeviceID,
			Queued:   ch.Queued,
			Capacity: ch.Capacity,
			Waiting:  ch.Waiting,
			Time:     now,
		})
	}

	s.getLogger().Debug("telemetry sampled",
		"connections", stats.Presence.Connections,
		"devices", len(channels),
	)
}
