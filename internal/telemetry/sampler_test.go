package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/communicator"
	"github.com/nerrad567/gray-logic-hub/internal/devicechannel"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hub/internal/presence"
)

type fakeSource struct {
	stats    communicator.Stats
	channels []devicechannel.Info
}

func (f *fakeSource) Stats() communicator.Stats            { return f.stats }
func (f *fakeSource) DeviceChannels() []devicechannel.Info { return f.channels }

type recordingWriter struct {
	mu       sync.Mutex
	presence []influxdb.PresenceSample
	queues   []influxdb.DeviceQueueSample
}

func (w *recordingWriter) WritePresence(s influxdb.PresenceSample) {
	w.mu.Lock()
	w.presence = append(w.presence, s)
	w.mu.Unlock()
}

func (w *recordingWriter) WriteDeviceQueue(s influxdb.DeviceQueueSample) {
	w.mu.Lock()
	w.queues = append(w.queues, s)
	w.mu.Unlock()
}

func (w *recordingWriter) presenceCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.presence)
}

func TestSampleNow(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	source := &fakeSource{
		stats: communicator.Stats{
			Presence: presence.Stats{Connections: 4, OnlineUsers: 2, Groups: 6},
			Devices:  devicechannel.Stats{Channels: 2, Waiting: 1, Queued: 3, Dropped: 5},
		},
		channels: []devicechannel.Info{
			{DeviceID: 7, Queued: 2, Capacity: 2},
			{DeviceID: 9, Queued: 1, Capacity: 1000, Waiting: true},
		},
	}
	writer := &recordingWriter{}

	s := New(Config{SiteID: "site-1", Source: source, Writer: writer})
	s.now = func() time.Time { return at }
	s.SampleNow()

	if len(writer.presence) != 1 {
		t.Fatalf("presence samples = %d, want 1", len(writer.presence))
	}
	p := writer.presence[0]
	if p.SiteID != "site-1" || p.Connections != 4 || p.OnlineUsers != 2 || p.Groups != 6 {
		t.Errorf("presence sample = %+v", p)
	}
	if p.Devices != 2 || p.Waiting != 1 || p.Queued != 3 || p.Dropped != 5 || !p.Time.Equal(at) {
		t.Errorf("presence sample device fields = %+v", p)
	}

	if len(writer.queues) != 2 {
		t.Fatalf("queue samples = %d, want 2", len(writer.queues))
	}
	if q := writer.queues[1]; q.DeviceID != 9 || q.Queued != 1 || q.Capacity != 1000 || !q.Waiting {
		t.Errorf("queue sample = %+v", q)
	}
}

func TestSampleNow_MissingDependencies(t *testing.T) {
	s := New(Config{})
	s.SampleNow()

	writer := &recordingWriter{}
	s = New(Config{Writer: writer})
	s.SampleNow()
	if writer.presenceCount() != 0 {
		t.Error("sampled without a source")
	}
}

func TestNew_DefaultInterval(t *testing.T) {
	if s := New(Config{}); s.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", s.interval, DefaultInterval)
	}
}

func TestStartSamplesImmediately(t *testing.T) {
	writer := &recordingWriter{}
	s := New(Config{Interval: time.Hour, Source: &fakeSource{}, Writer: writer})

	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for writer.presenceCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	s.Stop()

	if writer.presenceCount() != 1 {
		t.Errorf("presence samples = %d, want 1", writer.presenceCount())
	}
}

func TestStartTicks(t *testing.T) {
	writer := &recordingWriter{}
	s := New(Config{Interval: 10 * time.Millisecond, Source: &fakeSource{}, Writer: writer})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for writer.presenceCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	s.Stop()

	if writer.presenceCount() < 3 {
		t.Errorf("presence samples = %d, want at least 3", writer.presenceCount())
	}
}
