package api

import (
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nerrad567/gray-logic-hub/internal/communicator"
	"github.com/nerrad567/gray-logic-hub/internal/notify"
)

const metricsNamespace = "grayhub"

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Runtime       RuntimeMetrics     `json:"runtime"`
	WebSocket     WSMetrics          `json:"websocket"`
	Hub           communicator.Stats `json:"hub"`
	MQTT          *MQTTMetrics       `json:"mqtt,omitempty"`
	Relay         *RelayMetrics      `json:"relay,omitempty"`
	Audit         *AuditMetrics      `json:"audit,omitempty"`
	Database      *DatabaseMetrics   `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains client session statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// RelayMetrics contains MQTT relay counters.
type RelayMetrics struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

// AuditMetrics contains session trail counters.
type AuditMetrics struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Hub: s.comm.Stats(),
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}
	if s.relay != nil {
		metrics.Relay = &RelayMetrics{
			Published: s.relay.Published(),
			Dropped:   s.relay.Dropped(),
		}
	}
	if s.audit != nil {
		metrics.Audit = &AuditMetrics{
			Written: s.audit.Written(),
			Dropped: s.audit.Dropped(),
		}
	}
	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

// ----------------------------------------------------------------------------
// Prometheus
// ----------------------------------------------------------------------------

// hubMetrics holds the Prometheus collectors of the API server.
// A nil *hubMetrics is valid and records nothing.
type hubMetrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	pushes       *prometheus.CounterVec
	deviceFrames *prometheus.CounterVec
	deviceLost   *prometheus.CounterVec
}

// statsSource is what the gauges read on every scrape.
type statsSource interface {
	Stats() communicator.Stats
}

// newHubMetrics registers all collectors with reg.
func newHubMetrics(reg prometheus.Registerer, src statsSource, sessions func() int) *hubMetrics {
	factory := promauto.With(reg)

	gauge := func(name, help string, fn func(communicator.Stats) float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return fn(src.Stats()) })
	}
	counter := func(name, help string, fn func(communicator.Stats) float64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return fn(src.Stats()) })
	}

	gauge("connections", "Live client connections.",
		func(s communicator.Stats) float64 { return float64(s.Presence.Connections) })
	gauge("online_users", "Users with at least one live connection.",
		func(s communicator.Stats) float64 { return float64(s.Presence.OnlineUsers) })
	gauge("groups", "Groups with at least one subscriber.",
		func(s communicator.Stats) float64 { return float64(s.Presence.Groups) })
	gauge("device_channels", "Devices with an open stream.",
		func(s communicator.Stats) float64 { return float64(s.Devices.Channels) })
	gauge("device_waiting", "Device loops parked waiting for a message.",
		func(s communicator.Stats) float64 { return float64(s.Devices.Waiting) })
	gauge("device_queued", "Messages queued across all devices.",
		func(s communicator.Stats) float64 { return float64(s.Devices.Queued) })
	counter("device_enqueued_total", "Messages accepted for devices.",
		func(s communicator.Stats) float64 { return float64(s.Devices.Enqueued) })
	counter("device_delivered_total", "Messages handed to device loops.",
		func(s communicator.Stats) float64 { return float64(s.Devices.Delivered) })
	counter("device_dropped_total", "Messages evicted by full device queues.",
		func(s communicator.Stats) float64 { return float64(s.Devices.Dropped) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "websocket_clients",
		Help:      "Client WebSocket sessions attached to this server.",
	}, func() float64 { return float64(sessions()) })

	return &hubMetrics{
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		pushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notifications_pushed_total",
			Help:      "Notifications pushed to client sessions by result.",
		}, []string{"result"}),
		deviceFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "device_frames_total",
			Help:      "Device stream frames by direction.",
		}, []string{"direction"}),
		deviceLost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "device_messages_lost_total",
			Help:      "Messages taken from a device queue but never written to the stream.",
		}, []string{"reason"}),
	}
}

func (m *hubMetrics) observeHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *hubMetrics) observePush(err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, notify.ErrConnectionGone):
		result = "gone"
	case errors.Is(err, ErrSendBufferFull):
		result = "buffer_full"
	default:
		result = "error"
	}
	m.pushes.WithLabelValues(result).Inc()
}

func (m *hubMetrics) observeFrame(direction string) {
	if m == nil {
		return
	}
	m.deviceFrames.WithLabelValues(direction).Inc()
}

// observeLost counts a message that left the device queue without reaching
// the device.
func (m *hubMetrics) observeLost(reason string) {
	if m == nil {
		return
	}
	m.deviceLost.WithLabelValues(reason).Inc()
}
