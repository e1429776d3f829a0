package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the hub.
const (
	MeasurementPresence    = "hub_presence"
	MeasurementDeviceQueue = "hub_device_queue"
)

// PresenceSample is a snapshot of connection and device-channel counts.
type PresenceSample struct {
	SiteID      string
	Connections int
	OnlineUsers int
	Groups      int
	Devices     int
	Waiting     int
	Queued      int
	Enqueued    uint64
	Delivered   uint64
	Dropped     uint64
	Time        time.Time
}

// DeviceQueueSample is the queue state of one device channel.
type DeviceQueueSample struct {
	SiteID   string
	DeviceID int64
	Queued   int
	Capacity int
	Waiting  bool
	Time     time.Time
}

// PresencePoint builds the hub_presence point for s.
func PresencePoint(s PresenceSample) *write.Point {
	return write.NewPoint(
		MeasurementPresence,
		siteTags(s.SiteID),
		map[string]any{
			"connections":     s.Connections,
			"online_users":    s.OnlineUsers,
			"groups":          s.Groups,
			"devices":         s.Devices,
			"waiting":         s.Waiting,
			"queued":          s.Queued,
			"enqueued_total":  s.Enqueued,
			"delivered_total": s.Delivered,
			"dropped_total":   s.Dropped,
		},
		sampleTime(s.Time),
	)
}

// DeviceQueuePoint builds the hub_device_queue point for s.
func DeviceQueuePoint(s DeviceQueueSample) *write.Point {
	tags := siteTags(s.SiteID)
	tags["device_id"] = strconv.FormatInt(s.DeviceID, 10)

	return write.NewPoint(
		MeasurementDeviceQueue,
		tags,
		map[string]any{
			"queued":   s.Queued,
			"capacity": s.Capacity,
			"waiting":  s.Waiting,
		},
		sampleTime(s.Time),
	)
}

func siteTags(siteID string) map[string]string {
	tags := make(map[string]string, 2)
	if siteID != "" {
		tags["site_id"] = siteID
	}
	return tags
}

func sampleTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// WritePresence queues a hub_presence point. Dropped when disconnected.
func (c *Client) WritePresence(s PresenceSample) {
	c.WritePoint(PresencePoint(s))
}

// WriteDeviceQueue queues a hub_device_queue point. Dropped when disconnected.
func (c *Client) WriteDeviceQueue(s DeviceQueueSample) {
	c.WritePoint(DeviceQueuePoint(s))
}

// WritePoint queues an arbitrary point.
func (c *Client) WritePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}
