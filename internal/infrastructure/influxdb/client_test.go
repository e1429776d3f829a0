package influxdb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for the local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "grayhub-dev-token",
		Org:           "graylogic",
		Bucket:        "hub",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// connectOrSkip connects to the local InfluxDB or skips the test.
func connectOrSkip(t *testing.T) *influxdb.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := influxdb.Connect(ctx, testConfig())
	if err != nil {
		t.Skip("InfluxDB not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func fields(p *write.Point) map[string]any {
	out := make(map[string]any)
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func tags(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, tag := range p.TagList() {
		out[tag.Key] = tag.Value
	}
	return out
}

// =============================================================================
// Point Tests
// =============================================================================

func TestPresencePoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p := influxdb.PresencePoint(influxdb.PresenceSample{
		SiteID:      "site-1",
		Connections: 12,
		OnlineUsers: 5,
		Groups:      9,
		Devices:     3,
		Queued:      40,
		Dropped:     2,
		Time:        at,
	})

	if p.Name() != influxdb.MeasurementPresence {
		t.Errorf("Name() = %q, want %q", p.Name(), influxdb.MeasurementPresence)
	}
	if !p.Time().Equal(at) {
		t.Errorf("Time() = %v, want %v", p.Time(), at)
	}
	if got := tags(p)["site_id"]; got != "site-1" {
		t.Errorf("site_id tag = %q, want site-1", got)
	}

	f := fields(p)
	want := map[string]any{
		"connections":   int64(12),
		"online_users":  int64(5),
		"groups":        int64(9),
		"devices":       int64(3),
		"queued":        int64(40),
		"dropped_total": uint64(2),
	}
	for k, v := range want {
		if f[k] != v {
			t.Errorf("field %s = %v (%T), want %v (%T)", k, f[k], f[k], v, v)
		}
	}
}

func TestDeviceQueuePoint(t *testing.T) {
	p := influxdb.DeviceQueuePoint(influxdb.DeviceQueueSample{
		DeviceID: 42,
		Queued:   7,
		Capacity: 1000,
		Waiting:  true,
	})

	if p.Name() != influxdb.MeasurementDeviceQueue {
		t.Errorf("Name() = %q, want %q", p.Name(), influxdb.MeasurementDeviceQueue)
	}

	tg := tags(p)
	if tg["device_id"] != "42" {
		t.Errorf("device_id tag = %q, want 42", tg["device_id"])
	}
	if _, ok := tg["site_id"]; ok {
		t.Error("site_id tag present for empty site")
	}

	f := fields(p)
	if f["queued"] != int64(7) || f["capacity"] != int64(1000) || f["waiting"] != true {
		t.Errorf("fields = %v", f)
	}
	if p.Time().IsZero() {
		t.Error("Time() is zero, want now")
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := influxdb.Connect(ctx, cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var c *influxdb.Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

func TestConnect(t *testing.T) {
	client := connectOrSkip(t)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestWriteAndFlush(t *testing.T) {
	client := connectOrSkip(t)

	var writeErr error
	client.SetOnError(func(err error) { writeErr = err })

	client.WritePresence(influxdb.PresenceSample{SiteID: "test", Connections: 1})
	client.WriteDeviceQueue(influxdb.DeviceQueueSample{SiteID: "test", DeviceID: 1, Queued: 2, Capacity: 10})
	client.Flush()

	if writeErr != nil {
		t.Errorf("async write error = %v", writeErr)
	}
}

func TestAfterClose(t *testing.T) {
	client := connectOrSkip(t)
	client.Close()

	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}

	// Writes and flushes after close are no-ops.
	client.WritePresence(influxdb.PresenceSample{})
	client.Flush()
}
