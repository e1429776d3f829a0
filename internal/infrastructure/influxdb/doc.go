// Package influxdb writes hub telemetry to InfluxDB v2.
//
// Two measurements are produced, both fed by the telemetry sampler:
//
//	hub_presence      connection, user, group and device-channel totals
//	hub_device_queue  per-device queue depth, tagged device_id
//
// Writes are batched by the client library (batch_size, flush_interval) and
// never block the caller. Write failures are reported asynchronously through
// SetOnError; connection and health check errors are returned directly.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePresence(influxdb.PresenceSample{Connections: 12, Devices: 3})
package influxdb
