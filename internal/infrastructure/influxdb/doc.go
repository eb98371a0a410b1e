// Package influxdb writes broker supervision telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched non-blocking writes, and health checks.
//
// # Measurements
//
//   - broker_probe: one point per health check (ok, latency_ms, error)
//   - broker_transition: one point per supervision transition (kind, state, detail)
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteProbe("amqp://rabbit:5672/", time.Now(), 12*time.Millisecond, nil)
//
// # Error Handling
//
// Writes are non-blocking; batch errors are delivered to the SetOnError
// callback. Connection and health check errors are returned directly.
package influxdb
