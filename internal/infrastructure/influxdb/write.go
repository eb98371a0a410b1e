package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementProbe      = "broker_probe"
	MeasurementTransition = "broker_transition"
)

// WriteProbe records one health-check outcome.
//
// Tags: broker. Fields: ok (bool), latency_ms (float), error (string, only
// on failure).
//
// Parameters:
//   - broker: Redacted broker URL or another low-cardinality name
//   - at: When the probe started
//   - latency: How long it took
//   - probeErr: nil on success
func (c *Client) WriteProbe(broker string, at time.Time, latency time.Duration, probeErr error) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"ok":         probeErr == nil,
		"latency_ms": float64(latency) / float64(time.Millisecond),
	}
	if probeErr != nil {
		fields["error"] = probeErr.Error()
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementProbe,
		map[string]string{"broker": broker},
		fields,
		at,
	))
}

// WriteTransition records one supervision transition.
//
// Tags: broker, kind, state. Fields: detail (string), count (int, always 1,
// so transitions can be summed).
func (c *Client) WriteTransition(broker, kind, state, detail string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementTransition,
		map[string]string{
			"broker": broker,
			"kind":   kind,
			"state":  state,
		},
		map[string]interface{}{
			"detail": detail,
			"count":  1,
		},
		at,
	))
}
