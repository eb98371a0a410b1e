package influxdb

import (
	"github.com/nerrad567/brokerwatch/internal/supervisor"
)

// Observer writes supervision events for one broker as InfluxDB points.
// It implements supervisor.Observer.
type Observer struct {
	client *Client
	broker string
}

// NewObserver tags every point with broker. Pass a redacted URL.
func NewObserver(client *Client, broker string) *Observer {
	return &Observer{client: client, broker: broker}
}

// ObserveProbe implements supervisor.Observer.
func (o *Observer) ObserveProbe(r supervisor.ProbeResult) {
	o.client.WriteProbe(o.broker, r.At, r.Latency, r.Err)
}

// ObserveTransition implements supervisor.Observer.
func (o *Observer) ObserveTransition(t supervisor.Transition) {
	o.client.WriteTransition(o.broker, string(t.Kind), string(t.State), t.Detail, t.At)
}
