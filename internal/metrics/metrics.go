package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/brokerwatch/internal/supervisor"
)

const namespace = "brokerwatch"

// Probe result label values.
const (
	resultOK   = "ok"
	resultFail = "fail"
)

// stateValues maps connection states to the connection_state gauge.
var stateValues = map[supervisor.State]float64{
	supervisor.StateUnconnected:  0,
	supervisor.StateConnected:    1,
	supervisor.StateDisconnected: 2,
}

// Collectors holds the supervision metrics. It implements supervisor.Observer.
type Collectors struct {
	probes          *prometheus.CounterVec
	probeDuration   prometheus.Histogram
	transitions     *prometheus.CounterVec
	disconnected    prometheus.Gauge
	connectionState prometheus.Gauge
}

// New creates the collectors and registers them on reg.
//
// Returns:
//   - *Collectors: ready to observe
//   - error: if any collector is already registered on reg
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Health probes run, by result.",
		}, []string{"result"}),
		probeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Health probe latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Supervision transitions, by kind.",
		}, []string{"kind"}),
		disconnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "disconnected",
			Help:      "1 while the supervisor holds negative health evidence.",
		}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Connection state: 0 unconnected, 1 connected, 2 disconnected.",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.probes, c.probeDuration, c.transitions, c.disconnected, c.connectionState,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}

	// Pre-create label series so dashboards see zeroes before the first event.
	c.probes.WithLabelValues(resultOK)
	c.probes.WithLabelValues(resultFail)

	return c, nil
}

// ObserveProbe implements supervisor.Observer.
func (c *Collectors) ObserveProbe(r supervisor.ProbeResult) {
	result := resultOK
	if !r.OK() {
		result = resultFail
	}
	c.probes.WithLabelValues(result).Inc()
	c.probeDuration.Observe(r.Latency.Seconds())
}

// ObserveTransition implements supervisor.Observer.
func (c *Collectors) ObserveTransition(t supervisor.Transition) {
	c.transitions.WithLabelValues(string(t.Kind)).Inc()

	if v, ok := stateValues[t.State]; ok {
		c.connectionState.Set(v)
	}

	switch t.Kind {
	case supervisor.TransitionProbeFailed, supervisor.TransitionBrokerError, supervisor.TransitionBrokerClosed:
		c.disconnected.Set(1)
	case supervisor.TransitionRetry:
		c.disconnected.Set(0)
	}
}
