package supervisor

import "time"

// TransitionKind names a supervision event worth recording.
type TransitionKind string

const (
	TransitionConnected        TransitionKind = "connected"
	TransitionConnectFailed    TransitionKind = "connect_failed"
	TransitionBrokerError      TransitionKind = "broker_error"
	TransitionBrokerClosed     TransitionKind = "broker_closed"
	TransitionProbeFailed      TransitionKind = "probe_failed"
	TransitionRetry            TransitionKind = "retry"
	TransitionReconnect        TransitionKind = "reconnect"
	TransitionConnectRequested TransitionKind = "connect_requested"
)

// Transition is a single supervision event.
type Transition struct {
	Kind   TransitionKind
	At     time.Time
	State  State
	Detail string
}

// ProbeResult is the outcome of one health check.
type ProbeResult struct {
	At      time.Time
	Latency time.Duration
	Err     error
}

// OK reports whether the probe succeeded.
func (r ProbeResult) OK() bool {
	return r.Err == nil
}

// Observer receives probe results and transitions. Methods are called
// outside the supervisor's lock and must not block for extended periods.
type Observer interface {
	ObserveProbe(result ProbeResult)
	ObserveTransition(t Transition)
}

// Observers fans out to every non-nil observer in order.
type Observers []Observer

// ObserveProbe implements Observer.
func (o Observers) ObserveProbe(result ProbeResult) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveProbe(result)
		}
	}
}

// ObserveTransition implements Observer.
func (o Observers) ObserveTransition(t Transition) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveTransition(t)
		}
	}
}

type noopObserver struct{}

func (noopObserver) ObserveProbe(ProbeResult)     {}
func (noopObserver) ObserveTransition(Transition) {}
