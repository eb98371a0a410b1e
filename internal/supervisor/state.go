package supervisor

import "time"

// State represents the supervisor's view of the broker connection.
type State string

const (
	// StateUnconnected means no connection handle exists.
	StateUnconnected State = "unconnected"

	// StateConnected means a handle exists and nothing has gone wrong on it.
	StateConnected State = "connected"

	// StateDisconnected means a handle exists but the broker reported an
	// error or close on it.
	StateDisconnected State = "disconnected"
)

// Status is a point-in-time snapshot of the supervisor, suitable for JSON.
type Status struct {
	State            State     `json:"state"`
	Disconnected     bool      `json:"disconnected"`
	Broker           string    `json:"broker,omitempty"`
	ProbeURL         string    `json:"probe_url,omitempty"`
	ConnectedAt      time.Time `json:"connected_at"`
	ReconnectPending bool      `json:"reconnect_pending"`
	Connects         int       `json:"connects"`
	LastProbeAt      time.Time `json:"last_probe_at"`
	LastProbeOK      bool      `json:"last_probe_ok"`
	LastProbeError   string    `json:"last_probe_error,omitempty"`
	LastProbeLatency string    `json:"last_probe_latency,omitempty"`
}
