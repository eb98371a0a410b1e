// Package metrics exposes supervision state to Prometheus.
//
// Collectors implements supervisor.Observer and maintains:
//
//   - brokerwatch_probes_total{result="ok"|"fail"}
//   - brokerwatch_probe_duration_seconds
//   - brokerwatch_transitions_total{kind}
//   - brokerwatch_disconnected
//   - brokerwatch_connection_state
//
// Handler serves a registry in the Prometheus exposition format.
package metrics
