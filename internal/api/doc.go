// Package api serves brokerwatch's HTTP surface.
//
// Routes:
//   - GET /metrics: Prometheus exposition (when a gatherer is supplied)
//   - GET /health: liveness and version
//   - GET /api/v1/health: dependency checks, 503 when any fails
//   - GET /api/v1/ready: 200 while connected and healthy, 503 otherwise
//   - GET /api/v1/status: supervisor snapshot
//   - GET /api/v1/transitions?limit=N: journaled transitions, newest first
//   - GET /api/v1/ws: WebSocket stream of transitions and probe results
//
// # WebSocket
//
// Clients send {"type":"subscribe","id":"1","payload":{"channels":[...]}}
// with any of "supervisor.transition" and "supervisor.probe", and then receive
// {"type":"event","event_type":...,"seq":N,"payload":...} messages. An empty
// channel list subscribes to both. Seq increases by one per event across the
// hub; a gap on a channel the client follows means frames were dropped
// because the client read too slowly. The Hub is a supervisor.Observer;
// register it with the supervisor to feed the stream.
//
// Error responses share one shape: {"status":503,"code":"not_connected",
// "message":...,"request_id":...}.
//
// The server follows the same lifecycle pattern as other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
