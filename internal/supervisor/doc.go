// Package supervisor keeps a broker connection alive.
//
// A Supervisor owns at most one connection handle and one health monitor.
// The monitor probes the broker out-of-band on a fixed interval and keeps a
// "disconnected" flag:
//
//   - a probe failure, or a broker error or close notification, sets it
//   - the next successful probe clears it and emits events.SignalRetry
//
// Consumers react to Retry by calling Reconnect with the channel they hold.
// Reconnect closes the channel and the connection and, after the reconnect
// delay, emits events.SignalConnectRequested. The supervisor answers that
// signal by connecting again with the configuration captured on Connect.
//
//	Probe fails → flag set → probe passes → Retry
//	    → Reconnect(ch) → delay → ConnectRequested → Connect
//
// Retry does not mean a new connection exists. It means the broker looks
// healthy again and the consumer should rebuild.
//
// # Usage
//
//	sup := supervisor.New(supervisor.Options{Bus: bus, Logger: log})
//	defer sup.Close()
//
//	h, err := sup.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	ch, _ := h.Channel()
//	bus.Subscribe(events.SignalRetry, func(events.Signal) { sup.Reconnect(ch) })
package supervisor
