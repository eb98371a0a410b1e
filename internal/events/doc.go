// Package events carries supervision signals between the broker supervisor
// and the code that consumes broker connections.
//
// The signal set is closed: SignalRetry and SignalConnectRequested.
//
//	bus := events.NewBus()
//	unsubscribe := bus.Subscribe(events.SignalRetry, func(events.Signal) {
//	    sup.Reconnect(channel)
//	})
//	defer unsubscribe()
package events
