// Package broker provides transport-neutral message broker connections.
//
// This package manages:
//   - Dialling RabbitMQ (amqp091) or MQTT (paho) brokers, chosen by URL scheme
//   - Wrapping a live connection in a Handle that reports errors and closes
//   - Opening consumer channels (AMQP channels or MQTT subscription sets)
//
// # Notifications
//
// A Handle delivers two kinds of notification to its Listeners:
//
//   - OnError: the broker reported a problem, with a human-readable reason
//   - OnClose: the connection ended
//
// After Handle.Close is called nothing further is delivered, so tearing a
// connection down on purpose never looks like a broker failure. The reason
// ClosingReason ("Connection closing") marks a connection that was already
// shutting down; consumers are expected to ignore it.
//
// # Reconnection
//
// Neither transport reconnects on its own. Paho's auto-reconnect is disabled
// so that the caller is the single owner of reconnect policy.
//
// # Usage
//
//	conn, err := broker.Dial(ctx, cfg.Broker)
//	if err != nil {
//	    return err
//	}
//	h := broker.NewHandle(conn, broker.Listeners{
//	    OnError: func(e *broker.Error) { log.Printf("broker error: %s", e.Reason) },
//	    OnClose: func(*broker.Error) { log.Print("broker closed") },
//	})
//	defer h.Close()
//
//	ch, err := h.Channel()
package broker
