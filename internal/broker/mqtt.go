package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/brokerwatch/internal/infrastructure/config"
)

// MQTT connection constants.
const (
	// defaultKeepAlive is the keepalive interval when the config sets none.
	defaultKeepAlive = 60 * time.Second

	// defaultOperationTimeout bounds subscribe and unsubscribe round trips.
	defaultOperationTimeout = 5 * time.Second

	// disconnectQuiesce is the time in milliseconds to wait for pending work on Close.
	disconnectQuiesce = 250

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// mqttConn adapts a paho client to Conn.
type mqttConn struct {
	client pahomqtt.Client
	done   chan *Error

	doneOnce  sync.Once
	closeOnce sync.Once
}

// dialMQTT connects to an MQTT broker.
//
// Paho's own reconnect logic is disabled: a lost connection is reported
// through Done and the supervisor decides what happens next.
func dialMQTT(ctx context.Context, u *url.URL, cfg config.BrokerConfig, timeout time.Duration) (Conn, error) {
	c := &mqttConn{done: make(chan *Error, 1)}

	opts := buildMQTTOptions(u, cfg, timeout)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.lost(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, u.Redacted(), ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, u.Redacted(), err)
	}

	return c, nil
}

// buildMQTTOptions creates paho options from the broker config.
//
// This configures:
//   - Broker URL (mqtt:// and mqtts:// are mapped to tcp:// and ssl://)
//   - Client ID and credentials taken from the URL userinfo
//   - Clean session, no auto-reconnect, no connect retry
//   - TLS 1.2+ for secure schemes
func buildMQTTOptions(u *url.URL, cfg config.BrokerConfig, timeout time.Duration) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	target := *u
	target.User = nil
	secure := false
	switch strings.ToLower(target.Scheme) {
	case "mqtt":
		target.Scheme = "tcp"
	case "mqtts":
		target.Scheme = "ssl"
		secure = true
	case "ssl", "tls", "wss":
		secure = true
	}
	opts.AddBroker(target.String())

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "brokerwatch"
	}
	opts.SetClientID(clientID)

	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pass, ok := u.User.Password(); ok {
			opts.SetPassword(pass)
		}
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(timeout)

	keepAlive := cfg.Heartbeat
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	if secure {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// lost is paho's connection-lost callback.
func (c *mqttConn) lost(err error) {
	reason := "connection lost"
	if err != nil {
		reason = err.Error()
	}
	c.finish(&Error{Reason: reason, Server: true, Err: err})
}

// finish delivers e (if any) and closes Done exactly once.
func (c *mqttConn) finish(e *Error) {
	c.doneOnce.Do(func() {
		if e != nil {
			c.done <- e
		}
		close(c.done)
	})
}

// Close disconnects from the broker with a short quiesce period.
func (c *mqttConn) Close() error {
	c.closeOnce.Do(func() {
		c.client.Disconnect(disconnectQuiesce)
		c.finish(nil)
	})
	return nil
}

// Done implements Conn.
func (c *mqttConn) Done() <-chan *Error {
	return c.done
}

// Channel returns a fresh subscription set on this connection.
func (c *mqttConn) Channel() (Channel, error) {
	if !c.client.IsConnectionOpen() {
		return nil, ErrNotConnected
	}
	return newSubscriptions(c.client), nil
}
