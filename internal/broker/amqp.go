package broker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nerrad567/brokerwatch/internal/infrastructure/config"
)

// defaultHeartbeat is the AMQP heartbeat used when the config sets none.
const defaultHeartbeat = 10 * time.Second

// amqpConn adapts *amqp.Connection to Conn.
type amqpConn struct {
	conn *amqp.Connection
	done chan *Error

	closeOnce sync.Once
}

// dialAMQP connects to a RabbitMQ broker.
func dialAMQP(ctx context.Context, u *url.URL, cfg config.BrokerConfig, timeout time.Duration) (Conn, error) {
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	amqpCfg := amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
		Properties: amqp.Table{
			"connection_name": cfg.ClientID,
		},
	}

	type result struct {
		conn *amqp.Connection
		err  error
	}
	ch := make(chan result, 1)
	target := u.String()
	go func() {
		conn, err := amqp.DialConfig(target, amqpCfg)
		ch <- result{conn: conn, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, u.Redacted(), r.err)
		}
		return newAMQPConn(r.conn), nil
	case <-ctx.Done():
		// The handshake may still complete; close whatever it produces.
		go func() {
			if r := <-ch; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, u.Redacted(), ctx.Err())
	}
}

func newAMQPConn(conn *amqp.Connection) *amqpConn {
	c := &amqpConn{
		conn: conn,
		done: make(chan *Error, 1),
	}
	go c.forward(conn.NotifyClose(make(chan *amqp.Error, 1)))
	return c
}

// forward translates amqp close notifications. The library sends at most one
// error and then closes the channel.
func (c *amqpConn) forward(src <-chan *amqp.Error) {
	defer close(c.done)
	for e := range src {
		if e == nil {
			continue
		}
		c.done <- translateAMQP(e)
	}
}

// translateAMQP maps an amqp error to a broker error.
func translateAMQP(e *amqp.Error) *Error {
	if errors.Is(e, amqp.ErrClosed) {
		return &Error{Reason: ClosingReason, Code: e.Code, Err: e}
	}
	return &Error{
		Reason: e.Reason,
		Code:   e.Code,
		Server: e.Server,
		Err:    e,
	}
}

// Close closes the connection. Closing an already closed connection is not an error.
func (c *amqpConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		if errors.Is(err, amqp.ErrClosed) {
			err = nil
		}
	})
	return err
}

// Done implements Conn.
func (c *amqpConn) Done() <-chan *Error {
	return c.done
}

// Channel opens an AMQP channel.
func (c *amqpConn) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}
	return ch, nil
}
