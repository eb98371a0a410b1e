package broker

import (
	"sync"
)

// Conn is a transport-neutral broker connection.
type Conn interface {
	// Close tears the connection down gracefully.
	Close() error

	// Done yields errors reported by the broker and is closed once the
	// connection has ended. A graceful Close closes it without a value.
	Done() <-chan *Error
}

// Channel is a consumer-side channel opened on a connection.
type Channel interface {
	Close() error
}

// ChannelOpener is implemented by transports that multiplex channels.
type ChannelOpener interface {
	Channel() (Channel, error)
}

// Listeners receives connection notifications from a Handle.
// Either callback may be nil.
type Listeners struct {
	// OnError is invoked when the broker reports a connection error.
	OnError func(err *Error)

	// OnClose is invoked once when the connection has ended.
	// err is the last reported error, or nil for a graceful close.
	OnClose func(err *Error)
}

// Handle wraps a live Conn and turns its lifecycle into notifications.
//
// After Close is called no further notifications are delivered, so a
// deliberate teardown is never reported as a disconnect.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Listeners are invoked from a dedicated goroutine owned by the Handle.
type Handle struct {
	conn      Conn
	listeners Listeners

	mu     sync.Mutex
	closed bool

	// watched is closed once the watcher goroutine has returned.
	watched chan struct{}
}

// NewHandle wraps conn and starts delivering its notifications to l.
func NewHandle(conn Conn, l Listeners) *Handle {
	h := &Handle{
		conn:      conn,
		listeners: l,
		watched:   make(chan struct{}),
	}
	go h.watch()
	return h
}

// watch forwards transport notifications until the connection ends.
func (h *Handle) watch() {
	defer close(h.watched)

	var last *Error
	for err := range h.conn.Done() {
		if err == nil {
			continue
		}
		last = err
		if h.Closed() {
			continue
		}
		if h.listeners.OnError != nil {
			h.listeners.OnError(err)
		}
	}

	if h.Closed() {
		return
	}
	if h.listeners.OnClose != nil {
		h.listeners.OnClose(last)
	}
}

// Close closes the underlying connection. It is safe to call more than once;
// only the first call reaches the transport.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	return h.conn.Close()
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Channel opens a consumer channel on the connection.
//
// Returns:
//   - Channel: an AMQP channel, or an MQTT subscription set
//   - error: ErrHandleClosed after Close, ErrChannelsUnsupported if the
//     transport has no channel concept, or the transport's error
func (h *Handle) Channel() (Channel, error) {
	if h.Closed() {
		return nil, ErrHandleClosed
	}
	opener, ok := h.conn.(ChannelOpener)
	if !ok {
		return nil, ErrChannelsUnsupported
	}
	return opener.Channel()
}

// Conn returns the wrapped transport connection.
func (h *Handle) Conn() Conn {
	return h.conn
}
