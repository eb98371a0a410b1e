package broker

import (
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler is the callback signature for received MQTT messages.
//
// Handlers are invoked in separate goroutines by the paho library and
// should not block for extended periods. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Subscriptions is the MQTT counterpart of an AMQP channel: a set of topic
// subscriptions that share one lifetime. Close unsubscribes from everything
// registered through it.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Subscriptions struct {
	client pahomqtt.Client

	mu     sync.Mutex
	topics map[string]byte
	closed bool

	logger   Logger
	loggerMu sync.RWMutex
}

func newSubscriptions(client pahomqtt.Client) *Subscriptions {
	return &Subscriptions{
		client: client,
		topics: make(map[string]byte),
	}
}

// SetLogger sets a logger for handler errors and panics.
// If not set, they are silently ignored.
func (s *Subscriptions) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Subscriptions) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Subscribe registers a handler for messages on topic.
//
// Topics can include MQTT wildcards (+ and #).
//
// Parameters:
//   - topic: The topic pattern to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback invoked for each message
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (s *Subscriptions) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrHandleClosed
	}
	if !s.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := s.client.Subscribe(topic, qos, s.wrapHandler(handler))
	if !token.WaitTimeout(defaultOperationTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultOperationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	s.topics[topic] = qos
	return nil
}

// Unsubscribe removes a subscription registered through this set.
func (s *Subscriptions) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[topic]; !ok {
		return nil
	}
	delete(s.topics, topic)
	return s.unsubscribe(topic)
}

// unsubscribe sends an UNSUBSCRIBE for the given topics. Caller holds s.mu.
func (s *Subscriptions) unsubscribe(topics ...string) error {
	if len(topics) == 0 || !s.client.IsConnectionOpen() {
		return nil
	}
	token := s.client.Unsubscribe(topics...)
	if !token.WaitTimeout(defaultOperationTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultOperationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// Count returns the number of active subscriptions in the set.
func (s *Subscriptions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.topics)
}

// Close unsubscribes every topic in the set. Further Subscribe calls fail
// with ErrHandleClosed. If the connection is already gone nothing is sent.
func (s *Subscriptions) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	topics := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		topics = append(topics, topic)
	}
	clear(s.topics)

	return s.unsubscribe(topics...)
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (s *Subscriptions) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := s.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := s.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
