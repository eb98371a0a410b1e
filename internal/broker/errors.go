package broker

import (
	"errors"
	"fmt"
)

// ClosingReason is the reason reported when a connection is already being
// torn down. It is expected during intentional teardown and is not treated
// as disconnect evidence.
const ClosingReason = "Connection closing"

// Domain-specific errors for broker operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrBroker marks a runtime error reported by an established connection.
	ErrBroker = errors.New("broker: connection error")

	// ErrDialFailed is returned when the connection attempt fails.
	ErrDialFailed = errors.New("broker: dial failed")

	// ErrUnsupportedScheme is returned for URL schemes no transport handles.
	ErrUnsupportedScheme = errors.New("broker: unsupported URL scheme")

	// ErrChannelsUnsupported is returned by Handle.Channel when the
	// transport has no channel concept.
	ErrChannelsUnsupported = errors.New("broker: transport does not support channels")

	// ErrHandleClosed is returned when using a Handle after Close.
	ErrHandleClosed = errors.New("broker: handle closed")

	// ErrNotConnected is returned when an operation needs an open connection.
	ErrNotConnected = errors.New("broker: not connected")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("broker: topic cannot be empty")

	// ErrInvalidQoS is returned when an MQTT QoS above 2 is requested.
	ErrInvalidQoS = errors.New("broker: invalid QoS level (must be 0, 1, or 2)")

	// ErrSubscribeFailed is returned when an MQTT subscription fails.
	ErrSubscribeFailed = errors.New("broker: subscribe failed")

	// ErrUnsubscribeFailed is returned when an MQTT unsubscription fails.
	ErrUnsubscribeFailed = errors.New("broker: unsubscribe failed")
)

// Error is a broker-level connection failure with a human-readable reason.
// errors.Is(err, ErrBroker) holds for every *Error.
type Error struct {
	// Reason is the broker's explanation, e.g. "CONNECTION_FORCED - broker forced connection closure".
	Reason string

	// Code is the protocol reply code when the transport provides one.
	Code int

	// Server is true when the broker initiated the close.
	Server bool

	// Err is the transport's original error, if any.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("broker: %s (code %d)", e.Reason, e.Code)
	}
	return "broker: " + e.Reason
}

// Unwrap exposes ErrBroker and the transport error to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrBroker}
	}
	return []error{ErrBroker, e.Err}
}

// IsClosing reports whether the error is the expected teardown reason.
func (e *Error) IsClosing() bool {
	return e.Reason == ClosingReason
}
