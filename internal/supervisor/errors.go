package supervisor

import "errors"

// Domain-specific errors for supervisor operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConfig is returned by Connect when no usable configuration is given.
	ErrConfig = errors.New("supervisor: missing configuration")

	// ErrConnect is returned by Connect when the broker cannot be reached.
	ErrConnect = errors.New("supervisor: connect failed")

	// ErrClosed is returned when using a Supervisor after Close.
	ErrClosed = errors.New("supervisor: closed")
)
