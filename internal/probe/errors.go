package probe

import "errors"

// Domain-specific errors for probe operations.
// Every one of them counts as negative health evidence; none is fatal.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidURL is returned when the probe URL is empty or not http(s).
	ErrInvalidURL = errors.New("probe: invalid URL")

	// ErrRequestFailed is returned when the HTTP request cannot be completed.
	ErrRequestFailed = errors.New("probe: request failed")

	// ErrEmptyBody is returned when the response carries no body.
	ErrEmptyBody = errors.New("probe: empty response body")

	// ErrMalformedBody is returned when the body is not a JSON object.
	ErrMalformedBody = errors.New("probe: malformed response body")

	// ErrUnhealthy is returned when the body's status field is not "ok".
	ErrUnhealthy = errors.New("probe: broker reports unhealthy")
)
