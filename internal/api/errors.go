package api

import (
	"net/http"

	"github.com/goccy/go-json"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeNotConnected = "not_connected"
	ErrCodeInternal     = "internal_error"
)

var codeStatus = map[string]int{
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeNotConnected: http.StatusServiceUnavailable,
	ErrCodeInternal:     http.StatusInternalServerError,
}

// writeJSON writes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // client may have gone away
		json.NewEncoder(w).Encode(v)
	}
}

// writeError replies with the status registered for code. Unknown codes
// are answered as internal errors. The request ID set by
// requestIDMiddleware is echoed so a client report can be matched to a
// log line.
func writeError(w http.ResponseWriter, r *http.Request, code, message string) {
	status, ok := codeStatus[code]
	if !ok {
		code, status = ErrCodeInternal, http.StatusInternalServerError
	}
	id, _ := r.Context().Value(ctxKeyRequestID).(string)
	writeJSON(w, status, Error{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: id,
	})
}
