package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/keithlinneman/reqtrace/internal/log"
	"github.com/keithlinneman/reqtrace/internal/reqspan"
)

// StatusError carries the status a handler error should be answered with.
// Errors without one are answered with 500.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string { return e.Err.Error() }
func (e *StatusError) Unwrap() error { return e.Err }

// Errorf returns a StatusError for status with a formatted message.
func Errorf(status int, format string, args ...any) error {
	return &StatusError{Status: status, Err: fmt.Errorf(format, args...)}
}

// ErrorStatus returns the status err should be answered with.
func ErrorStatus(err error) int {
	var se *StatusError
	if errors.As(err, &se) && se.Status >= 400 && se.Status <= 599 {
		return se.Status
	}
	var mb *http.MaxBytesError
	if errors.As(err, &mb) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError answers with a JSON error. 5xx responses carry the status text
// only, handler error messages are for spans and logs.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := ErrorStatus(err)
	msg := http.StatusText(status)
	if status < http.StatusInternalServerError {
		msg = err.Error()
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	body := errorBody{Error: msg, RequestID: reqspan.RequestIDFromContext(r.Context())}
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		log.FromContext(r.Context()).Warn(r.Context(), "failed to encode error response", "error", encErr)
	}
}
