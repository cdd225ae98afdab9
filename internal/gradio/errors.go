package gradio

import (
	"errors"
	"fmt"
)

// ErrTimeout reports that a call exceeded its configured deadline.
var ErrTimeout = errors.New("gradio call timed out")

// NetworkError wraps a transport-level failure.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError reports a non-2xx response from the synthesis server.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %d - %s", e.Status, e.Message)
}

// ParseError reports a malformed protocol envelope.
type ParseError struct {
	Msg string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("parse error: %s", e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Retryable reports whether err is worth retrying: transport failures,
// timeouts and 5xx responses are; 4xx and malformed payloads are not.
func Retryable(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		return srvErr.Status >= 500
	}
	return false
}
