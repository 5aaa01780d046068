package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNetworkFailure marks requests that did not complete: connection
	// errors, timeouts, unreadable responses.
	ErrNetworkFailure = errors.New("network failure")
	// ErrServerRejected marks completed requests the server refused: non-2xx
	// statuses or a payload with success=false.
	ErrServerRejected = errors.New("server rejected")
)

// NetworkError wraps the underlying transport fault.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() []error { return []error{ErrNetworkFailure, e.Err} }

// RejectedError carries the server's refusal.
type RejectedError struct {
	StatusCode int
	Message    string
	Fields     map[string][]string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rejected (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("rejected (status %d)", e.StatusCode)
}

func (e *RejectedError) Unwrap() error { return ErrServerRejected }
