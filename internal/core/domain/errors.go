package domain

import (
	"errors"
	"fmt"
)

// NetworkError is a transport or status-code failure from a remote
// service. StatusCode is 0 when the request never reached the server.
type NetworkError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AsNetworkError unwraps err into a NetworkError if one is present.
func AsNetworkError(err error) (*NetworkError, bool) {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}

// ValidationFailure is a domain rule violation. It is deterministic for
// a given state and is never retried.
type ValidationFailure struct {
	State ValidationState
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("transaction validation failed: %s", e.State)
}

// AsValidationFailure unwraps err into a ValidationFailure if present.
func AsValidationFailure(err error) (*ValidationFailure, bool) {
	var vf *ValidationFailure
	if errors.As(err, &vf) {
		return vf, true
	}
	return nil, false
}
