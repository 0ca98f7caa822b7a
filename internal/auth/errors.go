package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNetworkFailure     = errors.New("network failure")
)

// Error wraps a login failure with its kind and the HTTP status, if any.
type Error struct {
	Kind   error
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("auth: %v (status %d): %v", e.Kind, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("auth: %v: %v", e.Kind, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("auth: %v (status %d)", e.Kind, e.Status)
	default:
		return fmt.Sprintf("auth: %v", e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func invalid(status int, err error) *Error {
	return &Error{Kind: ErrInvalidCredentials, Status: status, Err: err}
}

func network(err error) *Error {
	return &Error{Kind: ErrNetworkFailure, Err: err}
}
