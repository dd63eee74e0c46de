// Package errors provides standardized error handling for the ABD project
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInternal      = errors.New("internal error")
	ErrMissingConfig = errors.New("missing configuration")
)

// Monzo API outcomes
var (
	// ErrForbidden is returned when the provider rejects a call with 403.
	// Retrying cannot fix it; the operator has to re-consent.
	ErrForbidden = errors.New("forbidden")

	// ErrServer covers transport faults and unreadable responses.
	ErrServer = errors.New("server error")

	// ErrInvalidState is returned when an OAuth callback state does not match.
	ErrInvalidState = errors.New("invalid oauth state")
)

// New returns an error with the given text
func New(text string) error {
	return errors.New(text)
}

// Wrap adds context to an error while preserving the original error
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Recovered turns a value caught by recover into an ErrInternal error
func Recovered(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return fmt.Errorf("%w: %v", ErrInternal, r)
}

// Must panics if err is not nil
func Must(err error) {
	if err != nil {
		panic(err)
	}
}
