package services

import (
	"errors"
	"fmt"
)

// ErrAuthUnavailable is returned when no provider credential mechanism is
// configured and the process is not running inside the cloud execution
// environment.
var ErrAuthUnavailable = errors.New("authentication unavailable: no service-account credentials and not on GCE")

// ErrNotSeeking is returned by similarity queries for users who are not
// currently opted in.
var ErrNotSeeking = errors.New("user is not currently seeking a match")

// ValidationError marks bad or missing caller input. Handlers map it to 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ProviderError marks a failure of the external embedding provider. Never
// retried inside the embedding client; callers decide.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StoreError marks a vector-store failure, surfaced to the caller unmodified.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vector store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
