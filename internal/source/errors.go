package source

import (
	"errors"
	"fmt"
)

// ErrSourceUnavailable is returned when every endpoint has been retried
// to exhaustion. Fatal for the invocation; the caller may retry the
// whole computation later.
var ErrSourceUnavailable = errors.New("source unavailable")

// transientError marks a failure class the gateway is allowed to retry
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps an error as retryable. Adapters use this for rate
// limits, 5xx responses, connection failures and malformed bodies.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf marks a new formatted error as retryable
func Transientf(format string, args ...interface{}) error {
	return &transientError{err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether an error belongs to the retryable class
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
