// Package apierr classifies failures of the external services Starship talks to.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ServiceError wraps a failed call to an external service
type ServiceError struct {
	Service string
	Op      string
	Status  int
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s failed (status %d): %v", e.Service, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the call failed because a deadline passed
func (e *ServiceError) Timeout() bool {
	return isTimeout(e.Err)
}

// Wrap returns nil for a nil error, otherwise a *ServiceError
func Wrap(service, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return err
	}
	return &ServiceError{Service: service, Op: op, Err: err}
}

// WrapStatus is Wrap with an HTTP status attached
func WrapStatus(service, op string, status int, err error) error {
	if err == nil {
		return nil
	}
	return &ServiceError{Service: service, Op: op, Status: status, Err: err}
}

// IsTimeout reports whether err, or any error it wraps, is a timeout
func IsTimeout(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Timeout()
	}
	return isTimeout(err)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// RetryIdempotent runs fn and, on failure, runs it once more after backoff.
// Only read-only calls go through here; ticket creation is never retried.
func RetryIdempotent(ctx context.Context, backoff time.Duration, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return err
	case <-timer.C:
	}
	return fn(ctx)
}
