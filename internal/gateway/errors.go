package gateway

import (
	"context"
	"fmt"
	"time"
)

// GatewayError means the backend was reached (or the transport failed) and the
// request was not accepted. Status is 0 for transport failures.
type GatewayError struct {
	Op      string
	Status  int
	Message string
}

func (e *GatewayError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s failed (HTTP %d): %s", e.Op, e.Status, e.Message)
}

// Unauthorized reports whether the external auth gate rejected the request.
func (e *GatewayError) Unauthorized() bool {
	return e.Status == 401 || e.Status == 403
}

// ConflictError is returned when the backend rejects a status write (HTTP 409),
// typically because of a concurrent modification or an illegal transition.
type ConflictError struct {
	*GatewayError
}

func (e *ConflictError) Unwrap() error { return e.GatewayError }

// TimeoutError means the backend did not answer within the per-call bound.
// Callers may retry; it matches context.DeadlineExceeded.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.After)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }
