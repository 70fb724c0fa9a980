package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// AuthError means the bearer credential is missing, expired, or rejected.
// Fatal for the session: the caller must abort the sync pass and force an
// unauthenticated state.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// ValidationError means the backend rejected the payload. Permanent: the
// operation can never succeed as-is and must be dropped.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Detail)
}

// NotFoundError means the target task no longer exists server-side.
// Permanent for update/delete, and treated as already-resolved.
type NotFoundError struct {
	TaskID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.TaskID)
}

// NetworkError wraps a transport-level failure. Transient: retried on the
// next sync trigger.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError means the bounded per-call deadline elapsed. Transient.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out: %v", e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ServerError wraps a non-2xx application response that isn't one of the
// typed failures above (5xx and unexpected statuses). Transient.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Body)
}

// IsRetryable reports whether err is transient and worth retrying on the
// next sync trigger. Auth failures are neither retryable nor permanent in
// the drop sense; callers must check IsAuth first.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	var toErr *TimeoutError
	var srvErr *ServerError
	return errors.As(err, &netErr) || errors.As(err, &toErr) || errors.As(err, &srvErr)
}

// IsPermanent reports whether err can never succeed as-is (validation or
// not-found), meaning the originating operation must be dropped.
func IsPermanent(err error) bool {
	var valErr *ValidationError
	var nfErr *NotFoundError
	return errors.As(err, &valErr) || errors.As(err, &nfErr)
}

// IsAuth reports whether err is a session-fatal credential failure.
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsNotFound reports whether err is specifically a missing-task response.
func IsNotFound(err error) bool {
	var nfErr *NotFoundError
	return errors.As(err, &nfErr)
}

// classifyTransport converts an http.Client error into the engine taxonomy.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Err: err}
	}
	return &NetworkError{Err: err}
}
