package gatekeeper

import (
	"errors"
	"fmt"
)

// Error taxonomy. Authentication and authorization failures are hard denies
// and carry no internal detail; validation failures are returned verbatim so
// the caller can correct the request; store failures are retryable by the
// caller only, never by the gateway itself.
var (
	// ErrUnauthenticated means no credential was supplied or it could not be
	// decoded into claims.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means the caller is authenticated but no held role grants
	// the requested operation.
	ErrForbidden = errors.New("forbidden")

	// ErrStoreUnavailable wraps transient backing-store failures, including
	// query timeouts. Safe to retry with backoff from the calling layer.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInternal wraps unexpected failures. Surfaced generically; detail
	// goes to server-side logs only.
	ErrInternal = errors.New("internal error")
)

// InvalidFilterError reports a listing request whose filter or pagination
// controls are out of range.
type InvalidFilterError struct {
	Field  string
	Reason string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid filter: %s %s", e.Field, e.Reason)
}

// MalformedCursorError reports a continuation token that could not be parsed
// back into a store key.
type MalformedCursorError struct {
	Cursor string
	Err    error
}

func (e *MalformedCursorError) Error() string {
	return fmt.Sprintf("malformed cursor %q: %v", e.Cursor, e.Err)
}

func (e *MalformedCursorError) Unwrap() error { return e.Err }

// IsRetryable reports whether the caller may safely retry the request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsClientError reports whether the failure is correctable by the caller and
// must not be retried as-is.
func IsClientError(err error) bool {
	var inv *InvalidFilterError
	var cur *MalformedCursorError
	return errors.As(err, &inv) || errors.As(err, &cur) ||
		errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrForbidden)
}
