package session

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated means no credential is stored and the operation
	// needs one. Callers may still issue anonymous requests through Do.
	ErrUnauthenticated = errors.New("no session credential available")

	// ErrSessionExpired is returned from requests that raced a session end.
	// The session-ended hook fires exactly once regardless of how many
	// in-flight requests observe the invalidation.
	ErrSessionExpired = errors.New("session expired")
)

// HTTPStatusError is a non-2xx, non-auth server response. Message carries the
// server-provided error text verbatim when the payload had one.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http request failed"
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func IsUnauthorized(err error) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 401 || statusErr.StatusCode == 403
	}
	return errors.Is(err, ErrSessionExpired)
}
