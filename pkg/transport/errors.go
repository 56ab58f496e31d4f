package transport

import (
	"errors"
	"fmt"
)

// TransportError is a network or server-side failure (timeouts, connection
// resets, 5xx). These are transient and safe to retry.
type TransportError struct {
	Status int // 0 when the request never reached the server
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport: server returned status %d", e.Status)
	}
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ClientError is a request the server rejected as malformed or unauthorized
// (4xx). Retrying an identical request cannot succeed, so these surface
// immediately.
type ClientError struct {
	Status int
	Body   string
}

func (e *ClientError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("transport: request rejected with status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("transport: request rejected with status %d", e.Status)
}

// IsRetryable reports whether a retry could plausibly succeed. Client
// rejections are terminal; everything else is treated as transient.
func IsRetryable(err error) bool {
	var ce *ClientError
	return !errors.As(err, &ce)
}
