package transport

import (
	"errors"
	"fmt"
)

// ErrTimeout marks a request cancelled by the adapter's own deadline rather
// than by the caller.
var ErrTimeout = errors.New("request timed out")

// NetworkError wraps a transport-level failure (DNS, refused connection,
// reset) before any HTTP status was received.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response. Body is retained for diagnostics and for
// the forced-logout marker check.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d", e.Status)
}

// StreamError wraps a dropped or malformed push stream.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error: %v", e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Humanize converts any adapter error into a short message fit for the UI.
// Raw errors stay in logs only.
func Humanize(err error) string {
	if err == nil {
		return ""
	}
	var httpErr *HTTPError
	switch {
	case errors.Is(err, ErrTimeout):
		return "The server took too long to respond."
	case errors.As(err, &httpErr):
		if httpErr.Status >= 500 {
			return "The messaging service is having trouble. Try again shortly."
		}
		return "The request was rejected by the messaging service."
	default:
		var netErr *NetworkError
		var streamErr *StreamError
		if errors.As(err, &netErr) || errors.As(err, &streamErr) {
			return "Could not reach the messaging service. Check your connection."
		}
	}
	return "Something went wrong talking to the messaging service."
}
