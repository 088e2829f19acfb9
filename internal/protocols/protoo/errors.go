package protoo

import "fmt"

// InvalidMessageError is returned when an incoming frame does not
// carry a valid envelope. The connection itself is still usable.
type InvalidMessageError struct {
	Wrapped error
}

// Error implements the error interface.
func (e InvalidMessageError) Error() string {
	return "invalid envelope: " + e.Wrapped.Error()
}

// Unwrap returns the wrapped error.
func (e InvalidMessageError) Unwrap() error {
	return e.Wrapped
}

// PeerClosedError is returned by requests pending on a closed peer.
type PeerClosedError struct{}

// Error implements the error interface.
func (PeerClosedError) Error() string {
	return "peer closed"
}

// RequestTimeoutError is returned when a request receives no response
// within the deadline.
type RequestTimeoutError struct {
	Method string
}

// Error implements the error interface.
func (e RequestTimeoutError) Error() string {
	return "request '" + e.Method + "' timed out"
}

// ResponseError is a remote rejection carried by an error response.
type ResponseError struct {
	Code   int
	Reason string
}

// Error implements the error interface.
func (e ResponseError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Reason)
}
