package mediasoup

import "fmt"

// ChannelClosedError is returned by requests on a closed channel.
type ChannelClosedError struct{}

// Error implements the error interface.
func (ChannelClosedError) Error() string {
	return "channel closed"
}

// RequestTimeoutError is returned when the worker does not reply
// within the deadline.
type RequestTimeoutError struct {
	Method string
}

// Error implements the error interface.
func (e RequestTimeoutError) Error() string {
	return fmt.Sprintf("request '%s' timed out", e.Method)
}

// RequestTooBigError is returned when a request exceeds the maximum
// message size. It is a programmer error.
type RequestTooBigError struct {
	Size uint32
	Max  uint32
}

// Error implements the error interface.
func (e RequestTooBigError) Error() string {
	return fmt.Sprintf("request too big (%d > %d bytes)", e.Size, e.Max)
}

// InvalidStateError is returned by operations on a closed object.
type InvalidStateError struct {
	Message string
}

// Error implements the error interface.
func (e InvalidStateError) Error() string {
	return "invalid state: " + e.Message
}

// NewInvalidStateError creates an InvalidStateError.
func NewInvalidStateError(format string, args ...interface{}) InvalidStateError {
	return InvalidStateError{Message: fmt.Sprintf(format, args...)}
}

// TypeError signals malformed input or bad field types, either
// detected locally or reported by the worker.
type TypeError struct {
	Message string
}

// Error implements the error interface.
func (e TypeError) Error() string {
	return e.Message
}

// NewTypeError creates a TypeError.
func NewTypeError(format string, args ...interface{}) TypeError {
	return TypeError{Message: fmt.Sprintf(format, args...)}
}

// WorkerDiedError signals the unexpected death of a worker process.
type WorkerDiedError struct {
	Pid    int
	Code   int
	Signal string
}

// Error implements the error interface.
func (e WorkerDiedError) Error() string {
	return fmt.Sprintf("worker died [pid:%d, code:%d, signal:%s]", e.Pid, e.Code, e.Signal)
}
