package lnunify

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection is returned when the transport could not reach the
	// remote endpoint.
	ErrConnection = errors.New("error connecting to node")

	// ErrRequestTimeout is returned when a response did not arrive within
	// the request deadline.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrRequestCancelled is returned to waiters of a request that was
	// cancelled, either by a backend switch or an explicit clear.
	ErrRequestCancelled = errors.New("request cancelled")

	// ErrProtocol is returned for malformed or unparsable response bodies.
	ErrProtocol = errors.New("malformed response")

	// ErrBackend is returned when the remote returned a structured
	// application level error.
	ErrBackend = errors.New("backend error")

	// ErrUnsupported is returned when the active adapter does not implement
	// an operation.
	ErrUnsupported = errors.New("operation not supported")

	// ErrCapabilityDenied is returned when an operation is implemented but
	// a version or permission check denied it.
	ErrCapabilityDenied = errors.New("capability denied")

	// ErrNotReady is returned when an adapter is used before Connect
	// succeeded or after Close.
	ErrNotReady = errors.New("adapter not ready")
)

// ConnectionError wraps a transport failure.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return ErrConnection.Error()
	}
	if e.Target == "" {
		return fmt.Sprintf("%s: %v", ErrConnection, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", ErrConnection, e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// ProtocolError reports a response body that could not be decoded.
type ProtocolError struct {
	Body []byte
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %v", ErrProtocol, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// BackendError carries the message of a structured error returned by the
// node. Status is the HTTP status or the RPC error code, zero if unknown.
type BackendError struct {
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	return e.Message
}

func (e *BackendError) Is(target error) bool { return target == ErrBackend }

// UnsupportedError names the operation the active adapter lacks.
type UnsupportedError struct {
	Kind      BackendKind
	Operation Operation
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s: %s on %s", ErrUnsupported, e.Operation, e.Kind)
}

func (e *UnsupportedError) Is(target error) bool { return target == ErrUnsupported }

// CapabilityError names the capability that denied an operation.
type CapabilityError struct {
	Capability Capability
	Operation  Operation
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s: %s requires %s", ErrCapabilityDenied, e.Operation,
		e.Capability)
}

func (e *CapabilityError) Is(target error) bool { return target == ErrCapabilityDenied }

// NewBackendError returns a BackendError, falling back to a generic
// connection message when msg is empty.
func NewBackendError(status int, msg string) *BackendError {
	if msg == "" {
		msg = ErrConnection.Error()
	}
	return &BackendError{Status: status, Message: msg}
}

// IsUnsupported reports whether err denotes a missing operation.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}
