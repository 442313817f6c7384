package mx

import (
	"errors"
	"fmt"
)

// Sentinel errors covering the library's error taxonomy. Use errors.Is
// to test for these; use errors.As for the richer
// *DeliveryError/*BackendErrorResponse types when the referenced id or
// the backend's error payload is needed.
var (
	// ErrOperationTimedOut is raised by Client.Query and Manager.Receive
	// when no acceptable envelope arrives within the window.
	ErrOperationTimedOut = errors.New("mx: operation timed out")

	// ErrOperationFailed is raised when the server reports a delivery
	// failure at a point the query state machine cannot make further
	// progress, when no channel is available for a ONE send, or when an
	// unrecognizable envelope appears mid-query.
	ErrOperationFailed = errors.New("mx: operation failed")

	// ErrNoConnectedChannel is the specific cause of ErrOperationFailed
	// raised by SendMessage(..., TargetOne) when no channel is
	// currently connected.
	ErrNoConnectedChannel = fmt.Errorf("%w: no connected channel", ErrOperationFailed)
)

// DeliveryError reports a DELIVERY_ERROR response by the id it
// references.
type DeliveryError struct {
	References uint64
}

func (e *DeliveryError) Error() string {
	return "mx: delivery error"
}

// BackendErrorResponse is raised when the final envelope of a query has
// type BACKEND_ERROR; Message carries the backend's formatted error
// payload.
type BackendErrorResponse struct {
	Message []byte
}

func (e *BackendErrorResponse) Error() string {
	return "mx: backend error: " + string(e.Message)
}

// TransportClosedError reports that a channel closed before completing
// a pending operation.
type TransportClosedError struct {
	Cause error
}

func (e *TransportClosedError) Error() string {
	if e.Cause == nil {
		return "mx: transport closed"
	}
	return "mx: transport closed: " + e.Cause.Error()
}

func (e *TransportClosedError) Unwrap() error {
	return e.Cause
}
