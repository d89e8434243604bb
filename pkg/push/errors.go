package push

import (
	"errors"
	"fmt"

	"github.com/vango-dev/wspush/pkg/registry"
)

// Sentinel errors for dispatch failures.
var (
	// ErrUnknownApplication is returned when the target application is not
	// registered in the Directory.
	ErrUnknownApplication = errors.New("push: unknown application")

	// ErrSessionNotFound is returned when the target session cannot be
	// resolved: missing, expired, or not resolved within ResolveTimeout.
	ErrSessionNotFound = errors.New("push: session not found")

	// ErrViewNotFound is returned when the session has no view with the
	// target ID.
	ErrViewNotFound = errors.New("push: view not found")

	// ErrDeliveryFailed matches every *DeliveryError.
	ErrDeliveryFailed = errors.New("push: delivery failed")

	// ErrMixedResponse is returned when a dispatch writes text after binary
	// or binary after text.
	ErrMixedResponse = errors.New("push: response mixes text and binary")

	// ErrResponseReleased is returned when writing to a response buffer
	// whose dispatch has finished.
	ErrResponseReleased = errors.New("push: response already released")

	// ErrNilMessage is returned when dispatching a nil message.
	ErrNilMessage = errors.New("push: nil message")
)

// DispatchError wraps a dispatch failure with its target.
type DispatchError struct {
	Key registry.Key
	Op  string // Step that failed
	Err error
}

// Error returns the error message with target context.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("push: dispatch %s: %s: %v", e.Key, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// DeliveryError reports a listener failure or panic during delivery.
type DeliveryError struct {
	View  string
	Err   error // Listener error, nil after a panic
	Panic any
	Stack []byte
}

// Error returns the error message.
func (e *DeliveryError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("push: listener panic in view %s: %v", e.View, e.Panic)
	}
	return fmt.Sprintf("push: delivery to view %s: %v", e.View, e.Err)
}

// Unwrap returns the listener error.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrDeliveryFailed.
func (e *DeliveryError) Is(target error) bool {
	return target == ErrDeliveryFailed
}
