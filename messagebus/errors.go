package messagebus

import "errors"

var (
	// ErrNilMessage is returned when a nil message is published.
	ErrNilMessage = errors.New("message cannot be nil")

	// ErrNilCallback is returned when a push subscription is created
	// without a callback.
	ErrNilCallback = errors.New("subscription callback cannot be nil")

	// ErrSubscriptionNotFound is returned when the given subscription uid
	// is not registered.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)
