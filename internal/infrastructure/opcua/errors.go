package opcua

import "errors"

// Domain-specific errors for OPC UA operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when endpoint discovery or session
	// creation fails.
	ErrConnectionFailed = errors.New("opcua: connection failed")

	// ErrNoEndpoint is returned when the server offers no endpoint matching
	// the requested security policy and mode.
	ErrNoEndpoint = errors.New("opcua: no matching endpoint")

	// ErrNotConnected is returned when operating on a closed client.
	ErrNotConnected = errors.New("opcua: client not connected")

	// ErrInvalidNodeID is returned when an address is not a valid node id.
	ErrInvalidNodeID = errors.New("opcua: invalid node id")

	// ErrBadStatus is returned when the server answers with a non-Good status.
	ErrBadStatus = errors.New("opcua: bad status")

	// ErrSubscribeFailed is returned when the subscription or its monitored
	// items cannot be created.
	ErrSubscribeFailed = errors.New("opcua: subscribe failed")

	// ErrSubscriptionLost is delivered on the notification stream when the
	// server reports a subscription-level error.
	ErrSubscriptionLost = errors.New("opcua: subscription lost")
)
