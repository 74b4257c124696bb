package hub

import "errors"

var (
	// ErrAuthenticationRequired is returned by Admit when no valid user
	// identity accompanies the transport.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrForbidden is returned when a client subscribes to a topic it
	// cannot access.
	ErrForbidden = errors.New("topic access forbidden")

	// ErrDropped is returned by Send when backpressure forced an envelope
	// out of the outbound queue. The caller must rely on the replay buffer
	// instead of retrying synchronously.
	ErrDropped = errors.New("envelope dropped due to backpressure")

	// ErrResyncRequired is returned by Replay when the requested sequence
	// has already been evicted from the retention window. The client must
	// refetch full state through the REST layer.
	ErrResyncRequired = errors.New("replay window exceeded, full resync required")

	// ErrConnectionClosed is returned when an operation targets a
	// connection that is draining or already closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrUnknownConnection is returned when a connection id is not in the
	// registry.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrTaskNotFound is returned by a TaskCanceller when no task with the
	// given session id is being tracked.
	ErrTaskNotFound = errors.New("task not found")

	// ErrAlreadyTerminal is returned by a TaskCanceller when the task has
	// already reached a terminal status.
	ErrAlreadyTerminal = errors.New("task already terminal")
)
