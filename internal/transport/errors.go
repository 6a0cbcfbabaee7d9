// File: internal/transport/errors.go
package transport

import "errors"

var (
	// ErrNoConnection is returned when a send targets a session with no live
	// WebSocket attached.
	ErrNoConnection = errors.New("transport: no connection for session")

	// ErrTimeout is returned when a correlated request is not answered within
	// the caller's deadline. The pending entry is already evicted when this
	// is returned.
	ErrTimeout = errors.New("transport: timed out waiting for client response")

	// ErrSessionClosed is returned to waiters whose session disconnected or
	// was cancelled while their request was in flight.
	ErrSessionClosed = errors.New("transport: session closed while request pending")
)
