package server

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrSessionClosed matches every *ClientError.
var ErrSessionClosed = errors.New("session closed")

// ConnectionError is a transport failure. It ends only the connection it
// occurred on.
type ConnectionError struct {
	SessionID uuid.UUID
	Op        string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %s: %v", e.SessionID, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Normal reports whether the connection ended the way connections usually
// do: a close frame from the peer, a closed socket or a server shutdown.
func (e *ConnectionError) Normal() bool {
	if websocket.IsCloseError(e.Err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return true
	}
	return e.Op == opShutdown || isExpectedCloseError(e.Err)
}

// ClientError reports delivery to a session whose transport has closed.
type ClientError struct {
	SessionID uuid.UUID
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client %s: %v", e.SessionID, ErrSessionClosed)
}

// Is makes errors.Is(err, ErrSessionClosed) hold.
func (e *ClientError) Is(target error) bool { return target == ErrSessionClosed }

// SubscriptionError reports a subscribe or unsubscribe that could not be
// completed.
type SubscriptionError struct {
	Topic string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription to %q: %v", e.Topic, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// RoutingError reports a publish that could not be routed to its topic.
type RoutingError struct {
	Topic string
	Err   error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing to %q: %v", e.Topic, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }
