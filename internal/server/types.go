// Package server defines the connection states shared by sessions and the hub,
// and utility helpers reused across session and hub logic.
package server

import (
	"errors"
	"net"
	"syscall"

	"github.com/gorilla/websocket"
)

// State is the lifecycle stage of a client connection.
type State int32

// Connection states, in the order a connection moves through them.
const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection operations named in ConnectionError.
const (
	opRead     = "read"
	opWrite    = "write"
	opPing     = "ping"
	opShutdown = "shutdown"
)

// isExpectedCloseError reports errors that only mean the other side, or our
// own teardown, already closed the socket.
func isExpectedCloseError(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, net.ErrClosed), errors.Is(err, websocket.ErrCloseSent):
		return true
	case errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNRESET):
		return true
	default:
		return false
	}
}
