// Package server exposes HTTP handlers, including the WebSocket upgrade with
// its identity check, and health checks.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/Tyrowin/agora/internal/auth"
)

// ServeWS handles WebSocket upgrade requests. It validates that the request
// uses the GET method, runs the identity check, upgrades the HTTP connection
// to WebSocket, creates a new Session, and hands it to the hub, which starts
// the session's read/write pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	identity := auth.Anonymous
	if h.auth != nil {
		id, err := h.auth.Authenticate(r)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, auth.ErrForbidden) {
				status = http.StatusForbidden
			}
			h.metrics.error(kindAuth)
			h.log.Warn("Connection refused by identity check",
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err))
			http.Error(w, http.StatusText(status), status)
			return
		}
		identity = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.error(kindUpgrade)
		h.log.Info("WebSocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	s := NewSession(conn, h, r.RemoteAddr, identity)

	// Register the session with the hub; the hub will launch the pump goroutines.
	select {
	case h.register <- s:
	case <-h.ctx.Done():
		s.writeCloseMessage()
		s.closeConnection()
		s.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Agora server is running!")
}
