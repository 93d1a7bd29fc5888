// Package server manages individual client sessions, handling read/write
// pumps, rate limiting, subscriptions and lifecycle control for each connection.
package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/agora/internal/auth"
	"github.com/Tyrowin/agora/internal/protocol"
	"github.com/Tyrowin/agora/internal/topic"
)

// Session is the server-side state of one connected client: its identity,
// its outbound queue and the topics it is subscribed to.
type Session struct {
	id       uuid.UUID
	identity auth.Identity
	conn     *websocket.Conn
	hub      *Hub
	addr     string
	log      *zap.Logger
	cfg      Config

	outbound    chan protocol.Message
	rateLimiter *rate.Limiter
	state       atomic.Int32

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu            sync.Mutex
	subscriptions map[string]*subscription
}

// subscription is one (session, topic) forwarding task. A nil entry in
// Session.subscriptions marks interest recorded before a forwarder is attached.
type subscription struct {
	cursor *topic.Cursor
	cancel context.CancelFunc
}

func (sub *subscription) stop() {
	if sub == nil {
		return
	}
	sub.cancel()
	sub.cursor.Close()
}

// NewSession creates a Session for conn with a freshly generated identifier.
// The hub may be nil, in which case the session uses default configuration.
func NewSession(conn *websocket.Conn, hub *Hub, addr string, identity auth.Identity) *Session {
	cfg := NewConfig().Sanitize()
	log := zap.NewNop()
	parent := context.Background()
	if hub != nil {
		cfg = hub.cfg
		log = hub.log
		parent = hub.ctx
	}
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := uuid.New()
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:            id,
		identity:      identity,
		conn:          conn,
		hub:           hub,
		addr:          addr,
		cfg:           cfg,
		log:           log.With(zap.Stringer("session_id", id), zap.String("remote_addr", addr)),
		outbound:      make(chan protocol.Message, cfg.OutboundQueueSize),
		rateLimiter:   newRateLimiter(cfg.RateLimit),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		subscriptions: make(map[string]*subscription),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Identity returns the identity admitted for this session.
func (s *Session) Identity() auth.Identity { return s.identity }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string { return s.addr }

// State returns the current connection state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Outbound returns the session's outbound queue for reading.
func (s *Session) Outbound() <-chan protocol.Message {
	return s.outbound
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Subscribe records interest in name. It reports false, changing nothing,
// when the session is already subscribed or closed.
func (s *Session) Subscribe(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed() {
		return false
	}
	if _, ok := s.subscriptions[name]; ok {
		return false
	}
	s.subscriptions[name] = nil
	return true
}

// Unsubscribe removes name and stops its forwarding task. It reports false
// when the session was not subscribed.
func (s *Session) Unsubscribe(name string) bool {
	s.mu.Lock()
	sub, ok := s.subscriptions[name]
	delete(s.subscriptions, name)
	s.mu.Unlock()

	sub.stop()
	return ok
}

// IsSubscribed reports whether the session is subscribed to name.
func (s *Session) IsSubscribed(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subscriptions[name]
	return ok
}

// Subscriptions returns the subscribed topic names in lexical order.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.subscriptions))
	for name := range s.subscriptions {
		names = append(names, name)
	}
	s.mu.Unlock()

	sort.Strings(names)
	return names
}

// attach binds a forwarding task to a recorded subscription. It fails if the
// subscription was removed, or the session closed, in the meantime.
func (s *Session) attach(name string, sub *subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.subscriptions[name]
	if !ok || current != nil || s.isClosed() {
		return false
	}
	s.subscriptions[name] = sub
	return true
}

// detach drops name if it is still served by sub.
func (s *Session) detach(name string, sub *subscription) {
	s.mu.Lock()
	if s.subscriptions[name] == sub {
		delete(s.subscriptions, name)
	}
	s.mu.Unlock()
}

// Send queues msg for delivery, waiting for room in the outbound queue. It
// fails with a *ClientError once the session is closed.
func (s *Session) Send(ctx context.Context, msg protocol.Message) error {
	if s.isClosed() {
		return &ClientError{SessionID: s.id}
	}

	select {
	case s.outbound <- msg:
		return nil
	case <-s.done:
		return &ClientError{SessionID: s.id}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// trySend queues msg only if there is room right now.
func (s *Session) trySend(msg protocol.Message) bool {
	if s.isClosed() {
		return false
	}
	select {
	case s.outbound <- msg:
		return true
	default:
		return false
	}
}

// Close stops every forwarding task, clears the subscription set and marks
// the session closed. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.done)
		subs := s.subscriptions
		s.subscriptions = make(map[string]*subscription)
		s.mu.Unlock()

		s.cancel()
		for _, sub := range subs {
			sub.stop()
		}
		s.setState(StateClosed)
	})
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (s *Session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait)); err != nil {
		s.log.Warn("Error setting initial read deadline", zap.Error(err))
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait)); err != nil {
			s.log.Warn("Error setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// checkRateLimit verifies if the session has exceeded its rate limit and
// returns true if the frame should be processed
func (s *Session) checkRateLimit() bool {
	if s.rateLimiter.Allow() {
		return true
	}
	s.log.Warn("Rate limit exceeded; discarding frame",
		zap.Int("burst", s.cfg.RateLimit.Burst),
		zap.Duration("interval", s.cfg.RateLimit.RefillInterval))
	return false
}

// readPump reads frames until the transport fails or ctx ends. It always
// returns a non-nil error so the session's write side is stopped too.
func (s *Session) readPump(ctx context.Context) error {
	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				s.log.Warn("Frame exceeded maximum size", zap.Int64("max_message_size", s.cfg.MaxMessageSize))
			}
			return &ConnectionError{SessionID: s.id, Op: opRead, Err: err}
		}

		if !s.checkRateLimit() {
			s.hub.metrics.error(kindRateLimit)
			s.hub.reply(ctx, s, protocol.NewErrorAck("", errRateLimited))
			continue
		}

		s.hub.dispatch(ctx, s, raw)
	}
}

// writePump drains the outbound queue onto the transport, one frame per
// message, and keeps the connection alive with pings.
func (s *Session) writePump(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		s.closeConnection()
	}()

	for {
		select {
		case msg := <-s.outbound:
			if err := s.writeMessage(msg); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.writePing(); err != nil {
				return err
			}
		case <-ctx.Done():
			s.writeCloseMessage()
			return &ConnectionError{SessionID: s.id, Op: opShutdown, Err: ctx.Err()}
		}
	}
}

// writeMessage encodes and writes a single frame. Messages that cannot be
// encoded are logged and dropped.
func (s *Session) writeMessage(msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		s.log.Error("Dropping outbound message that cannot be encoded", zap.Error(err))
		return nil
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait)); err != nil {
		return &ConnectionError{SessionID: s.id, Op: opWrite, Err: err}
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return &ConnectionError{SessionID: s.id, Op: opWrite, Err: err}
	}
	return nil
}

// writePing sends a ping message to keep the connection alive
func (s *Session) writePing() error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait)); err != nil {
		return &ConnectionError{SessionID: s.id, Op: opPing, Err: err}
	}
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		return &ConnectionError{SessionID: s.id, Op: opPing, Err: err}
	}
	return nil
}

// writeCloseMessage sends a close frame to the client
func (s *Session) writeCloseMessage() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing connection")
	deadline := time.Now().Add(s.cfg.WriteWait)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Debug("Error writing close message", zap.Error(err))
		}
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (s *Session) closeConnection() {
	if err := s.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Debug("Error closing connection", zap.Error(err))
		}
	}
}
