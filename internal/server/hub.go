// Package server coordinates session registration, topic routing, and
// connection cleanup for the Agora WebSocket system via the Hub type.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/agora/internal/auth"
	"github.com/Tyrowin/agora/internal/topic"
)

// Authenticator is the identity check performed before a connection is
// admitted.
type Authenticator interface {
	Authenticate(r *http.Request) (auth.Identity, error)
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger the hub reports events to.
func WithLogger(log *zap.Logger) Option {
	return func(h *Hub) {
		if log != nil {
			h.log = log
		}
	}
}

// WithMetrics sets the metrics the hub reports to.
func WithMetrics(m *Metrics) Option {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithAuthenticator enables the identity check on new connections.
func WithAuthenticator(a Authenticator) Option {
	return func(h *Hub) { h.auth = a }
}

// WithRegistry makes the hub route through an existing topic registry.
func WithRegistry(r *topic.Registry) Option {
	return func(h *Hub) {
		if r != nil {
			h.registry = r
		}
	}
}

// Hub manages all client sessions and routes their frames to topics. It
// maintains session registration/unregistration through its Run loop and
// tracks every session goroutine for shutdown.
type Hub struct {
	cfg      Config
	log      *zap.Logger
	metrics  *Metrics
	auth     Authenticator
	registry *topic.Registry
	origins  originPolicy
	upgrader websocket.Upgrader
	now      func() time.Time

	sessions   map[uuid.UUID]*Session
	register   chan *Session
	unregister chan *Session
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub ready to accept connections once Run is started.
func NewHub(cfg Config, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:        cfg.Sanitize(),
		log:        zap.NewNop(),
		metrics:    NewMetrics(),
		now:        time.Now,
		sessions:   make(map[uuid.UUID]*Session),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.registry == nil {
		h.registry = topic.NewRegistry(h.cfg.TopicCapacity, topic.WithLogger(h.log))
	}

	h.origins = newOriginPolicy(h.cfg.AllowedOrigins, h.log)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.origins.checkOrigin,
	}
	return h
}

// Config returns the sanitized configuration the hub runs with.
func (h *Hub) Config() Config { return h.cfg }

// Registry returns the topic registry the hub routes through.
func (h *Hub) Registry() *topic.Registry { return h.registry }

// PrometheusCollectors returns the hub metrics plus a gauge of live topics.
func (h *Hub) PrometheusCollectors() []prometheus.Collector {
	topics := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "agora",
		Subsystem: "hub",
		Name:      "topics",
		Help:      "Number of topics in the registry",
	}, func() float64 { return float64(h.registry.Len()) })

	return append(h.metrics.PrometheusCollectors(), topics)
}

// Run starts the hub's main event loop, handling session registration and
// unregistration. It returns once the hub is shut down.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.mutex.RLock()
			count := len(h.sessions)
			h.mutex.RUnlock()
			h.log.Info("Hub stopping", zap.Int("sessions", count))
			return

		case s := <-h.register:
			if s == nil {
				h.log.Warn("Received nil session registration; skipping")
				continue
			}

			h.mutex.Lock()
			h.sessions[s.id] = s
			count := len(h.sessions)
			h.mutex.Unlock()

			h.metrics.Connections.Inc()
			h.metrics.ConnectionsTotal.Inc()
			s.log.Info("Client connected",
				zap.String("subject", s.identity.Subject),
				zap.Bool("admin", auth.IsAdmin(s.identity.Role)),
				zap.Int("sessions", count))

			h.wg.Add(1)
			go h.serve(s)

		case s := <-h.unregister:
			h.remove(s)
		}
	}
}

// serve runs the session's inbound and outbound loops until either ends,
// then tears the session down.
func (h *Hub) serve(s *Session) {
	defer h.wg.Done()

	g, ctx := errgroup.WithContext(s.ctx)
	s.setState(StateOpen)
	g.Go(func() error { return s.writePump(ctx) })
	g.Go(func() error { return s.readPump(ctx) })
	err := g.Wait()

	s.setState(StateClosing)
	s.Close()

	var connErr *ConnectionError
	if errors.As(err, &connErr) && !connErr.Normal() {
		h.metrics.error(kindConnection)
		s.log.Warn("Connection failed", zap.Error(err))
	}
	s.log.Info("Client disconnected", zap.Stringer("state", s.State()))

	select {
	case h.unregister <- s:
	case <-h.ctx.Done():
		h.remove(s)
	}
}

func (h *Hub) remove(s *Session) {
	h.mutex.Lock()
	_, ok := h.sessions[s.id]
	delete(h.sessions, s.id)
	count := len(h.sessions)
	h.mutex.Unlock()

	if ok {
		h.metrics.Connections.Dec()
		s.log.Debug("Session unregistered", zap.Int("sessions", count))
	}
}

// SessionCount returns the number of registered sessions.
func (h *Hub) SessionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.sessions)
}

// Sessions returns a snapshot of all registered sessions.
func (h *Hub) Sessions() []*Session {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Session returns the registered session with the given id.
func (h *Hub) Session(id uuid.UUID) (*Session, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// forceClose closes every remaining transport so blocked pumps return.
func (h *Hub) forceClose() {
	for _, s := range h.Sessions() {
		if s.conn != nil {
			s.closeConnection()
		}
	}
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.forceClose()
		h.log.Warn("Hub shutdown timeout reached, forcing remaining connections closed")
		return context.DeadlineExceeded
	}
}
