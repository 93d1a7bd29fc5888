package topic

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrNotFound matches every *NotFoundError.
var ErrNotFound = errors.New("topic not found")

// NotFoundError is returned when a lookup names a topic that does not exist.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("topic not found: %s", e.Name)
}

// Is makes errors.Is(err, ErrNotFound) hold.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used to report topic lifecycle events.
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// Registry is a concurrent directory of topics keyed by name. Lookups run in
// parallel; creation and deletion hold the write lock only while the map is
// changed.
type Registry struct {
	capacity int
	log      *zap.Logger

	mu     sync.RWMutex
	topics map[string]*Topic
}

// NewRegistry creates an empty registry whose topics retain capacity messages.
func NewRegistry(capacity int, opts ...Option) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Registry{
		capacity: capacity,
		log:      zap.NewNop(),
		topics:   make(map[string]*Topic),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateTopic creates name unless it already exists.
func (r *Registry) CreateTopic(name string) {
	r.GetOrCreateTopic(name)
}

// GetTopic returns the named topic or a *NotFoundError.
func (r *Registry) GetTopic(name string) (*Topic, error) {
	r.mu.RLock()
	t, ok := r.topics[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return t, nil
}

// GetOrCreateTopic returns the named topic, creating it if needed.
func (r *Registry) GetOrCreateTopic(name string) *Topic {
	r.mu.RLock()
	t, ok := r.topics[name]
	r.mu.RUnlock()
	if ok {
		return t
	}

	r.mu.Lock()
	if t, ok = r.topics[name]; !ok {
		t = New(name, r.capacity)
		r.topics[name] = t
	}
	r.mu.Unlock()

	if !ok {
		r.log.Debug("Created topic", zap.String("topic", name))
	}
	return t
}

// Subscribe returns a cursor on the named topic, creating the topic if needed.
func (r *Registry) Subscribe(name string) *Cursor {
	return r.subscribe(r.GetOrCreateTopic(name))
}

// subscribe attaches a cursor to t. A delete can close t between lookup and
// subscription; the second attempt lands on the recreated topic.
func (r *Registry) subscribe(t *Topic) *Cursor {
	c, ok := t.subscribe()
	if ok {
		return c
	}
	c.Close()
	r.log.Debug("Topic deleted during subscribe; retrying", zap.String("topic", t.name))
	c, _ = r.GetOrCreateTopic(t.name).subscribe()
	return c
}

// DeleteTopic removes name if present. Cursors on the removed topic drain
// what it still retains and then end with ErrClosed.
func (r *Registry) DeleteTopic(name string) {
	r.mu.Lock()
	t, ok := r.topics[name]
	delete(r.topics, name)
	r.mu.Unlock()

	if !ok {
		return
	}
	t.close()
	r.log.Debug("Removed topic", zap.String("topic", name))
}

// ListTopics returns a snapshot of the current topic names in no particular
// order.
func (r *Registry) ListTopics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.topics))
	for name := range r.topics {
		names = append(names, name)
	}
	return names
}

// Len returns the number of topics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

// Capacity returns the per-topic retention used for new topics.
func (r *Registry) Capacity() int { return r.capacity }
