// Package topic implements named fan-out channels and the registry that owns
// them.
//
// A Topic keeps the most recent messages in a fixed-size ring. Each subscriber
// reads through its own Cursor, so a slow subscriber only ever hurts itself:
// once it falls more than a ring's length behind, its next read reports how
// many messages it missed and resumes at the oldest one still retained.
package topic

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Tyrowin/agora/internal/protocol"
)

// DefaultCapacity is the number of messages a topic retains when no explicit
// capacity is configured.
const DefaultCapacity = 1000

var (
	// ErrClosed is returned by Publish on a deleted topic, and by Cursor.Next
	// once a deleted topic's retained messages have been drained. For readers
	// it marks the end of the stream.
	ErrClosed = errors.New("topic: closed")

	// ErrCursorClosed is returned by Cursor.Next after Cursor.Close.
	ErrCursorClosed = errors.New("topic: cursor closed")

	// ErrLagged matches every *LaggedError.
	ErrLagged = errors.New("topic: subscriber lagged")
)

// LaggedError reports that a cursor fell behind the retained window and
// Skipped messages were dropped for it.
type LaggedError struct {
	Topic   string
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("topic %q: subscriber lagged, %d messages skipped", e.Topic, e.Skipped)
}

// Is makes errors.Is(err, ErrLagged) hold.
func (e *LaggedError) Is(target error) bool { return target == ErrLagged }

// Topic is a single named broadcast channel.
type Topic struct {
	name     string
	capacity uint64

	mu      sync.RWMutex
	ring    []protocol.Message
	tail    uint64 // sequence number of the next publish
	cursors map[*Cursor]struct{}
	wake    chan struct{}
	closed  bool
}

// New creates a topic retaining up to capacity messages. Non-positive
// capacities fall back to DefaultCapacity.
func New(name string, capacity int) *Topic {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Topic{
		name:     name,
		capacity: uint64(capacity),
		ring:     make([]protocol.Message, capacity),
		cursors:  make(map[*Cursor]struct{}),
		wake:     make(chan struct{}),
	}
}

// Name returns the topic name.
func (t *Topic) Name() string { return t.name }

// Capacity returns the number of messages the topic retains.
func (t *Topic) Capacity() int { return int(t.capacity) }

// SubscriberCount returns the number of open cursors.
func (t *Topic) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.cursors)
}

// Subscribe returns a cursor positioned after the latest message; earlier
// messages are never replayed to it. A cursor taken on a deleted topic is
// already at the end of its stream.
func (t *Topic) Subscribe() *Cursor {
	c, _ := t.subscribe()
	return c
}

// subscribe reports whether the cursor was attached to a live topic.
func (t *Topic) subscribe() (*Cursor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := &Cursor{
		topic: t,
		next:  t.tail,
		done:  make(chan struct{}),
	}
	if t.closed {
		return c, false
	}
	t.cursors[c] = struct{}{}
	return c, true
}

// Publish appends m and wakes every waiting cursor. It returns the number of
// cursors the message was made available to, which may be zero. It never
// waits on readers.
func (t *Topic) Publish(m protocol.Message) (int, error) {
	if m == nil {
		return 0, &protocol.MessageError{Reason: "cannot publish a nil message"}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}
	t.ring[t.tail%t.capacity] = m
	t.tail++
	n := len(t.cursors)
	wake := t.wake
	t.wake = make(chan struct{})
	t.mu.Unlock()

	close(wake)
	return n, nil
}

// close ends the topic. Cursors drain what is still retained and then see
// ErrClosed.
func (t *Topic) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.cursors = make(map[*Cursor]struct{})
	wake := t.wake
	t.mu.Unlock()

	close(wake)
}

// read returns the next message for c. When nothing is available yet it
// returns the channel that the next publish or close will signal.
func (t *Topic) read(c *Cursor) (protocol.Message, <-chan struct{}, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if c.next < t.tail {
		var oldest uint64
		if t.tail > t.capacity {
			oldest = t.tail - t.capacity
		}
		if c.next < oldest {
			skipped := oldest - c.next
			c.next = oldest
			return nil, nil, &LaggedError{Topic: t.name, Skipped: skipped}
		}
		m := t.ring[c.next%t.capacity]
		c.next++
		return m, nil, nil
	}

	if t.closed {
		return nil, nil, ErrClosed
	}
	return nil, t.wake, nil
}

func (t *Topic) remove(c *Cursor) {
	t.mu.Lock()
	delete(t.cursors, c)
	t.mu.Unlock()
}

// Cursor is one subscriber's read position in a topic. A cursor must only be
// read from one goroutine at a time; Close may be called from any goroutine.
type Cursor struct {
	topic *Topic
	next  uint64

	once sync.Once
	done chan struct{}
}

// Topic returns the topic the cursor reads from.
func (c *Cursor) Topic() *Topic { return c.topic }

// Next blocks until the next message is available and returns it. A
// *LaggedError is returned once per gap, after which reading resumes at the
// oldest retained message.
func (c *Cursor) Next(ctx context.Context) (protocol.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		select {
		case <-c.done:
			return nil, ErrCursorClosed
		default:
		}

		m, wake, err := c.topic.read(c)
		if m != nil || err != nil {
			return m, err
		}

		select {
		case <-wake:
		case <-c.done:
			return nil, ErrCursorClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close detaches the cursor from its topic. It is safe to call more than once.
func (c *Cursor) Close() {
	c.once.Do(func() {
		close(c.done)
		c.topic.remove(c)
	})
}
