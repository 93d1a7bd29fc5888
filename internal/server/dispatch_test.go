package server

import (
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/agora/internal/auth"
	"github.com/Tyrowin/agora/internal/protocol"
)

// newDetachedSession returns a session with no transport whose outbound
// queue the test drains directly.
func newDetachedSession(t *testing.T, cfg Config) (*Hub, *Session) {
	t.Helper()

	h := NewHub(cfg, WithLogger(zaptest.NewLogger(t)))
	go h.Run()
	s := NewSession(nil, h, "pipe", auth.Anonymous)
	t.Cleanup(func() {
		s.Close()
		require.NoError(t, h.Shutdown(time.Second))
	})
	return h, s
}

func TestForwardReportsLag(t *testing.T) {
	h, s := newDetachedSession(t, Config{TopicCapacity: 4, OutboundQueueSize: 1})

	h.subscribe(s, "fast")
	for i := 0; i < 20; i++ {
		_, err := h.Publish("fast", strconv.Itoa(i), nil)
		require.NoError(t, err)
	}

	var notices []protocol.SystemNotification
	last := -1
	for last != 19 {
		select {
		case msg := <-s.Outbound():
			switch m := msg.(type) {
			case protocol.SystemNotification:
				notices = append(notices, m)
			case protocol.TopicMessage:
				n, err := strconv.Atoi(m.Message)
				require.NoError(t, err)
				require.Greater(t, n, last, "delivery went backwards")
				last = n
			default:
				t.Fatalf("unexpected message %#v", msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after message %d", last)
		}
	}

	require.NotEmpty(t, notices)
	assert.Equal(t, protocol.LevelWarning, notices[0].Level)
	assert.Contains(t, notices[0].Message, "fast")
	assert.Greater(t, testutil.ToFloat64(h.metrics.Lagged), float64(0))
}

func TestUnsubscribeClosesCursor(t *testing.T) {
	h, s := newDetachedSession(t, Config{})

	h.subscribe(s, "news")
	tp, err := h.registry.GetTopic("news")
	require.NoError(t, err)
	assert.Equal(t, 1, tp.SubscriberCount())

	h.unsubscribe(s, "news")
	assert.Equal(t, 0, tp.SubscriberCount())
	assert.False(t, s.IsSubscribed("news"))

	n, err := h.Publish("news", "unheard", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSessionCloseStopsForwarders(t *testing.T) {
	h, s := newDetachedSession(t, Config{})

	h.subscribe(s, "a")
	h.subscribe(s, "b")
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Subscriptions) == 2
	}, time.Second, 5*time.Millisecond)

	s.Close()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Subscriptions) == 0
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, s.Subscriptions())

	for _, name := range []string{"a", "b"} {
		tp, err := h.registry.GetTopic(name)
		require.NoError(t, err)
		assert.Equal(t, 0, tp.SubscriberCount())
	}
}

func TestSubscribeAfterCloseIsIgnored(t *testing.T) {
	h, s := newDetachedSession(t, Config{})

	s.Close()
	h.subscribe(s, "late")
	assert.False(t, s.IsSubscribed("late"))
	_, err := h.registry.GetTopic("late")
	assert.Error(t, err)
}
