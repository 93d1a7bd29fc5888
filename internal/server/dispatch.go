package server

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Tyrowin/agora/internal/protocol"
	"github.com/Tyrowin/agora/internal/topic"
)

var (
	errRateLimited = errors.New("rate limit exceeded")

	errSystemFromClient = &protocol.MessageError{
		Variant: protocol.TypeSystem,
		Reason:  "system notifications are server-originated",
	}
)

// dispatch decodes one inbound frame and acts on it. Failures are answered
// with an error acknowledgment; the connection stays open.
func (h *Hub) dispatch(ctx context.Context, s *Session, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		h.metrics.error(kindMessage)
		s.log.Info("Rejected malformed frame", zap.Error(err))
		h.reply(ctx, s, protocol.NewErrorAck("", err))
		return
	}

	switch m := msg.(type) {
	case protocol.Subscribe:
		h.subscribe(s, m.Topic)
	case protocol.Unsubscribe:
		h.unsubscribe(s, m.Topic)
	case protocol.TopicMessage:
		h.publish(ctx, s, m)
	case protocol.Heartbeat:
		h.reply(ctx, s, protocol.NewHeartbeat(s.id.String(), h.now().UnixMilli()))
	case protocol.Test:
		h.reply(ctx, s, m)
	case protocol.Acknowledgment:
		s.log.Debug("Client acknowledgment",
			zap.String("message_id", m.MessageID),
			zap.String("status", m.Status),
			zap.String("error", m.Error))
	case protocol.SystemNotification:
		h.metrics.error(kindMessage)
		h.reply(ctx, s, protocol.NewErrorAck("", errSystemFromClient))
	}
}

// reply queues a response to s. A closed session simply drops it.
func (h *Hub) reply(ctx context.Context, s *Session, msg protocol.Message) {
	if err := s.Send(ctx, msg); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			h.metrics.error(kindClient)
		}
		s.log.Debug("Reply not delivered", zap.String("type", string(msg.Type())), zap.Error(err))
	}
}

// subscribe records the subscription and starts its forwarding task from a
// fresh cursor. Repeated subscriptions are no-ops.
func (h *Hub) subscribe(s *Session, name string) {
	if !s.Subscribe(name) {
		s.log.Debug("Subscription ignored", zap.String("topic", name))
		return
	}

	cursor := h.registry.Subscribe(name)
	ctx, cancel := context.WithCancel(s.ctx)
	sub := &subscription{cursor: cursor, cancel: cancel}
	if !s.attach(name, sub) {
		sub.stop()
		h.metrics.error(kindSubscription)
		err := &SubscriptionError{Topic: name, Err: ErrSessionClosed}
		s.log.Debug("Subscription abandoned", zap.Error(err))
		return
	}

	s.log.Info("Subscribed",
		zap.String("topic", name),
		zap.Int("subscribers", cursor.Topic().SubscriberCount()))
	h.wg.Add(1)
	go h.forward(ctx, s, name, sub)
}

func (h *Hub) unsubscribe(s *Session, name string) {
	if !s.Unsubscribe(name) {
		s.log.Debug("Not subscribed", zap.String("topic", name))
		return
	}
	s.log.Info("Unsubscribed", zap.String("topic", name))
}

func (h *Hub) publish(ctx context.Context, s *Session, m protocol.TopicMessage) {
	n, err := h.PublishMessage(m)
	if err != nil {
		s.log.Warn("Publish failed", zap.String("topic", m.Topic), zap.Error(err))
		h.reply(ctx, s, protocol.NewErrorAck(m.MessageID(), err))
		return
	}

	s.log.Debug("Published", zap.String("topic", m.Topic), zap.Int("recipients", n))
	if id := m.MessageID(); id != "" {
		h.reply(ctx, s, protocol.NewAck(id))
	}
}

// forward drains one subscription's cursor into the session's outbound
// queue until the subscription is cancelled, the session closes or the topic
// is deleted.
func (h *Hub) forward(ctx context.Context, s *Session, name string, sub *subscription) {
	defer h.wg.Done()
	defer sub.cursor.Close()

	h.metrics.Subscriptions.Inc()
	defer h.metrics.Subscriptions.Dec()

	for {
		msg, err := sub.cursor.Next(ctx)

		var lagged *topic.LaggedError
		switch {
		case err == nil:
			if ctx.Err() != nil {
				return
			}
			if err := s.Send(ctx, msg); err != nil {
				if errors.Is(err, ErrSessionClosed) {
					h.metrics.error(kindClient)
				}
				return
			}
			h.metrics.Delivered.Inc()

		case errors.As(err, &lagged):
			h.metrics.Lagged.Add(float64(lagged.Skipped))
			s.log.Warn("Subscriber lagged", zap.String("topic", name), zap.Uint64("skipped", lagged.Skipped))
			notice := protocol.NewSystem(protocol.LevelWarning,
				fmt.Sprintf("lagged on topic %q: %d messages skipped", name, lagged.Skipped))
			if err := s.Send(ctx, notice); err != nil {
				return
			}

		case errors.Is(err, topic.ErrClosed):
			s.detach(name, sub)
			s.log.Info("Topic closed", zap.String("topic", name))
			h.reply(ctx, s, protocol.NewSystem(protocol.LevelInfo, fmt.Sprintf("topic %q closed", name)))
			return

		default:
			return
		}
	}
}

// PublishMessage publishes m to its topic, creating the topic if needed, and
// returns the number of subscribers it was made available to.
func (h *Hub) PublishMessage(m protocol.TopicMessage) (int, error) {
	if m.Topic == "" {
		return 0, &RoutingError{Err: &protocol.MessageError{
			Variant: protocol.TypeMessage,
			Field:   "topic",
			Reason:  "must not be empty",
		}}
	}

	// A concurrent delete can close the topic between lookup and publish;
	// the second attempt lands on the recreated topic.
	for attempt := 0; attempt < 2; attempt++ {
		n, err := h.registry.GetOrCreateTopic(m.Topic).Publish(m)
		if errors.Is(err, topic.ErrClosed) {
			continue
		}
		if err != nil {
			h.metrics.error(kindRouting)
			return 0, &RoutingError{Topic: m.Topic, Err: err}
		}
		h.metrics.Published.Inc()
		return n, nil
	}

	h.metrics.error(kindRouting)
	return 0, &RoutingError{Topic: m.Topic, Err: topic.ErrClosed}
}

// Publish lets in-process components publish to a topic.
func (h *Hub) Publish(topicName, message string, metadata map[string]string) (int, error) {
	m := protocol.NewTopicMessage(topicName, message)
	for k, v := range metadata {
		m.Metadata[k] = v
	}
	return h.PublishMessage(m)
}

// Notify queues a system notification to every session that has room for it
// and returns how many sessions it reached.
func (h *Hub) Notify(level, message string) int {
	msg := protocol.NewSystem(level, message)
	sent := 0
	for _, s := range h.Sessions() {
		if s.trySend(msg) {
			sent++
		}
	}
	h.log.Debug("System notification", zap.String("level", level), zap.Int("recipients", sent))
	return sent
}
