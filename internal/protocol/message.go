// Package protocol defines the messages exchanged between Agora clients and the
// server, and the JSON frame codec that converts them to and from the wire.
//
// Every frame is a JSON object with exactly two fields: "type", naming the
// variant, and "payload", holding that variant's fields.
package protocol

import "github.com/google/uuid"

// Type is the discriminator carried in the "type" field of a frame.
type Type string

// Known message types.
const (
	TypeSubscribe   Type = "subscribe"
	TypeUnsubscribe Type = "unsubscribe"
	TypeMessage     Type = "message"
	TypeSystem      Type = "system"
	TypeHeartbeat   Type = "heartbeat"
	TypeAck         Type = "ack"
	TypeTest        Type = "test"
)

// Acknowledgment statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// System notification levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// MetadataMessageID is the metadata key a producer uses to attach its own
// correlation identifier to a topic message.
const MetadataMessageID = "message_id"

// Message is one of the closed set of protocol variants defined in this
// package. Values are immutable once constructed.
type Message interface {
	// Type returns the discriminator written to the wire.
	Type() Type
	isMessage()
}

// Subscribe asks the server to start delivering a topic to the sender.
type Subscribe struct {
	Topic string `json:"topic"`
}

// Unsubscribe asks the server to stop delivering a topic to the sender.
type Unsubscribe struct {
	Topic string `json:"topic"`
}

// TopicMessage is a message published to, or delivered from, a topic.
type TopicMessage struct {
	Topic    string            `json:"topic"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SystemNotification is a server-originated notice.
type SystemNotification struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Heartbeat keeps a connection alive and lets both sides measure liveness.
type Heartbeat struct {
	ClientID  string `json:"client_id"`
	Timestamp int64  `json:"timestamp"`
}

// Acknowledgment reports the outcome of a previously received message.
type Acknowledgment struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Test is a diagnostic message echoed back by the server.
type Test struct {
	Message string `json:"message"`
}

func (Subscribe) Type() Type          { return TypeSubscribe }
func (Unsubscribe) Type() Type        { return TypeUnsubscribe }
func (TopicMessage) Type() Type       { return TypeMessage }
func (SystemNotification) Type() Type { return TypeSystem }
func (Heartbeat) Type() Type          { return TypeHeartbeat }
func (Acknowledgment) Type() Type     { return TypeAck }
func (Test) Type() Type               { return TypeTest }

func (Subscribe) isMessage()          {}
func (Unsubscribe) isMessage()        {}
func (TopicMessage) isMessage()       {}
func (SystemNotification) isMessage() {}
func (Heartbeat) isMessage()          {}
func (Acknowledgment) isMessage()     {}
func (Test) isMessage()               {}

// MessageID returns the producer supplied correlation identifier, if any.
func (m TopicMessage) MessageID() string {
	return m.Metadata[MetadataMessageID]
}

// NewTest creates a test message.
func NewTest(message string) Test {
	return Test{Message: message}
}

// NewTopicMessage creates a topic message with empty metadata.
func NewTopicMessage(topic, message string) TopicMessage {
	return TopicMessage{
		Topic:    topic,
		Message:  message,
		Metadata: map[string]string{},
	}
}

// NewSubscribe creates a subscription request.
func NewSubscribe(topic string) Subscribe {
	return Subscribe{Topic: topic}
}

// NewUnsubscribe creates an unsubscription request.
func NewUnsubscribe(topic string) Unsubscribe {
	return Unsubscribe{Topic: topic}
}

// NewSystem creates a system notification.
func NewSystem(level, message string) SystemNotification {
	return SystemNotification{Level: level, Message: message}
}

// NewHeartbeat creates a heartbeat.
func NewHeartbeat(clientID string, timestamp int64) Heartbeat {
	return Heartbeat{ClientID: clientID, Timestamp: timestamp}
}

// NewAck creates a successful acknowledgment for messageID.
func NewAck(messageID string) Acknowledgment {
	return Acknowledgment{MessageID: messageID, Status: StatusSuccess}
}

// NewErrorAck creates a failed acknowledgment carrying the reason in err.
func NewErrorAck(messageID string, err error) Acknowledgment {
	ack := Acknowledgment{MessageID: messageID, Status: StatusError}
	if err != nil {
		ack.Error = err.Error()
	}
	return ack
}

// GenerateID returns a fresh random identifier suitable for correlating a
// message with its acknowledgment.
func GenerateID() string {
	return uuid.NewString()
}
