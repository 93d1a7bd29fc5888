package protocol_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/agora/internal/protocol"
)

// TestFrameRoundTrip checks that decoding and re-encoding a canonical frame
// reproduces it byte for byte, for every variant.
func TestFrameRoundTrip(t *testing.T) {
	frames := map[protocol.Type]string{
		protocol.TypeSubscribe:   `{"type":"subscribe","payload":{"topic":"alerts"}}`,
		protocol.TypeUnsubscribe: `{"type":"unsubscribe","payload":{"topic":"alerts"}}`,
		protocol.TypeMessage:     `{"type":"message","payload":{"topic":"alerts","message":"down","metadata":{"host":"db-1","message_id":"42"}}}`,
		protocol.TypeSystem:      `{"type":"system","payload":{"level":"warning","message":"maintenance at noon"}}`,
		protocol.TypeHeartbeat:   `{"type":"heartbeat","payload":{"client_id":"c-1","timestamp":1700000000}}`,
		protocol.TypeAck:         `{"type":"ack","payload":{"message_id":"42","status":"error","error":"boom"}}`,
		protocol.TypeTest:        `{"type":"test","payload":{"message":"ping"}}`,
	}
	require.Len(t, frames, len(protocol.Types()), "every known type needs a canonical frame")

	for typ, frame := range frames {
		t.Run(string(typ), func(t *testing.T) {
			msg, err := protocol.Decode([]byte(frame))
			require.NoError(t, err)
			assert.Equal(t, typ, msg.Type())

			encoded, err := protocol.Encode(msg)
			require.NoError(t, err)
			assert.Equal(t, frame, string(encoded))
		})
	}

	t.Run("message without metadata", func(t *testing.T) {
		frame := `{"type":"message","payload":{"topic":"alerts","message":"down"}}`
		msg, err := protocol.Decode([]byte(frame))
		require.NoError(t, err)
		encoded, err := protocol.Encode(msg)
		require.NoError(t, err)
		assert.Equal(t, frame, string(encoded))
	})

	t.Run("ack without error", func(t *testing.T) {
		frame := `{"type":"ack","payload":{"message_id":"42","status":"success"}}`
		msg, err := protocol.Decode([]byte(frame))
		require.NoError(t, err)
		encoded, err := protocol.Encode(msg)
		require.NoError(t, err)
		assert.Equal(t, frame, string(encoded))
	})
}

func TestDecodeVariants(t *testing.T) {
	msg, err := protocol.Decode([]byte(`{"type":"message","payload":{"topic":"alerts","message":"down","metadata":{"k":"v"}}}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.TopicMessage{
		Topic:    "alerts",
		Message:  "down",
		Metadata: map[string]string{"k": "v"},
	}, msg)

	msg, err = protocol.Decode([]byte(`{"payload":{"client_id":"abc","timestamp":12},"type":"heartbeat"}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.Heartbeat{ClientID: "abc", Timestamp: 12}, msg)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		variant protocol.Type
		field   string
	}{
		{name: "not json", frame: `not json`},
		{name: "array", frame: `[1,2]`},
		{name: "missing type", frame: `{"payload":{"topic":"a"}}`, field: "type"},
		{name: "type not a string", frame: `{"type":7,"payload":{}}`, field: "type"},
		{name: "unknown type", frame: `{"type":"bogus"}`, variant: "bogus"},
		{name: "missing payload", frame: `{"type":"subscribe"}`, variant: protocol.TypeSubscribe, field: "payload"},
		{name: "null payload", frame: `{"type":"subscribe","payload":null}`, variant: protocol.TypeSubscribe, field: "payload"},
		{name: "payload not an object", frame: `{"type":"test","payload":"hi"}`, variant: protocol.TypeTest, field: "payload"},
		{name: "extra top-level field", frame: `{"type":"test","payload":{"message":"x"},"id":1}`, variant: protocol.TypeTest, field: "id"},
		{name: "missing topic", frame: `{"type":"subscribe","payload":{}}`, variant: protocol.TypeSubscribe, field: "topic"},
		{name: "empty topic", frame: `{"type":"unsubscribe","payload":{"topic":""}}`, variant: protocol.TypeUnsubscribe, field: "topic"},
		{name: "null topic", frame: `{"type":"message","payload":{"topic":null,"message":"x"}}`, variant: protocol.TypeMessage, field: "topic"},
		{name: "missing message", frame: `{"type":"message","payload":{"topic":"a"}}`, variant: protocol.TypeMessage, field: "message"},
		{name: "unknown payload field", frame: `{"type":"test","payload":{"message":"x","extra":true}}`, variant: protocol.TypeTest, field: "extra"},
		{name: "missing timestamp", frame: `{"type":"heartbeat","payload":{"client_id":"a"}}`, variant: protocol.TypeHeartbeat, field: "timestamp"},
		{name: "timestamp wrong type", frame: `{"type":"heartbeat","payload":{"client_id":"a","timestamp":"now"}}`, variant: protocol.TypeHeartbeat},
		{name: "metadata wrong type", frame: `{"type":"message","payload":{"topic":"a","message":"b","metadata":{"k":1}}}`, variant: protocol.TypeMessage},
		{name: "missing status", frame: `{"type":"ack","payload":{"message_id":"1"}}`, variant: protocol.TypeAck, field: "status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := protocol.Decode([]byte(tt.frame))
			require.Error(t, err)
			assert.Nil(t, msg)

			var me *protocol.MessageError
			require.True(t, errors.As(err, &me), "expected *MessageError, got %T", err)
			assert.Equal(t, tt.variant, me.Variant)
			assert.Equal(t, tt.field, me.Field)
			assert.True(t, protocol.IsMessageError(err))
			assert.NotEmpty(t, err.Error())
		})
	}
}

func TestEncodeNil(t *testing.T) {
	_, err := protocol.Encode(nil)
	assert.True(t, protocol.IsMessageError(err))
}

func TestConstructors(t *testing.T) {
	msg := protocol.NewTopicMessage("alerts", "down")
	assert.NotNil(t, msg.Metadata)
	assert.Empty(t, msg.Metadata)
	assert.Empty(t, msg.MessageID())

	frame, err := protocol.Encode(msg)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"message","payload":{"topic":"alerts","message":"down"}}`, string(frame))

	assert.Equal(t, protocol.Subscribe{Topic: "alerts"}, protocol.NewSubscribe("alerts"))
	assert.Equal(t, protocol.Unsubscribe{Topic: "alerts"}, protocol.NewUnsubscribe("alerts"))
	assert.Equal(t, protocol.Test{Message: "hi"}, protocol.NewTest("hi"))

	ack := protocol.NewErrorAck("7", errors.New("nope"))
	assert.Equal(t, protocol.StatusError, ack.Status)
	assert.Equal(t, "nope", ack.Error)
	assert.Equal(t, protocol.StatusSuccess, protocol.NewAck("7").Status)

	a, b := protocol.GenerateID(), protocol.GenerateID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
