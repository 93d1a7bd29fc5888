package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// MessageError reports a malformed frame or a protocol violation. Variant and
// Field are set when the problem can be attributed to them.
type MessageError struct {
	Variant Type
	Field   string
	Reason  string
	Err     error
}

func (e *MessageError) Error() string {
	switch {
	case e.Variant != "" && e.Field != "":
		return fmt.Sprintf("protocol: %s.%s: %s", e.Variant, e.Field, e.Reason)
	case e.Variant != "":
		return fmt.Sprintf("protocol: %s: %s", e.Variant, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("protocol: %s: %s", e.Field, e.Reason)
	default:
		return "protocol: " + e.Reason
	}
}

func (e *MessageError) Unwrap() error { return e.Err }

type envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type field struct {
	name     string
	required bool
	topic    bool
}

type variant struct {
	fields []field
	decode func([]byte) (Message, error)
}

var variants = map[Type]variant{
	TypeSubscribe: {
		fields: []field{{name: "topic", required: true, topic: true}},
		decode: decodeAs[Subscribe],
	},
	TypeUnsubscribe: {
		fields: []field{{name: "topic", required: true, topic: true}},
		decode: decodeAs[Unsubscribe],
	},
	TypeMessage: {
		fields: []field{
			{name: "topic", required: true, topic: true},
			{name: "message", required: true},
			{name: "metadata"},
		},
		decode: decodeAs[TopicMessage],
	},
	TypeSystem: {
		fields: []field{{name: "level", required: true}, {name: "message", required: true}},
		decode: decodeAs[SystemNotification],
	},
	TypeHeartbeat: {
		fields: []field{{name: "client_id", required: true}, {name: "timestamp", required: true}},
		decode: decodeAs[Heartbeat],
	},
	TypeAck: {
		fields: []field{{name: "message_id", required: true}, {name: "status", required: true}, {name: "error"}},
		decode: decodeAs[Acknowledgment],
	},
	TypeTest: {
		fields: []field{{name: "message", required: true}},
		decode: decodeAs[Test],
	},
}

// Types returns every known discriminator in lexical order.
func Types() []Type {
	types := make([]Type, 0, len(variants))
	for t := range variants {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func decodeAs[T Message](payload []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode renders m as a wire frame.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, &MessageError{Reason: "nil message"}
	}
	if _, ok := variants[m.Type()]; !ok {
		return nil, &MessageError{Variant: m.Type(), Reason: "unknown message type"}
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return nil, &MessageError{Variant: m.Type(), Reason: "encode payload", Err: err}
	}

	frame, err := json.Marshal(envelope{Type: m.Type(), Payload: payload})
	if err != nil {
		return nil, &MessageError{Variant: m.Type(), Reason: "encode frame", Err: err}
	}
	return frame, nil
}

// Decode parses a wire frame. Every failure is reported as a *MessageError.
func Decode(frame []byte) (Message, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(frame, &top); err != nil {
		return nil, &MessageError{Reason: "invalid JSON frame", Err: err}
	}

	rawType, ok := top["type"]
	if !ok || isNull(rawType) {
		return nil, &MessageError{Field: "type", Reason: "missing"}
	}
	var t Type
	if err := json.Unmarshal(rawType, &t); err != nil {
		return nil, &MessageError{Field: "type", Reason: "must be a string", Err: err}
	}

	v, ok := variants[t]
	if !ok {
		return nil, &MessageError{Variant: t, Reason: "unknown message type"}
	}

	for key := range top {
		if key != "type" && key != "payload" {
			return nil, &MessageError{Variant: t, Field: key, Reason: "unexpected top-level field"}
		}
	}

	payload, ok := top["payload"]
	if !ok || isNull(payload) {
		return nil, &MessageError{Variant: t, Field: "payload", Reason: "missing"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, &MessageError{Variant: t, Field: "payload", Reason: "must be an object", Err: err}
	}
	if err := v.check(t, fields); err != nil {
		return nil, err
	}

	m, err := v.decode(payload)
	if err != nil {
		return nil, &MessageError{Variant: t, Reason: "invalid payload", Err: err}
	}
	return m, nil
}

func (v variant) check(t Type, fields map[string]json.RawMessage) error {
	known := make(map[string]struct{}, len(v.fields))
	for _, f := range v.fields {
		known[f.name] = struct{}{}

		raw, present := fields[f.name]
		if present && isNull(raw) {
			present = false
		}
		if f.required && !present {
			return &MessageError{Variant: t, Field: f.name, Reason: "missing required field"}
		}
		if f.topic && present {
			var name string
			if err := json.Unmarshal(raw, &name); err != nil {
				return &MessageError{Variant: t, Field: f.name, Reason: "must be a string", Err: err}
			}
			if name == "" {
				return &MessageError{Variant: t, Field: f.name, Reason: "must not be empty"}
			}
		}
	}

	for name := range fields {
		if _, ok := known[name]; !ok {
			return &MessageError{Variant: t, Field: name, Reason: "unknown field"}
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// IsMessageError reports whether err is, or wraps, a *MessageError.
func IsMessageError(err error) bool {
	var me *MessageError
	return errors.As(err, &me)
}
