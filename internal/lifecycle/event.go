package lifecycle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// EventType identifies the state transition an Event announces.
type EventType string

const (
	UserCreated EventType = "user_created"
	UserDeleted EventType = "user_deleted"
)

// Reserved wire keys. Payload fields may not reuse them.
const (
	KeyEventType = "event_type"
	KeyEntityID  = "entity_id"
	KeyTimestamp = "timestamp"
)

type payloadRule int

const (
	payloadRequired payloadRule = iota
	payloadForbidden
)

// rules maps every known event type to its payload requirement. Adding an
// event type means adding an entry here.
var rules = map[EventType]payloadRule{
	UserCreated: payloadRequired,
	UserDeleted: payloadForbidden,
}

// Field is a single entity attribute carried by a creation event.
type Field struct {
	Key   string
	Value any
}

// F is shorthand for building a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Payload is an ordered list of entity fields. Order is preserved on the
// wire so that encoding the same event always yields the same bytes.
type Payload []Field

// Event is a lifecycle event for a single entity.
type Event struct {
	Type     EventType
	EntityID string
	Payload  Payload
	// Timestamp is when the local mutation committed, set by the caller.
	Timestamp time.Time
}

// Created builds a creation event.
func Created(entityID string, payload Payload, ts time.Time) Event {
	return Event{Type: UserCreated, EntityID: entityID, Payload: payload, Timestamp: ts}
}

// Deleted builds a deletion event. Deletions never carry a payload.
func Deleted(entityID string, ts time.Time) Event {
	return Event{Type: UserDeleted, EntityID: entityID, Timestamp: ts}
}

// Validate checks the event against the rules for its type.
func (e Event) Validate() error {
	rule, ok := rules[e.Type]
	if !ok {
		return &EncodingError{EventType: e.Type, Field: KeyEventType, Reason: "unknown event type"}
	}
	if e.EntityID == "" {
		return &EncodingError{EventType: e.Type, Field: KeyEntityID, Reason: "missing"}
	}
	if !utf8.ValidString(e.EntityID) {
		return &EncodingError{EventType: e.Type, Field: KeyEntityID, Reason: "not valid UTF-8"}
	}
	if e.Timestamp.IsZero() {
		return &EncodingError{EventType: e.Type, Field: KeyTimestamp, Reason: "missing"}
	}

	switch rule {
	case payloadRequired:
		if len(e.Payload) == 0 {
			return &EncodingError{EventType: e.Type, Field: "payload", Reason: "required for this event type"}
		}
	case payloadForbidden:
		if len(e.Payload) != 0 {
			return &EncodingError{EventType: e.Type, Field: "payload", Reason: "not allowed for this event type"}
		}
	}

	seen := make(map[string]struct{}, len(e.Payload))
	for _, f := range e.Payload {
		switch f.Key {
		case "":
			return &EncodingError{EventType: e.Type, Field: "payload", Reason: "empty field name"}
		case KeyEventType, KeyEntityID, KeyTimestamp:
			return &EncodingError{EventType: e.Type, Field: f.Key, Reason: "reserved field name in payload"}
		}
		if _, dup := seen[f.Key]; dup {
			return &EncodingError{EventType: e.Type, Field: f.Key, Reason: "duplicate field in payload"}
		}
		seen[f.Key] = struct{}{}
	}

	return nil
}

// Encode serializes the event as a JSON object:
//
//	{"event_type":...,"entity_id":...,<payload fields in order>,"timestamp":...}
//
// The timestamp is written in RFC 3339 (UTC).
func Encode(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte('{')

	write := func(key string, value any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return &EncodingError{EventType: e.Type, Field: key, Reason: "value is not JSON encodable", Err: err}
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	if err := write(KeyEventType, string(e.Type)); err != nil {
		return nil, err
	}
	if err := write(KeyEntityID, e.EntityID); err != nil {
		return nil, err
	}
	for _, f := range e.Payload {
		if err := write(f.Key, f.Value); err != nil {
			return nil, err
		}
	}
	if err := write(KeyTimestamp, e.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// PartitionKey returns the broker message key for the event. All events for
// one entity share a key and therefore a partition. A missing entity id
// yields a nil key.
func PartitionKey(e Event) []byte {
	if e.EntityID == "" {
		return nil
	}
	return []byte(e.EntityID)
}

func (e Event) String() string {
	return fmt.Sprintf("%s(%s)", e.Type, e.EntityID)
}
