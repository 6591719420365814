package messagebus

import (
	"encoding/json"

	"github.com/wirehome/core"
)

// Privileged message keys. Type is the routing key; Timestamp is assigned by
// the bus at publish time. All other keys are opaque payload.
const (
	KeyType      = "type"
	KeyTimestamp = "timestamp"
)

// Operations-per-second counter uids maintained by the bus.
const (
	CounterMessagesPublished = "message_bus.messages_published"
	CounterMessagesDropped   = "message_bus.messages_dropped"
)

// Message is an immutable mapping of string keys to JSON values. The bus
// clones messages on publish, so subscribers may not observe later caller
// mutations.
type Message map[string]wirehome.Value

// NewMessage creates a message with the given routing type.
func NewMessage(messageType string) Message {
	return Message{KeyType: messageType}
}

// Type returns the routing type of the message, or "" when absent.
func (m Message) Type() string {
	if t, ok := m[KeyType].(string); ok {
		return t
	}
	return ""
}

// Timestamp returns the publish timestamp in unix milliseconds, or 0 when the
// message has not been published yet. Both the native int64 form and the
// float64 form produced by JSON decoding are understood.
func (m Message) Timestamp() int64 {
	switch v := m[KeyTimestamp].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Filter is a set of required key/value equalities. A message matches when
// every filter key is present in the message with a deeply equal value. The
// empty filter matches every message.
type Filter map[string]wirehome.Value

// Matches reports whether the message satisfies every equality in the filter.
func (f Filter) Matches(m Message) bool {
	for key, want := range f {
		got, ok := m[key]
		if !ok || !wirehome.ValuesEqual(want, got) {
			return false
		}
	}
	return true
}

// FilterList is a disjunction of filters: a message matches when any single
// filter matches. The empty list matches nothing.
type FilterList []Filter

// Matches reports whether any filter in the list matches the message.
func (l FilterList) Matches(m Message) bool {
	for _, f := range l {
		if f.Matches(m) {
			return true
		}
	}
	return false
}
