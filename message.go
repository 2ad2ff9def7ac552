package reverb

import (
	"encoding/json"
	"strings"
)

// Protocol event and client event names used on the wire. Unexported —
// callers interact with these through Bind/Unbind, not raw event strings,
// except for the documented `pusher:error`/`pusher_internal:*` names
// surfaced to handlers for observability.
const (
	eventPing                  = "pusher:ping"
	eventPong                  = "pusher:pong"
	eventError                 = "pusher:error"
	eventSubscribe             = "pusher:subscribe"
	eventUnsubscribe           = "pusher:unsubscribe"
	eventConnectionEstablished = "pusher:connection_established"
	eventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	eventMemberAdded           = "pusher_internal:member_added"
	eventMemberRemoved         = "pusher_internal:member_removed"

	// errorEventName is what the global handler table sees dispatched for
	// a server-originated pusher:error, per spec.md §4.5 step 2.
	errorEventName = "error"

	// disconnectedEventName is what the global handler table sees
	// dispatched when the connection is lost, per spec.md §4.5's
	// on_disconnect notification.
	disconnectedEventName = "disconnected"

	clientEventPrefix = "client-"
)

// Envelope is the decoded form of a wire message: an event name, an
// optional channel, and an arbitrary decoded payload (never the raw
// double-encoded JSON string described in spec.md §4.1).
type Envelope struct {
	Event   string
	Channel string
	Data    interface{}
}

// wireEnvelope is the literal JSON shape on the wire: `data` is always a
// string, even when it represents a nested JSON value.
type wireEnvelope struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// encode serializes an Envelope to wire bytes, double-encoding Data when it
// is a structured value (anything but nil or an already-encoded string).
func encode(e Envelope) ([]byte, error) {
	w := wireEnvelope{Event: e.Event, Channel: e.Channel}

	switch v := e.Data.(type) {
	case nil:
		w.Data = json.RawMessage(`"{}"`)
	case json.RawMessage:
		w.Data = v
	case string:
		inner, err := json.Marshal(v)
		if err != nil {
			return nil, protocolError("encoding string data", err)
		}
		w.Data = inner
	default:
		inner, err := json.Marshal(v)
		if err != nil {
			return nil, protocolError("encoding structured data", err)
		}
		asString, err := json.Marshal(string(inner))
		if err != nil {
			return nil, protocolError("double-encoding data", err)
		}
		w.Data = asString
	}

	return json.Marshal(w)
}

// decode parses wire bytes into an Envelope. The outer JSON must be
// well-formed or a ProtocolError is returned. The inner `data` string is
// recursively parsed when it looks like JSON (an object, array, quoted
// string, or bare literal); an unparseable inner string is preserved
// as-is rather than surfaced as an error, per spec.md §4.1.
func decode(raw []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return Envelope{}, protocolError("decoding envelope", err)
	}

	e := Envelope{Event: w.Event, Channel: w.Channel}

	if len(w.Data) == 0 {
		return e, nil
	}

	var dataStr string
	if err := json.Unmarshal(w.Data, &dataStr); err != nil {
		// data wasn't a JSON string at all — treat the raw value as the
		// payload directly (tolerant of non-conformant brokers/tests).
		var v interface{}
		if err := json.Unmarshal(w.Data, &v); err == nil {
			e.Data = v
		}
		return e, nil
	}

	if looksLikeJSON(dataStr) {
		var inner interface{}
		if err := json.Unmarshal([]byte(dataStr), &inner); err == nil {
			e.Data = inner
			return e, nil
		}
	}

	e.Data = dataStr
	return e, nil
}

// looksLikeJSON reports whether s begins with a character that starts a
// JSON object, array, string, or literal token, per spec.md §4.1's decode
// contract ("starts with {, [, or a quoted/literal token").
func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	switch s[0] {
	case '{', '[', '"':
		return true
	}
	switch {
	case strings.HasPrefix(s, "true"), strings.HasPrefix(s, "false"), strings.HasPrefix(s, "null"):
		return true
	}
	if s[0] == '-' || (s[0] >= '0' && s[0] <= '9') {
		return true
	}
	return false
}

// decodeInto unmarshals an already-decoded Data value (from Envelope.Data)
// into dest via a marshal/unmarshal round trip. This lets callers bind a
// struct type without hand-rolling map[string]interface{} lookups.
func decodeInto(data interface{}, dest interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
