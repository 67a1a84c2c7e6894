package models

import (
	"reflect"
	"strings"
	"time"
)

// Event type tags. Anything outside this set must use the "custom_" prefix.
const (
	EventSessionStart        = "session_start"
	EventSessionEnd          = "session_end"
	EventAIRequest           = "ai_request"
	EventAIResponse          = "ai_response"
	EventToolExecution       = "tool_execution"
	EventNetworkRequest      = "network_request"
	EventNetworkResponse     = "network_response"
	EventWebSocketConnection = "websocket_connection"
	EventWebSocketMessage    = "websocket_message"
	EventError               = "error"

	// CustomEventPrefix marks forward-compatible event types not known to this build.
	CustomEventPrefix = "custom_"
)

var knownEventTypes = map[string]bool{
	EventSessionStart:        true,
	EventSessionEnd:          true,
	EventAIRequest:           true,
	EventAIResponse:          true,
	EventToolExecution:       true,
	EventNetworkRequest:      true,
	EventNetworkResponse:     true,
	EventWebSocketConnection: true,
	EventWebSocketMessage:    true,
	EventError:               true,
}

// KnownEventType reports whether t is a recognized event type tag.
func KnownEventType(t string) bool {
	return knownEventTypes[t] || strings.HasPrefix(t, CustomEventPrefix)
}

// TraceEvent is one immutable record of something the traced tool did.
// Type, Timestamp and SessionID are common to every variant; Fields carries
// the variant payload and is encoded flat alongside the common keys.
type TraceEvent struct {
	Type      string
	Timestamp time.Time
	SessionID string
	Fields    map[string]any
}

// NewEvent builds a TraceEvent stamped with the current time.
func NewEvent(eventType, sessionID string, fields map[string]any) TraceEvent {
	return TraceEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Fields:    fields,
	}
}

// Clone returns a deep copy of the event. Maps and slices inside Fields are
// copied recursively; a container seen before on the current path is kept as
// a shared reference so cyclic payloads do not recurse forever.
func (e TraceEvent) Clone() TraceEvent {
	out := e
	out.Fields = deepCopyMap(e.Fields, make(map[uintptr]bool))
	return out
}

func deepCopyMap(m map[string]any, seen map[uintptr]bool) map[string]any {
	if m == nil {
		return nil
	}
	ptr := reflect.ValueOf(m).Pointer()
	if seen[ptr] {
		return m
	}
	seen[ptr] = true
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v, seen)
	}
	return out
}

func deepCopyValue(v any, seen map[uintptr]bool) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val, seen)
	case []any:
		ptr := reflect.ValueOf(val).Pointer()
		if seen[ptr] {
			return val
		}
		seen[ptr] = true
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item, seen)
		}
		return out
	default:
		return v
	}
}
