// Package jsonl encodes trace events as deterministic JSON lines and
// validates whole log files at finalize time.
package jsonl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/agenttrace-ai/agenttrace/pkg/models"
)

// ErrLineTooLarge is returned when an encoded event still exceeds the size
// limit after truncation. The event is dropped rather than written oversized.
var ErrLineTooLarge = errors.New("jsonl: encoded event exceeds max body size")

const (
	// CircularMarker replaces values that reference an ancestor container.
	CircularMarker = "[Circular Reference]"
	// TruncationMarker is appended to clipped strings and arrays.
	TruncationMarker = "...[truncated]"

	maxArrayEntries = 100
)

// Reserved keys present on every line. Payload fields never override them.
const (
	keyType      = "type"
	keyTimestamp = "timestamp"
	keySessionID = "session_id"
)

// Marshal encodes an event as one JSON line (without trailing newline).
// Map keys are emitted sorted, so identical events always produce identical
// bytes. If the encoding exceeds maxBodySize, one truncation pass clips long
// strings and arrays; an encoding that is still oversized fails with
// ErrLineTooLarge.
func Marshal(event models.TraceEvent, maxBodySize int) ([]byte, error) {
	flat := flatten(event)
	flat = neutralizeCycles(flat, make(map[uintptr]bool)).(map[string]any)

	data, err := json.Marshal(flat)
	if err != nil {
		return nil, fmt.Errorf("jsonl: encode event: %w", err)
	}
	if maxBodySize <= 0 || len(data) <= maxBodySize {
		return data, nil
	}

	clipped := truncate(flat, maxBodySize/4).(map[string]any)
	data, err = json.Marshal(clipped)
	if err != nil {
		return nil, fmt.Errorf("jsonl: encode truncated event: %w", err)
	}
	if len(data) > maxBodySize {
		return nil, fmt.Errorf("%w: %d bytes after truncation (limit %d)", ErrLineTooLarge, len(data), maxBodySize)
	}
	return data, nil
}

// Unmarshal parses one JSON line back into a TraceEvent. The line must carry
// the three common fields; anything else is a structural error.
func Unmarshal(line []byte) (models.TraceEvent, error) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return models.TraceEvent{}, fmt.Errorf("jsonl: parse line: %w", err)
	}

	eventType, ok := raw[keyType].(string)
	if !ok || eventType == "" {
		return models.TraceEvent{}, errors.New("jsonl: line missing type")
	}
	sessionID, ok := raw[keySessionID].(string)
	if !ok || sessionID == "" {
		return models.TraceEvent{}, errors.New("jsonl: line missing session_id")
	}
	ts, err := parseTimestamp(raw[keyTimestamp])
	if err != nil {
		return models.TraceEvent{}, err
	}

	delete(raw, keyType)
	delete(raw, keyTimestamp)
	delete(raw, keySessionID)
	if len(raw) == 0 {
		raw = nil
	}

	return models.TraceEvent{
		Type:      eventType,
		Timestamp: ts,
		SessionID: sessionID,
		Fields:    raw,
	}, nil
}

// LineError describes one invalid line in a JSONL file.
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// ValidateJSONL checks every non-blank line of a log file: each must parse as
// JSON and carry type, timestamp and session_id. Returns one error per bad
// line, nil when the file is clean.
func ValidateJSONL(content []byte) []LineError {
	var errs []LineError
	for i, line := range bytes.Split(content, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if _, err := Unmarshal(line); err != nil {
			errs = append(errs, LineError{Line: i + 1, Err: err})
		}
	}
	return errs
}

func flatten(event models.TraceEvent) map[string]any {
	flat := make(map[string]any, len(event.Fields)+3)
	for k, v := range event.Fields {
		if k == keyType || k == keyTimestamp || k == keySessionID {
			continue
		}
		flat[k] = v
	}
	flat[keyType] = event.Type
	flat[keyTimestamp] = event.Timestamp.UTC().Format(time.RFC3339Nano)
	flat[keySessionID] = event.SessionID
	return flat
}

func parseTimestamp(v any) (time.Time, error) {
	switch ts := v.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return time.Time{}, fmt.Errorf("jsonl: bad timestamp %q: %w", ts, err)
		}
		return t, nil
	case float64:
		// Unix milliseconds, the shape older writers produced.
		return time.UnixMilli(int64(ts)).UTC(), nil
	default:
		return time.Time{}, errors.New("jsonl: line missing timestamp")
	}
}

// neutralizeCycles walks the value and replaces any container that is an
// ancestor of itself with the circular marker. The walk tracks visited maps
// and slices by identity, not by value.
func neutralizeCycles(v any, seen map[uintptr]bool) any {
	switch val := v.(type) {
	case map[string]any:
		ptr := reflect.ValueOf(val).Pointer()
		if seen[ptr] {
			return CircularMarker
		}
		seen[ptr] = true
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = neutralizeCycles(item, seen)
		}
		delete(seen, ptr)
		return out
	case []any:
		ptr := reflect.ValueOf(val).Pointer()
		if seen[ptr] {
			return CircularMarker
		}
		seen[ptr] = true
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = neutralizeCycles(item, seen)
		}
		delete(seen, ptr)
		return out
	default:
		return v
	}
}

// truncate clips long strings to maxStringBytes with a marker suffix and
// arrays to maxArrayEntries with a marker element. Reserved keys at the top
// level are left alone so a truncated line still identifies its event.
func truncate(flat map[string]any, maxStringBytes int) any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if k == keyType || k == keyTimestamp || k == keySessionID {
			out[k] = v
			continue
		}
		out[k] = truncateValue(v, maxStringBytes)
	}
	return out
}

func truncateValue(v any, maxStringBytes int) any {
	switch val := v.(type) {
	case string:
		if maxStringBytes > 0 && len(val) > maxStringBytes {
			return val[:maxStringBytes] + TruncationMarker
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = truncateValue(item, maxStringBytes)
		}
		return out
	case []any:
		if len(val) > maxArrayEntries {
			val = append(append([]any{}, val[:maxArrayEntries]...), TruncationMarker)
		}
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = truncateValue(item, maxStringBytes)
		}
		return out
	default:
		return v
	}
}
