package jsonl

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttrace-ai/agenttrace/pkg/models"
)

func testEvent(fields map[string]any) models.TraceEvent {
	return models.TraceEvent{
		Type:      models.EventAIRequest,
		Timestamp: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		SessionID: "sess-1",
		Fields:    fields,
	}
}

func TestMarshalDeterministic(t *testing.T) {
	ev := testEvent(map[string]any{
		"provider": "openai",
		"model":    "gpt-4o",
		"attempt":  1,
	})

	a, err := Marshal(ev, 0)
	require.NoError(t, err)
	b, err := Marshal(ev, 0)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// encoding/json sorts map keys, so field order in the line is stable.
	s := string(a)
	assert.Less(t, strings.Index(s, `"attempt"`), strings.Index(s, `"model"`))
	assert.Less(t, strings.Index(s, `"model"`), strings.Index(s, `"provider"`))
}

func TestMarshalRoundTrip(t *testing.T) {
	ev := testEvent(map[string]any{
		"provider": "anthropic",
		"nested":   map[string]any{"a": "b"},
	})

	line, err := Marshal(ev, 0)
	require.NoError(t, err)

	got, err := Unmarshal(line)
	require.NoError(t, err)
	assert.Equal(t, ev.Type, got.Type)
	assert.Equal(t, ev.SessionID, got.SessionID)
	assert.True(t, ev.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, "anthropic", got.Fields["provider"])
	assert.Equal(t, map[string]any{"a": "b"}, got.Fields["nested"])
}

func TestMarshalReservedKeys(t *testing.T) {
	ev := testEvent(map[string]any{
		"type":       "spoofed",
		"session_id": "spoofed",
		"payload":    "ok",
	})

	line, err := Marshal(ev, 0)
	require.NoError(t, err)

	got, err := Unmarshal(line)
	require.NoError(t, err)
	assert.Equal(t, models.EventAIRequest, got.Type)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "ok", got.Fields["payload"])
}

func TestMarshalCircularReference(t *testing.T) {
	inner := map[string]any{"name": "loop"}
	inner["self"] = inner

	line, err := Marshal(testEvent(map[string]any{"data": inner}), 0)
	require.NoError(t, err)
	assert.Contains(t, string(line), CircularMarker)
	assert.Contains(t, string(line), "loop")
}

func TestMarshalSharedSubtreeIsNotCircular(t *testing.T) {
	shared := map[string]any{"k": "v"}
	line, err := Marshal(testEvent(map[string]any{"a": shared, "b": shared}), 0)
	require.NoError(t, err)
	assert.NotContains(t, string(line), CircularMarker)
}

func TestMarshalTruncatesLongStrings(t *testing.T) {
	ev := testEvent(map[string]any{"body": strings.Repeat("x", 4096)})

	line, err := Marshal(ev, 1024)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(line), 1024)
	assert.Contains(t, string(line), TruncationMarker)
	// Reserved keys survive truncation untouched.
	got, err := Unmarshal(line)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
}

func TestMarshalTruncatesLongArrays(t *testing.T) {
	items := make([]any, 150)
	for i := range items {
		items[i] = i
	}
	ev := testEvent(map[string]any{"items": items})

	line, err := Marshal(ev, 600)
	require.NoError(t, err)

	got, err := Unmarshal(line)
	require.NoError(t, err)
	clipped, ok := got.Fields["items"].([]any)
	require.True(t, ok)
	assert.Len(t, clipped, maxArrayEntries+1)
	assert.Equal(t, TruncationMarker, clipped[len(clipped)-1])
}

func TestMarshalOversizedAfterTruncation(t *testing.T) {
	fields := make(map[string]any, 64)
	for i := 0; i < 64; i++ {
		fields[strings.Repeat("k", 10)+string(rune('a'+i%26))+string(rune('a'+i/26))] = i
	}

	_, err := Marshal(testEvent(fields), 64)
	require.ErrorIs(t, err, ErrLineTooLarge)
}

func TestUnmarshalMissingFields(t *testing.T) {
	cases := []struct {
		name string
		line string
	}{
		{"no type", `{"timestamp":"2026-03-14T09:26:53Z","session_id":"s"}`},
		{"no session", `{"type":"error","timestamp":"2026-03-14T09:26:53Z"}`},
		{"no timestamp", `{"type":"error","session_id":"s"}`},
		{"not json", `{"type":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tc.line))
			assert.Error(t, err)
		})
	}
}

func TestUnmarshalUnixMillisTimestamp(t *testing.T) {
	got, err := Unmarshal([]byte(`{"type":"error","timestamp":1767225600000,"session_id":"s"}`))
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1767225600000).UTC(), got.Timestamp)
}

func TestValidateJSONL(t *testing.T) {
	content := strings.Join([]string{
		`{"type":"session_start","timestamp":"2026-03-14T09:26:53Z","session_id":"s"}`,
		``,
		`not json at all`,
		`{"type":"session_end","timestamp":"2026-03-14T09:27:53Z","session_id":"s"}`,
		`{"timestamp":"2026-03-14T09:27:53Z","session_id":"s"}`,
	}, "\n")

	errs := ValidateJSONL([]byte(content))
	require.Len(t, errs, 2)
	assert.Equal(t, 3, errs[0].Line)
	assert.Equal(t, 5, errs[1].Line)
}
