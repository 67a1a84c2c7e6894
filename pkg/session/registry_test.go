package session

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agenttrace-ai/agenttrace/pkg/models"
)

func newTestRegistry(t *testing.T, maxSessions int) (*Registry, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	r := New(maxSessions, mock, zaptest.NewLogger(t))
	t.Cleanup(r.Close)
	return r, mock
}

func TestStartAndGet(t *testing.T) {
	r, _ := newTestRegistry(t, 10)

	s := r.Start("fix the tests", map[string]any{"cwd": "/tmp"})
	require.NotEmpty(t, s.ID)
	assert.Equal(t, models.SessionActive, s.Status)
	assert.Equal(t, "fix the tests", s.UserQuery)

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	// Returned sessions are copies; mutating one does not leak back.
	got.UserQuery = "mutated"
	again, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "fix the tests", again.UserQuery)
}

func TestGetUnknownSession(t *testing.T) {
	r, _ := newTestRegistry(t, 10)
	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEvictionAtCapacity(t *testing.T) {
	r, mock := newTestRegistry(t, 3)

	var evicted []string
	r.SetEvictHook(func(id string) { evicted = append(evicted, id) })

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, r.Start("q", nil).ID)
		mock.Add(time.Minute)
	}

	fourth := r.Start("q", nil)

	require.Len(t, evicted, 1)
	assert.Equal(t, ids[0], evicted[0])

	_, err := r.Get(ids[0])
	assert.ErrorIs(t, err, ErrSessionNotFound)
	for _, id := range append(ids[1:], fourth.ID) {
		_, err := r.Get(id)
		assert.NoError(t, err)
	}
}

func TestAddEventFoldsMetrics(t *testing.T) {
	r, _ := newTestRegistry(t, 10)
	s := r.Start("q", nil)

	events := []models.TraceEvent{
		{Type: models.EventAIRequest, SessionID: s.ID},
		{Type: models.EventAIResponse, SessionID: s.ID, Fields: map[string]any{
			"cost": 0.0125,
			"tokens_used": map[string]any{
				"prompt_tokens":     float64(100),
				"completion_tokens": float64(40),
				"total_tokens":      float64(140),
			},
		}},
		{Type: models.EventToolExecution, SessionID: s.ID, Fields: map[string]any{
			"tool_name": "read_file", "file_path": "/etc/hosts", "success": true,
		}},
		{Type: models.EventToolExecution, SessionID: s.ID, Fields: map[string]any{
			"tool_name": "bash", "success": false,
		}},
		{Type: models.EventNetworkRequest, SessionID: s.ID, Fields: map[string]any{
			"url": "https://example.com", "method": "GET",
		}},
		{Type: models.EventNetworkResponse, SessionID: s.ID, Fields: map[string]any{
			"status_code": float64(502),
		}},
		{Type: models.EventError, SessionID: s.ID, Fields: map[string]any{"message": "boom"}},
	}
	for _, ev := range events {
		require.NoError(t, r.AddEvent(s.ID, ev))
	}

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	m := got.Metrics
	assert.Equal(t, len(events), got.EventCount)
	assert.Equal(t, 1, m.AIRequests)
	assert.Equal(t, 2, m.ToolExecutions)
	assert.Equal(t, 1, m.FileOperations)
	assert.Equal(t, 1, m.NetworkRequests)
	assert.Equal(t, 3, m.ErrorCount) // failed tool + 502 + error event
	assert.InDelta(t, 0.0125, m.TotalCost, 1e-9)
	assert.Equal(t, 100, m.PromptTokens)
	assert.Equal(t, 40, m.CompletionTokens)
	assert.Equal(t, 140, m.TotalTokens)
}

func TestEndReturnsSummary(t *testing.T) {
	r, mock := newTestRegistry(t, 10)
	s := r.Start("q", nil)

	require.NoError(t, r.AddEvent(s.ID, models.TraceEvent{Type: models.EventAIRequest}))
	mock.Add(90 * time.Second)

	summary, err := r.End(s.ID, map[string]any{"outcome": "ok", "total_cost": 0.5})
	require.NoError(t, err)
	assert.Equal(t, s.ID, summary["session_id"])
	assert.Equal(t, "completed", summary["status"])
	assert.Equal(t, int64(90_000), summary["duration_ms"])
	assert.Equal(t, 1, summary["ai_requests"])
	// Caller overrides win over accumulated values.
	assert.Equal(t, "ok", summary["outcome"])
	assert.Equal(t, 0.5, summary["total_cost"])
}

func TestTerminalStatesAreFinal(t *testing.T) {
	r, _ := newTestRegistry(t, 10)
	s := r.Start("q", nil)

	_, err := r.End(s.ID, nil)
	require.NoError(t, err)

	_, err = r.End(s.ID, nil)
	assert.ErrorIs(t, err, ErrSessionNotActive)
	assert.ErrorIs(t, r.AddEvent(s.ID, models.TraceEvent{Type: models.EventError}), ErrSessionNotActive)
	assert.ErrorIs(t, r.MarkFailed(s.ID, "late"), ErrSessionNotActive)
}

func TestMarkFailed(t *testing.T) {
	r, _ := newTestRegistry(t, 10)
	s := r.Start("q", nil)

	require.NoError(t, r.MarkFailed(s.ID, "disk full"))

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, got.Status)
	assert.Equal(t, 1, got.Metrics.ErrorCount)
}

func TestGetExpiresIdleSession(t *testing.T) {
	r, mock := newTestRegistry(t, 10)
	s := r.Start("q", nil)

	mock.Add(IdleTimeout + time.Minute)

	_, err := r.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSweepRemovesOnlyIdleSessions(t *testing.T) {
	r, mock := newTestRegistry(t, 10)

	stale := r.Start("q", nil)
	mock.Add(90 * time.Minute)
	fresh := r.Start("q", nil)
	// Tip the stale session just past the idle timeout, between background
	// sweep ticks.
	mock.Add(31 * time.Minute)

	removed := r.Sweep()
	assert.Equal(t, 1, removed)

	_, err := r.Get(stale.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = r.Get(fresh.ID)
	assert.NoError(t, err)
}

func TestSweepLoopRunsOnTicker(t *testing.T) {
	r, mock := newTestRegistry(t, 10)
	r.Start("q", nil)

	// Past the idle timeout, the next tick removes the session.
	mock.Add(IdleTimeout + time.Minute)
	require.Eventually(t, func() bool {
		mock.Add(sweepInterval)
		return len(r.ActiveIDs()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestActiveIDs(t *testing.T) {
	r, _ := newTestRegistry(t, 10)

	a := r.Start("q", nil)
	b := r.Start("q", nil)
	_, err := r.End(b.ID, nil)
	require.NoError(t, err)

	ids := r.ActiveIDs()
	require.Len(t, ids, 1)
	assert.Equal(t, a.ID, ids[0])
}

func TestCloseCompletesActiveSessions(t *testing.T) {
	r, _ := newTestRegistry(t, 10)
	s := r.Start("q", nil)

	r.Close()
	r.Close() // idempotent

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, got.Status)
}

func TestSetFilePath(t *testing.T) {
	r, _ := newTestRegistry(t, 10)
	s := r.Start("q", nil)

	require.NoError(t, r.SetFilePath(s.ID, "/tmp/x.jsonl"))
	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.jsonl", got.FilePath)

	assert.ErrorIs(t, r.SetFilePath("nope", "/tmp/y.jsonl"), ErrSessionNotFound)
}
