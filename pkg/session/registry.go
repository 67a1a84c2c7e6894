// Package session owns the in-memory session records: lifecycle state
// machine, live metrics aggregation, capacity-bounded eviction, and
// idle-timeout expiry via a periodic sweep.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agenttrace-ai/agenttrace/pkg/models"
)

var (
	// ErrSessionNotFound is returned for unknown or expired session IDs.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionNotActive is returned when an operation targets a session
	// in a terminal state. Terminal states are irreversible.
	ErrSessionNotActive = errors.New("session: not active")
)

const (
	// IdleTimeout is how long a session may sit without activity before it
	// is considered expired.
	IdleTimeout = 2 * time.Hour

	sweepInterval = 5 * time.Minute
)

// Registry is the exclusive owner of all session records. External code
// addresses sessions by ID and only ever sees defensive copies.
type Registry struct {
	maxSessions int
	clock       clock.Clock
	logger      *zap.Logger

	// onEvict is invoked (outside the registry lock is not guaranteed)
	// when a record is dropped to stay under capacity.
	onEvict func(sessionID string)

	mu       sync.Mutex
	sessions map[string]*models.Session

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Registry and starts its background expiry sweep.
func New(maxSessions int, clk clock.Clock, logger *zap.Logger) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		maxSessions: maxSessions,
		clock:       clk,
		logger:      logger,
		sessions:    make(map[string]*models.Session),
		done:        make(chan struct{}),
	}
	r.wg.Add(1)
	go r.sweepLoop()
	return r
}

// SetEvictHook registers a callback fired with the ID of every evicted
// session. Must be set before the registry is shared across goroutines.
func (r *Registry) SetEvictHook(fn func(sessionID string)) {
	r.onEvict = fn
}

// Start creates a new active session with zeroed metrics. When the registry
// is at capacity the single oldest-by-start-time session is evicted first;
// only the in-memory record is dropped, its file is left for the retention
// sweep.
func (r *Registry) Start(userQuery string, metadata map[string]any) *models.Session {
	now := r.clock.Now().UTC()

	r.mu.Lock()
	var evicted string
	if len(r.sessions) >= r.maxSessions {
		evicted = r.evictOldestLocked()
	}

	s := &models.Session{
		ID:        uuid.NewString(),
		StartTime: now,
		UserQuery: userQuery,
		Metadata:  metadata,
		Status:    models.SessionActive,
		Metrics:   models.SessionMetrics{LastActivity: now},
	}
	r.sessions[s.ID] = s
	copyOut := s.Clone()
	r.mu.Unlock()

	if evicted != "" {
		r.logger.Warn("session evicted at capacity",
			zap.String("evicted_session", evicted),
			zap.Int("max_sessions", r.maxSessions))
		if r.onEvict != nil {
			r.onEvict(evicted)
		}
	}
	return copyOut
}

func (r *Registry) evictOldestLocked() string {
	var oldestID string
	var oldest time.Time
	for id, s := range r.sessions {
		if oldestID == "" || s.StartTime.Before(oldest) {
			oldestID = id
			oldest = s.StartTime
		}
	}
	if oldestID != "" {
		delete(r.sessions, oldestID)
	}
	return oldestID
}

// Get returns a copy of a session. A session idle beyond the timeout flips
// to expired and is reported as not found rather than returned stale.
func (r *Registry) Get(id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.Status == models.SessionActive && r.clock.Now().Sub(s.Metrics.LastActivity) > IdleTimeout {
		s.Status = models.SessionExpired
		return nil, fmt.Errorf("%w: %s (expired)", ErrSessionNotFound, id)
	}
	return s.Clone(), nil
}

// SetFilePath records the log file reserved for a session.
func (r *Registry) SetFilePath(id, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.FilePath = path
	return nil
}

// AddEvent folds an accepted event into the session's metrics. Only active
// sessions accept events.
func (r *Registry) AddEvent(id string, event models.TraceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.Status != models.SessionActive {
		return fmt.Errorf("%w: %s is %s", ErrSessionNotActive, id, s.Status)
	}

	s.EventCount++
	s.Metrics.Requests++
	s.Metrics.LastActivity = r.clock.Now().UTC()

	switch event.Type {
	case models.EventAIRequest:
		s.Metrics.AIRequests++
	case models.EventAIResponse:
		foldAIResponse(&s.Metrics, event.Fields)
	case models.EventToolExecution:
		foldToolExecution(&s.Metrics, event.Fields)
	case models.EventNetworkRequest:
		s.Metrics.NetworkRequests++
	case models.EventNetworkResponse:
		if status, ok := asFloat(event.Fields["status_code"]); ok && status >= 400 {
			s.Metrics.ErrorCount++
		}
	case models.EventError:
		s.Metrics.ErrorCount++
	}
	return nil
}

func foldAIResponse(m *models.SessionMetrics, fields map[string]any) {
	if cost, ok := asFloat(fields["cost"]); ok {
		m.TotalCost += cost
	}
	tokens, ok := fields["tokens_used"].(map[string]any)
	if !ok {
		return
	}
	if n, ok := asFloat(tokens["prompt_tokens"]); ok {
		m.PromptTokens += int(n)
	}
	if n, ok := asFloat(tokens["completion_tokens"]); ok {
		m.CompletionTokens += int(n)
	}
	if n, ok := asFloat(tokens["total_tokens"]); ok {
		m.TotalTokens += int(n)
	}
}

func foldToolExecution(m *models.SessionMetrics, fields map[string]any) {
	m.ToolExecutions++
	if success, ok := fields["success"].(bool); ok && !success {
		m.ErrorCount++
	}
	if isFileOperation(fields) {
		m.FileOperations++
	}
}

// isFileOperation classifies tool executions that touch files, either by a
// file_path argument or a tool name that names a file verb.
func isFileOperation(fields map[string]any) bool {
	if _, ok := fields["file_path"]; ok {
		return true
	}
	name, _ := fields["tool_name"].(string)
	switch name {
	case "read_file", "write_file", "edit_file", "delete_file", "list_files", "glob", "grep":
		return true
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// End moves a session to completed and returns its final summary. Caller
// overrides win field-by-field against the accumulated metrics.
func (r *Registry) End(id string, overrides map[string]any) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.Status != models.SessionActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrSessionNotActive, id, s.Status)
	}

	now := r.clock.Now().UTC()
	s.Status = models.SessionCompleted

	summary := map[string]any{
		"session_id":       s.ID,
		"status":           string(s.Status),
		"duration_ms":      now.Sub(s.StartTime).Milliseconds(),
		"event_count":      s.EventCount,
		"requests":         s.Metrics.Requests,
		"ai_requests":      s.Metrics.AIRequests,
		"tool_executions":  s.Metrics.ToolExecutions,
		"file_operations":  s.Metrics.FileOperations,
		"network_requests": s.Metrics.NetworkRequests,
		"total_cost":       s.Metrics.TotalCost,
		"total_tokens":     s.Metrics.TotalTokens,
		"error_count":      s.Metrics.ErrorCount,
	}
	for k, v := range overrides {
		summary[k] = v
	}
	return summary, nil
}

// MarkFailed moves a session to failed. Used only by the pipeline's
// write-failure handler.
func (r *Registry) MarkFailed(id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.Status != models.SessionActive {
		return fmt.Errorf("%w: %s is %s", ErrSessionNotActive, id, s.Status)
	}

	s.Status = models.SessionFailed
	s.Metrics.ErrorCount++
	r.logger.Error("session marked failed",
		zap.String("session_id", id),
		zap.String("reason", reason))
	return nil
}

// MarkFlushed stamps the last successful flush time for a session. Safe to
// call for sessions in any state; unknown IDs are ignored.
func (r *Registry) MarkFlushed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.LastFlushTime = r.clock.Now().UTC()
	}
}

// ActiveIDs returns the IDs of all currently active sessions.
func (r *Registry) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, s := range r.sessions {
		if s.Status == models.SessionActive {
			ids = append(ids, id)
		}
	}
	return ids
}

// Sweep expires and removes every session idle beyond the timeout. Called
// periodically by the background loop; exported for forced sweeps in tests
// and shutdown paths.
func (r *Registry) Sweep() int {
	now := r.clock.Now()

	r.mu.Lock()
	var removed int
	for id, s := range r.sessions {
		if now.Sub(s.Metrics.LastActivity) > IdleTimeout {
			if s.Status == models.SessionActive {
				s.Status = models.SessionExpired
			}
			delete(r.sessions, id)
			removed++
		}
	}
	r.mu.Unlock()

	if removed > 0 {
		r.logger.Info("expired idle sessions", zap.Int("count", removed))
	}
	return removed
}

// Close stops the sweep loop and completes any still-active sessions.
// Idempotent.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()

		r.mu.Lock()
		for _, s := range r.sessions {
			if s.Status == models.SessionActive {
				s.Status = models.SessionCompleted
			}
		}
		r.mu.Unlock()
	})
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()
	ticker := r.clock.Ticker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
