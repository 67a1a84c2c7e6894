package models

import "time"

// SessionStatus is the lifecycle state of a traced session.
// Transitions are one-way: active is the only state that accepts events.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionExpired   SessionStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s != SessionActive
}

// SessionMetrics aggregates live counters for one session.
type SessionMetrics struct {
	Requests         int       `json:"requests"`
	AIRequests       int       `json:"ai_requests"`
	FileOperations   int       `json:"file_operations"`
	ToolExecutions   int       `json:"tool_executions"`
	NetworkRequests  int       `json:"network_requests"`
	TotalCost        float64   `json:"total_cost"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	ErrorCount       int       `json:"error_count"`
	LastActivity     time.Time `json:"last_activity"`
}

// Session is one end-to-end traced run of the wrapped tool. It owns exactly
// one log file and is exclusively owned by the session registry; everything
// else addresses it by ID and sees defensive copies only.
type Session struct {
	ID            string         `json:"id"`
	StartTime     time.Time      `json:"start_time"`
	UserQuery     string         `json:"user_query,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Metrics       SessionMetrics `json:"metrics"`
	Status        SessionStatus  `json:"status"`
	FilePath      string         `json:"file_path,omitempty"`
	EventCount    int            `json:"event_count"`
	LastFlushTime time.Time      `json:"last_flush_time"`
}

// Clone returns a deep copy safe to hand outside the registry.
func (s *Session) Clone() *Session {
	out := *s
	out.Metadata = deepCopyMap(s.Metadata, make(map[uintptr]bool))
	return &out
}
