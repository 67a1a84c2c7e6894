package models

import "time"

// StreamCapture is the ephemeral state for one in-flight streaming response.
// It lives only for the duration of the response and is discarded on
// completion, error, or forced cleanup at shutdown.
type StreamCapture struct {
	StreamID   string
	SessionID  string
	Provider   string
	Model      string
	ChunkCount int
	Merged     map[string]any
	StartTime  time.Time
	EndTime    time.Time
}
