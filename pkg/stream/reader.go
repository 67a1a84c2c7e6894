// Package stream reconstructs a logical AI response from a live streaming
// body. The caller's bytes pass through untouched; frames are decoded on the
// side and merged into one completed response, emitted as a single event
// when the stream ends.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agenttrace-ai/agenttrace/pkg/models"
)

// IsStreamingContentType reports whether a response content type indicates
// a streaming body. text/plain is a provider-specific fallback some
// OpenAI-compatible gateways use for SSE.
func IsStreamingContentType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.ToLower(contentType))
	}
	switch mt {
	case "text/event-stream", "application/x-ndjson", "text/plain":
		return true
	}
	return false
}

// Options configure one reconstructed stream.
type Options struct {
	SessionID string
	Provider  string
	Model     string
	// OnEvent receives the merged ai_response event (or the stream-error
	// event) when the stream finishes. Required for capture; nil disables
	// emission but the pass-through still works.
	OnEvent func(models.TraceEvent)
	Logger  *zap.Logger
}

// Wrap interposes a Reader when the content type indicates streaming and
// returns the body untouched otherwise.
func Wrap(body io.ReadCloser, contentType string, opts Options) io.ReadCloser {
	if !IsStreamingContentType(contentType) {
		return body
	}
	return NewReader(body, opts)
}

// Reader tees a streaming response body: every chunk is forwarded to the
// caller immediately and buffered into newline-delimited frames for merge
// processing. Merge failures never delay or abort forwarding.
type Reader struct {
	src     io.ReadCloser
	opts    Options
	logger  *zap.Logger
	capture *models.StreamCapture

	buf      bytes.Buffer
	sawDone  bool
	finished bool
}

// Partial frames beyond this size are discarded; a well-formed provider
// frame never comes close.
const maxFrameBuffer = 4 << 20

// NewReader starts a stream capture around body.
func NewReader(body io.ReadCloser, opts Options) *Reader {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		src:    body,
		opts:   opts,
		logger: logger,
		capture: &models.StreamCapture{
			StreamID:  uuid.NewString(),
			SessionID: opts.SessionID,
			Provider:  opts.Provider,
			Model:     opts.Model,
			Merged:    make(map[string]any),
			StartTime: time.Now().UTC(),
		},
	}
}

// StreamID identifies this capture in emitted events.
func (r *Reader) StreamID() string { return r.capture.StreamID }

// Read forwards bytes from the origin verbatim and feeds the side buffer.
// On EOF the merged response is finalized and emitted; any other error
// emits a stream-error event and propagates to the caller.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.consume(p[:n])
	}
	if err == nil {
		return n, nil
	}
	if errors.Is(err, io.EOF) {
		r.finalize()
	} else {
		r.fail(err)
	}
	return n, err
}

// Close closes the origin body. A capture still in flight is discarded; a
// caller closing early wants the stream gone, not a synthetic completion.
func (r *Reader) Close() error {
	if !r.finished {
		r.finished = true
		r.logger.Debug("stream capture discarded before completion",
			zap.String("stream_id", r.capture.StreamID),
			zap.Int("chunks", r.capture.ChunkCount))
	}
	return r.src.Close()
}

func (r *Reader) consume(chunk []byte) {
	if r.buf.Len()+len(chunk) > maxFrameBuffer {
		r.logger.Warn("stream frame buffer overflow, discarding partial frame",
			zap.String("stream_id", r.capture.StreamID))
		r.buf.Reset()
	}
	r.buf.Write(chunk)

	for {
		line, err := r.buf.ReadString('\n')
		if err != nil {
			// Incomplete line; put it back and wait for more bytes.
			r.buf.WriteString(line)
			return
		}
		r.processLine(strings.TrimRight(line, "\r\n"))
	}
}

// processLine handles one frame: an SSE "data: {...}" line, a raw JSON
// line, or the [DONE] sentinel. Malformed frames are logged and skipped.
func (r *Reader) processLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" || r.sawDone {
		return
	}
	// SSE fields other than data carry no payload.
	if strings.HasPrefix(line, ":") ||
		strings.HasPrefix(line, "event:") ||
		strings.HasPrefix(line, "id:") ||
		strings.HasPrefix(line, "retry:") {
		return
	}

	payload := line
	if strings.HasPrefix(line, "data:") {
		payload = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	}
	if payload == "[DONE]" {
		r.sawDone = true
		return
	}
	if !strings.HasPrefix(payload, "{") {
		return
	}

	var frame map[string]any
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		r.logger.Warn("malformed stream frame skipped",
			zap.String("stream_id", r.capture.StreamID),
			zap.Error(err))
		return
	}

	if err := MergeFrame(r.capture.Merged, frame); err != nil {
		r.logger.Warn("malformed stream frame skipped",
			zap.String("stream_id", r.capture.StreamID),
			zap.Error(err))
		return
	}
	r.capture.ChunkCount++
}

// finalize emits the merged response as one ai_response event and discards
// the capture.
func (r *Reader) finalize() {
	if r.finished {
		return
	}
	r.finished = true
	r.capture.EndTime = time.Now().UTC()

	model := r.capture.Model
	if m, ok := r.capture.Merged["model"].(string); ok && m != "" {
		model = m
	}

	fields := map[string]any{
		"provider":           r.capture.Provider,
		"model":              model,
		"response":           r.capture.Merged,
		"_streaming":         true,
		"stream_id":          r.capture.StreamID,
		"total_chunks":       r.capture.ChunkCount,
		"stream_duration_ms": r.capture.EndTime.Sub(r.capture.StartTime).Milliseconds(),
	}
	r.emit(models.NewEvent(models.EventAIResponse, r.capture.SessionID, fields))
	r.capture.Merged = nil
}

// fail emits a stream-error event recording progress so far. The read error
// itself still reaches the caller.
func (r *Reader) fail(err error) {
	if r.finished {
		return
	}
	r.finished = true

	r.emit(models.NewEvent(models.EventError, r.capture.SessionID, map[string]any{
		"message":          "stream failed: " + err.Error(),
		"source":           "stream",
		"stream_id":        r.capture.StreamID,
		"chunks_processed": r.capture.ChunkCount,
	}))
	r.capture.Merged = nil
}

func (r *Reader) emit(event models.TraceEvent) {
	if r.opts.OnEvent != nil {
		r.opts.OnEvent(event)
	}
}
