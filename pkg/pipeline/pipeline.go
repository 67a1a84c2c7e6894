// Package pipeline orchestrates event ingestion: validate and redact, fold
// registry metrics, queue in memory, and flush batches to the durable log
// store on a size-or-time trigger. One pipeline instance per process.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/agenttrace-ai/agenttrace/pkg/config"
	"github.com/agenttrace-ai/agenttrace/pkg/cost"
	"github.com/agenttrace-ai/agenttrace/pkg/jsonl"
	"github.com/agenttrace-ai/agenttrace/pkg/ledger"
	"github.com/agenttrace-ai/agenttrace/pkg/models"
	"github.com/agenttrace-ai/agenttrace/pkg/redact"
	"github.com/agenttrace-ai/agenttrace/pkg/session"
	"github.com/agenttrace-ai/agenttrace/pkg/store"
	"github.com/agenttrace-ai/agenttrace/pkg/stream"
)

// ErrShuttingDown is returned for events logged after Shutdown began.
var ErrShuttingDown = errors.New("pipeline: shutting down")

// Pipeline is the central orchestrator. All public methods are safe for
// concurrent use.
type Pipeline struct {
	logger     *zap.Logger
	clock      clock.Clock
	registry   *session.Registry
	store      *store.Store
	accountant *cost.Accountant
	ledger     *ledger.Ledger

	cfgMu     sync.RWMutex
	cfg       *config.Config
	validator *redact.Validator

	queueMu sync.Mutex
	queue   map[string][]models.TraceEvent
	order   []string
	queued  int

	// flushMu enforces at most one in-flight flush; flushCh coalesces
	// asynchronous triggers.
	flushMu sync.Mutex
	flushCh chan struct{}

	done         chan struct{}
	wg           sync.WaitGroup
	shuttingDown atomic.Bool
	shutdownOnce sync.Once
}

// New wires a Pipeline from a config snapshot. The ledger may be nil; usage
// rows are then simply not recorded. The clock may be nil for wall time.
func New(cfg *config.Config, led *ledger.Ledger, clk clock.Clock, logger *zap.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	validator, err := redact.New(cfg, clk)
	if err != nil {
		return nil, err
	}
	st, err := store.New(cfg.OutputDir, logger)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		logger:     logger,
		clock:      clk,
		registry:   session.New(cfg.MaxSessionsRetained, clk, logger),
		store:      st,
		accountant: cost.New(),
		ledger:     led,
		cfg:        cfg,
		validator:  validator,
		queue:      make(map[string][]models.TraceEvent),
		flushCh:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	// An evicted session loses its in-memory record and any queued events;
	// its file stays on disk for the retention sweep.
	p.registry.SetEvictHook(func(sessionID string) {
		p.store.Forget(sessionID)
		p.queueMu.Lock()
		if pending := len(p.queue[sessionID]); pending > 0 {
			p.queued -= pending
			p.logger.Warn("dropping queued events for evicted session",
				zap.String("session_id", sessionID),
				zap.Int("dropped", pending))
		}
		delete(p.queue, sessionID)
		p.queueMu.Unlock()
	})

	p.wg.Add(1)
	go p.flushLoop()
	return p, nil
}

// Registry exposes the session registry for read-side callers.
func (p *Pipeline) Registry() *session.Registry { return p.registry }

// Accountant exposes the pricing/usage accountant.
func (p *Pipeline) Accountant() *cost.Accountant { return p.accountant }

// StartSession creates a session, reserves its log file, and logs the
// synthetic session_start event.
func (p *Pipeline) StartSession(userQuery string, metadata map[string]any) (string, error) {
	if p.shuttingDown.Load() {
		return "", ErrShuttingDown
	}

	sess := p.registry.Start(userQuery, metadata)

	path, err := p.store.Create(sess.ID, sess.StartTime)
	if err != nil {
		_ = p.registry.MarkFailed(sess.ID, err.Error())
		return "", fmt.Errorf("start session: %w", err)
	}
	if err := p.registry.SetFilePath(sess.ID, path); err != nil {
		return "", err
	}

	startFields := map[string]any{"user_query": userQuery}
	if len(metadata) > 0 {
		startFields["metadata"] = metadata
	}
	if err := p.LogEvent(models.NewEvent(models.EventSessionStart, sess.ID, startFields)); err != nil {
		p.logger.Warn("session_start event rejected", zap.String("session_id", sess.ID), zap.Error(err))
	}
	return sess.ID, nil
}

// LogEvent validates, redacts, enriches, and queues one event. Invalid
// events are dropped and the validation failure returned; they are never
// written. The queue is flushed immediately once it reaches the batch size.
func (p *Pipeline) LogEvent(event models.TraceEvent) error {
	if p.shuttingDown.Load() {
		return ErrShuttingDown
	}

	p.cfgMu.RLock()
	validator := p.validator
	batchSize := p.cfg.BatchSize
	p.cfgMu.RUnlock()

	sanitized, err := validator.Validate(event)
	if err != nil {
		return err
	}

	if sanitized.Type == models.EventAIResponse {
		p.enrichAIResponse(&sanitized)
	}

	if err := p.registry.AddEvent(sanitized.SessionID, sanitized); err != nil {
		return err
	}

	if sanitized.Type == models.EventAIResponse {
		p.recordUsage(sanitized)
	}

	p.queueMu.Lock()
	if _, ok := p.queue[sanitized.SessionID]; !ok {
		p.order = append(p.order, sanitized.SessionID)
	}
	p.queue[sanitized.SessionID] = append(p.queue[sanitized.SessionID], sanitized)
	p.queued++
	full := p.queued >= batchSize
	p.queueMu.Unlock()

	if full {
		p.triggerFlush()
	}
	return nil
}

// LogBatch logs a sequence of events, preserving order. Individual failures
// do not stop the rest of the batch; all failures are joined into one error.
func (p *Pipeline) LogBatch(events []models.TraceEvent) error {
	var errs []error
	for _, e := range events {
		if err := p.LogEvent(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CaptureStream wraps a streaming response body so the merged response is
// logged to the session when the stream completes. Non-streaming content
// types pass through untouched. The caller still owns closing the body.
func (p *Pipeline) CaptureStream(body io.ReadCloser, contentType, sessionID, providerName, model string) io.ReadCloser {
	return stream.Wrap(body, contentType, stream.Options{
		SessionID: sessionID,
		Provider:  providerName,
		Model:     model,
		Logger:    p.logger,
		OnEvent: func(ev models.TraceEvent) {
			if err := p.LogEvent(ev); err != nil {
				p.logger.Warn("stream event rejected",
					zap.String("session_id", sessionID),
					zap.String("event_type", ev.Type),
					zap.Error(err))
			}
		},
	})
}

// enrichAIResponse attaches usage and cost to a response event: exact usage
// from the response body when available, otherwise an estimate from captured
// text, then a pricing lookup for anything still missing a cost.
func (p *Pipeline) enrichAIResponse(event *models.TraceEvent) {
	fields := event.Fields
	providerName, _ := fields["provider"].(string)
	model, _ := fields["model"].(string)

	usage := usageFromFields(fields)
	if usage == nil {
		if respBody, ok := fields["response"].(map[string]any); ok {
			usage = p.accountant.ExtractExactUsage(respBody, providerName)
		}
	}
	if usage == nil {
		reqText, _ := fields["request_text"].(string)
		respText, _ := fields["response_text"].(string)
		if reqText != "" || respText != "" {
			estimated := p.accountant.EstimateUsage(reqText, respText, model)
			usage = &estimated
			fields["tokens_estimated"] = true
		}
	}
	if usage == nil {
		return
	}

	fields["tokens_used"] = map[string]any{
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
	}
	if _, hasCost := fields["cost"]; !hasCost {
		if c := p.accountant.Cost(providerName, model, *usage); c != nil {
			fields["cost"] = *c
		}
	}
}

func usageFromFields(fields map[string]any) *models.TokenUsage {
	tokens, ok := fields["tokens_used"].(map[string]any)
	if !ok {
		return nil
	}
	u := &models.TokenUsage{}
	if n, ok := asInt(tokens["prompt_tokens"]); ok {
		u.PromptTokens = n
	}
	if n, ok := asInt(tokens["completion_tokens"]); ok {
		u.CompletionTokens = n
	}
	if n, ok := asInt(tokens["total_tokens"]); ok {
		u.TotalTokens = n
	} else {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 {
		return nil
	}
	return u
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// recordUsage writes a ledger row for an enriched response event.
// Best-effort: a ledger failure is logged, never surfaced.
func (p *Pipeline) recordUsage(event models.TraceEvent) {
	usage := usageFromFields(event.Fields)
	if usage == nil {
		return
	}
	costUSD, _ := event.Fields["cost"].(float64)
	estimated, _ := event.Fields["tokens_estimated"].(bool)
	streaming, _ := event.Fields["_streaming"].(bool)

	rec := models.UsageRecord{
		SessionID:        event.SessionID,
		Provider:         stringOr(event.Fields["provider"]),
		Model:            stringOr(event.Fields["model"]),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		CostUSD:          costUSD,
		Estimated:        estimated,
		Streaming:        streaming,
		CreatedAt:        event.Timestamp,
	}
	if err := p.ledger.Record(context.Background(), rec); err != nil {
		p.logger.Warn("ledger record failed", zap.String("session_id", event.SessionID), zap.Error(err))
	}
}

func stringOr(v any) string {
	s, _ := v.(string)
	return s
}

// EndSession flushes, finalizes the summary, logs the synthetic session_end
// event, flushes again, and validates the file. A finalize failure is
// downgraded to a warning; the session is still ended.
func (p *Pipeline) EndSession(sessionID string, overrides map[string]any) (map[string]any, error) {
	p.flush()

	summary, err := p.registry.End(sessionID, overrides)
	if err != nil {
		return nil, err
	}

	endEvent := models.NewEvent(models.EventSessionEnd, sessionID, map[string]any{"summary": summary})
	p.cfgMu.RLock()
	validator := p.validator
	p.cfgMu.RUnlock()
	sanitized, verr := validator.Validate(endEvent)
	if verr != nil {
		p.logger.Warn("session_end event failed validation", zap.String("session_id", sessionID), zap.Error(verr))
	} else {
		p.enqueueDirect(sanitized)
	}
	p.flush()

	if err := p.store.Finalize(sessionID); err != nil {
		p.logger.Warn("session log finalize failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	return summary, nil
}

// enqueueDirect queues an event without registry bookkeeping. Used for the
// synthetic session_end record, which lands after the session left active.
func (p *Pipeline) enqueueDirect(event models.TraceEvent) {
	p.queueMu.Lock()
	if _, ok := p.queue[event.SessionID]; !ok {
		p.order = append(p.order, event.SessionID)
	}
	p.queue[event.SessionID] = append(p.queue[event.SessionID], event)
	p.queued++
	p.queueMu.Unlock()
}

// UpdateConfig atomically replaces the config snapshot. Redaction rules,
// batch size, body-size limits, and flush interval take effect immediately;
// the output directory and capacity bounds are fixed for a pipeline's life.
func (p *Pipeline) UpdateConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	validator, err := redact.New(cfg, p.clock)
	if err != nil {
		return err
	}

	p.cfgMu.Lock()
	p.cfg = cfg
	p.validator = validator
	p.cfgMu.Unlock()
	return nil
}

// Shutdown drains and stops the pipeline: no new events, one final flush,
// then the registry completes remaining active sessions. Idempotent.
func (p *Pipeline) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.shuttingDown.Store(true)
		close(p.done)
		p.wg.Wait()
		p.flush()
		p.registry.Close()
	})
}

func (p *Pipeline) triggerFlush() {
	select {
	case p.flushCh <- struct{}{}:
	default:
	}
}

func (p *Pipeline) flushLoop() {
	defer p.wg.Done()
	p.cfgMu.RLock()
	interval := p.cfg.FlushInterval
	p.cfgMu.RUnlock()

	ticker := p.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.flush()
			p.cfgMu.RLock()
			next := p.cfg.FlushInterval
			p.cfgMu.RUnlock()
			if next != interval {
				ticker.Stop()
				ticker = p.clock.Ticker(next)
				interval = next
			}
		case <-p.flushCh:
			p.flush()
		}
	}
}

// flush drains the queue and writes each session's pending events as one
// joined append. At most one flush runs at a time; a failed session write is
// isolated, marking that session failed and appending a best-effort in-band
// error line to its own file.
func (p *Pipeline) flush() {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.queueMu.Lock()
	pending := p.queue
	sessionOrder := p.order
	p.queue = make(map[string][]models.TraceEvent)
	p.order = nil
	p.queued = 0
	p.queueMu.Unlock()

	if len(pending) == 0 {
		return
	}

	p.cfgMu.RLock()
	maxBodySize := p.cfg.MaxBodySize
	p.cfgMu.RUnlock()

	for _, sessionID := range sessionOrder {
		events := pending[sessionID]
		lines := make([][]byte, 0, len(events))
		for _, e := range events {
			line, err := jsonl.Marshal(e, maxBodySize)
			if err != nil {
				p.logger.Error("event dropped at serialization",
					zap.String("session_id", sessionID),
					zap.String("event_type", e.Type),
					zap.Error(err))
				continue
			}
			lines = append(lines, line)
		}
		if len(lines) == 0 {
			continue
		}

		if err := p.store.Append(sessionID, lines); err != nil {
			p.handleWriteFailure(sessionID, err, maxBodySize)
			continue
		}
		p.registry.MarkFlushed(sessionID)
	}
}

func (p *Pipeline) handleWriteFailure(sessionID string, err error, maxBodySize int) {
	p.logger.Error("flush failed for session", zap.String("session_id", sessionID), zap.Error(err))

	if mErr := p.registry.MarkFailed(sessionID, err.Error()); mErr != nil {
		p.logger.Warn("mark failed", zap.String("session_id", sessionID), zap.Error(mErr))
	}

	// Best-effort in-band error line so post-hoc readers can see where
	// logging broke down.
	errEvent := models.NewEvent(models.EventError, sessionID, map[string]any{
		"message": fmt.Sprintf("event flush failed: %v", err),
		"source":  "pipeline_flush",
	})
	if line, sErr := jsonl.Marshal(errEvent, maxBodySize); sErr == nil {
		_ = p.store.Append(sessionID, [][]byte{line})
	}
}
