// Package redact validates trace events against per-type structural rules
// and scrubs secrets before anything reaches disk. Redaction always runs,
// whether or not the event is valid. The timestamp-window check follows the
// injected clock.
package redact

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/agenttrace-ai/agenttrace/pkg/config"
	"github.com/agenttrace-ai/agenttrace/pkg/models"
)

// RedactedMarker replaces sensitive values wholesale and secret substrings
// in place. Redacting an already-redacted event is a fixed point.
const RedactedMarker = "[REDACTED]"

// Validator checks events and redacts secrets. It is immutable after New;
// swap in a new Validator when the config snapshot changes.
type Validator struct {
	sensitive []string
	patterns  []*regexp.Regexp
	clock     clock.Clock
}

// New compiles the redaction rules from a config snapshot. The clock drives
// the timestamp-window check; nil means wall time.
func New(cfg *config.Config, clk clock.Clock) (*Validator, error) {
	if clk == nil {
		clk = clock.New()
	}
	v := &Validator{clock: clk}
	for _, h := range cfg.SensitiveHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			v.sensitive = append(v.sensitive, h)
		}
	}
	for _, p := range cfg.RedactPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redact: compile pattern %q: %w", p, err)
		}
		v.patterns = append(v.patterns, re)
	}
	return v, nil
}

// Validate returns a redacted copy of the event and, when the event fails
// structural checks, a *ValidationError listing every failure. The redacted
// copy is usable either way; an invalid event must not be written.
func (v *Validator) Validate(event models.TraceEvent) (models.TraceEvent, error) {
	sanitized := v.Redact(event)

	errs := checkStructure(event, v.clock.Now())
	if len(errs) > 0 {
		return sanitized, &ValidationError{Errors: errs}
	}
	return sanitized, nil
}

// Redact returns a copy of the event with sensitive fields replaced and
// secret substrings scrubbed from every string value. Cyclic payloads are
// walked once per container.
func (v *Validator) Redact(event models.TraceEvent) models.TraceEvent {
	out := event
	out.Fields = v.redactMap(event.Fields, make(map[uintptr]bool))
	return out
}

func (v *Validator) redactMap(m map[string]any, seen map[uintptr]bool) map[string]any {
	if m == nil {
		return nil
	}
	ptr := reflect.ValueOf(m).Pointer()
	if seen[ptr] {
		return m
	}
	seen[ptr] = true
	out := make(map[string]any, len(m))
	for k, val := range m {
		if v.sensitiveKey(k) {
			out[k] = RedactedMarker
			continue
		}
		out[k] = v.redactValue(val, seen)
	}
	return out
}

func (v *Validator) redactValue(val any, seen map[uintptr]bool) any {
	switch item := val.(type) {
	case string:
		return v.redactString(item)
	case map[string]any:
		return v.redactMap(item, seen)
	case []any:
		ptr := reflect.ValueOf(item).Pointer()
		if seen[ptr] {
			return item
		}
		seen[ptr] = true
		out := make([]any, len(item))
		for i, elem := range item {
			out[i] = v.redactValue(elem, seen)
		}
		return out
	default:
		return val
	}
}

func (v *Validator) redactString(s string) string {
	for _, re := range v.patterns {
		s = re.ReplaceAllString(s, RedactedMarker)
	}
	return s
}

// sensitiveKey matches field names against the configured sensitive list by
// case-insensitive substring in either direction, as the capture layer has
// always done. A short entry like "key" therefore also hits fields that
// merely contain it.
func (v *Validator) sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, h := range v.sensitive {
		if strings.Contains(lower, h) || strings.Contains(h, lower) {
			return true
		}
	}
	return false
}
