package redact

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/agenttrace-ai/agenttrace/pkg/models"
)

// ValidationError carries every structural failure found in one event.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "invalid event: " + strings.Join(e.Errors, "; ")
}

// Timestamps outside this window are flagged as unrealistic rather than
// silently corrected.
const (
	maxTimestampAge  = 2 * time.Hour
	maxTimestampSkew = time.Hour
)

var httpMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "OPTIONS": true, "TRACE": true, "CONNECT": true,
}

func checkStructure(event models.TraceEvent, now time.Time) []string {
	var errs []string

	if event.Type == "" {
		errs = append(errs, "type is required")
	} else if !models.KnownEventType(event.Type) {
		errs = append(errs, fmt.Sprintf("unknown event type %q", event.Type))
	}
	if event.SessionID == "" {
		errs = append(errs, "session_id is required")
	}

	switch {
	case event.Timestamp.IsZero():
		errs = append(errs, "timestamp is required")
	case now.Sub(event.Timestamp) > maxTimestampAge:
		errs = append(errs, fmt.Sprintf("timestamp %s is unrealistically old", event.Timestamp.Format(time.RFC3339)))
	case event.Timestamp.Sub(now) > maxTimestampSkew:
		errs = append(errs, fmt.Sprintf("timestamp %s is unrealistically far in the future", event.Timestamp.Format(time.RFC3339)))
	}

	switch event.Type {
	case models.EventAIRequest:
		errs = append(errs, checkAIRequest(event.Fields)...)
	case models.EventAIResponse:
		errs = append(errs, checkAIResponse(event.Fields)...)
	case models.EventNetworkRequest:
		errs = append(errs, checkNetworkRequest(event.Fields)...)
	case models.EventToolExecution:
		if stringField(event.Fields, "tool_name") == "" {
			errs = append(errs, "tool_execution requires tool_name")
		}
	case models.EventError:
		if stringField(event.Fields, "message") == "" {
			errs = append(errs, "error event requires message")
		}
	}

	return errs
}

func checkAIRequest(fields map[string]any) []string {
	var errs []string
	if stringField(fields, "provider") == "" {
		errs = append(errs, "ai_request requires provider")
	}
	if stringField(fields, "model") == "" {
		errs = append(errs, "ai_request requires model")
	}
	msgs, ok := fields["messages"].([]any)
	if !ok || len(msgs) == 0 {
		errs = append(errs, "ai_request requires a non-empty messages array")
	}
	return errs
}

func checkAIResponse(fields map[string]any) []string {
	var errs []string
	if stringField(fields, "provider") == "" {
		errs = append(errs, "ai_response requires provider")
	}
	tokens, ok := fields["tokens_used"].(map[string]any)
	if !ok {
		return errs
	}
	for k, v := range tokens {
		n, isNum := numericField(v)
		if isNum && n < 0 {
			errs = append(errs, fmt.Sprintf("tokens_used.%s must be non-negative", k))
		}
	}
	return errs
}

func checkNetworkRequest(fields map[string]any) []string {
	var errs []string

	rawURL := stringField(fields, "url")
	if rawURL == "" {
		errs = append(errs, "network_request requires url")
	} else if u, err := url.Parse(rawURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("network_request url %q is not a valid URL", rawURL))
	}

	method := stringField(fields, "method")
	if !httpMethods[strings.ToUpper(method)] {
		errs = append(errs, fmt.Sprintf("network_request method %q is not a standard HTTP verb", method))
	}
	return errs
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func numericField(v any) (float64, bool) {
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
