// Package audit records authentication and authorization decisions for
// compliance. Every write is fire-and-forget: a sink failure is logged
// locally and never surfaces to the caller.
package audit

import (
	"context"
	"strings"
	"time"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Event is one compliance record.
type Event struct {
	UserID     string         `json:"user_id,omitempty"`
	CompanyID  string         `json:"company_id,omitempty"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Changes    map[string]any `json:"changes,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Sink consumes audit events. Implementations must tolerate concurrent calls.
type Sink interface {
	LogEvent(ctx context.Context, event Event) error
}

// NopSink discards everything. Used when auditing is disabled.
type NopSink struct{}

func (NopSink) LogEvent(context.Context, Event) error { return nil }

// WithRequestID attaches the request identifier to the context so sinks can
// correlate audit rows with request logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
