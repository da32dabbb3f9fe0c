package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"carbontrace.io/internal/ids"
	"carbontrace.io/internal/obs"
)

// LogSink writes audit events as JSON lines through the shared logger.
type LogSink struct{}

func (LogSink) LogEvent(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}
	entry := map[string]any{
		"ts":    event.OccurredAt.Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// PGSink appends audit events to the audit_log table.
type PGSink struct {
	db *sql.DB
}

// NewPGSink constructs a Postgres-backed sink.
func NewPGSink(db *sql.DB) *PGSink { return &PGSink{db: db} }

func (s *PGSink) LogEvent(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}
	details, err := json.Marshal(event.Details)
	if err != nil {
		return err
	}
	changes, err := json.Marshal(event.Changes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into audit_log(id, user_id, company_id, action, entity_type, entity_id, details, changes, request_id, occurred_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		ids.New(),
		nullable(event.UserID), nullable(event.CompanyID),
		event.Action, event.EntityType, nullable(event.EntityID),
		details, changes, nullable(event.RequestID), event.OccurredAt,
	)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
