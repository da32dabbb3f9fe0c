package auth

import (
	"context"
	"time"
)

// Login event outcomes.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailure = "FAILURE"
)

// LoginEvent is one append-only authentication attempt record. The lockout
// limiter derives its window counts from these rows, so restarts never reset
// an in-progress lockout.
type LoginEvent struct {
	ID         string
	UserID     string // empty when the email did not resolve to an account
	IP         string
	Outcome    string
	OccurredAt time.Time
}

// LoginEventStore appends events and answers window-count queries. Events are
// never updated or deleted here; retention is an external concern.
type LoginEventStore interface {
	Append(ctx context.Context, event *LoginEvent) error
	CountFailuresByIP(ctx context.Context, ip string, since time.Time) (int, error)
	CountFailuresByUser(ctx context.Context, userID string, since time.Time) (int, error)
}
