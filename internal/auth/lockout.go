package auth

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultLockoutThreshold = 5
	defaultLockoutWindow    = 15 * time.Minute
)

// Limiter enforces temporary lockout after repeated authentication failures.
// Counts are derived from the durable login-event log on every check, so the
// decision is consistent across instances and survives restarts. Successful
// logins do not clear prior failures; the window ages them out.
type Limiter struct {
	events    LoginEventStore
	threshold int
	window    time.Duration
	now       func() time.Time
}

// LimiterOption configures Limiter.
type LimiterOption func(*Limiter)

// WithThreshold sets the failure count at which lockout begins.
func WithThreshold(n int) LimiterOption {
	return func(l *Limiter) {
		if n > 0 {
			l.threshold = n
		}
	}
}

// WithWindow sets the sliding window over which failures are counted.
func WithWindow(d time.Duration) LimiterOption {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithLimiterClock overrides the time source (useful for tests).
func WithLimiterClock(fn func() time.Time) LimiterOption {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLimiter constructs a Limiter over the login-event log.
func NewLimiter(events LoginEventStore, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		events:    events,
		threshold: defaultLockoutThreshold,
		window:    defaultLockoutWindow,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Window returns the sliding window duration.
func (l *Limiter) Window() time.Duration { return l.window }

// Threshold returns the failure count at which lockout begins.
func (l *Limiter) Threshold() int { return l.threshold }

// Check fails with RATE_LIMIT_EXCEEDED when either the per-IP or the
// per-account failure count within the window has reached the threshold.
// Store errors deny: the limiter fails closed.
func (l *Limiter) Check(ctx context.Context, ip, userID string) error {
	since := l.now().UTC().Add(-l.window)

	if ip != "" {
		n, err := l.events.CountFailuresByIP(ctx, ip, since)
		if err != nil {
			return systemError(err)
		}
		if n >= l.threshold {
			return l.limited()
		}
	}
	if userID != "" {
		n, err := l.events.CountFailuresByUser(ctx, userID, since)
		if err != nil {
			return systemError(err)
		}
		if n >= l.threshold {
			return l.limited()
		}
	}
	return nil
}

// Counts reports the current window counters. Used by the lockout
// inspection endpoint, never by the enforcement path.
func (l *Limiter) Counts(ctx context.Context, ip, userID string) (ipCount, userCount int, err error) {
	since := l.now().UTC().Add(-l.window)
	if ip != "" {
		if ipCount, err = l.events.CountFailuresByIP(ctx, ip, since); err != nil {
			return 0, 0, err
		}
	}
	if userID != "" {
		if userCount, err = l.events.CountFailuresByUser(ctx, userID, since); err != nil {
			return 0, 0, err
		}
	}
	return ipCount, userCount, nil
}

func (l *Limiter) limited() *Error {
	err := E(CodeRateLimited, fmt.Sprintf("too many failed attempts, retry in %s", l.window))
	err.RetryAfter = l.window
	return err
}
