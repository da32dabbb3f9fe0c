package auth

import (
	"context"
	"testing"
	"time"
)

type fakeEvents struct {
	events    []LoginEvent
	appendErr error
	countErr  error
}

func (f *fakeEvents) Append(_ context.Context, event *LoginEvent) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeEvents) CountFailuresByIP(_ context.Context, ip string, since time.Time) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	n := 0
	for _, e := range f.events {
		if e.IP == ip && e.Outcome == OutcomeFailure && !e.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeEvents) CountFailuresByUser(_ context.Context, userID string, since time.Time) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	n := 0
	for _, e := range f.events {
		if e.UserID == userID && e.Outcome == OutcomeFailure && !e.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeEvents) fail(userID, ip string, at time.Time) {
	f.events = append(f.events, LoginEvent{UserID: userID, IP: ip, Outcome: OutcomeFailure, OccurredAt: at})
}

func TestLimiterLocksOutByIP(t *testing.T) {
	now := time.Now().UTC()
	events := &fakeEvents{}
	limiter := NewLimiter(events, WithThreshold(3), WithWindow(15*time.Minute),
		WithLimiterClock(func() time.Time { return now }))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		events.fail("", "10.0.0.1", now.Add(-time.Minute))
	}
	if err := limiter.Check(ctx, "10.0.0.1", ""); err != nil {
		t.Fatalf("below threshold, expected pass: %v", err)
	}

	events.fail("", "10.0.0.1", now.Add(-time.Minute))
	err := limiter.Check(ctx, "10.0.0.1", "")
	if CodeOf(err) != CodeRateLimited {
		t.Fatalf("expected RATE_LIMIT_EXCEEDED, got %v", err)
	}
	if RetryAfterOf(err) != 15*time.Minute {
		t.Fatalf("expected retry-after hint, got %v", RetryAfterOf(err))
	}
}

func TestLimiterLocksOutByUser(t *testing.T) {
	now := time.Now().UTC()
	events := &fakeEvents{}
	limiter := NewLimiter(events, WithThreshold(2),
		WithLimiterClock(func() time.Time { return now }))

	// Distributed attack: different IPs, same account.
	events.fail("u1", "10.0.0.1", now.Add(-time.Minute))
	events.fail("u1", "10.0.0.2", now.Add(-time.Minute))

	err := limiter.Check(context.Background(), "10.0.0.3", "u1")
	if CodeOf(err) != CodeRateLimited {
		t.Fatalf("expected RATE_LIMIT_EXCEEDED, got %v", err)
	}
}

func TestLimiterWindowAgesOutFailures(t *testing.T) {
	now := time.Now().UTC()
	events := &fakeEvents{}
	limiter := NewLimiter(events, WithThreshold(2), WithWindow(15*time.Minute),
		WithLimiterClock(func() time.Time { return now }))

	events.fail("u1", "10.0.0.1", now.Add(-20*time.Minute))
	events.fail("u1", "10.0.0.1", now.Add(-16*time.Minute))
	events.fail("u1", "10.0.0.1", now.Add(-time.Minute))

	if err := limiter.Check(context.Background(), "10.0.0.1", "u1"); err != nil {
		t.Fatalf("aged-out failures must not count: %v", err)
	}
}

func TestLimiterFailsClosedOnStoreError(t *testing.T) {
	events := &fakeEvents{countErr: context.DeadlineExceeded}
	limiter := NewLimiter(events)

	err := limiter.Check(context.Background(), "10.0.0.1", "u1")
	if err == nil {
		t.Fatalf("expected denial on store error")
	}
	if CodeOf(err) != CodeSystem {
		t.Fatalf("expected AUTH_SYSTEM_ERROR, got %v", err)
	}
}

func TestLimiterCounts(t *testing.T) {
	now := time.Now().UTC()
	events := &fakeEvents{}
	limiter := NewLimiter(events, WithLimiterClock(func() time.Time { return now }))

	events.fail("u1", "10.0.0.1", now.Add(-time.Minute))
	events.fail("u1", "10.0.0.2", now.Add(-time.Minute))

	ipCount, userCount, err := limiter.Counts(context.Background(), "10.0.0.1", "u1")
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if ipCount != 1 || userCount != 2 {
		t.Fatalf("unexpected counts ip=%d user=%d", ipCount, userCount)
	}
}
