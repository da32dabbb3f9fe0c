package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGDirectoryFindUserByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "email", "display_name", "password_hash", "active", "last_login_at", "created_at", "updated_at"}).
		AddRow("u1", "user@acme.test", "Pat", "$2a$10$hash", true, nil, now, now)
	mock.ExpectQuery(`from users where lower\(email\) = lower\(\$1\)`).
		WithArgs("user@acme.test").
		WillReturnRows(rows)

	dir := NewPGDirectory(db)
	user, err := dir.FindUserByEmail(context.Background(), "user@acme.test")
	if err != nil {
		t.Fatalf("FindUserByEmail: %v", err)
	}
	if user.ID != "u1" || !user.Active || user.LastLoginAt != nil {
		t.Fatalf("unexpected user: %+v", user)
	}

	mock.ExpectQuery(`from users where lower\(email\) = lower\(\$1\)`).
		WithArgs("ghost@acme.test").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := dir.FindUserByEmail(context.Background(), "ghost@acme.test"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGDirectoryTenantMembershipsFlattensPermissions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	joined := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	memberRows := sqlmock.NewRows([]string{"tenant_id", "name", "t_active", "m_active", "is_admin", "role_id", "code", "joined_at"}).
		AddRow("t1", "Acme", true, true, true, "r1", "COMPANY_ADMIN", joined)
	mock.ExpectQuery(`from tenant_memberships m`).
		WithArgs("u1").
		WillReturnRows(memberRows)

	permRows := sqlmock.NewRows([]string{"key"}).
		AddRow("edit_reports").
		AddRow("view_reports")
	mock.ExpectQuery(`from role_permissions rp`).
		WithArgs("r1").
		WillReturnRows(permRows)

	dir := NewPGDirectory(db)
	memberships, err := dir.TenantMemberships(context.Background(), "u1")
	if err != nil {
		t.Fatalf("TenantMemberships: %v", err)
	}
	if len(memberships) != 1 {
		t.Fatalf("expected one membership, got %d", len(memberships))
	}
	m := memberships[0]
	if m.TenantID != "t1" || !m.Admin || m.RoleCode != "COMPANY_ADMIN" {
		t.Fatalf("unexpected membership: %+v", m)
	}
	if len(m.Permissions) != 2 {
		t.Fatalf("expected flattened permissions, got %v", m.Permissions)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGLoginEventsCountsAndAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	since := time.Now().Add(-15 * time.Minute)
	mock.ExpectQuery(`select count\(\*\) from login_events where ip = \$1`).
		WithArgs("192.0.2.10", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	events := NewPGLoginEvents(db)
	n, err := events.CountFailuresByIP(context.Background(), "192.0.2.10", since)
	if err != nil {
		t.Fatalf("CountFailuresByIP: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4, got %d", n)
	}

	mock.ExpectExec(`insert into login_events`).
		WithArgs("ev1", nil, "192.0.2.10", OutcomeFailure, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = events.Append(context.Background(), &LoginEvent{
		ID: "ev1", IP: "192.0.2.10", Outcome: OutcomeFailure, OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
