package auth

import (
	"context"
	"time"
)

// User is a credential record from the user directory. Accounts are never
// deleted, only deactivated.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Active       bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Membership links a user to a tenant with an admin flag, a membership
// status, and the role assigned within that tenant. Permissions arrive
// pre-flattened from the role.
type Membership struct {
	TenantID     string
	TenantName   string
	TenantActive bool
	Active       bool
	Admin        bool
	RoleCode     string
	Permissions  []string
	JoinedAt     time.Time
}

// Directory is the read-mostly user/tenant store this core consumes. The
// Postgres implementation lives in this package; tests substitute fakes.
type Directory interface {
	// FindUserByEmail performs a case-insensitive lookup. Returns ErrNotFound
	// when no account matches.
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)

	// GlobalRoles returns role codes granted platform-wide. Any global role
	// routes principal resolution through the global fast path.
	GlobalRoles(ctx context.Context, userID string) ([]string, error)

	// TenantMemberships returns every membership for the user, active or not,
	// ordered by joined_at then tenant id. The resolver filters.
	TenantMemberships(ctx context.Context, userID string) ([]Membership, error)

	// TouchLastLogin updates the user's last-login timestamp.
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
}
