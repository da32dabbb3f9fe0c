package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	_ Directory       = (*PGDirectory)(nil)
	_ LoginEventStore = (*PGLoginEvents)(nil)
)

// PGDirectory implements Directory over PostgreSQL.
type PGDirectory struct {
	db *sql.DB
}

func NewPGDirectory(db *sql.DB) *PGDirectory {
	return &PGDirectory{db: db}
}

const userColumns = `id, email, display_name, password_hash, active, last_login_at, created_at, updated_at`

func (s *PGDirectory) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email) = lower($1)`, email)
	return scanUser(row)
}

func (s *PGDirectory) FindUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u         User
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Active, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

func (s *PGDirectory) GlobalRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select r.code
		   from global_role_assignments g
		   join roles r on r.id = g.role_id
		  where g.user_id = $1
		  order by r.code`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (s *PGDirectory) TenantMemberships(ctx context.Context, userID string) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`select m.tenant_id, t.name, t.active, m.active, m.is_admin, r.id, r.code, m.joined_at
		   from tenant_memberships m
		   join tenants t on t.id = m.tenant_id
		   join roles r on r.id = m.role_id
		  where m.user_id = $1
		  order by m.joined_at asc, m.tenant_id asc`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type memberRow struct {
		Membership
		roleID string
	}
	var members []memberRow
	for rows.Next() {
		var m memberRow
		if err := rows.Scan(&m.TenantID, &m.TenantName, &m.TenantActive, &m.Active, &m.Admin, &m.roleID, &m.RoleCode, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Membership, 0, len(members))
	for _, m := range members {
		perms, err := s.permissionsForRole(ctx, m.roleID)
		if err != nil {
			return nil, err
		}
		m.Permissions = perms
		out = append(out, m.Membership)
	}
	return out, nil
}

func (s *PGDirectory) permissionsForRole(ctx context.Context, roleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select p.key
		   from role_permissions rp
		   join permissions p on p.id = rp.permission_id
		  where rp.role_id = $1
		  order by p.key`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *PGDirectory) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update users set last_login_at = $2, updated_at = $2 where id = $1`, userID, at)
	return err
}

// PGLoginEvents implements LoginEventStore over PostgreSQL.
type PGLoginEvents struct {
	db *sql.DB
}

func NewPGLoginEvents(db *sql.DB) *PGLoginEvents {
	return &PGLoginEvents{db: db}
}

func (s *PGLoginEvents) Append(ctx context.Context, event *LoginEvent) error {
	var userID any
	if event.UserID != "" {
		userID = event.UserID
	}
	_, err := s.db.ExecContext(ctx,
		`insert into login_events(id, user_id, ip, outcome, occurred_at) values($1,$2,$3,$4,$5)`,
		event.ID, userID, event.IP, event.Outcome, event.OccurredAt,
	)
	return err
}

func (s *PGLoginEvents) CountFailuresByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	return s.countFailures(ctx,
		`select count(*) from login_events where ip = $1 and outcome = 'FAILURE' and occurred_at >= $2`,
		ip, since)
}

func (s *PGLoginEvents) CountFailuresByUser(ctx context.Context, userID string, since time.Time) (int, error) {
	return s.countFailures(ctx,
		`select count(*) from login_events where user_id = $1 and outcome = 'FAILURE' and occurred_at >= $2`,
		userID, since)
}

func (s *PGLoginEvents) countFailures(ctx context.Context, query string, key any, since time.Time) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, key, since).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
