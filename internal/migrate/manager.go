// Package migrate applies the versioned SQL schema and idempotent seed data
// for the auth store. Files come from an fs.FS, so the binary can carry its
// schema embedded or read it from disk during development.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"carbontrace.io/internal/obs"
)

const (
	defaultVersionTable = "schema_migrations"
	defaultSeedTable    = "schema_seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
	sqlSuffix  = ".sql"
)

// Manager tracks applied migrations and seeds in bookkeeping tables and
// applies pending files in lexical order, one transaction per file.
type Manager struct {
	db           *sql.DB
	migrations   fs.FS
	seeds        fs.FS
	versionTable string
	seedTable    string
}

// Option configures Manager.
type Option func(*Manager)

// WithVersionTable overrides the migrations bookkeeping table.
func WithVersionTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.versionTable = name
		}
	}
}

// WithSeedTable overrides the seeds bookkeeping table.
func WithSeedTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedTable = name
		}
	}
}

// NewManager constructs a Manager over migration and seed filesystems.
// Either filesystem may be nil when that concern is not used.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:           db,
		migrations:   migrations,
		seeds:        seeds,
		versionTable: defaultVersionTable,
		seedTable:    defaultSeedTable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies every pending migration in lexical order.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx, m.versionTable)
	if err != nil {
		return err
	}
	names, err := listFiles(m.migrations, upSuffix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if applied[name] {
			continue
		}
		if err := m.apply(ctx, m.migrations, name); err != nil {
			return fmt.Errorf("migrate: apply %s: %w", name, err)
		}
		if err := m.record(ctx, m.versionTable, name); err != nil {
			return err
		}
		obs.Info("migration applied", map[string]any{"name": name})
	}
	return nil
}

// Down rolls back the most recently applied migration using its .down.sql
// counterpart.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	history, err := m.history(ctx)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return errors.New("migrate: nothing to roll back")
	}
	last := history[len(history)-1]
	down := strings.TrimSuffix(last, upSuffix) + downSuffix
	if _, err := fs.Stat(m.migrations, down); err != nil {
		return fmt.Errorf("migrate: no down file for %s", last)
	}
	if err := m.apply(ctx, m.migrations, down); err != nil {
		return fmt.Errorf("migrate: roll back %s: %w", last, err)
	}
	if _, err := m.db.ExecContext(ctx,
		fmt.Sprintf(`delete from %s where name = $1`, m.versionTable), last); err != nil {
		return err
	}
	obs.Info("migration rolled back", map[string]any{"name": last})
	return nil
}

// Status returns applied migrations in application order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.history(ctx)
}

// Seed applies seed files that have not run yet. Seeds are expected to be
// idempotent regardless; the bookkeeping just avoids rework.
func (m *Manager) Seed(ctx context.Context) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx, m.seedTable)
	if err != nil {
		return err
	}
	names, err := listFiles(m.seeds, sqlSuffix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if applied[name] {
			continue
		}
		if err := m.apply(ctx, m.seeds, name); err != nil {
			return fmt.Errorf("migrate: apply seed %s: %w", name, err)
		}
		if err := m.record(ctx, m.seedTable, name); err != nil {
			return err
		}
		obs.Info("seed applied", map[string]any{"name": name})
	}
	return nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.versionTable, m.seedTable} {
		ddl := fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				applied_at timestamptz not null default now()
			)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// apply runs one file inside a transaction. Files may contain multiple
// statements; Postgres executes multi-statement strings in one Exec, so no
// client-side splitting is needed.
func (m *Manager) apply(ctx context.Context, fsys fs.FS, name string) error {
	body, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) record(ctx context.Context, table, name string) error {
	_, err := m.db.ExecContext(ctx,
		fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
		name, time.Now().UTC())
	return err
}

func (m *Manager) applied(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

func (m *Manager) history(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, m.versionTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func listFiles(fsys fs.FS, suffix string) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	var names []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) && !strings.HasSuffix(d.Name(), downSuffix) {
			names = append(names, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
