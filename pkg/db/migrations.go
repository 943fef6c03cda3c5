package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrations returns the schema files compiled into the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// migrationLockID serialises concurrent "db migrate" runs against one database.
const migrationLockID = 0x7475726e

// Migration is one .sql file. Version is the file name without its extension.
type Migration struct {
	Version string
	Name    string
}

// MigrationResult lists the versions a run applied and the ones it found
// already recorded.
type MigrationResult struct {
	Applied []string
	Skipped []string
}

type MigrationStatusEntry struct {
	Version   string     `json:"version"`
	Name      string     `json:"name"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// MigrationStatus splits versions into those recorded with a file, those
// with a file but not recorded, and those recorded with no file (drift).
type MigrationStatus struct {
	Applied []MigrationStatusEntry `json:"applied"`
	Pending []MigrationStatusEntry `json:"pending"`
	Drift   []MigrationStatusEntry `json:"drift"`
}

// plan is the files on disk joined with the tracking table.
type plan struct {
	files   []Migration
	applied map[string]time.Time
}

func loadPlan(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) (*plan, error) {
	if pool == nil {
		return nil, errors.New("database pool is nil")
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return nil, fmt.Errorf("creating schema_migrations: %w", err)
	}

	files, err := findMigrations(fsys)
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}
	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	return &plan{files: files, applied: applied}, nil
}

// RunMigrations applies the pending files of fsys in version order. Each
// file runs in its own transaction; the first failure stops the run and the
// result reports what had been applied by then.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) (*MigrationResult, error) {
	p, err := loadPlan(ctx, pool, fsys)
	if err != nil {
		return nil, err
	}

	result := &MigrationResult{}
	for _, m := range p.files {
		if _, done := p.applied[m.Version]; done {
			result.Skipped = append(result.Skipped, m.Version)
			continue
		}
		if err := apply(ctx, pool, fsys, m); err != nil {
			return result, fmt.Errorf("applying %s: %w", m.Name, err)
		}
		result.Applied = append(result.Applied, m.Version)
	}
	return result, nil
}

// GetMigrationStatus reports fsys against the tracking table without
// changing anything but the table's existence.
func GetMigrationStatus(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) (*MigrationStatus, error) {
	p, err := loadPlan(ctx, pool, fsys)
	if err != nil {
		return nil, err
	}
	return buildStatus(p.files, p.applied), nil
}

func buildStatus(files []Migration, applied map[string]time.Time) *MigrationStatus {
	st := &MigrationStatus{
		Applied: []MigrationStatusEntry{},
		Pending: []MigrationStatusEntry{},
		Drift:   []MigrationStatusEntry{},
	}
	onDisk := make(map[string]struct{}, len(files))

	for _, m := range files {
		onDisk[m.Version] = struct{}{}
		entry := MigrationStatusEntry{Version: m.Version, Name: m.Name}
		if at, ok := applied[m.Version]; ok {
			entry.AppliedAt = timePtr(at)
			st.Applied = append(st.Applied, entry)
			continue
		}
		st.Pending = append(st.Pending, entry)
	}

	for v, at := range applied {
		if _, ok := onDisk[v]; !ok {
			st.Drift = append(st.Drift, MigrationStatusEntry{Version: v, Name: v + ".sql", AppliedAt: timePtr(at)})
		}
	}
	sort.Slice(st.Drift, func(i, j int) bool { return st.Drift[i].Version < st.Drift[j].Version })
	return st
}

func timePtr(t time.Time) *time.Time { return &t }

// findMigrations returns the top-level .sql files of fsys ordered by version.
// Subdirectories are not descended into.
func findMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	var out []Migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(path.Ext(name), ".sql") {
			continue
		}
		out = append(out, Migration{Version: normalizeVersion(name), Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// normalizeVersion drops a trailing ".sql" in any letter case. A bare ".sql"
// is left alone.
func normalizeVersion(name string) string {
	ext := path.Ext(name)
	if strings.EqualFold(ext, ".sql") && len(name) > len(ext) {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]time.Time, error) {
	rows, err := pool.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var (
			version string
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		out[normalizeVersion(version)] = at
	}
	return out, rows.Err()
}

func apply(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, m Migration) error {
	body, err := fs.ReadFile(fsys, m.Name)
	if err != nil {
		return err
	}
	sql := strings.TrimSpace(string(body))
	if sql == "" {
		return errors.New("file is empty")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("taking migration lock: %w", err)
	}
	// Another runner may have applied it while this one waited for the lock.
	tag, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, m.Version)
	if err != nil {
		return fmt.Errorf("recording version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, sql); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
