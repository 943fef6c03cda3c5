package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/turnscribe/config"
	"github.com/otherjamesbrown/turnscribe/pkg/db"
)

type fakeMigrator struct {
	status  *db.MigrationStatus
	applied []string
	err     error
	seen    fs.FS
	ran     bool
}

func (f *fakeMigrator) deps(cfg *config.CLIConfig) *DbCommandDeps {
	return &DbCommandDeps{
		LoadConfig: func() (*config.CLIConfig, error) { return cfg, nil },
		ConnectToDB: func(context.Context, *config.CLIConfig) (*pgxpool.Pool, error) {
			return nil, nil
		},
		Status: func(_ context.Context, _ *pgxpool.Pool, fsys fs.FS) (*db.MigrationStatus, error) {
			f.seen = fsys
			return f.status, nil
		},
		Migrate: func(context.Context, *pgxpool.Pool, fs.FS) (*db.MigrationResult, error) {
			f.ran = true
			return &db.MigrationResult{Applied: f.applied}, f.err
		},
	}
}

func pendingStatus() *db.MigrationStatus {
	applied := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	return &db.MigrationStatus{
		Applied: []db.MigrationStatusEntry{{Version: "001", Name: "sessions", AppliedAt: &applied}},
		Pending: []db.MigrationStatusEntry{{Version: "002", Name: "run_logs"}},
	}
}

func executeDb(t *testing.T, deps *DbCommandDeps, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewDbCommand(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDbCommand(t *testing.T) {
	cmd := NewDbCommand(DefaultDbDeps(config.LoadConfig))

	assert.Equal(t, "db", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("migrations"))

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
		assert.NotEmpty(t, sub.Example, "%s should have examples", sub.Name())
	}
	assert.True(t, names["migrate"])
	assert.True(t, names["status"])
}

func TestDbMigrate_DryRun(t *testing.T) {
	m := &fakeMigrator{status: pendingStatus()}
	out, err := executeDb(t, m.deps(testConfig(t)), "", "migrate", "--dry-run")
	require.NoError(t, err)

	assert.Contains(t, out, "Pending migrations (1)")
	assert.Contains(t, out, "002 - run_logs")
	assert.Contains(t, out, "Dry run")
	assert.False(t, m.ran)
}

func TestDbMigrate_Confirmation(t *testing.T) {
	t.Run("declined", func(t *testing.T) {
		m := &fakeMigrator{status: pendingStatus()}
		out, err := executeDb(t, m.deps(testConfig(t)), "n\n", "migrate")
		require.NoError(t, err)
		assert.Contains(t, out, "cancelled")
		assert.False(t, m.ran)
	})

	t.Run("accepted", func(t *testing.T) {
		m := &fakeMigrator{status: pendingStatus(), applied: []string{"002"}}
		out, err := executeDb(t, m.deps(testConfig(t)), "y\n", "migrate")
		require.NoError(t, err)
		assert.True(t, m.ran)
		assert.Contains(t, out, "Applied 1 migration(s)")
	})

	t.Run("yes flag", func(t *testing.T) {
		m := &fakeMigrator{status: pendingStatus(), applied: []string{"002"}}
		_, err := executeDb(t, m.deps(testConfig(t)), "", "migrate", "--yes")
		require.NoError(t, err)
		assert.True(t, m.ran)
	})
}

func TestDbMigrate_NothingPending(t *testing.T) {
	m := &fakeMigrator{status: &db.MigrationStatus{}}
	out, err := executeDb(t, m.deps(testConfig(t)), "", "migrate", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "No pending migrations.")
	assert.False(t, m.ran)
}

func TestDbMigrate_Failure(t *testing.T) {
	m := &fakeMigrator{status: pendingStatus(), applied: []string{}, err: errors.New("syntax error at line 3")}
	out, err := executeDb(t, m.deps(testConfig(t)), "", "migrate", "--yes")
	require.Error(t, err)
	assert.Contains(t, out, "Migration failed")
}

func TestDbMigrate_MigrationsDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "010_extra.sql"), []byte("SELECT 1;"), 0o644))

	m := &fakeMigrator{status: &db.MigrationStatus{}}
	_, err := executeDb(t, m.deps(testConfig(t)), "", "migrate", "--migrations", dir)
	require.NoError(t, err)

	_, err = fs.Stat(m.seen, "010_extra.sql")
	assert.NoError(t, err, "migrations should be read from the given directory")

	_, err = executeDb(t, m.deps(testConfig(t)), "", "status", "--migrations", filepath.Join(dir, "010_extra.sql"))
	assert.Error(t, err)
}

func TestDbStatus_Output(t *testing.T) {
	m := &fakeMigrator{status: pendingStatus()}

	out, err := executeDb(t, m.deps(testConfig(t)), "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Applied (1)")
	assert.Contains(t, out, "Pending (1)")
	assert.Contains(t, out, "2026-10-01 12:00:00")
	assert.Contains(t, out, "Summary: 1 applied, 1 pending")

	out, err = executeDb(t, m.deps(testConfig(t)), "", "status", "-o", "json")
	require.NoError(t, err)
	var decoded db.MigrationStatus
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Len(t, decoded.Pending, 1)

	_, err = executeDb(t, m.deps(testConfig(t)), "", "status", "-o", "xml")
	assert.Error(t, err)
}
