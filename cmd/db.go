package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/turnscribe/config"
	"github.com/otherjamesbrown/turnscribe/pkg/db"
)

// DbCommandDeps holds the dependencies for database commands.
type DbCommandDeps struct {
	LoadConfig  func() (*config.CLIConfig, error)
	ConnectToDB func(context.Context, *config.CLIConfig) (*pgxpool.Pool, error)
	// Migrate and Status are swapped in tests.
	Migrate func(context.Context, *pgxpool.Pool, fs.FS) (*db.MigrationResult, error)
	Status  func(context.Context, *pgxpool.Pool, fs.FS) (*db.MigrationStatus, error)
}

// DefaultDbDeps returns the default dependencies for production use.
func DefaultDbDeps(loadConfig func() (*config.CLIConfig, error)) *DbCommandDeps {
	return &DbCommandDeps{
		LoadConfig:  loadConfig,
		ConnectToDB: connectToDatabase,
		Migrate:     db.RunMigrations,
		Status:      db.GetMigrationStatus,
	}
}

type dbOptions struct {
	migrationsDir string
	dryRun        bool
	yes           bool
	output        string
}

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand(deps *DbCommandDeps) *cobra.Command {
	opts := &dbOptions{}

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the session database schema",
		Long: `Manage the optional PostgreSQL database that mirrors sessions.

When database.dsn is configured (or TURNSCRIBE_DATABASE_URL is set), every
successful transcription is also written to the sessions and session_turns
tables, and run logs can be persisted to run_logs. These commands create and
inspect that schema.

Migrations are built into the binary. Pass --migrations to apply SQL files
from a directory instead. Files are applied in name order, each in its own
transaction, and recorded in schema_migrations.

Examples:
  turnscribe db status
  turnscribe db migrate
  turnscribe db migrate --dry-run`,
		Aliases: []string{"database"},
	}

	cmd.PersistentFlags().StringVarP(&opts.migrationsDir, "migrations", "m", "", "Directory of .sql migrations (default: built-in)")

	cmd.AddCommand(newDbMigrateCommand(deps, opts))
	cmd.AddCommand(newDbStatusCommand(deps, opts))

	return cmd
}

func newDbMigrateCommand(deps *DbCommandDeps, opts *dbOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		Long: `Apply pending database migrations.

Pending migrations are listed before anything runs. A failed migration is
rolled back and no later migration is attempted.`,
		Example: `  turnscribe db migrate
  turnscribe db migrate --dry-run
  turnscribe db migrate --yes --migrations ./migrations`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbMigrate(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), deps, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Apply without asking for confirmation")

	return cmd
}

func newDbStatusCommand(deps *DbCommandDeps, opts *dbOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Long: `Show the state of database migrations.

  Applied  migrations recorded in schema_migrations that still have a file
  Pending  migrations with a file that have not been applied
  Drift    migrations recorded as applied whose file no longer exists`,
		Example: `  turnscribe db status
  turnscribe db status --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbStatus(cmd.Context(), cmd.OutOrStdout(), deps, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// migrationsFS returns the directory given on the command line or the
// built-in migrations.
func (o *dbOptions) migrationsFS() (fs.FS, error) {
	if o.migrationsDir == "" {
		return db.Migrations(), nil
	}
	info, err := os.Stat(o.migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("migrations directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("migrations directory: %s is not a directory", o.migrationsDir)
	}
	return os.DirFS(o.migrationsDir), nil
}

func runDbMigrate(ctx context.Context, in io.Reader, out io.Writer, deps *DbCommandDeps, opts *dbOptions) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	fsys, err := opts.migrationsFS()
	if err != nil {
		return err
	}

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	status, err := deps.Status(ctx, pool, fsys)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	if len(status.Pending) == 0 {
		fmt.Fprintln(out, "No pending migrations.")
		return nil
	}

	fmt.Fprintf(out, "Pending migrations (%d):\n", len(status.Pending))
	for _, m := range status.Pending {
		fmt.Fprintf(out, "  %s - %s\n", m.Version, m.Name)
	}
	fmt.Fprintln(out)

	if opts.dryRun {
		fmt.Fprintln(out, "Dry run: no migrations applied.")
		return nil
	}

	if !opts.yes {
		fmt.Fprint(out, "Apply these migrations? (y/N): ")
		response, _ := bufio.NewReader(in).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(response)) != "y" {
			fmt.Fprintln(out, "Migration cancelled.")
			return nil
		}
	}

	result, err := deps.Migrate(ctx, pool, fsys)
	if err != nil {
		fmt.Fprintf(out, "\nMigration failed: %v\n", err)
		if result != nil && len(result.Applied) > 0 {
			fmt.Fprintln(out, "\nApplied before the failure:")
			for _, v := range result.Applied {
				fmt.Fprintf(out, "  ✓ %s\n", v)
			}
		}
		return err
	}

	fmt.Fprintf(out, "Applied %d migration(s):\n", len(result.Applied))
	for _, v := range result.Applied {
		fmt.Fprintf(out, "  ✓ %s\n", v)
	}
	return nil
}

func runDbStatus(ctx context.Context, out io.Writer, deps *DbCommandDeps, opts *dbOptions) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	format, err := resolveFormat(cfg, opts.output)
	if err != nil {
		return err
	}

	fsys, err := opts.migrationsFS()
	if err != nil {
		return err
	}

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	status, err := deps.Status(ctx, pool, fsys)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	return writeOutput(out, format, status, func(w io.Writer) error {
		return writeMigrationStatusText(w, status)
	})
}

func writeMigrationStatusText(w io.Writer, status *db.MigrationStatus) error {
	if len(status.Applied) == 0 && len(status.Pending) == 0 && len(status.Drift) == 0 {
		fmt.Fprintln(w, "No migrations found.")
		return nil
	}

	section := func(title string, entries []db.MigrationStatusEntry) {
		if len(entries) == 0 {
			return
		}
		fmt.Fprintf(w, "%s (%d):\n", title, len(entries))
		fmt.Fprintf(w, "  %-10s %-40s %s\n", "VERSION", "NAME", "APPLIED")
		for _, m := range entries {
			appliedAt := "-"
			if m.AppliedAt != nil {
				appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "  %-10s %-40s %s\n", truncate(m.Version, 10), truncate(m.Name, 40), appliedAt)
		}
		fmt.Fprintln(w)
	}

	section("Applied", status.Applied)
	section("Pending", status.Pending)
	section("Drift (applied, file missing)", status.Drift)

	fmt.Fprintf(w, "Summary: %d applied, %d pending", len(status.Applied), len(status.Pending))
	if len(status.Drift) > 0 {
		fmt.Fprintf(w, ", %d drift", len(status.Drift))
	}
	fmt.Fprintln(w)
	return nil
}
