// Package cmd provides the turnscribe CLI commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/turnscribe/config"
	"github.com/otherjamesbrown/turnscribe/pkg/db"
	"github.com/otherjamesbrown/turnscribe/pkg/logging"
)

// connectToDatabase opens a pool for the configured DSN, retrying while the
// server starts up.
func connectToDatabase(ctx context.Context, cfg *config.CLIConfig) (*pgxpool.Pool, error) {
	if !cfg.Database.Enabled() {
		return nil, fmt.Errorf("database.dsn is not configured (set TURNSCRIBE_DATABASE_URL)")
	}
	dbCfg := db.DefaultConfig(cfg.Database.DSN)
	pool, err := db.ConnectWithRetry(ctx, dbCfg, 3, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", dbCfg.Redacted(), err)
	}
	return pool, nil
}

// newLogger builds the process logger. JSON output is used when stderr is
// not a terminal.
func newLogger(cfg *config.CLIConfig, sinks ...logging.Sink) logging.Logger {
	lc := logging.DefaultConfig()
	if cfg.Debug {
		lc.Level = logging.LevelDebug
	}
	lc.JSONFormat = !term.IsTerminal(int(os.Stderr.Fd()))
	lc.Sinks = sinks
	return logging.NewLogger(lc)
}

// resolveFormat picks the flag value when set, else the configured default.
func resolveFormat(cfg *config.CLIConfig, flag string) (config.OutputFormat, error) {
	format := cfg.OutputFormat
	if flag != "" {
		format = config.OutputFormat(flag)
	}
	if !format.IsValid() {
		return "", fmt.Errorf("invalid output format: %s (must be text, json, or yaml)", format)
	}
	return format, nil
}

// writeOutput renders v as JSON or YAML, or calls text for the text format.
func writeOutput(w io.Writer, format config.OutputFormat, v any, text func(io.Writer) error) error {
	switch format {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case config.OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return text(w)
	}
}

// formatSeconds renders a timestamp in seconds as m:ss.s.
func formatSeconds(s float64) string {
	m := int(s) / 60
	return fmt.Sprintf("%d:%04.1f", m, s-float64(m*60))
}

// truncate shortens s to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
