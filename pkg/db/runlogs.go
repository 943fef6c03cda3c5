package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otherjamesbrown/turnscribe/pkg/logging"
)

var runLogColumns = []string{"logged_at", "level", "service", "message", "run_id", "caller", "fields"}

// RunLogWriter persists log entries to run_logs. It implements
// logging.LogWriter for use behind a logging.BatchSink.
type RunLogWriter struct {
	pool *pgxpool.Pool
}

// NewRunLogWriter creates a writer over pool.
func NewRunLogWriter(pool *pgxpool.Pool) *RunLogWriter {
	return &RunLogWriter{pool: pool}
}

// WriteBatch copies entries into run_logs.
func (w *RunLogWriter) WriteBatch(ctx context.Context, entries []logging.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows, err := runLogRows(entries)
	if err != nil {
		return err
	}
	if _, err := w.pool.CopyFrom(ctx, pgx.Identifier{"run_logs"}, runLogColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("failed to write %d log entries: %w", len(entries), err)
	}
	return nil
}

func runLogRows(entries []logging.LogEntry) ([][]any, error) {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		fields := e.Fields
		if fields == nil {
			fields = map[string]string{}
		}
		fieldsJSON, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("failed to encode log fields: %w", err)
		}
		rows = append(rows, []any{
			e.Timestamp, e.Level, e.Service, e.Message,
			nullIfEmpty(e.RunID), nullIfEmpty(e.Caller), fieldsJSON,
		})
	}
	return rows, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
