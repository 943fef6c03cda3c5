package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otherjamesbrown/turnscribe/pkg/logging"
	"github.com/otherjamesbrown/turnscribe/pkg/session"
	"github.com/otherjamesbrown/turnscribe/pkg/transcript"
)

var turnColumns = []string{
	"session_name", "turn_index", "speaker", "start_seconds", "end_seconds",
	"text", "audio_path", "text_path", "unattributed", "issues",
}

// SessionRepository stores materialized sessions and their turns.
type SessionRepository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewSessionRepository creates a repository over pool.
func NewSessionRepository(pool *pgxpool.Pool, logger logging.Logger) *SessionRepository {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &SessionRepository{
		pool:   pool,
		logger: logger.With(logging.F("component", "session_repository")),
	}
}

// SaveSession upserts the session row and replaces its turns.
func (r *SessionRepository) SaveSession(ctx context.Context, sess *session.Session) error {
	rows, err := turnRows(sess.Name, sess.Turns)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint: errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (name, root_path, run_id, created_at, sample_rate, turn_count, issue_count, formatted_script, full_text)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name) DO UPDATE SET
			root_path = EXCLUDED.root_path,
			run_id = EXCLUDED.run_id,
			created_at = EXCLUDED.created_at,
			sample_rate = EXCLUDED.sample_rate,
			turn_count = EXCLUDED.turn_count,
			issue_count = EXCLUDED.issue_count,
			formatted_script = EXCLUDED.formatted_script,
			full_text = EXCLUDED.full_text,
			stored_at = NOW()
	`, sess.Name, sess.Root, sess.RunID, sess.CreatedAt, sess.SampleRate,
		len(sess.Turns), sess.IssueCount(), sess.FormattedScript, sess.FullText)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", sess.Name, err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM turns WHERE session_name = $1", sess.Name); err != nil {
		return fmt.Errorf("failed to clear turns for %s: %w", sess.Name, err)
	}

	if len(rows) > 0 {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"turns"}, turnColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy turns for %s: %w", sess.Name, err)
		}
		r.logger.Debug("turns stored", logging.F("session", sess.Name), logging.F("rows", n))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit session %s: %w", sess.Name, err)
	}
	return nil
}

// ListSessions returns the most recent sessions, newest first.
func (r *SessionRepository) ListSessions(ctx context.Context, limit int) ([]session.Summary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT s.name, s.root_path, s.created_at, s.turn_count, s.issue_count,
			COALESCE(ARRAY(
				SELECT t.speaker FROM turns t
				WHERE t.session_name = s.name
				GROUP BY t.speaker
				ORDER BY MIN(t.turn_index)
			), '{}')
		FROM sessions s
		ORDER BY s.created_at DESC, s.name DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	out := []session.Summary{}
	for rows.Next() {
		var s session.Summary
		if err := rows.Scan(&s.Name, &s.Path, &s.CreatedAt, &s.Turns, &s.Issues, &s.Speakers); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.Manifest = true
		out = append(out, s)
	}
	return out, rows.Err()
}

// turnRows converts turns into COPY rows matching turnColumns.
func turnRows(sessionName string, turns []transcript.Turn) ([][]any, error) {
	rows := make([][]any, 0, len(turns))
	for _, t := range turns {
		issues := t.Issues
		if issues == nil {
			issues = []transcript.Issue{}
		}
		issuesJSON, err := json.Marshal(issues)
		if err != nil {
			return nil, fmt.Errorf("failed to encode issues for turn %d: %w", t.Index, err)
		}

		var textPath *string
		if t.TextPath != "" {
			p := t.TextPath
			textPath = &p
		}

		rows = append(rows, []any{
			sessionName, t.Index, t.Speaker, t.Start, t.End,
			t.Text, t.AudioPath, textPath, t.Unattributed, issuesJSON,
		})
	}
	return rows, nil
}
