package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/turnscribe/config"
	tserrors "github.com/otherjamesbrown/turnscribe/pkg/errors"
	"github.com/otherjamesbrown/turnscribe/pkg/logging"
	"github.com/otherjamesbrown/turnscribe/pkg/media"
	"github.com/otherjamesbrown/turnscribe/pkg/session"
	"github.com/otherjamesbrown/turnscribe/pkg/transcript"
)

// seedSession materializes the worked example under cfg's sessions root.
func seedSession(t *testing.T, cfg *config.CLIConfig, at time.Time) *session.Session {
	t.Helper()
	words := []transcript.Word{
		{Text: "a", Start: 0, End: 0.5},
		{Text: "b", Start: 0.6, End: 1.0},
		{Text: "c", Start: 1.5, End: 2.0},
	}
	segments := []transcript.Segment{
		{Speaker: "S1", Start: 0, End: 1.2},
		{Speaker: "S2", Start: 1.2, End: 2.5},
	}
	turns := transcript.Group(transcript.Assign(words, segments))

	ffmpeg := media.NewFFmpeg(media.Config{}, &fakeFFmpeg{}, nil)
	m := session.NewMaterializer(session.Options{
		Root: cfg.SessionsRoot,
		Now:  func() time.Time { return at },
	}, ffmpeg, logging.NewNopLogger())

	sess, err := m.Materialize(context.Background(), turns, writeTestAudio(t, "normalized.wav"), 16000)
	require.NoError(t, err)
	return sess
}

func executeSession(t *testing.T, deps *SessionCommandDeps, args ...string) (string, error) {
	t.Helper()
	cmd := NewSessionCommand(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func sessionDeps(cfg *config.CLIConfig) *SessionCommandDeps {
	return &SessionCommandDeps{
		LoadConfig: func() (*config.CLIConfig, error) { return cfg, nil },
		ConnectToDB: func(context.Context, *config.CLIConfig) (*pgxpool.Pool, error) {
			return nil, errors.New("database.dsn is not configured")
		},
	}
}

func TestSessionCommand_Structure(t *testing.T) {
	cmd := NewSessionCommand(DefaultSessionDeps(config.LoadConfig))
	assert.Equal(t, "session", cmd.Use)
	assert.NotEmpty(t, cmd.Long)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"list", "show", "export"}, names)
}

func TestSessionList(t *testing.T) {
	cfg := testConfig(t)

	out, err := executeSession(t, sessionDeps(cfg), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found.")

	older := seedSession(t, cfg, time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC))
	newer := seedSession(t, cfg, time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC))

	out, err = executeSession(t, sessionDeps(cfg), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Less(t, strings.Index(out, newer.Name), strings.Index(out, older.Name), "newest first")
	assert.Contains(t, out, "S1,S2")

	out, err = executeSession(t, sessionDeps(cfg), "list", "-n", "1", "-o", "json")
	require.NoError(t, err)
	var summaries []session.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, newer.Name, summaries[0].Name)
	assert.Equal(t, 2, summaries[0].Turns)
}

func TestSessionList_DatabaseUnavailable(t *testing.T) {
	_, err := executeSession(t, sessionDeps(testConfig(t)), "list", "--db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn")
}

func TestSessionShow(t *testing.T) {
	cfg := testConfig(t)
	sess := seedSession(t, cfg, time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC))

	out, err := executeSession(t, sessionDeps(cfg), "show", sess.Name)
	require.NoError(t, err)
	assert.Contains(t, out, "Session:  "+sess.Name)
	assert.Contains(t, out, "Speakers: S1, S2")
	assert.Contains(t, out, "0:01.5")
	assert.Regexp(t, `02\s+0:01.5\s+0:02.0\s+S2\s+yes\s+C`, out)

	_, err = executeSession(t, sessionDeps(cfg), "show", "20000101-000000")
	assert.True(t, tserrors.IsNotFound(err), "got %v", err)

	_, err = executeSession(t, sessionDeps(cfg), "show", "../etc")
	assert.True(t, tserrors.IsValidation(err), "got %v", err)
}

func TestSessionExport(t *testing.T) {
	cfg := testConfig(t)
	sess := seedSession(t, cfg, time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC))

	out, err := executeSession(t, sessionDeps(cfg), "export", sess.Name)
	require.NoError(t, err)
	assert.Equal(t, "S1: A b\n\nS2: C\n", out)

	out, err = executeSession(t, sessionDeps(cfg), "export", sess.Name, "--format", "json")
	require.NoError(t, err)
	var decoded session.Session
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, sess.FullText, decoded.FullText)

	path := filepath.Join(t.TempDir(), "meeting.vtt")
	_, err = executeSession(t, sessionDeps(cfg), "export", sess.Name, "--format", "vtt", "--out", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	turns, err := transcript.ParseVTT(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "S2", turns[1].Speaker)

	_, err = executeSession(t, sessionDeps(cfg), "export", sess.Name, "--format", "srt")
	assert.Error(t, err)
}
