package cmd

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/turnscribe/config"
	"github.com/otherjamesbrown/turnscribe/credentials"
	"github.com/otherjamesbrown/turnscribe/pkg/logging"
)

const (
	testWordsJSON = `[
  {"text": "a", "start": 0.0, "end": 0.5},
  {"text": "b", "start": 0.6, "end": 1.0},
  {"text": "c", "start": 1.5, "end": 2.0}
]`
	testSegmentsJSON = `{"segments": [
  {"speaker": "S1", "start": 0.0, "end": 1.2},
  {"speaker": "S2", "start": 1.2, "end": 2.5}
]}`
)

// testConfig returns a valid configuration whose engines read fixed JSON
// files and whose sessions land in a temp dir.
func testConfig(t *testing.T) *config.CLIConfig {
	t.Helper()
	dir := t.TempDir()

	words := filepath.Join(dir, "words.json")
	segments := filepath.Join(dir, "segments.json")
	require.NoError(t, os.WriteFile(words, []byte(testWordsJSON), 0o644))
	require.NoError(t, os.WriteFile(segments, []byte(testSegmentsJSON), 0o644))

	cfg := config.DefaultConfig()
	cfg.SessionsRoot = filepath.Join(dir, "sessions")
	cfg.ScratchDir = filepath.Join(dir, "scratch")
	require.NoError(t, os.MkdirAll(cfg.ScratchDir, 0o755))
	cfg.Timeout = 5 * time.Second
	cfg.Recognizer = config.EngineConfig{Backend: "file", Options: map[string]string{"path": words}}
	cfg.Diarizer = config.EngineConfig{Backend: "file", Options: map[string]string{"path": segments}}
	return cfg
}

// fakeFFmpeg stands in for the ffmpeg binary by writing a stub WAV header to
// the output path, which is always the last argument.
type fakeFFmpeg struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeFFmpeg) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if len(args) == 1 && args[0] == "-version" {
		return []byte("ffmpeg version 6.1-test\nbuilt with gcc\n"), nil
	}
	out := args[len(args)-1]
	return nil, os.WriteFile(out, []byte("RIFF"), 0o644)
}

type staticTokens map[string]string

func (s staticTokens) Resolve(name string) (string, credentials.Source, error) {
	if v, ok := s[name]; ok {
		return v, credentials.SourceStored, nil
	}
	return "", "", credentials.ErrNoCredentials
}

// testRuntimeFactory builds runtimes against the fake ffmpeg.
func testRuntimeFactory(runner *fakeFFmpeg) func(context.Context, *config.CLIConfig) (*Runtime, error) {
	return func(ctx context.Context, cfg *config.CLIConfig) (*Runtime, error) {
		return NewRuntime(ctx, cfg, RuntimeOptions{
			Tokens:   staticTokens{},
			Runner:   runner,
			Registry: prometheus.NewRegistry(),
			Logger:   logging.NewNopLogger(),
		})
	}
}

func writeTestAudio(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("fake audio bytes"), 0o644))
	return path
}
