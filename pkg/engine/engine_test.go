package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tserrors "github.com/otherjamesbrown/turnscribe/pkg/errors"
	"github.com/otherjamesbrown/turnscribe/pkg/transcript"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
}

func TestRegistry_CreateUnknown(t *testing.T) {
	reg := Recognizers()
	assert.Equal(t, []string{"command", "file", "http"}, reg.List())
	assert.True(t, reg.Has("http"))

	_, err := reg.Create(Spec{Backend: "whisper-cloud"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, tserrors.ErrUnknownBackend))
	assert.Contains(t, err.Error(), `"whisper-cloud"`)
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	reg := NewRegistry[Diarizer]()
	calls := 0
	reg.Register("fake", func(spec Spec) (Diarizer, error) {
		calls++
		return NewFileDiarizer(Spec{Options: map[string]string{"path": "x.json"}})
	})
	d, err := reg.Create(Spec{Backend: "fake"})
	require.NoError(t, err)
	assert.Equal(t, "file:x.json", d.Name())
	assert.Equal(t, 1, calls)
}

func TestCommandRecognizer(t *testing.T) {
	requireShell(t)
	script := `echo '{"segments":[{"words":[{"word":" Hello","start":0,"end":0.4},{"word":"there","start":0.5,"end":0.9}]}]}'`
	rec, err := NewCommandRecognizer(Spec{Command: []string{"/bin/sh", "-c", script, "sh"}})
	require.NoError(t, err)
	defer rec.Close()

	words, err := rec.Recognize(context.Background(), "/tmp/normalized.wav")
	require.NoError(t, err)
	require.Len(t, words, 2)
	assert.Equal(t, "there", words[1].Text)
	assert.Equal(t, "command:sh", rec.Name())
}

func TestCommandDiarizer_ReceivesAudioAndToken(t *testing.T) {
	requireShell(t)
	// $1 is the appended audio path.
	script := `[ "$1" = "/tmp/a.wav" ] && [ "$HF_TOKEN" = "secret" ] || exit 7
echo '[{"start":1,"end":2,"speaker":"SPEAKER_01"},{"start":0,"end":1,"speaker":"SPEAKER_00"}]'`
	d, err := NewCommandDiarizer(Spec{
		Command: []string{"/bin/sh", "-c", script, "sh"},
		Token:   "secret",
		Options: map[string]string{"token_env": "HF_TOKEN"},
	})
	require.NoError(t, err)

	segs, err := d.Diarize(context.Background(), "/tmp/a.wav")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "SPEAKER_00", segs[0].Speaker, "segments come back ordered by start")
}

func TestCommandEngine_Failure(t *testing.T) {
	requireShell(t)
	rec, err := NewCommandRecognizer(Spec{Command: []string{"/bin/sh", "-c", "echo model missing >&2; exit 2", "sh"}})
	require.NoError(t, err)

	_, err = rec.Recognize(context.Background(), "a.wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model missing")

	_, err = NewCommandRecognizer(Spec{})
	assert.Error(t, err)
}

func TestCommandEngine_BadOutput(t *testing.T) {
	requireShell(t)
	rec, err := NewCommandRecognizer(Spec{Command: []string{"/bin/sh", "-c", "echo not-json", "sh"}})
	require.NoError(t, err)

	_, err = rec.Recognize(context.Background(), "a.wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sh output")
}

func TestClosedEngineRejectsCalls(t *testing.T) {
	rec, err := NewFileRecognizer(Spec{Options: map[string]string{"path": "words.json"}})
	require.NoError(t, err)
	require.NoError(t, rec.Close())

	_, err = rec.Recognize(context.Background(), "a.wav")
	assert.True(t, errors.Is(err, tserrors.ErrInvalidState))
}

func TestHTTPRecognizer(t *testing.T) {
	dir := t.TempDir()
	audio := writeFile(t, dir, "normalized.wav", "RIFFdata")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "v1", r.Header.Get("X-Api-Version"))
		assert.Equal(t, "large-v3", r.FormValue("model"))

		f, hdr, err := r.FormFile("audio")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "normalized.wav", hdr.Filename)
		assert.Equal(t, "RIFFdata", string(data))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"words":[{"text":"hi","start":0,"end":0.3}]}`))
	}))
	defer srv.Close()

	rec, err := NewHTTPRecognizer(Spec{
		URL:   srv.URL + "/v1/transcribe",
		Model: "large-v3",
		Token: "tok",
		Options: map[string]string{
			"file_field":           "audio",
			"header.X-Api-Version": "v1",
		},
	})
	require.NoError(t, err)

	words, err := rec.Recognize(context.Background(), audio)
	require.NoError(t, err)
	assert.Equal(t, []transcript.Word{{Text: "hi", Start: 0, End: 0.3}}, words)
}

func TestHTTPDiarizer_ErrorStatus(t *testing.T) {
	audio := writeFile(t, t.TempDir(), "n.wav", "RIFF")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d, err := NewHTTPDiarizer(Spec{URL: srv.URL})
	require.NoError(t, err)

	_, err = d.Diarize(context.Background(), audio)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
	assert.Equal(t, tserrors.ErrEngineUnavailable, tserrors.ClassifyError(err, tserrors.StageDiarize).Code)
}

func TestHTTPEngine_Validation(t *testing.T) {
	_, err := NewHTTPRecognizer(Spec{})
	assert.Error(t, err)

	_, err = NewHTTPRecognizer(Spec{URL: "http://x", Options: map[string]string{"timeout": "soon"}})
	assert.Error(t, err)
}

func TestFileEngines(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "meeting.words.json", `[{"text":"Hello","start":0,"end":0.5}]`)
	writeFile(t, dir, "meeting.segments.json", `{"segments":[{"start":0,"end":1,"speaker":"S1"}]}`)

	rec, err := Recognizers().Create(Spec{Backend: "file", Options: map[string]string{"path": filepath.Join(dir, "{audio}.words.json")}})
	require.NoError(t, err)
	dia, err := Diarizers().Create(Spec{Backend: "file", Options: map[string]string{"path": filepath.Join(dir, "{audio}.segments.json")}})
	require.NoError(t, err)

	words, err := rec.Recognize(context.Background(), "/scratch/meeting.wav")
	require.NoError(t, err)
	segs, err := dia.Diarize(context.Background(), "/scratch/meeting.wav")
	require.NoError(t, err)

	aligned := transcript.Assign(words, segs)
	require.Len(t, aligned, 1)
	assert.Equal(t, "S1", aligned[0].Speaker)

	_, err = rec.Recognize(context.Background(), "/scratch/other.wav")
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = NewFileDiarizer(Spec{})
	assert.Error(t, err)
}
