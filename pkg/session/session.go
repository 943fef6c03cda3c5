// Package session persists a grouped transcript as a session directory:
// an aggregate transcript, one text file and one audio clip per turn, and a
// session.json manifest that lets the session be listed and reloaded.
//
// Layout:
//
//	<root>/<name>/full_transcript.txt
//	<root>/<name>/<speaker>/line_NN.txt
//	<root>/<name>/<speaker>/line_NN.wav
//	<root>/<name>/session.json
//
// NN is the turn's position in the whole transcript, 1-based and zero-padded
// to at least two digits.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/otherjamesbrown/turnscribe/pkg/logging"
	"github.com/otherjamesbrown/turnscribe/pkg/transcript"
)

const (
	TranscriptFile = "full_transcript.txt"
	ManifestFile   = "session.json"
)

// Trimmer cuts [start, end] seconds of an input recording into a clip.
type Trimmer interface {
	Trim(ctx context.Context, inputPath string, start, end float64, outputPath string) error
}

// Session is a materialized transcript.
type Session struct {
	Name            string            `json:"name" yaml:"name"`
	Root            string            `json:"root_path" yaml:"root_path"`
	RunID           string            `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at" yaml:"created_at"`
	SampleRate      int               `json:"sample_rate" yaml:"sample_rate"`
	Turns           []transcript.Turn `json:"transcription" yaml:"transcription"`
	FormattedScript string            `json:"formatted_script" yaml:"formatted_script"`
	FullText        string            `json:"full_text" yaml:"full_text"`
}

// IssueCount returns the number of per-turn problems recorded.
func (s *Session) IssueCount() int {
	n := 0
	for _, t := range s.Turns {
		n += len(t.Issues)
	}
	return n
}

// Options configures a Materializer.
type Options struct {
	// Root is the sessions directory.
	Root string
	// ExtractTimeout bounds each clip extraction. Zero means no bound
	// beyond the caller's context.
	ExtractTimeout time.Duration
	// Now overrides the clock used for session names.
	Now func() time.Time
}

// Materializer writes sessions.
type Materializer struct {
	root           string
	trimmer        Trimmer
	extractTimeout time.Duration
	now            func() time.Time
	logger         logging.Logger
}

// NewMaterializer creates a Materializer that extracts clips with trimmer.
func NewMaterializer(opts Options, trimmer Trimmer, logger logging.Logger) *Materializer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Materializer{
		root:           opts.Root,
		trimmer:        trimmer,
		extractTimeout: opts.ExtractTimeout,
		now:            opts.Now,
		logger:         logger.With(logging.F("component", "materializer")),
	}
}

// Materialize allocates a session and writes turns into it. The returned
// session carries copies of turns with TextPath, AudioPath and Issues
// filled in.
//
// Only failing to create the session or its aggregate transcript is
// returned as an error. A turn whose text or clip cannot be written keeps
// going with the failure recorded in its Issues.
func (m *Materializer) Materialize(ctx context.Context, turns []transcript.Turn, audioPath string, sampleRate int) (*Session, error) {
	created := m.now()
	name, dir, err := Allocate(m.root, created)
	if err != nil {
		return nil, err
	}

	log := m.logger.With(logging.F("session", name))
	log.Info("session created", logging.F("path", dir), logging.F("turns", len(turns)))

	sess := &Session{
		Name:            name,
		Root:            dir,
		RunID:           runIDFrom(ctx),
		CreatedAt:       created.UTC(),
		SampleRate:      sampleRate,
		Turns:           make([]transcript.Turn, len(turns)),
		FormattedScript: transcript.FormatScript(turns),
		FullText:        transcript.FullText(turns),
	}

	if err := os.WriteFile(filepath.Join(dir, TranscriptFile), []byte(sess.FormattedScript), 0644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", TranscriptFile, err)
	}

	for i, t := range turns {
		t.Issues = append([]transcript.Issue(nil), t.Issues...)
		m.writeTurn(ctx, log, dir, audioPath, &t)
		sess.Turns[i] = t
	}

	if err := writeManifest(dir, sess); err != nil {
		log.Warn("failed to write session manifest", logging.Err(err))
	}

	if n := sess.IssueCount(); n > 0 {
		log.Warn("session materialized with issues", logging.F("issues", n))
	} else {
		log.Info("session materialized")
	}
	return sess, nil
}

func (m *Materializer) writeTurn(ctx context.Context, log logging.Logger, dir, audioPath string, t *transcript.Turn) {
	speakerDir := filepath.Join(dir, SanitizeLabel(t.Speaker))
	base := fmt.Sprintf("line_%02d", t.Index)
	log = log.With(logging.F("turn", t.Index), logging.F("speaker", t.Speaker))

	if err := os.MkdirAll(speakerDir, 0755); err != nil {
		reason := fmt.Sprintf("creating speaker directory: %v", err)
		log.Warn("turn not written", logging.Err(err))
		t.Issues = append(t.Issues,
			transcript.Issue{Kind: transcript.IssueTextWrite, Reason: reason},
			transcript.Issue{Kind: transcript.IssueExtraction, Reason: reason},
		)
		return
	}

	textPath := filepath.Join(speakerDir, base+".txt")
	if err := os.WriteFile(textPath, []byte(t.Text), 0644); err != nil {
		log.Warn("failed to write turn text", logging.Err(err))
		t.Issues = append(t.Issues, transcript.Issue{Kind: transcript.IssueTextWrite, Reason: err.Error()})
	} else {
		t.TextPath = textPath
	}

	clipPath := filepath.Join(speakerDir, base+".wav")
	if err := m.extract(ctx, audioPath, t.Start, t.End, clipPath); err != nil {
		log.Warn("failed to extract turn audio", logging.Err(err))
		t.Issues = append(t.Issues, transcript.Issue{Kind: transcript.IssueExtraction, Reason: err.Error()})
		return
	}
	t.AudioPath = &clipPath
}

func (m *Materializer) extract(ctx context.Context, in string, start, end float64, out string) error {
	if m.trimmer == nil {
		return fmt.Errorf("no trimmer configured")
	}
	if m.extractTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.extractTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.trimmer.Trim(ctx, in, start, end, out)
}

func writeManifest(dir string, sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), append(data, '\n'), 0644)
}

func runIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(logging.RunIDKey).(string); ok {
		return v
	}
	return ""
}
