package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/otherjamesbrown/turnscribe/pkg/transcript"
)

// fileEngine serves precomputed engine output from disk. The "path" option
// may contain {audio}, replaced by the recording's base name without its
// extension, so one spec can serve a directory of prepared results.
type fileEngine struct {
	lifecycle
	pattern string
}

func newFileEngine(spec Spec) (*fileEngine, error) {
	pattern := spec.Option("path", "")
	if pattern == "" {
		return nil, fmt.Errorf("file backend: path option is required")
	}
	return &fileEngine{pattern: pattern}, nil
}

func (f *fileEngine) resolve(audioPath string) string {
	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	return strings.ReplaceAll(f.pattern, "{audio}", stem)
}

// FileRecognizer returns words from a JSON file.
type FileRecognizer struct {
	*fileEngine
}

// NewFileRecognizer creates a recognizer backed by the "path" option.
func NewFileRecognizer(spec Spec) (*FileRecognizer, error) {
	e, err := newFileEngine(spec)
	if err != nil {
		return nil, err
	}
	return &FileRecognizer{e}, nil
}

// Name identifies the backend in logs.
func (r *FileRecognizer) Name() string { return "file:" + filepath.Base(r.pattern) }

// Recognize loads the words file for audioPath.
func (r *FileRecognizer) Recognize(ctx context.Context, audioPath string) ([]transcript.Word, error) {
	if err := r.check(r.Name()); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(r.resolve(audioPath))
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	words, err := transcript.DecodeWords(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fh.Name(), err)
	}
	return words, nil
}

// FileDiarizer returns segments from a JSON file.
type FileDiarizer struct {
	*fileEngine
}

// NewFileDiarizer creates a diarizer backed by the "path" option.
func NewFileDiarizer(spec Spec) (*FileDiarizer, error) {
	e, err := newFileEngine(spec)
	if err != nil {
		return nil, err
	}
	return &FileDiarizer{e}, nil
}

// Name identifies the backend in logs.
func (d *FileDiarizer) Name() string { return "file:" + filepath.Base(d.pattern) }

// Diarize loads the segments file for audioPath.
func (d *FileDiarizer) Diarize(ctx context.Context, audioPath string) ([]transcript.Segment, error) {
	if err := d.check(d.Name()); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(d.resolve(audioPath))
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	segments, err := transcript.DecodeSegments(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fh.Name(), err)
	}
	return segments, nil
}
