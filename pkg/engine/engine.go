// Package engine defines the speech recognition and speaker diarization
// collaborators and the backends that drive them.
//
// Engines are explicit handles: a caller creates one from a Spec through a
// Registry, injects it into the pipeline, and closes it when done. Nothing in
// this package holds process-wide engine state.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	tserrors "github.com/otherjamesbrown/turnscribe/pkg/errors"
	"github.com/otherjamesbrown/turnscribe/pkg/transcript"
)

// Recognizer turns a normalized mono recording into time-ordered words.
type Recognizer interface {
	Recognize(ctx context.Context, audioPath string) ([]transcript.Word, error)
	Name() string
	Close() error
}

// Diarizer finds who spoke when in a normalized mono recording.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string) ([]transcript.Segment, error)
	Name() string
	Close() error
}

// Spec describes one engine instance.
type Spec struct {
	// Backend is the registry name (command, http, file).
	Backend string
	// Command is the program and leading arguments for the command backend.
	Command []string
	// URL is the endpoint for the http backend.
	URL string
	// Model is forwarded to the backend.
	Model string
	// Token is a secret forwarded to the backend, if any.
	Token string
	// Options are backend-specific settings.
	Options map[string]string
}

// Option returns an option value or def when unset.
func (s Spec) Option(key, def string) string {
	if v, ok := s.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// lifecycle guards use after Close.
type lifecycle struct {
	closed atomic.Bool
}

func (l *lifecycle) check(name string) error {
	if l.closed.Load() {
		return fmt.Errorf("%s engine: %w: closed", name, tserrors.ErrInvalidState)
	}
	return nil
}

func (l *lifecycle) Close() error {
	l.closed.Store(true)
	return nil
}
