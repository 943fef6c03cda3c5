package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/otherjamesbrown/turnscribe/pkg/transcript"
)

// commandEngine runs a helper program that prints engine JSON on stdout.
// The audio path is appended as the last argument. The model and token are
// passed through the environment so they never show up in process listings.
type commandEngine struct {
	lifecycle
	argv     []string
	model    string
	token    string
	tokenEnv string
}

func newCommandEngine(spec Spec) (*commandEngine, error) {
	if len(spec.Command) == 0 || spec.Command[0] == "" {
		return nil, fmt.Errorf("command backend: command is required")
	}
	return &commandEngine{
		argv:     append([]string(nil), spec.Command...),
		model:    spec.Model,
		token:    spec.Token,
		tokenEnv: spec.Option("token_env", "TURNSCRIBE_ENGINE_TOKEN"),
	}, nil
}

func (c *commandEngine) run(ctx context.Context, audioPath string) ([]byte, error) {
	args := append(append([]string(nil), c.argv[1:]...), audioPath)
	cmd := exec.CommandContext(ctx, c.argv[0], args...)
	cmd.Env = os.Environ()
	if c.model != "" {
		cmd.Env = append(cmd.Env, "TURNSCRIBE_MODEL="+c.model)
	}
	if c.token != "" {
		cmd.Env = append(cmd.Env, c.tokenEnv+"="+c.token)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", c.program(), ctxErr)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s failed: %w: %s", c.program(), err, msg)
		}
		return nil, fmt.Errorf("%s failed: %w", c.program(), err)
	}
	return out, nil
}

func (c *commandEngine) program() string {
	return filepath.Base(c.argv[0])
}

// CommandRecognizer runs an external recognizer helper.
type CommandRecognizer struct {
	*commandEngine
}

// NewCommandRecognizer creates a recognizer from spec.Command.
func NewCommandRecognizer(spec Spec) (*CommandRecognizer, error) {
	e, err := newCommandEngine(spec)
	if err != nil {
		return nil, err
	}
	return &CommandRecognizer{e}, nil
}

// Name identifies the backend in logs.
func (r *CommandRecognizer) Name() string { return "command:" + r.program() }

// Recognize runs the helper and parses its word list.
func (r *CommandRecognizer) Recognize(ctx context.Context, audioPath string) ([]transcript.Word, error) {
	if err := r.check(r.Name()); err != nil {
		return nil, err
	}
	out, err := r.run(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	words, err := transcript.DecodeWords(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("%s output: %w", r.program(), err)
	}
	return words, nil
}

// CommandDiarizer runs an external diarization helper.
type CommandDiarizer struct {
	*commandEngine
}

// NewCommandDiarizer creates a diarizer from spec.Command.
func NewCommandDiarizer(spec Spec) (*CommandDiarizer, error) {
	e, err := newCommandEngine(spec)
	if err != nil {
		return nil, err
	}
	return &CommandDiarizer{e}, nil
}

// Name identifies the backend in logs.
func (d *CommandDiarizer) Name() string { return "command:" + d.program() }

// Diarize runs the helper and parses its segment list.
func (d *CommandDiarizer) Diarize(ctx context.Context, audioPath string) ([]transcript.Segment, error) {
	if err := d.check(d.Name()); err != nil {
		return nil, err
	}
	out, err := d.run(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	segments, err := transcript.DecodeSegments(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("%s output: %w", d.program(), err)
	}
	return segments, nil
}
