// Package media wraps ffmpeg for audio normalization and clip extraction.
package media

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/otherjamesbrown/turnscribe/pkg/logging"
)

// DefaultSampleRate is the rate recognition and diarization engines expect.
const DefaultSampleRate = 16000

// Runner executes an external program and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs with os/exec, folding stderr into returned errors.
type ExecRunner struct{}

// Run executes name with args, killing it when ctx is done.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, fmt.Errorf("%s: %w", filepath.Base(name), ctxErr)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s: %w: %s", filepath.Base(name), err, lastLine(msg))
		}
		return out, fmt.Errorf("%s: %w", filepath.Base(name), err)
	}
	return out, nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Config configures the ffmpeg wrapper.
type Config struct {
	// Path is the ffmpeg executable (default "ffmpeg").
	Path string
	// SampleRate is the normalized output rate (default 16000).
	SampleRate int
}

// FFmpeg normalizes recordings and cuts per-turn clips.
type FFmpeg struct {
	path       string
	sampleRate int
	runner     Runner
	logger     logging.Logger
}

// NewFFmpeg creates an ffmpeg wrapper. A nil runner uses ExecRunner.
func NewFFmpeg(cfg Config, runner Runner, logger logging.Logger) *FFmpeg {
	if cfg.Path == "" {
		cfg.Path = "ffmpeg"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FFmpeg{
		path:       cfg.Path,
		sampleRate: cfg.SampleRate,
		runner:     runner,
		logger:     logger.With(logging.F("component", "ffmpeg")),
	}
}

// SampleRate returns the normalized output rate.
func (f *FFmpeg) SampleRate() int {
	return f.sampleRate
}

func (f *FFmpeg) baseArgs() []string {
	return []string{"-nostdin", "-hide_banner", "-loglevel", "error", "-y"}
}

// Normalize converts any audio ffmpeg can read into a mono 16-bit PCM WAV at
// the configured sample rate.
func (f *FFmpeg) Normalize(ctx context.Context, inputPath, outputPath string) error {
	args := append(f.baseArgs(),
		"-i", inputPath,
		"-ac", "1",
		"-ar", strconv.Itoa(f.sampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		outputPath,
	)

	f.logger.Debug("normalizing audio", logging.F("input", inputPath), logging.F("output", outputPath))
	if _, err := f.runner.Run(ctx, f.path, args...); err != nil {
		return fmt.Errorf("normalizing %s: %w", filepath.Base(inputPath), err)
	}
	if err := nonEmpty(outputPath); err != nil {
		return fmt.Errorf("normalizing %s: %w", filepath.Base(inputPath), err)
	}
	return nil
}

// Trim writes the [start, end] span of inputPath, in seconds, to outputPath.
// Samples are copied as PCM without re-encoding loss.
func (f *FFmpeg) Trim(ctx context.Context, inputPath string, start, end float64, outputPath string) error {
	if math.IsNaN(start) || math.IsNaN(end) || start < 0 || end <= start {
		return fmt.Errorf("trimming %s: invalid span [%.3f, %.3f]", filepath.Base(inputPath), start, end)
	}

	args := append(f.baseArgs(),
		"-i", inputPath,
		"-ss", formatSeconds(start),
		"-to", formatSeconds(end),
		"-c:a", "pcm_s16le",
		outputPath,
	)

	if _, err := f.runner.Run(ctx, f.path, args...); err != nil {
		return fmt.Errorf("trimming %s: %w", filepath.Base(inputPath), err)
	}
	if err := nonEmpty(outputPath); err != nil {
		return fmt.Errorf("trimming %s: %w", filepath.Base(inputPath), err)
	}
	return nil
}

// Version returns the first line of "ffmpeg -version", used by health checks.
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	out, err := f.runner.Run(ctx, f.path, "-version")
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func nonEmpty(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("no output produced: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("empty output %s", filepath.Base(path))
	}
	return nil
}
