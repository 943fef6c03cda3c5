package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/turnscribe/config"
	"github.com/otherjamesbrown/turnscribe/pkg/pipeline"
	"github.com/otherjamesbrown/turnscribe/pkg/transcript"
)

// TranscribeCommandDeps holds the dependencies for the transcribe command.
type TranscribeCommandDeps struct {
	LoadConfig func() (*config.CLIConfig, error)
	NewRuntime func(context.Context, *config.CLIConfig) (*Runtime, error)
}

// DefaultTranscribeDeps returns the default dependencies for production use.
func DefaultTranscribeDeps(loadConfig func() (*config.CLIConfig, error)) *TranscribeCommandDeps {
	return &TranscribeCommandDeps{
		LoadConfig: loadConfig,
		NewRuntime: func(ctx context.Context, cfg *config.CLIConfig) (*Runtime, error) {
			return NewRuntime(ctx, cfg, RuntimeOptions{})
		},
	}
}

// NewTranscribeCommand creates the transcribe command.
func NewTranscribeCommand(deps *TranscribeCommandDeps) *cobra.Command {
	var (
		splitGap     float64
		sessionsRoot string
	)

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe a recording into a speaker-attributed session",
		Long: `Transcribe a recording into a speaker-attributed session.

The recording is normalized to mono WAV with ffmpeg, then recognized and
diarized concurrently by the configured engines. Each word is attributed to
the speaker whose segment overlaps it most, consecutive words of one speaker
become a turn, and the session is written under the sessions root:

  <sessions_root>/<session>/full_transcript.txt
  <sessions_root>/<session>/<speaker>/line_NN.txt
  <sessions_root>/<session>/<speaker>/line_NN.wav
  <sessions_root>/<session>/session.json

A turn whose clip or text file cannot be written is kept and reported with
an issue; the run still succeeds. Engine, ffmpeg or scratch failures abort
the run without producing a session.

Examples:
  turnscribe transcribe meeting.m4a
  turnscribe transcribe call.wav --output json
  turnscribe transcribe interview.mp3 --split-gap 2.5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if cmd.Flags().Changed("split-gap") {
				cfg.SplitGap = splitGap
			}
			if sessionsRoot != "" {
				cfg.SessionsRoot = sessionsRoot
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runTranscribe(cmd.Context(), cmd.OutOrStdout(), deps, cfg, args[0])
		},
	}

	cmd.Flags().Float64Var(&splitGap, "split-gap", 0, "Split a speaker's turn at silences longer than this many seconds (0 never splits)")
	cmd.Flags().StringVar(&sessionsRoot, "sessions-root", "", "Directory to create the session in (overrides config)")

	return cmd
}

func runTranscribe(ctx context.Context, out io.Writer, deps *TranscribeCommandDeps, cfg *config.CLIConfig, path string) error {
	rt, err := deps.NewRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close() // nolint: errcheck

	res, runErr := rt.Orchestrator.RunFile(ctx, path)
	if runErr != nil && cfg.OutputFormat == config.OutputFormatText {
		return runErr
	}

	if err := writeOutput(out, cfg.OutputFormat, res, func(w io.Writer) error {
		return writeResultText(w, res)
	}); err != nil {
		return err
	}
	return runErr
}

// writeResultText prints the session location, the script and any issues.
func writeResultText(w io.Writer, res *pipeline.Result) error {
	fmt.Fprintf(w, "Session: %s\n", res.Session)
	fmt.Fprintf(w, "Path:    %s\n", res.SessionPath)
	fmt.Fprintf(w, "Run:     %s\n", res.RunID)
	fmt.Fprintf(w, "Turns:   %d  Speakers: %d\n\n", len(res.Transcription), len(transcript.Speakers(res.Transcription)))

	if res.FormattedScript == "" {
		fmt.Fprintln(w, "(no speech recognized)")
	} else {
		fmt.Fprintln(w, res.FormattedScript)
	}

	return writeIssues(w, res.Transcription)
}

// writeIssues lists per-turn failures, if any.
func writeIssues(w io.Writer, turns []transcript.Turn) error {
	header := false
	for _, t := range turns {
		for _, issue := range t.Issues {
			if !header {
				fmt.Fprintf(w, "\nIssues:\n")
				header = true
			}
			fmt.Fprintf(w, "  line %02d (%s): %s: %s\n", t.Index, t.Speaker, issue.Kind, issue.Reason)
		}
	}
	return nil
}
