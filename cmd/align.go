package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/turnscribe/config"
	"github.com/otherjamesbrown/turnscribe/pkg/logging"
	"github.com/otherjamesbrown/turnscribe/pkg/media"
	"github.com/otherjamesbrown/turnscribe/pkg/session"
	"github.com/otherjamesbrown/turnscribe/pkg/transcript"
)

// AlignCommandDeps holds the dependencies for the align command.
type AlignCommandDeps struct {
	LoadConfig func() (*config.CLIConfig, error)
	// Runner executes ffmpeg when --audio is given. Nil runs the real binary.
	Runner media.Runner
	Logger logging.Logger
}

// DefaultAlignDeps returns the default dependencies for production use.
func DefaultAlignDeps(loadConfig func() (*config.CLIConfig, error)) *AlignCommandDeps {
	return &AlignCommandDeps{LoadConfig: loadConfig}
}

type alignOptions struct {
	words    string
	segments string
	fromVTT  string
	vtt      bool
	audio    string
	splitGap float64
}

// alignResult is the output of align. Session fields are set only when
// --audio materializes a session.
type alignResult struct {
	Session         string            `json:"session,omitempty" yaml:"session,omitempty"`
	SessionPath     string            `json:"session_path,omitempty" yaml:"session_path,omitempty"`
	Words           int               `json:"words" yaml:"words"`
	UnresolvedWords int               `json:"unresolved_words" yaml:"unresolved_words"`
	Transcription   []transcript.Turn `json:"transcription" yaml:"transcription"`
	FormattedScript string            `json:"formatted_script" yaml:"formatted_script"`
	FullText        string            `json:"full_text" yaml:"full_text"`
}

// NewAlignCommand creates the align command.
func NewAlignCommand(deps *AlignCommandDeps) *cobra.Command {
	opts := &alignOptions{}

	cmd := &cobra.Command{
		Use:   "align",
		Short: "Attribute existing recognition output to speakers",
		Long: `Attribute existing recognition output to speakers, without running engines.

Reads recognizer words (--words) and diarizer segments (--segments) as JSON,
assigns each word to the speaker whose segment overlaps it most and groups the
result into turns. Words may be a bare list, {"words": [...]} or whisper's
{"segments": [{"words": [...]}]}; segments a bare list or {"segments": [...]}.

Alternatively --from-vtt reads turns from a WebVTT file whose cues carry
<v Speaker> voice spans.

With --audio the turns are materialized into a new session under the sessions
root, cutting one clip per turn from the recording.

Examples:
  turnscribe align --words words.json --segments diarization.json
  turnscribe align --words words.json --segments diarization.json --vtt > meeting.vtt
  turnscribe align --from-vtt meeting.vtt --audio meeting.m4a
  cat words.json | turnscribe align --words - --segments diarization.json -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlign(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), deps, opts)
		},
	}

	cmd.Flags().StringVar(&opts.words, "words", "", "Recognizer words JSON file ('-' for stdin)")
	cmd.Flags().StringVar(&opts.segments, "segments", "", "Diarizer segments JSON file")
	cmd.Flags().StringVar(&opts.fromVTT, "from-vtt", "", "Read turns from a WebVTT file instead of words and segments")
	cmd.Flags().BoolVar(&opts.vtt, "vtt", false, "Print the turns as WebVTT")
	cmd.Flags().StringVar(&opts.audio, "audio", "", "Recording to cut per-turn clips from; creates a session")
	cmd.Flags().Float64Var(&opts.splitGap, "split-gap", 0, "Split a speaker's turn at silences longer than this many seconds")

	cmd.MarkFlagsMutuallyExclusive("from-vtt", "words")
	cmd.MarkFlagsMutuallyExclusive("from-vtt", "segments")
	cmd.MarkFlagsRequiredTogether("words", "segments")

	return cmd
}

func runAlign(ctx context.Context, stdin io.Reader, out io.Writer, deps *AlignCommandDeps, opts *alignOptions) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if opts.splitGap < 0 {
		return fmt.Errorf("--split-gap must not be negative")
	}
	if opts.fromVTT == "" && opts.words == "" {
		return fmt.Errorf("either --words and --segments or --from-vtt is required")
	}

	res := &alignResult{}
	if opts.fromVTT != "" {
		res.Transcription, err = readVTTTurns(opts.fromVTT)
	} else {
		res.Transcription, res.Words, res.UnresolvedWords, err = alignFiles(stdin, opts)
	}
	if err != nil {
		return err
	}
	res.FormattedScript = transcript.FormatScript(res.Transcription)
	res.FullText = transcript.FullText(res.Transcription)

	if opts.audio != "" {
		sess, err := materializeTurns(ctx, deps, cfg, opts.audio, res.Transcription)
		if err != nil {
			return err
		}
		res.Session = sess.Name
		res.SessionPath = sess.Root
		res.Transcription = sess.Turns
	}

	if opts.vtt {
		return transcript.WriteVTT(out, res.Transcription)
	}

	return writeOutput(out, cfg.OutputFormat, res, func(w io.Writer) error {
		if res.Session != "" {
			fmt.Fprintf(w, "Session: %s\nPath:    %s\n\n", res.Session, res.SessionPath)
		}
		if res.FormattedScript != "" {
			fmt.Fprintln(w, res.FormattedScript)
		}
		if res.UnresolvedWords > 0 {
			fmt.Fprintf(w, "\n%d of %d words had no speaker.\n", res.UnresolvedWords, res.Words)
		}
		return writeIssues(w, res.Transcription)
	})
}

// alignFiles decodes words and segments and groups them into turns.
func alignFiles(stdin io.Reader, opts *alignOptions) ([]transcript.Turn, int, int, error) {
	wr, closeWords, err := openInput(opts.words, stdin)
	if err != nil {
		return nil, 0, 0, err
	}
	defer closeWords()
	words, err := transcript.DecodeWords(wr)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%s: %w", opts.words, err)
	}

	sr, closeSegments, err := openInput(opts.segments, stdin)
	if err != nil {
		return nil, 0, 0, err
	}
	defer closeSegments()
	segments, err := transcript.DecodeSegments(sr)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%s: %w", opts.segments, err)
	}

	aligned := transcript.Assign(words, segments)
	unresolved := 0
	for _, w := range aligned {
		if !w.Resolved {
			unresolved++
		}
	}
	turns := transcript.GroupWith(aligned, transcript.GroupOptions{SplitGap: opts.splitGap})
	return turns, len(words), unresolved, nil
}

func readVTTTurns(path string) ([]transcript.Turn, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	turns, err := transcript.ParseVTT(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return turns, nil
}

// openInput opens path, or returns stdin for "-".
func openInput(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "-" {
		return stdin, func() {}, nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return fh, func() { fh.Close() }, nil
}

// materializeTurns normalizes the recording into a temp dir and writes a
// session from it.
func materializeTurns(ctx context.Context, deps *AlignCommandDeps, cfg *config.CLIConfig, audio string, turns []transcript.Turn) (*session.Session, error) {
	if _, err := os.Stat(audio); err != nil {
		return nil, fmt.Errorf("audio: %w", err)
	}
	root, err := cfg.ResolvedSessionsRoot()
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = newLogger(cfg)
	}
	ffmpeg := media.NewFFmpeg(media.Config{Path: cfg.FFmpegPath, SampleRate: cfg.SampleRate}, deps.Runner, logger)

	scratch, err := os.MkdirTemp(cfg.ScratchDir, "turnscribe-align-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	normalized := filepath.Join(scratch, "normalized.wav")
	if err := ffmpeg.Normalize(ctx, audio, normalized); err != nil {
		return nil, err
	}

	m := session.NewMaterializer(session.Options{Root: root, ExtractTimeout: cfg.ExtractTimeout}, ffmpeg, logger)
	return m.Materialize(ctx, turns, normalized, ffmpeg.SampleRate())
}
