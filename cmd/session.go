package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/turnscribe/config"
	"github.com/otherjamesbrown/turnscribe/pkg/db"
	"github.com/otherjamesbrown/turnscribe/pkg/logging"
	"github.com/otherjamesbrown/turnscribe/pkg/session"
	"github.com/otherjamesbrown/turnscribe/pkg/transcript"
)

// SessionCommandDeps holds the dependencies for session commands.
type SessionCommandDeps struct {
	LoadConfig  func() (*config.CLIConfig, error)
	ConnectToDB func(context.Context, *config.CLIConfig) (*pgxpool.Pool, error)
}

// DefaultSessionDeps returns the default dependencies for production use.
func DefaultSessionDeps(loadConfig func() (*config.CLIConfig, error)) *SessionCommandDeps {
	return &SessionCommandDeps{
		LoadConfig:  loadConfig,
		ConnectToDB: connectToDatabase,
	}
}

// NewSessionCommand creates the session command with all subcommands.
func NewSessionCommand(deps *SessionCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect materialized sessions",
		Long: `Inspect sessions written by transcribe and align.

Sessions are read from the sessions root. Each session directory holds
full_transcript.txt, one folder per speaker with line_NN.txt and line_NN.wav
files, and a session.json manifest used by show and export.`,
		Aliases: []string{"sessions"},
	}

	cmd.AddCommand(newSessionListCommand(deps))
	cmd.AddCommand(newSessionShowCommand(deps))
	cmd.AddCommand(newSessionExportCommand(deps))

	return cmd
}

func newSessionListCommand(deps *SessionCommandDeps) *cobra.Command {
	var (
		output string
		fromDB bool
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Example: `  turnscribe session list
  turnscribe session list --db --limit 20 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			format, err := resolveFormat(cfg, output)
			if err != nil {
				return err
			}

			var summaries []session.Summary
			if fromDB {
				summaries, err = listSessionsFromDB(cmd.Context(), deps, cfg, limit)
			} else {
				summaries, err = listSessionsFromDisk(cfg, limit)
			}
			if err != nil {
				return err
			}

			return writeOutput(cmd.OutOrStdout(), format, summaries, func(w io.Writer) error {
				return writeSessionTable(w, summaries)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	cmd.Flags().BoolVar(&fromDB, "db", false, "List sessions recorded in the database")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many sessions (0 for all)")

	return cmd
}

func listSessionsFromDisk(cfg *config.CLIConfig, limit int) ([]session.Summary, error) {
	root, err := cfg.ResolvedSessionsRoot()
	if err != nil {
		return nil, err
	}
	summaries, err := session.NewStore(root).List()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func listSessionsFromDB(ctx context.Context, deps *SessionCommandDeps, cfg *config.CLIConfig, limit int) ([]session.Summary, error) {
	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer pool.Close()
	return db.NewSessionRepository(pool, logging.NewNopLogger()).ListSessions(ctx, limit)
}

func writeSessionTable(w io.Writer, summaries []session.Summary) error {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCREATED\tTURNS\tSPEAKERS\tISSUES")
	for _, s := range summaries {
		created := "-"
		if !s.CreatedAt.IsZero() {
			created = s.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		turns := fmt.Sprint(s.Turns)
		if !s.Manifest {
			turns = "?"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", s.Name, created, turns, truncate(strings.Join(s.Speakers, ","), 40), s.Issues)
	}
	return tw.Flush()
}

func newSessionShowCommand(deps *SessionCommandDeps) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "show <session>",
		Short:   "Show a session's turns",
		Example: `  turnscribe session show 20261019-093000`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			format, err := resolveFormat(cfg, output)
			if err != nil {
				return err
			}
			sess, err := loadSession(cfg, args[0])
			if err != nil {
				return err
			}

			return writeOutput(cmd.OutOrStdout(), format, sess, func(w io.Writer) error {
				return writeSessionDetail(w, sess)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

func loadSession(cfg *config.CLIConfig, name string) (*session.Session, error) {
	root, err := cfg.ResolvedSessionsRoot()
	if err != nil {
		return nil, err
	}
	return session.NewStore(root).Load(name)
}

func writeSessionDetail(w io.Writer, sess *session.Session) error {
	fmt.Fprintf(w, "Session:  %s\n", sess.Name)
	fmt.Fprintf(w, "Path:     %s\n", sess.Root)
	fmt.Fprintf(w, "Created:  %s\n", sess.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if sess.RunID != "" {
		fmt.Fprintf(w, "Run:      %s\n", sess.RunID)
	}
	fmt.Fprintf(w, "Speakers: %s\n\n", strings.Join(transcript.Speakers(sess.Turns), ", "))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tSTART\tEND\tSPEAKER\tAUDIO\tTEXT")
	for _, t := range sess.Turns {
		audio := "yes"
		if !t.HasAudio() {
			audio = "no"
		}
		fmt.Fprintf(tw, "%02d\t%s\t%s\t%s\t%s\t%s\n",
			t.Index, formatSeconds(t.Start), formatSeconds(t.End), t.Speaker, audio, truncate(t.Text, 60))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return writeIssues(w, sess.Turns)
}

func newSessionExportCommand(deps *SessionCommandDeps) *cobra.Command {
	var (
		format  string
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "export <session>",
		Short: "Export a session as text, JSON, YAML or WebVTT",
		Example: `  turnscribe session export 20261019-093000 --format vtt --out meeting.vtt
  turnscribe session export 20261019-093000 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			sess, err := loadSession(cfg, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outPath != "" {
				fh, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("creating %s: %w", outPath, err)
				}
				defer fh.Close()
				out = fh
			}
			return exportSession(out, sess, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Export format: text, json, yaml, vtt")
	cmd.Flags().StringVar(&outPath, "out", "", "Write to this file instead of stdout")

	return cmd
}

func exportSession(w io.Writer, sess *session.Session, format string) error {
	switch format {
	case "vtt":
		return transcript.WriteVTT(w, sess.Turns)
	case "text":
		_, err := fmt.Fprintln(w, sess.FormattedScript)
		return err
	case string(config.OutputFormatJSON), string(config.OutputFormatYAML):
		return writeOutput(w, config.OutputFormat(format), sess, nil)
	default:
		return fmt.Errorf("invalid export format: %s (must be text, json, yaml, or vtt)", format)
	}
}
