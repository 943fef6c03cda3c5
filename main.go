// Package main is the entry point for the turnscribe CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/turnscribe/cmd"
	"github.com/otherjamesbrown/turnscribe/config"
	"github.com/otherjamesbrown/turnscribe/pkg/buildinfo"
)

// Global flags.
var (
	cfgFile      string
	timeout      time.Duration
	outputFormat string
	debug        bool
)

// rootCmd is the base command for the turnscribe CLI.
var rootCmd = &cobra.Command{
	Use:   "turnscribe",
	Short: "Speaker-attributed transcripts from recorded conversations",
	Long: `turnscribe turns a recording into a speaker-attributed transcript.

Speech recognition and speaker diarization run side by side. Each recognized
word is assigned to the speaker whose segment overlaps it most, consecutive
words by the same speaker are grouped into turns, and every turn is written
to a session directory as a text file with its audio clip.

Configuration is read from ~/.turnscribe/config.yaml and TURNSCRIBE_*
environment variables. Flags override both.

Examples:
  turnscribe transcribe meeting.m4a
  turnscribe align --words words.json --segments segments.json
  turnscribe session list
  turnscribe health
  turnscribe serve --addr :8080`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig loads the configuration file and environment, then applies the
// global flags.
func loadConfig() (*config.CLIConfig, error) {
	var (
		cfg *config.CLIConfig
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadConfigFrom(cfgFile)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, err
	}

	if timeout > 0 {
		cfg.Timeout = timeout
	}
	if outputFormat != "" {
		format := config.OutputFormat(outputFormat)
		if !format.IsValid() {
			return nil, fmt.Errorf("invalid output format: %s (must be text, json, or yaml)", outputFormat)
		}
		cfg.OutputFormat = format
	}
	if debug {
		cfg.Debug = true
	}
	return cfg, nil
}

// configFilePath returns --config when given, otherwise the default location.
func configFilePath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.ConfigPath()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit hash, and build time of turnscribe.

Examples:
  turnscribe version
  turnscribe version --output json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeVersion(cmd.OutOrStdout(), buildinfo.Get("turnscribe"), outputFormat)
	},
}

func writeVersion(out io.Writer, info buildinfo.Info, format string) error {
	switch config.OutputFormat(format) {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "", config.OutputFormatText:
		fmt.Fprintf(out, "turnscribe version %s\n", info.Version)
		fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
		fmt.Fprintf(out, "  built:      %s\n", info.BuildTime)
		fmt.Fprintf(out, "  go:         %s %s\n", info.GoVersion, info.Platform)
		return nil
	default:
		return fmt.Errorf("invalid output format for version: %s (must be text or json)", format)
	}
}

// configCmd manages CLI configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and modify the turnscribe configuration file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration after the file, environment, and flags are applied.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		path, _ := configFilePath()
		writeConfigSummary(cmd.OutOrStdout(), path, cfg)
		return nil
	},
}

func writeConfigSummary(out io.Writer, path string, cfg *config.CLIConfig) {
	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintf(out, "  Config file:     %s\n", path)
	fmt.Fprintf(out, "  Sessions root:   %s\n", cfg.SessionsRoot)
	fmt.Fprintf(out, "  Scratch dir:     %s\n", valueOrDefault(cfg.ScratchDir, "(system temp)"))
	fmt.Fprintf(out, "  Sample rate:     %d\n", cfg.SampleRate)
	fmt.Fprintf(out, "  Timeout:         %s\n", cfg.Timeout)
	fmt.Fprintf(out, "  Extract timeout: %s\n", cfg.ExtractTimeout)
	fmt.Fprintf(out, "  Split gap:       %s\n", splitGapLabel(cfg.SplitGap))
	fmt.Fprintf(out, "  FFmpeg:          %s\n", cfg.FFmpegPath)
	fmt.Fprintf(out, "  Recognizer:      %s\n", engineLabel(cfg.Recognizer))
	fmt.Fprintf(out, "  Diarizer:        %s\n", engineLabel(cfg.Diarizer))
	fmt.Fprintf(out, "  Output format:   %s\n", cfg.OutputFormat)
	fmt.Fprintf(out, "  Redis:           %s\n", valueOrDefault(cfg.Redis.Addr, "(disabled)"))
	fmt.Fprintf(out, "  Database:        %s\n", enabledLabel(cfg.Database.Enabled()))
	fmt.Fprintf(out, "  Serve address:   %s\n", cfg.Serve.Addr)
	fmt.Fprintf(out, "  Debug:           %t\n", cfg.Debug)
}

func engineLabel(ec config.EngineConfig) string {
	switch {
	case ec.URL != "":
		return ec.Backend + " " + ec.URL
	case ec.Model != "":
		return ec.Backend + " (" + ec.Model + ")"
	}
	return ec.Backend
}

func splitGapLabel(gap float64) string {
	if gap <= 0 {
		return "off"
	}
	return fmt.Sprintf("%gs", gap)
}

func enabledLabel(on bool) string {
	if on {
		return "enabled"
	}
	return "(disabled)"
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a configuration file with default values if one doesn't exist.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configFilePath()
		if err != nil {
			return fmt.Errorf("getting config path: %w", err)
		}
		out := cmd.OutOrStdout()

		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(out, "Configuration file already exists: %s\n", path)
			fmt.Fprintln(out, "Use 'turnscribe config show' to view current settings.")
			return nil
		}

		defaults := config.DefaultConfig()
		if err := config.SaveConfigTo(defaults, path); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}

		fmt.Fprintf(out, "Created configuration file: %s\n", path)
		fmt.Fprintln(out, "\nDefault settings:")
		fmt.Fprintf(out, "  Sessions root: %s\n", defaults.SessionsRoot)
		fmt.Fprintf(out, "  Recognizer:    %s\n", engineLabel(defaults.Recognizer))
		fmt.Fprintf(out, "  Diarizer:      %s\n", engineLabel(defaults.Diarizer))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file.

Available keys:
  sessions_root        - Directory holding one subdirectory per session (supports ~)
  scratch_dir          - Directory for per-run temporary files
  sample_rate          - Normalized audio sample rate in Hz
  timeout              - Bound on recognition and diarization (e.g., 10m)
  extract_timeout      - Bound on each per-turn clip extraction
  ffmpeg_path          - ffmpeg executable
  split_gap            - Close a turn after this much same-speaker silence, in seconds (0 disables)
  output_format        - Default output format (text, json, yaml)
  debug                - Enable debug logging (true/false)
  recognizer.backend   - Recognition backend (command, http, file)
  recognizer.url       - Recognition endpoint for the http backend
  recognizer.model     - Model name passed to the backend
  diarizer.backend     - Diarization backend (command, http, file)
  diarizer.url         - Diarization endpoint for the http backend
  diarizer.model       - Model name passed to the backend
  redis.addr           - Redis address for session events
  database.dsn         - PostgreSQL DSN for session persistence

Examples:
  turnscribe config set sessions_root ~/meetings
  turnscribe config set split_gap 1.5
  turnscribe config set diarizer.url http://localhost:9000/diarize`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		path, err := configFilePath()
		if err != nil {
			return fmt.Errorf("getting config path: %w", err)
		}

		current, err := config.LoadConfigFrom(path)
		if err != nil {
			// An invalid file is rewritten from defaults rather than left broken.
			current = config.DefaultConfig()
		}
		if err := current.Set(key, value); err != nil {
			return err
		}
		if err := current.Validate(); err != nil {
			return err
		}
		if err := config.SaveConfigTo(current, path); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}

// completionCmd generates shell completion scripts.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for turnscribe.

Bash:
  $ source <(turnscribe completion bash)

Zsh:
  $ turnscribe completion zsh > "${fpath[1]}/_turnscribe"

Fish:
  $ turnscribe completion fish | source

PowerShell:
  PS> turnscribe completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(out)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.turnscribe/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "recognition and diarization timeout (e.g., 5m)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: text, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: "transcripts", Title: "Transcripts:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	transcribeCmd := cmd.NewTranscribeCommand(cmd.DefaultTranscribeDeps(loadConfig))
	transcribeCmd.GroupID = "transcripts"
	rootCmd.AddCommand(transcribeCmd)

	alignCmd := cmd.NewAlignCommand(cmd.DefaultAlignDeps(loadConfig))
	alignCmd.GroupID = "transcripts"
	rootCmd.AddCommand(alignCmd)

	sessionCmd := cmd.NewSessionCommand(cmd.DefaultSessionDeps(loadConfig))
	sessionCmd.GroupID = "transcripts"
	rootCmd.AddCommand(sessionCmd)

	serveCmd := cmd.NewServeCommand(cmd.DefaultServeDeps(loadConfig))
	serveCmd.GroupID = "ops"
	rootCmd.AddCommand(serveCmd)

	healthCmd := cmd.NewHealthCommand(cmd.DefaultHealthDeps(loadConfig))
	healthCmd.GroupID = "ops"
	rootCmd.AddCommand(healthCmd)

	dbCmd := cmd.NewDbCommand(cmd.DefaultDbDeps(loadConfig))
	dbCmd.GroupID = "ops"
	rootCmd.AddCommand(dbCmd)

	authCmd := cmd.NewAuthCommand(cmd.DefaultAuthDeps(loadConfig))
	authCmd.GroupID = "setup"
	rootCmd.AddCommand(authCmd)

	configCmd.GroupID = "setup"
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)

	versionCmd.GroupID = "setup"
	rootCmd.AddCommand(versionCmd)

	completionCmd.GroupID = "setup"
	rootCmd.AddCommand(completionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
