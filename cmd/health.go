package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/turnscribe/config"
	"github.com/otherjamesbrown/turnscribe/pkg/db"
	"github.com/otherjamesbrown/turnscribe/pkg/engine"
	"github.com/otherjamesbrown/turnscribe/pkg/logging"
	"github.com/otherjamesbrown/turnscribe/pkg/media"
)

// Check statuses.
const (
	checkOK      = "ok"
	checkWarn    = "warn"
	checkFail    = "fail"
	checkSkipped = "skipped"
)

// errPreflightFailed is returned when a critical check fails, so the process
// exits non-zero after the report is printed.
var errPreflightFailed = errors.New("preflight check failed")

// PreflightResult is the outcome of all readiness checks.
type PreflightResult struct {
	Passed   bool             `json:"passed" yaml:"passed"`
	Failures []string         `json:"failures,omitempty" yaml:"failures,omitempty"`
	Warnings []string         `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Checks   []PreflightCheck `json:"checks" yaml:"checks"`
}

// PreflightCheck is the status of a single dependency.
type PreflightCheck struct {
	Name      string `json:"name" yaml:"name"`
	Status    string `json:"status" yaml:"status"`
	Detail    string `json:"detail,omitempty" yaml:"detail,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty" yaml:"latency_ms,omitempty"`
	Critical  bool   `json:"critical,omitempty" yaml:"critical,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// HealthCommandDeps holds the dependencies for the health command.
type HealthCommandDeps struct {
	LoadConfig  func() (*config.CLIConfig, error)
	Runner      media.Runner
	Tokens      TokenResolver
	ConnectToDB func(ctx context.Context, cfg *config.CLIConfig) (*pgxpool.Pool, error)
	PingRedis   func(ctx context.Context, cfg config.RedisConfig) error
	HTTPClient  *http.Client
}

// DefaultHealthDeps returns the default dependencies for production use.
func DefaultHealthDeps(loadConfig func() (*config.CLIConfig, error)) *HealthCommandDeps {
	return &HealthCommandDeps{
		LoadConfig:  loadConfig,
		ConnectToDB: connectToDatabase,
		PingRedis:   pingRedis,
		HTTPClient:  &http.Client{},
	}
}

// NewHealthCommand creates the health command.
func NewHealthCommand(deps *HealthCommandDeps) *cobra.Command {
	var (
		checkTimeout time.Duration
		output       string
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that a transcription can run",
		Long: `Check everything a transcription needs before committing a long recording.

Critical checks:
  ffmpeg          the configured binary runs
  sessions root   the directory exists or can be created, and is writable
  scratch dir     writable, when configured
  recognizer      the backend can be built and its command or endpoint is reachable
  diarizer        same as the recognizer

Optional sinks (warnings only, a run still succeeds without them):
  database        PostgreSQL answers a ping
  redis           Redis answers a ping

Exits non-zero when a critical check fails.

Examples:
  turnscribe health
  turnscribe health --output json`,
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

			ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
			defer cancel()

			result := runPreflightCheck(ctx, deps, cfg)

			out := cmd.OutOrStdout()
			if err := writeOutput(out, format, result, func(w io.Writer) error {
				writePreflightText(w, result, isTerminal(w))
				return nil
			}); err != nil {
				return err
			}
			if !result.Passed {
				return errPreflightFailed
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&checkTimeout, "check-timeout", 10*time.Second, "Bound on all checks together")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// runPreflightCheck runs every check and folds the results.
func runPreflightCheck(ctx context.Context, deps *HealthCommandDeps, cfg *config.CLIConfig) PreflightResult {
	result := PreflightResult{Passed: true}

	add := func(c PreflightCheck) {
		result.Checks = append(result.Checks, c)
		switch {
		case c.Status == checkFail && c.Critical:
			result.Passed = false
			result.Failures = append(result.Failures, c.Name+": "+c.Error)
		case c.Status == checkFail || c.Status == checkWarn:
			msg := c.Name
			if c.Error != "" {
				msg += ": " + c.Error
			}
			result.Warnings = append(result.Warnings, msg)
		}
	}

	add(checkFFmpeg(ctx, deps, cfg))

	root, err := cfg.ResolvedSessionsRoot()
	if err != nil {
		add(PreflightCheck{Name: "sessions root", Status: checkFail, Critical: true, Error: err.Error()})
	} else {
		add(checkWritableDir("sessions root", root))
	}
	if cfg.ScratchDir != "" {
		add(checkWritableDir("scratch dir", cfg.ScratchDir))
	}

	tokens := deps.Tokens
	if tokens == nil {
		tokens = &lazyTokenStore{}
	}
	add(checkEngine(ctx, deps, "recognizer", cfg.Recognizer, tokens))
	add(checkEngine(ctx, deps, "diarizer", cfg.Diarizer, tokens))

	add(checkDatabase(ctx, deps, cfg))
	add(checkRedis(ctx, deps, cfg))

	return result
}

func checkFFmpeg(ctx context.Context, deps *HealthCommandDeps, cfg *config.CLIConfig) PreflightCheck {
	c := PreflightCheck{Name: "ffmpeg", Critical: true}
	ff := media.NewFFmpeg(media.Config{Path: cfg.FFmpegPath, SampleRate: cfg.SampleRate}, deps.Runner, logging.NewNopLogger())

	start := time.Now()
	version, err := ff.Version(ctx)
	c.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		c.Status = checkFail
		c.Error = err.Error()
		return c
	}
	c.Status = checkOK
	c.Detail = version
	return c
}

// checkWritableDir creates dir if needed and proves a file can be written.
func checkWritableDir(name, dir string) PreflightCheck {
	c := PreflightCheck{Name: name, Critical: true, Detail: absPath(dir)}
	if err := os.MkdirAll(dir, 0755); err != nil {
		c.Status = checkFail
		c.Error = err.Error()
		return c
	}
	f, err := os.CreateTemp(dir, ".turnscribe-health-*")
	if err != nil {
		c.Status = checkFail
		c.Error = "not writable: " + err.Error()
		return c
	}
	f.Close()
	os.Remove(f.Name())
	c.Status = checkOK
	return c
}

// checkEngine builds the engine the way a run would, then probes whatever it
// depends on outside the process.
func checkEngine(ctx context.Context, deps *HealthCommandDeps, role string, ec config.EngineConfig, tokens TokenResolver) PreflightCheck {
	c := PreflightCheck{Name: role, Critical: true, Detail: engineDetail(ec)}
	fail := func(err error) PreflightCheck {
		c.Status = checkFail
		c.Error = err.Error()
		return c
	}

	spec, err := engineSpec(ec, tokens)
	if err != nil {
		return fail(err)
	}

	var closer interface{ Close() error }
	if role == "recognizer" {
		r, err := engine.Recognizers().Create(spec)
		if err != nil {
			return fail(err)
		}
		c.Detail = r.Name()
		closer = r
	} else {
		d, err := engine.Diarizers().Create(spec)
		if err != nil {
			return fail(err)
		}
		c.Detail = d.Name()
		closer = d
	}
	defer closer.Close() // nolint: errcheck

	switch spec.Backend {
	case "command":
		if _, err := exec.LookPath(spec.Command[0]); err != nil {
			return fail(err)
		}
	case "http":
		latency, err := probeURL(ctx, deps.HTTPClient, spec.URL)
		c.LatencyMs = latency.Milliseconds()
		if err != nil {
			return fail(err)
		}
	case "file":
		path := spec.Option("path", "")
		if !strings.Contains(path, "{audio}") {
			if _, err := os.Stat(path); err != nil {
				return fail(err)
			}
		}
	}

	c.Status = checkOK
	return c
}

func engineDetail(ec config.EngineConfig) string {
	if ec.Backend == "" {
		return "(no backend)"
	}
	return ec.Backend
}

// probeURL reports whether anything answers at url. Any HTTP response counts;
// engines commonly reject a bare HEAD.
func probeURL(ctx context.Context, client *http.Client, url string) (time.Duration, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return latency, fmt.Errorf("unreachable: %w", err)
	}
	resp.Body.Close()
	return latency, nil
}

func checkDatabase(ctx context.Context, deps *HealthCommandDeps, cfg *config.CLIConfig) PreflightCheck {
	c := PreflightCheck{Name: "database"}
	if !cfg.Database.Enabled() {
		c.Status = checkSkipped
		c.Detail = "not configured"
		return c
	}

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		c.Status = checkFail
		c.Error = err.Error()
		return c
	}
	defer db.Close(pool)

	status := db.Check(ctx, pool)
	c.LatencyMs = status.Latency.Milliseconds()
	if !status.Healthy {
		c.Status = checkFail
		c.Error = status.Error
		return c
	}
	c.Status = checkOK
	c.Detail = db.DefaultConfig(cfg.Database.DSN).Redacted()
	return c
}

func checkRedis(ctx context.Context, deps *HealthCommandDeps, cfg *config.CLIConfig) PreflightCheck {
	c := PreflightCheck{Name: "redis"}
	if !cfg.Redis.Enabled() {
		c.Status = checkSkipped
		c.Detail = "not configured"
		return c
	}

	c.Detail = cfg.Redis.Addr
	start := time.Now()
	err := deps.PingRedis(ctx, cfg.Redis)
	c.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		c.Status = checkFail
		c.Error = err.Error()
		return c
	}
	c.Status = checkOK
	return c
}

func pingRedis(ctx context.Context, cfg config.RedisConfig) error {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	defer client.Close()
	return client.Ping(ctx).Err()
}

// writePreflightText prints one line per check, then warnings and failures.
func writePreflightText(w io.Writer, result PreflightResult, color bool) {
	paint := func(code, s string) string {
		if !color {
			return s
		}
		return code + s + "\033[0m"
	}

	overall := paint("\033[32m", "PASS")
	if !result.Passed {
		overall = paint("\033[31m", "FAIL")
	}
	fmt.Fprintf(w, "Preflight Check: %s\n", overall)

	for _, c := range result.Checks {
		status := c.Status
		switch c.Status {
		case checkOK:
			status = paint("\033[32m", status)
		case checkWarn:
			status = paint("\033[33m", status)
		case checkFail:
			status = paint("\033[31m", status)
		}

		line := fmt.Sprintf("  %-15s %s", c.Name+":", status)
		if c.Detail != "" {
			line += " " + c.Detail
		}
		if c.LatencyMs > 0 {
			line += fmt.Sprintf(" (%dms)", c.LatencyMs)
		}
		if c.Critical {
			line += " [critical]"
		}
		fmt.Fprintln(w, line)
	}

	if len(result.Warnings) > 0 {
		fmt.Fprintln(w)
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "%s  %s\n", paint("\033[33m", "!"), warning)
		}
	}
	if len(result.Failures) > 0 {
		fmt.Fprintln(w)
		for _, failure := range result.Failures {
			fmt.Fprintf(w, "%s  %s\n", paint("\033[31m", "x"), failure)
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// absPath keeps relative directories unambiguous in reports.
func absPath(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}
