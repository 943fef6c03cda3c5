package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies default configuration values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.SessionsRoot != DefaultSessionsRoot {
		t.Errorf("SessionsRoot = %v, want %v", cfg.SessionsRoot, DefaultSessionsRoot)
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("SampleRate = %v, want 16000", cfg.SampleRate)
	}
	if cfg.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, DefaultTimeout)
	}
	if cfg.ExtractTimeout != DefaultExtractTimeout {
		t.Errorf("ExtractTimeout = %v, want %v", cfg.ExtractTimeout, DefaultExtractTimeout)
	}
	if cfg.SplitGap != 0 {
		t.Errorf("SplitGap = %v, want 0", cfg.SplitGap)
	}
	if cfg.OutputFormat != DefaultOutputFormat {
		t.Errorf("OutputFormat = %v, want %v", cfg.OutputFormat, DefaultOutputFormat)
	}
	if cfg.Redis.Enabled() {
		t.Error("Redis should be disabled by default")
	}
	if cfg.Database.Enabled() {
		t.Error("Database should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// TestOutputFormat_IsValid verifies output format validation.
func TestOutputFormat_IsValid(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{OutputFormatText, true},
		{OutputFormatJSON, true},
		{OutputFormatYAML, true},
		{"invalid", false},
		{"", false},
		{"JSON", false}, // Case sensitive
	}

	for _, tc := range tests {
		if got := tc.format.IsValid(); got != tc.valid {
			t.Errorf("OutputFormat(%q).IsValid() = %v, want %v", tc.format, got, tc.valid)
		}
	}
}

// TestValidate verifies configuration validation.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CLIConfig)
		wantErr string
	}{
		{"valid", func(c *CLIConfig) {}, ""},
		{"no sessions root", func(c *CLIConfig) { c.SessionsRoot = "" }, "sessions_root"},
		{"zero sample rate", func(c *CLIConfig) { c.SampleRate = 0 }, "sample_rate"},
		{"zero timeout", func(c *CLIConfig) { c.Timeout = 0 }, "timeout"},
		{"negative extract timeout", func(c *CLIConfig) { c.ExtractTimeout = -time.Second }, "extract_timeout"},
		{"negative split gap", func(c *CLIConfig) { c.SplitGap = -1 }, "split_gap"},
		{"bad format", func(c *CLIConfig) { c.OutputFormat = "xml" }, "output_format"},
		{"no recognizer", func(c *CLIConfig) { c.Recognizer.Backend = "" }, "recognizer"},
		{"no diarizer", func(c *CLIConfig) { c.Diarizer.Backend = "" }, "diarizer"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

// TestLoadConfigFrom_File verifies YAML file loading.
func TestLoadConfigFrom_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `sessions_root: /data/sessions
sample_rate: 22050
timeout: 90s
extract_timeout: 5s
split_gap: 2.5
output_format: json
recognizer:
  backend: http
  url: http://asr.local/v1/transcribe
  model: base
diarizer:
  backend: command
  command: ["python3", "diarize.py", "--json"]
  token_name: huggingface
redis:
  addr: localhost:6379
database:
  dsn: postgres://localhost/turnscribe
serve:
  addr: 0.0.0.0:9000
  grpc_addr: 0.0.0.0:9001
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom() error = %v", err)
	}

	if cfg.SessionsRoot != "/data/sessions" {
		t.Errorf("SessionsRoot = %v, want /data/sessions", cfg.SessionsRoot)
	}
	if cfg.SampleRate != 22050 {
		t.Errorf("SampleRate = %v, want 22050", cfg.SampleRate)
	}
	if cfg.Timeout != 90*time.Second {
		t.Errorf("Timeout = %v, want 90s", cfg.Timeout)
	}
	if cfg.ExtractTimeout != 5*time.Second {
		t.Errorf("ExtractTimeout = %v, want 5s", cfg.ExtractTimeout)
	}
	if cfg.SplitGap != 2.5 {
		t.Errorf("SplitGap = %v, want 2.5", cfg.SplitGap)
	}
	if cfg.OutputFormat != OutputFormatJSON {
		t.Errorf("OutputFormat = %v, want json", cfg.OutputFormat)
	}
	if cfg.Recognizer.Backend != "http" || cfg.Recognizer.URL != "http://asr.local/v1/transcribe" {
		t.Errorf("Recognizer = %+v", cfg.Recognizer)
	}
	if len(cfg.Diarizer.Command) != 3 || cfg.Diarizer.Command[1] != "diarize.py" {
		t.Errorf("Diarizer.Command = %v", cfg.Diarizer.Command)
	}
	if cfg.Diarizer.TokenName != "huggingface" {
		t.Errorf("Diarizer.TokenName = %v", cfg.Diarizer.TokenName)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.Channel != DefaultRedisChannel {
		t.Errorf("Redis = %+v, want default channel kept", cfg.Redis)
	}
	if !cfg.Database.Enabled() {
		t.Error("Database should be enabled")
	}
	if cfg.Serve.Addr != "0.0.0.0:9000" || cfg.Serve.GRPCAddr != "0.0.0.0:9001" {
		t.Errorf("Serve = %+v", cfg.Serve)
	}
}

// TestLoadConfigFrom_MissingFile falls back to defaults.
func TestLoadConfigFrom_MissingFile(t *testing.T) {
	cfg, err := LoadConfigFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfigFrom() error = %v", err)
	}
	if cfg.SessionsRoot != DefaultSessionsRoot {
		t.Errorf("SessionsRoot = %v, want default", cfg.SessionsRoot)
	}
}

// TestLoadConfigFrom_InvalidDuration reports parse errors.
func TestLoadConfigFrom_InvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("timeout: soon\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFrom(path); err == nil {
		t.Error("expected error for invalid timeout")
	}
}

// TestLoadFromEnv verifies environment variable overlay.
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TURNSCRIBE_SESSIONS_ROOT", "/env/sessions")
	t.Setenv("TURNSCRIBE_TIMEOUT", "3m")
	t.Setenv("TURNSCRIBE_SPLIT_GAP", "1.25")
	t.Setenv("TURNSCRIBE_DEBUG", "1")
	t.Setenv("TURNSCRIBE_REDIS_ADDR", "redis:6379")
	t.Setenv("TURNSCRIBE_DATABASE_URL", "postgres://db/turnscribe")
	t.Setenv("TURNSCRIBE_SAMPLE_RATE", "not-a-number")

	cfg, err := LoadConfigFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfigFrom() error = %v", err)
	}

	if cfg.SessionsRoot != "/env/sessions" {
		t.Errorf("SessionsRoot = %v, want /env/sessions", cfg.SessionsRoot)
	}
	if cfg.Timeout != 3*time.Minute {
		t.Errorf("Timeout = %v, want 3m", cfg.Timeout)
	}
	if cfg.SplitGap != 1.25 {
		t.Errorf("SplitGap = %v, want 1.25", cfg.SplitGap)
	}
	if !cfg.Debug {
		t.Error("Debug should be true")
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("Redis.Addr = %v", cfg.Redis.Addr)
	}
	if cfg.Database.DSN != "postgres://db/turnscribe" {
		t.Errorf("Database.DSN = %v", cfg.Database.DSN)
	}
	if cfg.SampleRate != DefaultSampleRate {
		t.Errorf("SampleRate = %v, want default for unparsable env", cfg.SampleRate)
	}
}

// TestSaveConfigTo_RoundTrip verifies saved configs load back.
func TestSaveConfigTo_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Timeout = 45 * time.Second
	cfg.Diarizer = EngineConfig{Backend: "http", URL: "http://diar.local", Options: map[string]string{"min_speakers": "2"}}

	if err := SaveConfigTo(cfg, path); err != nil {
		t.Fatalf("SaveConfigTo() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom() error = %v", err)
	}
	if loaded.Timeout != 45*time.Second {
		t.Errorf("Timeout = %v, want 45s", loaded.Timeout)
	}
	if loaded.Diarizer.Options["min_speakers"] != "2" {
		t.Errorf("Diarizer.Options = %v", loaded.Diarizer.Options)
	}
}

// TestSet verifies key assignment used by "config set".
func TestSet(t *testing.T) {
	cfg := DefaultConfig()

	valid := map[string]string{
		"timeout":            "2m",
		"extract_timeout":    "10s",
		"sample_rate":        "8000",
		"split_gap":          "3",
		"output_format":      "yaml",
		"debug":              "true",
		"diarizer.url":       "http://d",
		"recognizer.backend": "http",
	}
	for k, v := range valid {
		if err := cfg.Set(k, v); err != nil {
			t.Errorf("Set(%q, %q) error = %v", k, v, err)
		}
	}
	if cfg.Timeout != 2*time.Minute || cfg.ExtractTimeout != 10*time.Second {
		t.Errorf("timeouts not applied: %v %v", cfg.Timeout, cfg.ExtractTimeout)
	}
	if cfg.SampleRate != 8000 || cfg.SplitGap != 3 || !cfg.Debug {
		t.Errorf("scalars not applied: %+v", cfg)
	}

	invalid := map[string]string{
		"timeout":       "later",
		"sample_rate":   "-1",
		"split_gap":     "-2",
		"output_format": "xml",
		"debug":         "maybe",
		"nope":          "x",
	}
	for k, v := range invalid {
		if err := cfg.Set(k, v); err == nil {
			t.Errorf("Set(%q, %q) expected error", k, v)
		}
	}
}

// TestExpandPath verifies ~ expansion.
func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	got, err := ExpandPath("~/sessions")
	if err != nil {
		t.Fatalf("ExpandPath() error = %v", err)
	}
	if want := filepath.Join(home, "sessions"); got != want {
		t.Errorf("ExpandPath() = %v, want %v", got, want)
	}

	if got, _ := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandPath(abs) = %v", got)
	}
	if got, _ := ExpandPath(""); got != "" {
		t.Errorf("ExpandPath(empty) = %v", got)
	}
}
