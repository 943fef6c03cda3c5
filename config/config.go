// Package config provides configuration management for the turnscribe CLI and server.
// It supports loading configuration from YAML files, environment variables, and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// Default configuration values.
const (
	DefaultSessionsRoot   = "sessions"
	DefaultSampleRate     = 16000
	DefaultTimeout        = 10 * time.Minute
	DefaultExtractTimeout = 30 * time.Second
	DefaultFFmpegPath     = "ffmpeg"
	DefaultOutputFormat   = OutputFormatText
	DefaultConfigDir      = ".turnscribe"
	DefaultConfigFile     = "config.yaml"
	DefaultServeAddr      = "localhost:8080"
	DefaultRedisChannel   = "turnscribe.sessions"
	DefaultRecognizer     = "command"
	DefaultDiarizer       = "command"
)

// EngineConfig selects and configures a recognition or diarization backend.
type EngineConfig struct {
	// Backend is the registered backend name (command, http, file).
	Backend string `yaml:"backend"`

	// Command is the executable and arguments for the command backend.
	// The normalized audio path is appended as the last argument.
	Command []string `yaml:"command,omitempty"`

	// URL is the endpoint for the http backend.
	URL string `yaml:"url,omitempty"`

	// Model is passed to the backend as the model name.
	Model string `yaml:"model,omitempty"`

	// TokenName names the stored credential sent to the backend, if any.
	TokenName string `yaml:"token_name,omitempty"`

	// Options are backend-specific settings.
	Options map[string]string `yaml:"options,omitempty"`
}

// RedisConfig holds the session event publisher settings.
type RedisConfig struct {
	// Addr is host:port of the Redis server. Empty disables events.
	Addr string `yaml:"addr,omitempty"`

	// Password for AUTH, if required.
	Password string `yaml:"password,omitempty"`

	// DB is the Redis database number.
	DB int `yaml:"db,omitempty"`

	// Channel receives session lifecycle events.
	Channel string `yaml:"channel,omitempty"`
}

// Enabled reports whether event publishing is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// DatabaseConfig holds optional Postgres persistence settings.
type DatabaseConfig struct {
	// DSN is a pgx connection string. Empty disables persistence.
	DSN string `yaml:"dsn,omitempty"`

	// MigrationsDir holds the .sql migrations applied by "turnscribe db migrate".
	MigrationsDir string `yaml:"migrations_dir,omitempty"`

	// PersistLogs also writes pipeline log entries to the run_logs table.
	PersistLogs bool `yaml:"persist_logs,omitempty"`
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.DSN != ""
}

// ServeConfig holds settings for the HTTP server.
type ServeConfig struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`

	// GRPCAddr serves the gRPC health service when set.
	GRPCAddr string `yaml:"grpc_addr,omitempty"`

	// MaxUploadBytes caps the request body of POST /v1/transcribe. Zero means 512MiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes,omitempty"`
}

// CLIConfig holds the turnscribe configuration settings.
type CLIConfig struct {
	// SessionsRoot is the directory holding one subdirectory per session.
	SessionsRoot string `yaml:"sessions_root"`

	// ScratchDir holds per-run temporary files. Empty uses the OS temp dir.
	ScratchDir string `yaml:"scratch_dir,omitempty"`

	// SampleRate is the normalized audio sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Timeout bounds recognition and diarization of one recording.
	Timeout time.Duration `yaml:"timeout"`

	// ExtractTimeout bounds each per-turn clip extraction.
	ExtractTimeout time.Duration `yaml:"extract_timeout"`

	// FFmpegPath is the ffmpeg executable used for normalization and trimming.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// SplitGap closes a turn when a same-speaker silence exceeds it, in seconds.
	// Zero keeps same-speaker words together regardless of silence.
	SplitGap float64 `yaml:"split_gap,omitempty"`

	// OutputFormat specifies the default output format for commands.
	OutputFormat OutputFormat `yaml:"output_format"`

	// Debug enables verbose debug logging.
	Debug bool `yaml:"debug,omitempty"`

	// Recognizer configures the speech recognition engine.
	Recognizer EngineConfig `yaml:"recognizer"`

	// Diarizer configures the speaker diarization engine.
	Diarizer EngineConfig `yaml:"diarizer"`

	// Redis configures session event publishing.
	Redis RedisConfig `yaml:"redis,omitempty"`

	// Database configures optional session persistence.
	Database DatabaseConfig `yaml:"database,omitempty"`

	// Serve configures the HTTP server.
	Serve ServeConfig `yaml:"serve"`
}

// DefaultConfig returns a CLIConfig with default values.
func DefaultConfig() *CLIConfig {
	return &CLIConfig{
		SessionsRoot:   DefaultSessionsRoot,
		SampleRate:     DefaultSampleRate,
		Timeout:        DefaultTimeout,
		ExtractTimeout: DefaultExtractTimeout,
		FFmpegPath:     DefaultFFmpegPath,
		OutputFormat:   DefaultOutputFormat,
		Recognizer:     EngineConfig{Backend: DefaultRecognizer},
		Diarizer:       EngineConfig{Backend: DefaultDiarizer},
		Redis:          RedisConfig{Channel: DefaultRedisChannel},
		Serve:          ServeConfig{Addr: DefaultServeAddr},
	}
}

// ConfigDir returns the configuration directory path.
// Uses $TURNSCRIBE_CONFIG_DIR if set, otherwise ~/.turnscribe
func ConfigDir() (string, error) {
	if dir := os.Getenv("TURNSCRIBE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadConfig loads the configuration from the default file location and environment.
func LoadConfig() (*CLIConfig, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}
	return LoadConfigFrom(configPath)
}

// LoadConfigFrom loads configuration with this precedence (later wins):
// 1. Default values
// 2. The YAML file at path, if it exists
// 3. TURNSCRIBE_* environment variables
func LoadConfigFrom(path string) (*CLIConfig, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// configFile mirrors CLIConfig with durations as strings.
type configFile struct {
	SessionsRoot   string         `yaml:"sessions_root"`
	ScratchDir     string         `yaml:"scratch_dir,omitempty"`
	SampleRate     int            `yaml:"sample_rate,omitempty"`
	Timeout        string         `yaml:"timeout,omitempty"`
	ExtractTimeout string         `yaml:"extract_timeout,omitempty"`
	FFmpegPath     string         `yaml:"ffmpeg_path,omitempty"`
	SplitGap       float64        `yaml:"split_gap,omitempty"`
	OutputFormat   OutputFormat   `yaml:"output_format,omitempty"`
	Debug          bool           `yaml:"debug,omitempty"`
	Recognizer     EngineConfig   `yaml:"recognizer"`
	Diarizer       EngineConfig   `yaml:"diarizer"`
	Redis          RedisConfig    `yaml:"redis,omitempty"`
	Database       DatabaseConfig `yaml:"database,omitempty"`
	Serve          ServeConfig    `yaml:"serve,omitempty"`
}

func loadFromFile(cfg *CLIConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fileCfg configFile
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if fileCfg.SessionsRoot != "" {
		cfg.SessionsRoot = fileCfg.SessionsRoot
	}
	if fileCfg.ScratchDir != "" {
		cfg.ScratchDir = fileCfg.ScratchDir
	}
	if fileCfg.SampleRate != 0 {
		cfg.SampleRate = fileCfg.SampleRate
	}
	if fileCfg.Timeout != "" {
		timeout, err := time.ParseDuration(fileCfg.Timeout)
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}
		cfg.Timeout = timeout
	}
	if fileCfg.ExtractTimeout != "" {
		timeout, err := time.ParseDuration(fileCfg.ExtractTimeout)
		if err != nil {
			return fmt.Errorf("parsing extract_timeout: %w", err)
		}
		cfg.ExtractTimeout = timeout
	}
	if fileCfg.FFmpegPath != "" {
		cfg.FFmpegPath = fileCfg.FFmpegPath
	}
	if fileCfg.OutputFormat != "" {
		cfg.OutputFormat = fileCfg.OutputFormat
	}
	if fileCfg.Recognizer.Backend != "" {
		cfg.Recognizer = fileCfg.Recognizer
	}
	if fileCfg.Diarizer.Backend != "" {
		cfg.Diarizer = fileCfg.Diarizer
	}
	if fileCfg.Redis.Addr != "" {
		channel := cfg.Redis.Channel
		cfg.Redis = fileCfg.Redis
		if cfg.Redis.Channel == "" {
			cfg.Redis.Channel = channel
		}
	}
	if fileCfg.Serve.Addr != "" {
		cfg.Serve.Addr = fileCfg.Serve.Addr
	}
	cfg.Serve.GRPCAddr = fileCfg.Serve.GRPCAddr
	cfg.Serve.MaxUploadBytes = fileCfg.Serve.MaxUploadBytes
	cfg.Database = fileCfg.Database
	cfg.SplitGap = fileCfg.SplitGap
	cfg.Debug = fileCfg.Debug

	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *CLIConfig) {
	if v := os.Getenv("TURNSCRIBE_SESSIONS_ROOT"); v != "" {
		cfg.SessionsRoot = v
	}

	if v := os.Getenv("TURNSCRIBE_SCRATCH_DIR"); v != "" {
		cfg.ScratchDir = v
	}

	if v := os.Getenv("TURNSCRIBE_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(v); err == nil {
			cfg.SampleRate = rate
		}
	}

	if v := os.Getenv("TURNSCRIBE_TIMEOUT"); v != "" {
		if timeout, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = timeout
		}
	}

	if v := os.Getenv("TURNSCRIBE_EXTRACT_TIMEOUT"); v != "" {
		if timeout, err := time.ParseDuration(v); err == nil {
			cfg.ExtractTimeout = timeout
		}
	}

	if v := os.Getenv("TURNSCRIBE_FFMPEG_PATH"); v != "" {
		cfg.FFmpegPath = v
	}

	if v := os.Getenv("TURNSCRIBE_SPLIT_GAP"); v != "" {
		if gap, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SplitGap = gap
		}
	}

	if v := os.Getenv("TURNSCRIBE_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}

	if v := os.Getenv("TURNSCRIBE_DEBUG"); v == "true" || v == "1" {
		cfg.Debug = true
	}

	if v := os.Getenv("TURNSCRIBE_RECOGNIZER_URL"); v != "" {
		cfg.Recognizer.URL = v
	}

	if v := os.Getenv("TURNSCRIBE_DIARIZER_URL"); v != "" {
		cfg.Diarizer.URL = v
	}

	if v := os.Getenv("TURNSCRIBE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}

	if v := os.Getenv("TURNSCRIBE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("TURNSCRIBE_DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("TURNSCRIBE_SERVE_ADDR"); v != "" {
		cfg.Serve.Addr = v
	}
}

// Validate checks that the configuration is valid.
func (c *CLIConfig) Validate() error {
	if c.SessionsRoot == "" {
		return fmt.Errorf("sessions_root is required")
	}

	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.ExtractTimeout <= 0 {
		return fmt.Errorf("extract_timeout must be positive")
	}

	if c.SplitGap < 0 {
		return fmt.Errorf("split_gap must not be negative")
	}

	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be text, json, or yaml)", c.OutputFormat)
	}

	if c.Recognizer.Backend == "" {
		return fmt.Errorf("recognizer.backend is required")
	}

	if c.Diarizer.Backend == "" {
		return fmt.Errorf("diarizer.backend is required")
	}

	return nil
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// SaveConfig saves the configuration to the default config file.
func SaveConfig(cfg *CLIConfig) error {
	configPath, err := ConfigPath()
	if err != nil {
		return fmt.Errorf("getting config path: %w", err)
	}
	return SaveConfigTo(cfg, configPath)
}

// SaveConfigTo writes the configuration as YAML with owner-only permissions.
func SaveConfigTo(cfg *CLIConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	fileCfg := configFile{
		SessionsRoot:   cfg.SessionsRoot,
		ScratchDir:     cfg.ScratchDir,
		SampleRate:     cfg.SampleRate,
		Timeout:        cfg.Timeout.String(),
		ExtractTimeout: cfg.ExtractTimeout.String(),
		FFmpegPath:     cfg.FFmpegPath,
		SplitGap:       cfg.SplitGap,
		OutputFormat:   cfg.OutputFormat,
		Debug:          cfg.Debug,
		Recognizer:     cfg.Recognizer,
		Diarizer:       cfg.Diarizer,
		Redis:          cfg.Redis,
		Database:       cfg.Database,
		Serve:          cfg.Serve,
	}

	data, err := yaml.Marshal(&fileCfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// ResolvedSessionsRoot returns SessionsRoot with ~ expanded.
func (c *CLIConfig) ResolvedSessionsRoot() (string, error) {
	return ExpandPath(c.SessionsRoot)
}

// Set assigns a scalar configuration key from its string form.
func (c *CLIConfig) Set(key, value string) error {
	switch key {
	case "sessions_root":
		c.SessionsRoot = value
	case "scratch_dir":
		c.ScratchDir = value
	case "sample_rate":
		rate, err := strconv.Atoi(value)
		if err != nil || rate <= 0 {
			return fmt.Errorf("invalid sample_rate value: %s", value)
		}
		c.SampleRate = rate
	case "timeout", "extract_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s value: %w", key, err)
		}
		if key == "timeout" {
			c.Timeout = d
		} else {
			c.ExtractTimeout = d
		}
	case "ffmpeg_path":
		c.FFmpegPath = value
	case "split_gap":
		gap, err := strconv.ParseFloat(value, 64)
		if err != nil || gap < 0 {
			return fmt.Errorf("invalid split_gap value: %s", value)
		}
		c.SplitGap = gap
	case "output_format":
		format := OutputFormat(value)
		if !format.IsValid() {
			return fmt.Errorf("invalid output format: %s (must be text, json, or yaml)", value)
		}
		c.OutputFormat = format
	case "debug":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid debug value: %s (must be true or false)", value)
		}
		c.Debug = b
	case "recognizer.backend":
		c.Recognizer.Backend = value
	case "recognizer.url":
		c.Recognizer.URL = value
	case "recognizer.model":
		c.Recognizer.Model = value
	case "diarizer.backend":
		c.Diarizer.Backend = value
	case "diarizer.url":
		c.Diarizer.URL = value
	case "diarizer.model":
		c.Diarizer.Model = value
	case "redis.addr":
		c.Redis.Addr = value
	case "database.dsn":
		c.Database.DSN = value
	case "serve.addr":
		c.Serve.Addr = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
