// Package config loads engine configuration from a TOML file with
// environment-variable overrides. All fields have sensible defaults so an
// empty file (or no file at all) yields a working configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/valet-ai/valet/logging"
)

// Config is the full engine configuration.
type Config struct {
	Logging  LoggingConfig               `toml:"logging"`
	Model    ModelConfig                 `toml:"model"`
	Telegram TelegramConfig              `toml:"telegram"`
	Batch    BatchConfig                 `toml:"batch"`
	Subtask  SubtaskConfig               `toml:"subtask"`
	Sandbox  SandboxConfig               `toml:"sandbox"`
	Caps     map[string]CapabilityTuning `toml:"capabilities"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json or text
}

// ModelConfig selects the LLM provider used by the sub-task runner.
type ModelConfig struct {
	Provider string `toml:"provider"` // anthropic (default) or openai
	Name     string `toml:"name"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
}

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	Token string `toml:"token"`
}

// BatchConfig tunes the batch executor.
type BatchConfig struct {
	IndividualTimeoutMs        int  `toml:"individual_timeout_ms"`
	GlobalTimeoutMs            int  `toml:"global_timeout_ms"`
	MaxParallel                int  `toml:"max_parallel"`
	KeepSettledOnGlobalTimeout bool `toml:"keep_settled_on_global_timeout"`
}

// SubtaskConfig tunes sub-task defaults.
type SubtaskConfig struct {
	MaxIterations int `toml:"max_iterations"`
	TimeoutMs     int `toml:"timeout_ms"`
}

// SandboxConfig bounds user-generated code execution.
type SandboxConfig struct {
	MaxExecutionMs int `toml:"max_execution_ms"`
	MaxOutputBytes int `toml:"max_output_bytes"`
	MaxCodeBytes   int `toml:"max_code_bytes"`
}

// CapabilityTuning overrides catalog defaults for a single capability.
// Pointer fields distinguish "not set" from zero values.
type CapabilityTuning struct {
	Enabled   *bool `toml:"enabled"`
	RateLimit *int  `toml:"rate_limit"`
	TimeoutMs *int  `toml:"timeout_ms"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Model:   ModelConfig{Provider: "anthropic"},
		Batch: BatchConfig{
			IndividualTimeoutMs: 7000,
			GlobalTimeoutMs:     60000,
		},
		Subtask: SubtaskConfig{
			MaxIterations: 10,
			TimeoutMs:     120000,
		},
		Sandbox: SandboxConfig{
			MaxExecutionMs: 30000,
			MaxOutputBytes: 10 * 1024,
			MaxCodeBytes:   50000,
		},
		Caps: map[string]CapabilityTuning{},
	}
}

// Load reads the TOML file at path (skipped when path is empty or the file
// does not exist), then applies environment-variable overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("load config %q: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config %q: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers environment variables over the file values. VALET_* vars
// win over the file; the bare provider keys fill the API key only when it is
// still empty.
func applyEnv(cfg *Config) {
	if v := os.Getenv("VALET_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VALET_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("VALET_MODEL_PROVIDER"); v != "" {
		cfg.Model.Provider = v
	}
	if v := os.Getenv("VALET_MODEL_NAME"); v != "" {
		cfg.Model.Name = v
	}
	if v := os.Getenv("VALET_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.Model.APIKey == "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Model.APIKey == "" {
		cfg.Model.APIKey = v
		if cfg.Model.Provider == "" {
			cfg.Model.Provider = "openai"
		}
	}
	if v := os.Getenv("VALET_BASE_URL"); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv("VALET_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("VALET_BATCH_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.MaxParallel = n
		}
	}
	if v := os.Getenv("VALET_SUBTASK_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Subtask.MaxIterations = n
		}
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", cfg.Logging.Format)
	}
	switch cfg.Model.Provider {
	case "anthropic", "openai", "":
	default:
		return fmt.Errorf("config: unknown model provider %q", cfg.Model.Provider)
	}
	if cfg.Batch.IndividualTimeoutMs <= 0 || cfg.Batch.GlobalTimeoutMs <= 0 {
		return fmt.Errorf("config: batch timeouts must be positive")
	}
	if cfg.Subtask.MaxIterations <= 0 {
		return fmt.Errorf("config: subtask max_iterations must be positive")
	}
	return nil
}

// LogLevel converts the configured level string to a logging.LogLevel.
func (c *Config) LogLevel() logging.LogLevel {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}

// NewLogger builds a Logger from the logging section.
func (c *Config) NewLogger() logging.Logger {
	return logging.NewSlogLogger(c.LogLevel(), c.Logging.Format, false)
}
