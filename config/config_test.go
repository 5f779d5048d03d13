package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valet-ai/valet/logging"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "valet.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, 7000, cfg.Batch.IndividualTimeoutMs)
	assert.Equal(t, 60000, cfg.Batch.GlobalTimeoutMs)
	assert.Equal(t, 10, cfg.Subtask.MaxIterations)
	assert.Equal(t, 30000, cfg.Sandbox.MaxExecutionMs)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
[logging]
level = "debug"
format = "text"

[model]
provider = "openai"
name = "gpt-4o"

[batch]
individual_timeout_ms = 5000
global_timeout_ms = 30000
max_parallel = 4
keep_settled_on_global_timeout = true

[capabilities.fetch_url]
enabled = false
rate_limit = 10

[capabilities.todo]
timeout_ms = 2500
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, logging.LogLevelDebug, cfg.LogLevel())
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "gpt-4o", cfg.Model.Name)
	assert.Equal(t, 5000, cfg.Batch.IndividualTimeoutMs)
	assert.Equal(t, 4, cfg.Batch.MaxParallel)
	assert.True(t, cfg.Batch.KeepSettledOnGlobalTimeout)

	require.Contains(t, cfg.Caps, "fetch_url")
	fetch := cfg.Caps["fetch_url"]
	require.NotNil(t, fetch.Enabled)
	assert.False(t, *fetch.Enabled)
	require.NotNil(t, fetch.RateLimit)
	assert.Equal(t, 10, *fetch.RateLimit)
	assert.Nil(t, fetch.TimeoutMs)

	todo := cfg.Caps["todo"]
	require.NotNil(t, todo.TimeoutMs)
	assert.Equal(t, 2500, *todo.TimeoutMs)
	assert.Nil(t, todo.Enabled)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, `
[model]
api_key = "from-file"
`)

	t.Setenv("VALET_LOG_LEVEL", "warn")
	t.Setenv("VALET_API_KEY", "from-env")
	t.Setenv("VALET_TELEGRAM_TOKEN", "tg-token")
	t.Setenv("VALET_BATCH_MAX_PARALLEL", "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "from-env", cfg.Model.APIKey)
	assert.Equal(t, "tg-token", cfg.Telegram.Token)
	assert.Equal(t, 8, cfg.Batch.MaxParallel)
}

func TestProviderKeyFallback(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "ant-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ant-key", cfg.Model.APIKey)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad level", "[logging]\nlevel = \"loud\"", "unknown log level"},
		{"bad format", "[logging]\nformat = \"xml\"", "unknown log format"},
		{"bad provider", "[model]\nprovider = \"mystery\"", "unknown model provider"},
		{"zero timeout", "[batch]\nglobal_timeout_ms = 0", "timeouts must be positive"},
		{"zero iterations", "[subtask]\nmax_iterations = 0", "max_iterations must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMalformedFile(t *testing.T) {
	_, err := Load(writeFile(t, "not = [valid"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
