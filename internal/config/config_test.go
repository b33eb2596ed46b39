package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every key Load reads so host settings cannot leak in.
// An empty value falls back to the envDefault.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "ENVIRONMENT", "LOG_LEVEL",
		"TEXT_PROVIDER", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "VENICE_API_KEY",
		"TEXT_MODEL", "TEXT_BASE_URL", "IMAGE_BASE_URL", "REMBG_MODEL", "ORACLE_TIMEOUT",
		"STORE_BACKEND", "REDIS_URL", "SQLITE_PATH", "DATA_DIR", "WORKER_ID",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, ProviderOpenAI, cfg.TextProvider)
	assert.Equal(t, "gpt-3.5-turbo", cfg.TextModel)
	assert.Equal(t, "http://localhost:7860", cfg.ImageBaseURL)
	assert.Equal(t, "u2net", cfg.RembgModel)
	assert.Equal(t, 60*time.Second, cfg.OracleTimeout)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, "./data/forge.db", cfg.SQLitePath)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEXT_PROVIDER", "Anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "key")
	t.Setenv("LOG_LEVEL", "warning")
	t.Setenv("ORACLE_TIMEOUT", "90s")
	t.Setenv("STORE_BACKEND", "SQLite")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, cfg.TextProvider)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
	assert.Equal(t, 90*time.Second, cfg.OracleTimeout)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing openai key", map[string]string{}, "OPENAI_API_KEY is required"},
		{"missing anthropic key", map[string]string{"TEXT_PROVIDER": "anthropic"}, "ANTHROPIC_API_KEY is required"},
		{"missing venice key", map[string]string{"TEXT_PROVIDER": "venice"}, "VENICE_API_KEY is required"},
		{"unknown provider", map[string]string{"TEXT_PROVIDER": "cohere"}, "unsupported TEXT_PROVIDER"},
		{"unknown backend", map[string]string{"OPENAI_API_KEY": "k", "STORE_BACKEND": "postgres"}, "unsupported STORE_BACKEND"},
		{"zero timeout", map[string]string{"OPENAI_API_KEY": "k", "ORACLE_TIMEOUT": "0s"}, "ORACLE_TIMEOUT must be positive"},
		{"bad duration", map[string]string{"OPENAI_API_KEY": "k", "ORACLE_TIMEOUT": "soon"}, "parse env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_OllamaNeedsNoKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEXT_PROVIDER", "ollama")
	t.Setenv("TEXT_MODEL", "llama3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, cfg.TextProvider)
	assert.Equal(t, "llama3", cfg.TextModel)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("verbose"))
}
