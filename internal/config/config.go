package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Text providers
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderVenice    = "venice"
)

// Store backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevelRaw string `env:"LOG_LEVEL" envDefault:"info"`
	LogLevel    slog.Level

	TextProvider    string        `env:"TEXT_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey    string        `env:"OPENAI_API_KEY"`
	AnthropicAPIKey string        `env:"ANTHROPIC_API_KEY"`
	VeniceAPIKey    string        `env:"VENICE_API_KEY"`
	TextModel       string        `env:"TEXT_MODEL" envDefault:"gpt-3.5-turbo"`
	TextBaseURL     string        `env:"TEXT_BASE_URL"`
	ImageBaseURL    string        `env:"IMAGE_BASE_URL" envDefault:"http://localhost:7860"`
	RembgModel      string        `env:"REMBG_MODEL" envDefault:"u2net"`
	OracleTimeout   time.Duration `env:"ORACLE_TIMEOUT" envDefault:"60s"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"memory"`
	RedisURL     string `env:"REDIS_URL" envDefault:"localhost:6379"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"./data/forge.db"`
	DataDir      string `env:"DATA_DIR" envDefault:"./data"`

	WorkerID string `env:"WORKER_ID"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelRaw)
	cfg.TextProvider = strings.ToLower(strings.TrimSpace(cfg.TextProvider))
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected provider and backend can be used.
func (c *Config) Validate() error {
	switch c.TextProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when TEXT_PROVIDER is %q", ProviderOpenAI)
		}
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when TEXT_PROVIDER is %q", ProviderAnthropic)
		}
	case ProviderVenice:
		if c.VeniceAPIKey == "" {
			return fmt.Errorf("VENICE_API_KEY is required when TEXT_PROVIDER is %q", ProviderVenice)
		}
	case ProviderOllama:
		// local server, no credential
	default:
		return fmt.Errorf("unsupported TEXT_PROVIDER %q (supported: %s, %s, %s, %s)",
			c.TextProvider, ProviderOpenAI, ProviderAnthropic, ProviderOllama, ProviderVenice)
	}

	switch c.StoreBackend {
	case BackendMemory, BackendRedis, BackendSQLite:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q (supported: %s, %s, %s)", c.StoreBackend, BackendMemory, BackendRedis, BackendSQLite)
	}

	if c.OracleTimeout <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT must be positive, got %s", c.OracleTimeout)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
