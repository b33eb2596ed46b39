package services

import (
	"fmt"
	"log/slog"

	"github.com/jwebster45206/vtt-forge/internal/config"
)

const DefaultVeniceBaseURL = "https://api.venice.ai/api/v1"

// NewTextOracle builds the text oracle selected by cfg.TextProvider.
func NewTextOracle(cfg *config.Config, logger *slog.Logger) (TextOracle, error) {
	switch cfg.TextProvider {
	case config.ProviderOpenAI:
		return NewOpenAIService(cfg.OpenAIAPIKey, cfg.TextModel, cfg.TextBaseURL, cfg.OracleTimeout, logger), nil
	case config.ProviderAnthropic:
		if err := requireModel(cfg); err != nil {
			return nil, err
		}
		return NewAnthropicService(cfg.AnthropicAPIKey, cfg.TextModel, cfg.TextBaseURL, cfg.OracleTimeout, logger), nil
	case config.ProviderOllama:
		if err := requireModel(cfg); err != nil {
			return nil, err
		}
		return NewOllamaService(cfg.TextBaseURL, cfg.TextModel, cfg.OracleTimeout, logger), nil
	case config.ProviderVenice:
		if err := requireModel(cfg); err != nil {
			return nil, err
		}
		// Venice speaks the chat-completion protocol
		baseURL := cfg.TextBaseURL
		if baseURL == "" {
			baseURL = DefaultVeniceBaseURL
		}
		return NewOpenAIService(cfg.VeniceAPIKey, cfg.TextModel, baseURL, cfg.OracleTimeout, logger), nil
	}
	return nil, fmt.Errorf("unsupported text provider %q", cfg.TextProvider)
}

// requireModel rejects the OpenAI default model for other providers.
func requireModel(cfg *config.Config) error {
	if cfg.TextModel == "" || cfg.TextModel == DefaultOpenAIModel {
		return fmt.Errorf("TEXT_MODEL must name a %s model when TEXT_PROVIDER is %q", cfg.TextProvider, cfg.TextProvider)
	}
	return nil
}

// NewImageOracle builds the render and background-removal pipeline
// against cfg.ImageBaseURL. Both steps get ORACLE_TIMEOUT.
func NewImageOracle(cfg *config.Config, logger *slog.Logger) *ImagePipeline {
	sd := NewStableDiffusionService(cfg.ImageBaseURL, cfg.RembgModel)
	return NewImagePipeline(sd, cfg.OracleTimeout, cfg.OracleTimeout, logger)
}
