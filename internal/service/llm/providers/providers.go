// Package providers selects and constructs the configured LLM backend.
package providers

import (
	"fmt"
	"log/slog"

	"spectrum/internal/config"
	"spectrum/internal/service/llm"
	"spectrum/internal/service/llm/providers/mock"
	"spectrum/internal/service/llm/providers/openai"
)

// New builds the completion backend named by LLM_PROVIDER.
func New(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch cfg.LLMProvider {
	case "", "mock":
		return mock.New(), nil
	case "openai":
		return openai.New(openai.Config{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMAPIURL,
			Model:   cfg.LLMModel,
			Logger:  logger,
		})
	case "azure":
		if cfg.LLMAPIURL == "" {
			return nil, fmt.Errorf("azure provider requires LLM_API_URL")
		}
		return openai.New(openai.Config{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMAPIURL,
			Model:   cfg.LLMModel,
			Logger:  logger,
		})
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}
