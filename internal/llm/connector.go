package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/askbot/internal/config"
)

// Provider represents an AI provider type
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
	ProviderCohere Provider = "cohere"
	ProviderOllama Provider = "ollama"
)

const defaultOllamaURL = "http://localhost:11434"

// NewModel creates the chat model for the configured provider
func NewModel(ctx context.Context, cfg config.ModelConfig) (llms.Model, error) {
	log.Debug().
		Str("provider", cfg.Provider).
		Str("model", cfg.Model).
		Float64("temperature", cfg.Temperature).
		Msg("Creating chat model")

	var (
		model llms.Model
		err   error
	)

	switch Provider(cfg.Provider) {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case ProviderGemini:
		model, err = googleai.New(ctx, googleai.WithAPIKey(cfg.APIKey), googleai.WithDefaultModel(cfg.Model))
	case ProviderClaude:
		opts := []anthropic.Option{anthropic.WithToken(cfg.APIKey), anthropic.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		model, err = anthropic.New(opts...)
	case ProviderCohere:
		opts := []cohere.Option{cohere.WithToken(cfg.APIKey), cohere.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, cohere.WithBaseURL(cfg.BaseURL))
		}
		model, err = cohere.New(opts...)
	case ProviderOllama:
		model, err = ollama.New(ollama.WithServerURL(orDefault(cfg.BaseURL, defaultOllamaURL)), ollama.WithModel(cfg.Model))
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", cfg.Provider, err)
	}
	return model, nil
}

// NewEmbedder creates the embedding client for the configured provider
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (embeddings.Embedder, error) {
	log.Debug().
		Str("provider", cfg.Provider).
		Str("model", cfg.Model).
		Int("dimensions", cfg.Dimensions).
		Msg("Creating embedder")

	var (
		client embeddings.EmbedderClient
		err    error
	)

	switch Provider(cfg.Provider) {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithEmbeddingModel(cfg.Model), openai.WithToken(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		client, err = openai.New(opts...)
	case ProviderGemini:
		client, err = googleai.New(ctx, googleai.WithAPIKey(cfg.APIKey), googleai.WithDefaultEmbeddingModel(cfg.Model))
	case ProviderOllama:
		client, err = ollama.New(ollama.WithServerURL(orDefault(cfg.BaseURL, defaultOllamaURL)), ollama.WithModel(cfg.Model))
	default:
		return nil, fmt.Errorf("provider %s does not support embeddings", cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create embedder for provider %s: %w", cfg.Provider, err)
	}
	return embeddings.NewEmbedder(client)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
