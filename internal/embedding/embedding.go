// Package embedding turns conversations into fixed-length vectors for the
// semantic response cache.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/askbot/internal/llm"
	"github.com/askbot/pkg/models"
)

var (
	// ErrEmbeddingFailure marks an unreachable provider or malformed output
	ErrEmbeddingFailure = errors.New("embedding failed")
	// ErrDimensionMismatch means the provider returns fewer components than
	// the configured dimensionality. This is a configuration error.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedder is the subset of langchaingo's embeddings.Embedder used here
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Generator produces vectors of exactly Dimensions components
type Generator struct {
	embedder   Embedder
	dimensions int
}

// NewGenerator returns a Generator targeting dimensions components
func NewGenerator(embedder Embedder, dimensions int) *Generator {
	return &Generator{embedder: embedder, dimensions: dimensions}
}

// Dimensions returns the configured vector length
func (g *Generator) Dimensions() int {
	return g.dimensions
}

// Generate embeds the buffer-string rendering of messages
func (g *Generator) Generate(ctx context.Context, messages []models.ChatMessage) ([]float32, error) {
	text, err := llm.BufferString(messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
	}
	return g.Embed(ctx, text)
}

// Embed embeds text and conforms the result to the configured dimensions
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	raw, err := g.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: provider returned an empty vector", ErrEmbeddingFailure)
	}
	return Conform(raw, g.dimensions)
}

// Conform clamps non-finite components to zero and truncates v to
// dimensions. A shorter vector is a fatal ErrDimensionMismatch.
func Conform(v []float32, dimensions int) ([]float32, error) {
	if len(v) < dimensions {
		return nil, fmt.Errorf("%w: got %d components, want %d", ErrDimensionMismatch, len(v), dimensions)
	}

	out := make([]float32, dimensions)
	clamped := 0
	for i := range out {
		c := float64(v[i])
		if math.IsNaN(c) || math.IsInf(c, 0) {
			clamped++
			continue
		}
		out[i] = v[i]
	}

	if clamped > 0 {
		log.Warn().Int("clamped", clamped).Msg("Embedding contained non-finite components")
	}
	if len(v) > dimensions {
		log.Debug().Int("from", len(v)).Int("to", dimensions).Msg("Truncated embedding")
	}
	return out, nil
}
