package responses

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/askbot/internal/llm"
	"github.com/askbot/internal/metrics"
	"github.com/askbot/pkg/models"
)

// Hit is a reusable stored answer
type Hit struct {
	ResponseID string
	Output     models.ChatMessage
	Summary    *string
	Tags       []string
	Similarity float64
}

// Cache answers semantic lookups against a Store
type Cache struct {
	store     Store
	threshold float64
}

// NewCache returns a cache that only reuses answers whose similarity is
// strictly greater than threshold.
func NewCache(store Store, threshold float64) *Cache {
	return &Cache{store: store, threshold: threshold}
}

// Threshold returns the configured similarity threshold
func (c *Cache) Threshold() float64 {
	return c.threshold
}

// Lookup returns the best hit for vector, or nil on a miss. Store failures
// are wrapped in ErrStoreUnavailable. A stored output that does not decode
// is treated as a miss.
func (c *Cache) Lookup(ctx context.Context, vector []float32) (*Hit, error) {
	if IsZero(vector) {
		metrics.CacheMisses.Inc()
		return nil, nil
	}

	m, err := c.store.FindBestMatch(ctx, vector, c.threshold)
	if err != nil {
		metrics.CacheErrors.Inc()
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if m == nil {
		metrics.CacheMisses.Inc()
		return nil, nil
	}

	out, ok := llm.DecodeMessage(m.Output)
	if !ok {
		log.Warn().Str("response_id", m.ID).Msg("Stored response output is not decodable")
		metrics.CacheMisses.Inc()
		return nil, nil
	}

	log.Debug().
		Str("response_id", m.ID).
		Float64("similarity", m.Similarity).
		Msg("Found past response")
	metrics.CacheHits.Inc()

	return &Hit{
		ResponseID: m.ID,
		Output:     out,
		Summary:    m.Summary,
		Tags:       m.Tags,
		Similarity: m.Similarity,
	}, nil
}
