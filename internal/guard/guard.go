// Package guard screens inbound questions for prompt injection before they
// reach the model. A poisoned answer would be served to every user whose
// question lands near it in the cache.
package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/mdombrov-33/go-promptguard/detector"
	"github.com/rs/zerolog/log"
)

// ErrPromptInjection is returned for text the detector flags
var ErrPromptInjection = errors.New("input flagged as prompt injection")

// Guard wraps the promptguard pattern detectors
type Guard struct {
	detect func(ctx context.Context, text string) (safe bool, risk float64)
}

// New creates a guard with the default detectors
func New() *Guard {
	d := detector.New()
	return &Guard{detect: func(ctx context.Context, text string) (bool, float64) {
		r := d.Detect(ctx, text)
		return r.Safe, r.RiskScore
	}}
}

// Check returns ErrPromptInjection when any of texts is unsafe
func (g *Guard) Check(ctx context.Context, texts ...string) error {
	for _, text := range texts {
		if text == "" {
			continue
		}
		safe, risk := g.detect(ctx, text)
		if !safe {
			log.Warn().Float64("risk", risk).Msg("Rejected input")
			return fmt.Errorf("%w: risk score %.2f", ErrPromptInjection, risk)
		}
	}
	return nil
}
