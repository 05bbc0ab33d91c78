package redact

import (
	"fmt"
	"strings"

	"github.com/HexmosTech/deidentify"
	"github.com/rs/zerolog/log"
)

// PII replaces names, emails, phone numbers and similar personal data with
// pseudonyms derived from a secret key. The same input maps to the same
// pseudonym, so near-duplicate questions still share cache entries.
type PII struct {
	d *deidentify.Deidentifier
}

// NewPII creates a PII scrubber. An empty key generates one, which makes the
// pseudonyms stable only for the life of the process.
func NewPII(secretKey string) (*PII, error) {
	if secretKey == "" {
		key, err := deidentify.GenerateSecretKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate deidentify key: %w", err)
		}
		log.Warn().Msg("security.pii_key is not set, pseudonyms change on restart")
		secretKey = key
	}
	return &PII{d: deidentify.NewDeidentifier(secretKey)}, nil
}

// Scrub returns text with personal data replaced. Text that cannot be
// processed is returned unchanged.
func (p *PII) Scrub(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	out, err := p.d.Text(text)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to deidentify input")
		return text
	}
	return out
}

// Rewriter is anything that rewrites inbound text
type Rewriter interface {
	Scrub(text string) string
}

// Chain applies scrubbers in order
type Chain []Rewriter

// NewChain drops nil entries
func NewChain(scrubbers ...Rewriter) Chain {
	c := make(Chain, 0, len(scrubbers))
	for _, s := range scrubbers {
		if s != nil {
			c = append(c, s)
		}
	}
	return c
}

func (c Chain) Scrub(text string) string {
	for _, s := range c {
		text = s.Scrub(text)
	}
	return text
}
