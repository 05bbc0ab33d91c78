// Package redact scrubs credentials out of user text before it is cached,
// since cached answers are shared across users.
package redact

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/zricethezav/gitleaks/v8/detect"
)

// Placeholder replaces every detected secret
const Placeholder = "[REDACTED]"

// Scrubber replaces secrets found by the gitleaks default rule set
type Scrubber struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// New loads the default gitleaks rules
func New() (*Scrubber, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load secret detection rules: %w", err)
	}
	return &Scrubber{detector: d}, nil
}

// Scrub returns text with every detected secret replaced by Placeholder
func (s *Scrubber) Scrub(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	// the detector accumulates findings internally and is not safe for
	// concurrent use
	s.mu.Lock()
	findings := s.detector.DetectString(text)
	s.mu.Unlock()
	if len(findings) == 0 {
		return text
	}

	secrets := make([]string, 0, len(findings))
	rules := make([]string, 0, len(findings))
	for _, f := range findings {
		if f.Secret != "" {
			secrets = append(secrets, f.Secret)
			rules = append(rules, f.RuleID)
		}
	}
	// longest first so overlapping matches are fully covered
	sort.Slice(secrets, func(i, j int) bool { return len(secrets[i]) > len(secrets[j]) })
	for _, secret := range secrets {
		text = strings.ReplaceAll(text, secret, Placeholder)
	}

	log.Info().Strs("rules", rules).Msg("Redacted secrets from input")
	return text
}

// Nop leaves text unchanged
type Nop struct{}

func (Nop) Scrub(text string) string { return text }
