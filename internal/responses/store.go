// Package responses persists model answers with their embeddings and serves
// them back as a semantic cache.
package responses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("response not found")
	// ErrStoreUnavailable wraps read failures during cache lookup
	ErrStoreUnavailable = errors.New("response store unavailable")
)

// Record is one cached exchange. Input is the encoded prior conversation and
// Output the encoded assistant turn.
type Record struct {
	ID        string          `json:"id"`
	Input     json.RawMessage `json:"input"`
	Output    json.RawMessage `json:"output"`
	Vector    []float32       `json:"vector"`
	Summary   *string         `json:"summary,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Match is the best stored record for a query vector
type Match struct {
	Record
	Similarity float64
}

type Store interface {
	// Insert persists r and returns its id, assigning one when empty
	Insert(ctx context.Context, r *Record) (string, error)
	// UpdateSummary sets summary and tags on an existing record
	UpdateSummary(ctx context.Context, id, summary string, tags []string) error
	// FindBestMatch returns the most similar record whose similarity is
	// strictly greater than threshold, newest first on ties, or nil.
	FindBestMatch(ctx context.Context, vector []float32, threshold float64) (*Match, error)
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return id.String(), nil
}

// InMemoryStore is a threadsafe in-memory store for tests and local runs
type InMemoryStore struct {
	mu      sync.RWMutex
	records []*Record
	byID    map[string]*Record
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[string]*Record), now: time.Now}
}

func (s *InMemoryStore) Insert(ctx context.Context, r *Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		id, err := newID()
		if err != nil {
			return "", err
		}
		r.ID = id
	}
	if _, ok := s.byID[r.ID]; ok {
		return "", fmt.Errorf("response %s already exists", r.ID)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	c := cloneRecord(r)
	s.records = append(s.records, c)
	s.byID[c.ID] = c
	return c.ID, nil
}

func (s *InMemoryStore) UpdateSummary(ctx context.Context, id, summary string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	r.Summary = &summary
	r.Tags = append(make([]string, 0, len(tags)), tags...)
	return nil
}

func (s *InMemoryStore) FindBestMatch(ctx context.Context, vector []float32, threshold float64) (*Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Match
	for _, r := range s.records {
		sim, ok := CosineSimilarity(vector, r.Vector)
		if !ok {
			continue
		}
		if best == nil || sim > best.Similarity || (sim == best.Similarity && !r.CreatedAt.Before(best.CreatedAt)) {
			best = &Match{Record: *cloneRecord(r), Similarity: sim}
		}
	}

	if best == nil || !(best.Similarity > threshold) {
		return nil, nil
	}
	return best, nil
}

// Get returns a copy of the record with id
func (s *InMemoryStore) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(r), nil
}

// Len returns the number of stored records
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cloneRecord(r *Record) *Record {
	c := *r
	c.Input = append(json.RawMessage(nil), r.Input...)
	c.Output = append(json.RawMessage(nil), r.Output...)
	c.Vector = append([]float32(nil), r.Vector...)
	if r.Summary != nil {
		s := *r.Summary
		c.Summary = &s
	}
	if r.Tags != nil {
		c.Tags = append([]string{}, r.Tags...)
	}
	return &c
}
