package responses

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askbot/internal/database"
	"github.com/askbot/internal/metrics"
	"github.com/askbot/pkg/models"
)

// unitAt returns a 2-d unit vector whose cosine similarity with (1, 0) is sim
func unitAt(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

func output(content string) json.RawMessage {
	return json.RawMessage(`{"role":"ai","content":"` + content + `"}`)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name   string
		a, b   []float32
		want   float64
		wantOK bool
	}{
		{name: "identical", a: []float32{1, 2}, b: []float32{1, 2}, want: 1, wantOK: true},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0, wantOK: true},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1, wantOK: true},
		{name: "length mismatch", a: []float32{1}, b: []float32{1, 0}},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CosineSimilarity(tt.a, tt.b)
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestInMemoryStore_ThresholdBoundary(t *testing.T) {
	query := []float32{1, 0}
	atThreshold, _ := CosineSimilarity(query, unitAt(0.8))

	tests := []struct {
		name      string
		stored    []float32
		threshold float64
		wantHit   bool
	}{
		{name: "just above", stored: unitAt(0.801), threshold: 0.8, wantHit: true},
		{name: "just below", stored: unitAt(0.799), threshold: 0.8},
		{name: "exactly at threshold is a miss", stored: unitAt(0.8), threshold: atThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewInMemoryStore()
			_, err := s.Insert(context.Background(), &Record{Output: output("x"), Vector: tt.stored})
			require.NoError(t, err)

			m, err := s.FindBestMatch(context.Background(), query, tt.threshold)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHit, m != nil)
		})
	}
}

func TestInMemoryStore_PicksHighestThenNewest(t *testing.T) {
	s := NewInMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) }

	ctx := context.Background()
	_, err := s.Insert(ctx, &Record{ID: "low", Output: output("low"), Vector: unitAt(0.9)})
	require.NoError(t, err)
	_, err = s.Insert(ctx, &Record{ID: "old", Output: output("old"), Vector: []float32{2, 0}})
	require.NoError(t, err)
	_, err = s.Insert(ctx, &Record{ID: "new", Output: output("new"), Vector: []float32{3, 0}})
	require.NoError(t, err)

	m, err := s.FindBestMatch(ctx, []float32{1, 0}, 0.5)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "new", m.ID)
	assert.InDelta(t, 1.0, m.Similarity, 1e-9)
}

func TestInMemoryStore_UpdateSummary(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	id, err := s.Insert(ctx, &Record{Output: output("x"), Vector: []float32{1, 0}})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.NoError(t, s.UpdateSummary(ctx, id, "Math", []string{"math"}))
	r, err := s.Get(id)
	require.NoError(t, err)
	require.NotNil(t, r.Summary)
	assert.Equal(t, "Math", *r.Summary)
	assert.Equal(t, []string{"math"}, r.Tags)

	assert.ErrorIs(t, s.UpdateSummary(ctx, "missing", "x", nil), ErrNotFound)
}

type failingStore struct{ Store }

func (failingStore) FindBestMatch(context.Context, []float32, float64) (*Match, error) {
	return nil, errors.New("connection refused")
}

func TestCache_Lookup(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	summary := "Simple math"
	_, err := s.Insert(ctx, &Record{ID: "r1", Output: output("4"), Vector: []float32{1, 0}, Summary: &summary, Tags: []string{"math"}})
	require.NoError(t, err)
	_, err = s.Insert(ctx, &Record{ID: "bad", Output: json.RawMessage(`{"role":"system","content":"x"}`), Vector: []float32{0, 1}})
	require.NoError(t, err)

	cache := NewCache(s, 0.99)

	hitsBefore := testutil.ToFloat64(metrics.CacheHits)
	hit, err := cache.Lookup(ctx, []float32{1, 0})
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "r1", hit.ResponseID)
	assert.Equal(t, models.ChatMessage{Role: models.RoleAI, Content: "4"}, hit.Output)
	assert.Equal(t, &summary, hit.Summary)
	assert.Equal(t, []string{"math"}, hit.Tags)
	assert.Equal(t, hitsBefore+1, testutil.ToFloat64(metrics.CacheHits))

	hit, err = cache.Lookup(ctx, []float32{0, 1})
	require.NoError(t, err)
	assert.Nil(t, hit, "undecodable output is a miss")

	hit, err = cache.Lookup(ctx, []float32{0, 0})
	require.NoError(t, err)
	assert.Nil(t, hit, "zero vector is a miss")

	_, err = NewCache(failingStore{}, 0.99).Lookup(ctx, []float32{1, 0})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("ASKBOT_TEST_DATABASE_URL")
	if testing.Short() || url == "" {
		t.Skip("set ASKBOT_TEST_DATABASE_URL to run Postgres tests")
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", url)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, database.Bootstrap(ctx, db, 2))
	_, err = db.ExecContext(ctx, `TRUNCATE responses`)
	require.NoError(t, err)

	s := NewPostgresStore(db)
	id, err := s.Insert(ctx, &Record{Input: json.RawMessage(`[]`), Output: output("4"), Vector: unitAt(0.85)})
	require.NoError(t, err)

	m, err := s.FindBestMatch(ctx, []float32{1, 0}, 0.8)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, id, m.ID)
	assert.Nil(t, m.Summary)

	m, err = s.FindBestMatch(ctx, []float32{1, 0}, 0.9)
	require.NoError(t, err)
	assert.Nil(t, m)

	require.NoError(t, s.UpdateSummary(ctx, id, "Math", []string{"math"}))
	m, err = s.FindBestMatch(ctx, []float32{1, 0}, 0.8)
	require.NoError(t, err)
	require.NotNil(t, m.Summary)
	assert.Equal(t, "Math", *m.Summary)
	assert.Equal(t, []string{"math"}, m.Tags)

	assert.ErrorIs(t, s.UpdateSummary(ctx, "00000000-0000-0000-0000-000000000000", "x", nil), ErrNotFound)
}
