package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Checkpoint is the persisted execution state of a thread
type Checkpoint struct {
	State     State     `json:"state"`
	Next      NodeName  `json:"next"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Checkpointer stores one checkpoint per thread id
type Checkpointer interface {
	// Load returns the thread's checkpoint, or nil if none exists
	Load(ctx context.Context, threadID string) (*Checkpoint, error)
	Save(ctx context.Context, threadID string, cp *Checkpoint) error
}

// MemoryCheckpointer keeps checkpoints in process memory
type MemoryCheckpointer struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{data: make(map[string][]byte)}
}

func (m *MemoryCheckpointer) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	raw, ok := m.data[threadID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeCheckpoint(raw)
}

func (m *MemoryCheckpointer) Save(ctx context.Context, threadID string, cp *Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	m.mu.Lock()
	m.data[threadID] = raw
	m.mu.Unlock()
	return nil
}

// PostgresCheckpointer stores checkpoints in the checkpoints table
type PostgresCheckpointer struct{ db *sql.DB }

func NewPostgresCheckpointer(db *sql.DB) *PostgresCheckpointer {
	return &PostgresCheckpointer{db: db}
}

func (p *PostgresCheckpointer) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	var (
		state     []byte
		next      string
		updatedAt time.Time
	)
	err := p.db.QueryRowContext(ctx, `SELECT state, next_node, updated_at FROM checkpoints WHERE thread_id = $1`, threadID).
		Scan(&state, &next, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	cp := &Checkpoint{Next: NodeName(next), UpdatedAt: updatedAt}
	if err := json.Unmarshal(state, &cp.State); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return cp, nil
}

func (p *PostgresCheckpointer) Save(ctx context.Context, threadID string, cp *Checkpoint) error {
	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, state, next_node, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (thread_id) DO UPDATE SET
			state = EXCLUDED.state,
			next_node = EXCLUDED.next_node,
			updated_at = EXCLUDED.updated_at
	`, threadID, state, string(cp.Next))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// RedisCheckpointer stores checkpoints as JSON strings, optionally expiring
// idle threads after ttl.
type RedisCheckpointer struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedisCheckpointer(client redis.UniversalClient, ttl time.Duration) *RedisCheckpointer {
	return &RedisCheckpointer{client: client, ttl: ttl, prefix: "askbot:checkpoint:"}
}

func (r *RedisCheckpointer) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	raw, err := r.client.Get(ctx, r.prefix+threadID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return decodeCheckpoint(raw)
}

func (r *RedisCheckpointer) Save(ctx context.Context, threadID string, cp *Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+threadID, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func decodeCheckpoint(raw []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &cp, nil
}
