package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/askbot/pkg/models"
)

// InMemoryStore is a threadsafe in-memory store. Transactions keep an undo
// log of their own writes, so a rollback never touches rows written by
// other callers and concurrent transactions do not wait on each other.
type InMemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*models.User
	threads  map[string]*models.Thread
	messages map[string][]*models.Message
	now      func() time.Time
}

// undo reverts one write. It runs with mu held.
type undo func()

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:    make(map[string]*models.User),
		threads:  make(map[string]*models.Thread),
		messages: make(map[string][]*models.Message),
		now:      time.Now,
	}
}

func (s *InMemoryStore) FindSlackUser(ctx context.Context, teamID, slackUserID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.SlackTeamID == teamID && u.SlackUserID == slackUserID {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) UpsertUser(ctx context.Context, u *models.User) error {
	_, err := s.upsertUser(u)
	return err
}

func (s *InMemoryStore) upsertUser(u *models.User) (undo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, existing := range s.users {
		if existing.SlackTeamID == u.SlackTeamID && existing.SlackUserID == u.SlackUserID {
			prev := *existing
			u.ID = existing.ID
			u.CreatedAt = existing.CreatedAt
			u.UpdatedAt = now
			c := *u
			s.users[u.ID] = &c
			return func() { s.users[prev.ID] = &prev }, nil
		}
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	u.ID = id
	u.CreatedAt = now
	u.UpdatedAt = now
	c := *u
	s.users[id] = &c
	return func() { delete(s.users, id) }, nil
}

func (s *InMemoryStore) CreateThread(ctx context.Context, userID string) (*models.Thread, error) {
	t, _, err := s.createThread(userID)
	return t, err
}

func (s *InMemoryStore) createThread(userID string) (*models.Thread, undo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertThreadLocked(userID, nil)
}

func (s *InMemoryStore) UpsertSlackThread(ctx context.Context, userID, threadTS string) (*models.Thread, error) {
	t, _, err := s.upsertSlackThread(userID, threadTS)
	return t, err
}

func (s *InMemoryStore) upsertSlackThread(userID, threadTS string) (*models.Thread, undo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.threads {
		if t.UserID == userID && t.SlackThreadTS != nil && *t.SlackThreadTS == threadTS {
			prev := t.UpdatedAt
			t.UpdatedAt = s.now()
			return cloneThread(t), func() { t.UpdatedAt = prev }, nil
		}
	}
	ts := threadTS
	return s.insertThreadLocked(userID, &ts)
}

func (s *InMemoryStore) insertThreadLocked(userID string, threadTS *string) (*models.Thread, undo, error) {
	if _, ok := s.users[userID]; !ok {
		return nil, nil, persistErr("insert thread", ErrNotFound)
	}
	id, err := newID()
	if err != nil {
		return nil, nil, err
	}
	now := s.now()
	t := &models.Thread{ID: id, UserID: userID, SlackThreadTS: threadTS, CreatedAt: now, UpdatedAt: now}
	s.threads[id] = t
	return cloneThread(t), func() { delete(s.threads, id) }, nil
}

func (s *InMemoryStore) GetThread(ctx context.Context, id, ownerID string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok || t.UserID != ownerID {
		return nil, ErrNotFound
	}
	return cloneThread(t), nil
}

func (s *InMemoryStore) ListThreads(ctx context.Context, ownerID string) ([]*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Thread
	for _, t := range s.threads {
		if t.UserID == ownerID {
			out = append(out, cloneThread(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *InMemoryStore) SetThreadSummary(ctx context.Context, id, summary string, tags []string) error {
	_, err := s.setThreadSummary(id, summary, tags)
	return err
}

func (s *InMemoryStore) setThreadSummary(id, summary string, tags []string) (undo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	prev := cloneThread(t)
	if t.Summary == nil {
		t.Summary = &summary
	}
	if t.Tags == nil {
		t.Tags = append([]string{}, tags...)
	}
	t.UpdatedAt = s.now()
	return func() {
		t.Summary = prev.Summary
		t.Tags = prev.Tags
		t.UpdatedAt = prev.UpdatedAt
	}, nil
}

func (s *InMemoryStore) InsertMessage(ctx context.Context, m *models.Message) error {
	_, err := s.insertMessage(m)
	return err
}

func (s *InMemoryStore) insertMessage(m *models.Message) (undo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[m.ThreadID]; !ok {
		return nil, persistErr("insert message", ErrNotFound)
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	m.ID = id
	m.CreatedAt = s.now()
	threadID := m.ThreadID
	s.messages[threadID] = append(s.messages[threadID], cloneMessage(m))
	return func() {
		msgs := s.messages[threadID]
		for i, existing := range msgs {
			if existing.ID == id {
				s.messages[threadID] = append(msgs[:i:i], msgs[i+1:]...)
				break
			}
		}
		if len(s.messages[threadID]) == 0 {
			delete(s.messages, threadID)
		}
	}, nil
}

func (s *InMemoryStore) ListMessages(ctx context.Context, threadID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[threadID]
	out := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, cloneMessage(m))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx := &memoryTx{InMemoryStore: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// memoryTx is the transactional view handed to WithTx callbacks. Reads go
// straight to the store; writes are applied immediately and logged.
type memoryTx struct {
	*InMemoryStore
	mu  sync.Mutex
	log []undo
}

func (tx *memoryTx) record(u undo, err error) error {
	if err != nil {
		return err
	}
	tx.mu.Lock()
	tx.log = append(tx.log, u)
	tx.mu.Unlock()
	return nil
}

func (tx *memoryTx) rollback() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.InMemoryStore.mu.Lock()
	defer tx.InMemoryStore.mu.Unlock()
	for i := len(tx.log) - 1; i >= 0; i-- {
		tx.log[i]()
	}
	tx.log = nil
}

func (tx *memoryTx) UpsertUser(ctx context.Context, u *models.User) error {
	return tx.record(tx.upsertUser(u))
}

func (tx *memoryTx) CreateThread(ctx context.Context, userID string) (*models.Thread, error) {
	t, u, err := tx.createThread(userID)
	return t, tx.record(u, err)
}

func (tx *memoryTx) UpsertSlackThread(ctx context.Context, userID, threadTS string) (*models.Thread, error) {
	t, u, err := tx.upsertSlackThread(userID, threadTS)
	return t, tx.record(u, err)
}

func (tx *memoryTx) SetThreadSummary(ctx context.Context, id, summary string, tags []string) error {
	return tx.record(tx.setThreadSummary(id, summary, tags))
}

func (tx *memoryTx) InsertMessage(ctx context.Context, m *models.Message) error {
	return tx.record(tx.insertMessage(m))
}

// WithTx joins the enclosing transaction
func (tx *memoryTx) WithTx(ctx context.Context, fn func(Store) error) error {
	return fn(tx)
}

func cloneThread(t *models.Thread) *models.Thread {
	c := *t
	if t.SlackThreadTS != nil {
		ts := *t.SlackThreadTS
		c.SlackThreadTS = &ts
	}
	if t.Summary != nil {
		s := *t.Summary
		c.Summary = &s
	}
	if t.Tags != nil {
		c.Tags = append([]string{}, t.Tags...)
	}
	return &c
}

func cloneMessage(m *models.Message) *models.Message {
	c := *m
	c.Content = append([]models.MessageChunk(nil), m.Content...)
	return &c
}
