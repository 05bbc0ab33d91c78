// Package conversation persists users, threads and their messages.
package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/askbot/pkg/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrPersistence wraps failed writes of users, threads or messages
	ErrPersistence = errors.New("persistence failed")
)

type Store interface {
	// FindSlackUser returns the user with the Slack natural key
	FindSlackUser(ctx context.Context, teamID, slackUserID string) (*models.User, error)
	// UpsertUser inserts u or refreshes the profile of the user with the same
	// Slack natural key. u.ID and timestamps are set from the stored row.
	UpsertUser(ctx context.Context, u *models.User) error

	// CreateThread starts a web thread owned by userID
	CreateThread(ctx context.Context, userID string) (*models.Thread, error)
	// UpsertSlackThread returns the thread for (userID, threadTS), creating
	// it on first use. Concurrent first messages converge on one row.
	UpsertSlackThread(ctx context.Context, userID, threadTS string) (*models.Thread, error)
	// GetThread returns the thread if it is owned by ownerID
	GetThread(ctx context.Context, id, ownerID string) (*models.Thread, error)
	// ListThreads returns the owner's threads, newest first
	ListThreads(ctx context.Context, ownerID string) ([]*models.Thread, error)
	// SetThreadSummary fills summary and tags only where they are still unset
	SetThreadSummary(ctx context.Context, id, summary string, tags []string) error

	// InsertMessage appends m to its thread, assigning a time-ordered id
	InsertMessage(ctx context.Context, m *models.Message) error
	// ListMessages returns the thread's messages in id order
	ListMessages(ctx context.Context, threadID string) ([]*models.Message, error)

	// WithTx runs fn against a transactional view of the store. Any error
	// returned by fn rolls back every write made through it.
	WithTx(ctx context.Context, fn func(Store) error) error
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("%w: generate id: %w", ErrPersistence, err)
	}
	return id.String(), nil
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
