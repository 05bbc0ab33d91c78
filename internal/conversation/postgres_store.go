package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/askbot/pkg/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db *sql.DB
	q  querier
	tx bool
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db, q: db} }

const userColumns = `id, name, email, first_name, last_name, real_name, display_name, slack_user_id, slack_team_id, created_at, updated_at`

func (s *PostgresStore) FindSlackUser(ctx context.Context, teamID, slackUserID string) (*models.User, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE slack_team_id = $1 AND slack_user_id = $2`, teamID, slackUserID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (s *PostgresStore) UpsertUser(ctx context.Context, u *models.User) error {
	id, err := newID()
	if err != nil {
		return err
	}
	err = s.q.QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, first_name, last_name, real_name, display_name, slack_user_id, slack_team_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (slack_team_id, slack_user_id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			real_name = EXCLUDED.real_name,
			display_name = EXCLUDED.display_name,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, id, u.Name, u.Email, u.FirstName, u.LastName, u.RealName, u.DisplayName, u.SlackUserID, u.SlackTeamID).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return persistErr("upsert user", err)
	}
	return nil
}

const threadColumns = `id, user_id, slack_thread_ts, summary, tags, created_at, updated_at`

func (s *PostgresStore) CreateThread(ctx context.Context, userID string) (*models.Thread, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	row := s.q.QueryRowContext(ctx, `INSERT INTO threads (id, user_id) VALUES ($1, $2) RETURNING `+threadColumns, id, userID)
	t, err := scanThread(row)
	if err != nil {
		return nil, persistErr("create thread", err)
	}
	return t, nil
}

func (s *PostgresStore) UpsertSlackThread(ctx context.Context, userID, threadTS string) (*models.Thread, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	row := s.q.QueryRowContext(ctx, `
		INSERT INTO threads (id, user_id, slack_thread_ts)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, slack_thread_ts) WHERE slack_thread_ts IS NOT NULL
		DO UPDATE SET updated_at = NOW()
		RETURNING `+threadColumns, id, userID, threadTS)
	t, err := scanThread(row)
	if err != nil {
		return nil, persistErr("upsert slack thread", err)
	}
	return t, nil
}

func (s *PostgresStore) GetThread(ctx context.Context, id, ownerID string) (*models.Thread, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = $1 AND user_id = $2`, id, ownerID)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListThreads(ctx context.Context, ownerID string) ([]*models.Thread, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+threadColumns+` FROM threads WHERE user_id = $1 ORDER BY id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var out []*models.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetThreadSummary(ctx context.Context, id, summary string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE threads
		SET summary = COALESCE(summary, $2), tags = COALESCE(tags, $3), updated_at = NOW()
		WHERE id = $1
	`, id, summary, pq.Array(tags))
	if err != nil {
		return persistErr("set thread summary", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, m *models.Message) error {
	id, err := newID()
	if err != nil {
		return err
	}
	content, err := json.Marshal(m.Content)
	if err != nil {
		return persistErr("encode message content", err)
	}
	err = s.q.QueryRowContext(ctx, `
		INSERT INTO messages (id, thread_id, type, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, id, m.ThreadID, string(m.Type), content).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return persistErr("insert message", err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, threadID string) ([]*models.Message, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, thread_id, type, content, created_at FROM messages WHERE thread_id = $1 ORDER BY id`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var (
			m       models.Message
			typ     string
			content []byte
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &typ, &content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Type = models.Role(typ)
		if err := json.Unmarshal(content, &m.Content); err != nil {
			return nil, fmt.Errorf("failed to decode message %s: %w", m.ID, err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.tx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin transaction", err)
	}

	if err := fn(&PostgresStore{db: s.db, q: tx, tx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return persistErr("commit transaction", err)
	}
	return nil
}

func scanUser(scanner interface{ Scan(dest ...any) error }) (*models.User, error) {
	var u models.User
	var name, email, first, last, realName, display sql.NullString
	if err := scanner.Scan(&u.ID, &name, &email, &first, &last, &realName, &display, &u.SlackUserID, &u.SlackTeamID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Name = nullString(name)
	u.Email = nullString(email)
	u.FirstName = nullString(first)
	u.LastName = nullString(last)
	u.RealName = nullString(realName)
	u.DisplayName = nullString(display)
	return &u, nil
}

func scanThread(scanner interface{ Scan(dest ...any) error }) (*models.Thread, error) {
	var t models.Thread
	var ts, summary sql.NullString
	var tags pq.StringArray
	if err := scanner.Scan(&t.ID, &t.UserID, &ts, &summary, &tags, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.SlackThreadTS = nullString(ts)
	t.Summary = nullString(summary)
	if tags != nil {
		t.Tags = []string(tags)
	}
	return &t, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
