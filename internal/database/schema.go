package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrSchemaMismatch is returned when an existing table disagrees with the
// configuration, such as a vector column of another dimension
var ErrSchemaMismatch = errors.New("database schema does not match configuration")

// Schema returns the DDL for the tables the stores read and write.
// Migrations are managed outside this service; the DDL documents the row
// shapes and bootstraps integration test databases.
func Schema(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS responses (
	id uuid PRIMARY KEY,
	input jsonb NOT NULL,
	output jsonb NOT NULL,
	vector vector(%d) NOT NULL,
	summary text,
	tags text[],
	created_at timestamp NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS responses_vector_cosine_idx ON responses USING hnsw (vector vector_cosine_ops);

CREATE TABLE IF NOT EXISTS users (
	id uuid PRIMARY KEY,
	name text,
	email text,
	first_name text,
	last_name text,
	real_name text,
	display_name text,
	slack_user_id text NOT NULL,
	slack_team_id text NOT NULL,
	created_at timestamp NOT NULL DEFAULT now(),
	updated_at timestamp NOT NULL DEFAULT now(),
	UNIQUE (slack_team_id, slack_user_id)
);

CREATE TABLE IF NOT EXISTS threads (
	id uuid PRIMARY KEY,
	user_id uuid NOT NULL REFERENCES users(id) ON UPDATE CASCADE ON DELETE CASCADE,
	slack_thread_ts text,
	summary text,
	tags text[],
	created_at timestamp NOT NULL DEFAULT now(),
	updated_at timestamp NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS threads_user_id_idx ON threads (user_id);
CREATE UNIQUE INDEX IF NOT EXISTS threads_user_id_slack_thread_ts_idx ON threads (user_id, slack_thread_ts) WHERE slack_thread_ts IS NOT NULL;

CREATE TABLE IF NOT EXISTS messages (
	id uuid PRIMARY KEY,
	thread_id uuid NOT NULL REFERENCES threads(id) ON UPDATE CASCADE ON DELETE CASCADE,
	type text NOT NULL,
	content jsonb NOT NULL,
	created_at timestamp NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS messages_thread_id_idx ON messages (thread_id);

CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id text PRIMARY KEY,
	state jsonb NOT NULL,
	next_node text NOT NULL,
	updated_at timestamp NOT NULL DEFAULT now()
);
`, dimensions)
}

// Bootstrap applies Schema to db and fails when the responses table was
// created for a different embedding dimension
func Bootstrap(ctx context.Context, db *sql.DB, dimensions int) error {
	if _, err := db.ExecContext(ctx, Schema(dimensions)); err != nil {
		return fmt.Errorf("failed to bootstrap schema: %w", err)
	}

	var columnType string
	err := db.QueryRowContext(ctx, `
		SELECT format_type(a.atttypid, a.atttypmod)
		FROM pg_attribute a
		WHERE a.attrelid = 'responses'::regclass
		  AND a.attname = 'vector'
		  AND NOT a.attisdropped
	`).Scan(&columnType)
	if err != nil {
		return fmt.Errorf("failed to inspect responses.vector: %w", err)
	}
	return checkVectorType(columnType, dimensions)
}

func checkVectorType(columnType string, dimensions int) error {
	if want := fmt.Sprintf("vector(%d)", dimensions); columnType != want {
		return fmt.Errorf("%w: responses.vector is %s, embedding.dimensions wants %s", ErrSchemaMismatch, columnType, want)
	}
	return nil
}
