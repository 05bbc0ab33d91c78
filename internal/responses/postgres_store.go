package responses

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Insert(ctx context.Context, r *Record) (string, error) {
	if r.ID == "" {
		id, err := newID()
		if err != nil {
			return "", err
		}
		r.ID = id
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO responses (id, input, output, vector)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, r.ID, []byte(r.Input), []byte(r.Output), pgvector.NewVector(r.Vector)).Scan(&r.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert response: %w", err)
	}
	return r.ID, nil
}

func (s *PostgresStore) UpdateSummary(ctx context.Context, id, summary string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	res, err := s.db.ExecContext(ctx, `UPDATE responses SET summary = $2, tags = $3 WHERE id = $1`, id, summary, pq.Array(tags))
	if err != nil {
		return fmt.Errorf("failed to update response summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update response summary: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindBestMatch ranks by cosine distance so the HNSW index can serve the
// ordering, then applies the threshold to the single nearest row.
func (s *PostgresStore) FindBestMatch(ctx context.Context, vector []float32, threshold float64) (*Match, error) {
	row := s.db.QueryRowContext(ctx, `
		WITH similarities AS (
			SELECT id, input, output, summary, tags, created_at,
			       1 - (vector <=> $1) AS similarity
			FROM responses
			WHERE vector_norm(vector) > 0
			ORDER BY vector <=> $1 ASC, created_at DESC
			LIMIT 1
		)
		SELECT id, input, output, summary, tags, created_at, similarity
		FROM similarities
		WHERE similarity > $2
	`, pgvector.NewVector(vector), threshold)

	var (
		m       Match
		input   []byte
		output  []byte
		summary sql.NullString
		tags    pq.StringArray
	)
	if err := row.Scan(&m.ID, &input, &output, &summary, &tags, &m.CreatedAt, &m.Similarity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query similar responses: %w", err)
	}

	m.Input = json.RawMessage(input)
	m.Output = json.RawMessage(output)
	if summary.Valid {
		m.Summary = &summary.String
	}
	if tags != nil {
		m.Tags = []string(tags)
	}
	return &m, nil
}
