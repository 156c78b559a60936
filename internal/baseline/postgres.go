package baseline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore implements Store backed by PostgreSQL. Feature statistics
// are stored as a JSONB document so adding a feature does not need a
// schema change.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres-backed baseline store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*UserBaseline, error) {
	b := &UserBaseline{UserID: userID}
	var featuresJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT features, sample_count, established, updated_at
		FROM user_baselines
		WHERE user_id = $1
	`, userID).Scan(&featuresJSON, &b.SampleCount, &b.Established, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(featuresJSON, &b.Features); err != nil {
		return nil, fmt.Errorf("decode features for %s: %w", userID, err)
	}
	return b, nil
}

func (s *PostgresStore) Save(ctx context.Context, b *UserBaseline) error {
	featuresJSON, err := json.Marshal(b.Features)
	if err != nil {
		return fmt.Errorf("encode features for %s: %w", b.UserID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_baselines (user_id, features, sample_count, established, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			features     = EXCLUDED.features,
			sample_count = EXCLUDED.sample_count,
			established  = EXCLUDED.established,
			updated_at   = EXCLUDED.updated_at
	`, b.UserID, featuresJSON, b.SampleCount, b.Established, b.UpdatedAt)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM user_baselines WHERE user_id = $1
	`, userID)
	return err
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_baselines
	`).Scan(&n)
	return n, err
}
