package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists entities as JSONB documents in security_entities
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{pool: db.Pool}
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	query := `
		SELECT data
		FROM security_entities
		WHERE collection = $1 AND id = $2
	`

	var data []byte
	if err := s.pool.QueryRow(ctx, query, collection, id).Scan(&data); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return data, nil
}

func (s *PostgresStore) Put(ctx context.Context, collection, id string, data []byte) error {
	query := `
		INSERT INTO security_entities (collection, id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = CURRENT_TIMESTAMP
	`

	if _, err := s.pool.Exec(ctx, query, collection, id, data); err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", collection, id, database.MapPostgresError(err))
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	query := `
		DELETE FROM security_entities
		WHERE collection = $1 AND id = $2
	`

	result, err := s.pool.Exec(ctx, query, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, models.ErrNotFound)
	}
	return nil
}
