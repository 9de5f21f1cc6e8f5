package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogRepository persists audit entries to the audit_log table
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

func scanAuditLogRow(row rowScanner) (*models.AuditLogEntry, error) {
	var entry models.AuditLogEntry
	if err := row.Scan(&entry.ID, &entry.Event, &entry.Data, &entry.Timestamp); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &entry, nil
}

func scanAuditLogRows(rows pgx.Rows) ([]*models.AuditLogEntry, error) {
	defer rows.Close()

	entries := make([]*models.AuditLogEntry, 0)
	for rows.Next() {
		entry, err := scanAuditLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}
	return entries, nil
}

// Write inserts one audit entry. Entries are immutable; a duplicate ID is
// ignored.
func (r *AuditLogRepository) Write(ctx context.Context, entry *models.AuditLogEntry) error {
	query := `
		INSERT INTO audit_log (id, event, data, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, query, entry.ID, entry.Event, entry.Data, entry.Timestamp); err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// Recent returns the newest entries, optionally filtered by event
func (r *AuditLogRepository) Recent(ctx context.Context, event string, limit int) ([]*models.AuditLogEntry, error) {
	query := `
		SELECT id, event, data, created_at
		FROM audit_log
		WHERE $1 = '' OR event = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, event, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	return scanAuditLogRows(rows)
}

// Cleanup removes audit entries older than the cutoff
func (r *AuditLogRepository) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		DELETE FROM audit_log
		WHERE created_at < $1
	`

	result, err := r.pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}
	return result.RowsAffected(), nil
}
