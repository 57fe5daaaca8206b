package storage

import (
	"context"
	"fmt"

	"github.com/agamariel/gopayout/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAuditStorage реализует AuditStorage для PostgreSQL. Записи только добавляются.
type PostgresAuditStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresAuditStorage создаёт новый экземпляр.
func NewPostgresAuditStorage(pool *pgxpool.Pool) *PostgresAuditStorage {
	return &PostgresAuditStorage{pool: pool}
}

// Append добавляет запись в журнал аудита.
func (s *PostgresAuditStorage) Append(ctx context.Context, e *models.AuditLogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	query := `
		INSERT INTO withdrawal_audit_logs (id, withdrawal_id, action, previous_status, new_status, reason, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at
	`
	err := s.pool.QueryRow(ctx, query,
		e.ID, e.WithdrawalID, e.Action, e.PreviousStatus, e.NewStatus, e.Reason, e.CorrelationID,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// ListByWithdrawal возвращает журнал по выводу в хронологическом порядке.
func (s *PostgresAuditStorage) ListByWithdrawal(ctx context.Context, withdrawalID uuid.UUID) ([]*models.AuditLogEntry, error) {
	query := `
		SELECT id, withdrawal_id, action, previous_status, new_status, reason, correlation_id, created_at
		FROM withdrawal_audit_logs
		WHERE withdrawal_id = $1
		ORDER BY created_at, id
	`

	rows, err := s.pool.Query(ctx, query, withdrawalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.WithdrawalID, &e.Action, &e.PreviousStatus, &e.NewStatus, &e.Reason, &e.CorrelationID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	return entries, nil
}
