package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agamariel/gopayout/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrWithdrawalNotFound   = errors.New("withdrawal not found")
	ErrIdempotencyKeyExists = errors.New("withdrawal with idempotency key already exists")
	ErrStatusConflict       = errors.New("withdrawal status changed concurrently")
)

const withdrawalColumns = `id, user_id, amount, currency, destination, status, reason, idempotency_key, correlation_id, created_at, updated_at`

// PostgresWithdrawalStorage реализует WithdrawalStorage для PostgreSQL.
type PostgresWithdrawalStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresWithdrawalStorage создаёт новый экземпляр.
func NewPostgresWithdrawalStorage(pool *pgxpool.Pool) *PostgresWithdrawalStorage {
	return &PostgresWithdrawalStorage{pool: pool}
}

// Create сохраняет новый вывод.
func (s *PostgresWithdrawalStorage) Create(ctx context.Context, w *models.Withdrawal) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}

	query := `
		INSERT INTO withdrawals (` + withdrawalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := s.pool.QueryRow(ctx, query,
		w.ID,
		w.UserID,
		w.Amount,
		w.Currency,
		w.Destination,
		w.Status,
		w.Reason,
		w.IdempotencyKey,
		w.CorrelationID,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrIdempotencyKeyExists
		}
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}

	return nil
}

// GetByID ищет вывод по ID.
func (s *PostgresWithdrawalStorage) GetByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE id = $1`
	return s.getOne(ctx, query, id)
}

// GetByIdempotencyKey ищет вывод пользователя по ключу идемпотентности.
func (s *PostgresWithdrawalStorage) GetByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE user_id = $1 AND idempotency_key = $2`
	return s.getOne(ctx, query, userID, key)
}

// GetByUserID возвращает выводы пользователя, новые первыми.
func (s *PostgresWithdrawalStorage) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE user_id = $1 ORDER BY created_at DESC`
	return s.getMany(ctx, query, userID)
}

// ListByStatusBefore возвращает выводы в статусе status, созданные раньше before.
func (s *PostgresWithdrawalStorage) ListByStatusBefore(ctx context.Context, status models.WithdrawalStatus, before time.Time, limit int) ([]*models.Withdrawal, error) {
	query := `
		SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`
	return s.getMany(ctx, query, status, before, limit)
}

// UpdateStatus меняет статус только если текущий статус равен from.
func (s *PostgresWithdrawalStorage) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.WithdrawalStatus, reason *string) error {
	query := `
		UPDATE withdrawals
		SET status = $1, reason = COALESCE($2, reason), updated_at = NOW()
		WHERE id = $3 AND status = $4
	`

	result, err := s.pool.Exec(ctx, query, to, reason, id, from)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal status: %w", err)
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM withdrawals WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check withdrawal: %w", err)
		}
		if !exists {
			return ErrWithdrawalNotFound
		}
		return ErrStatusConflict
	}

	return nil
}

func (s *PostgresWithdrawalStorage) getOne(ctx context.Context, query string, args ...any) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return w, nil
}

func (s *PostgresWithdrawalStorage) getMany(ctx context.Context, query string, args ...any) ([]*models.Withdrawal, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawals: %w", err)
	}
	defer rows.Close()

	var withdrawals []*models.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, w)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	return withdrawals, nil
}

func scanWithdrawal(row pgx.Row) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.Amount,
		&w.Currency,
		&w.Destination,
		&w.Status,
		&w.Reason,
		&w.IdempotencyKey,
		&w.CorrelationID,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
