package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/agamariel/gopayout/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrBalanceNotFound = errors.New("balance not found")
	ErrHoldNotFound    = errors.New("active hold not found")
	ErrHoldExists      = errors.New("active hold already exists for reference")
	ErrVersionConflict = errors.New("balance version conflict")
	ErrRefundNotFound  = errors.New("refund not found")
)

const uniqueViolation = "23505"

// PostgresLedgerStorage реализует LedgerStorage для PostgreSQL.
type PostgresLedgerStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresLedgerStorage создаёт новый экземпляр PostgresLedgerStorage.
func NewPostgresLedgerStorage(pool *pgxpool.Pool) *PostgresLedgerStorage {
	return &PostgresLedgerStorage{pool: pool}
}

// GetBalance возвращает баланс пользователя в валюте.
func (s *PostgresLedgerStorage) GetBalance(ctx context.Context, userID uuid.UUID, currency string) (*models.UserBalance, error) {
	query := `
		SELECT user_id, currency, available, held, version, updated_at
		FROM user_balances
		WHERE user_id = $1 AND currency = $2
	`

	b := &models.UserBalance{}
	err := s.pool.QueryRow(ctx, query, userID, currency).Scan(
		&b.UserID, &b.Currency, &b.Available, &b.Held, &b.Version, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBalanceNotFound
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	return b, nil
}

// ListBalances возвращает все балансы пользователя, упорядоченные по валюте.
func (s *PostgresLedgerStorage) ListBalances(ctx context.Context, userID uuid.UUID) ([]*models.UserBalance, error) {
	query := `
		SELECT user_id, currency, available, held, version, updated_at
		FROM user_balances
		WHERE user_id = $1
		ORDER BY currency
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []*models.UserBalance
	for rows.Next() {
		var b models.UserBalance
		if err := rows.Scan(&b.UserID, &b.Currency, &b.Available, &b.Held, &b.Version, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, &b)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	return balances, nil
}

// SaveBalance записывает баланс, если версия в базе совпадает с balance.Version.
// Version == 0 означает, что строки ещё нет и её нужно создать.
func (s *PostgresLedgerStorage) SaveBalance(ctx context.Context, balance *models.UserBalance) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.casBalanceTx(ctx, tx, balance); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit balance: %w", err)
	}
	balance.Version++
	return nil
}

// CreateHold атомарно обновляет баланс и создаёт активный резерв.
func (s *PostgresLedgerStorage) CreateHold(ctx context.Context, balance *models.UserBalance, hold *models.BalanceHold) error {
	if hold.ID == uuid.Nil {
		hold.ID = uuid.New()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.casBalanceTx(ctx, tx, balance); err != nil {
		return err
	}

	query := `
		INSERT INTO balance_holds (id, user_id, currency, amount, status, reference, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, query,
		hold.ID,
		hold.UserID,
		hold.Currency,
		hold.Amount,
		models.HoldStatusActive,
		hold.Reference,
		hold.Description,
	).Scan(&hold.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrHoldExists
		}
		return fmt.Errorf("failed to create hold: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit hold: %w", err)
	}

	hold.Status = models.HoldStatusActive
	balance.Version++
	return nil
}

// ReleaseHold атомарно переводит резерв в RELEASED и записывает баланс.
// Если резерв уже освобождён, баланс не меняется и возвращается ErrHoldNotFound.
func (s *PostgresLedgerStorage) ReleaseHold(ctx context.Context, balance *models.UserBalance, holdID uuid.UUID, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE balance_holds
		SET status = $1, release_reason = $2, released_at = NOW()
		WHERE id = $3 AND status = $4
	`
	result, err := tx.Exec(ctx, query, models.HoldStatusReleased, reason, holdID, models.HoldStatusActive)
	if err != nil {
		return fmt.Errorf("failed to release hold: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrHoldNotFound
	}

	if err := s.casBalanceTx(ctx, tx, balance); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit hold release: %w", err)
	}

	balance.Version++
	return nil
}

// GetActiveHold возвращает активный резерв по ссылке на вывод.
func (s *PostgresLedgerStorage) GetActiveHold(ctx context.Context, userID, reference uuid.UUID) (*models.BalanceHold, error) {
	query := `
		SELECT id, user_id, currency, amount, status, reference, description, release_reason, created_at, released_at
		FROM balance_holds
		WHERE user_id = $1 AND reference = $2 AND status = $3
	`

	h := &models.BalanceHold{}
	err := s.pool.QueryRow(ctx, query, userID, reference, models.HoldStatusActive).Scan(
		&h.ID, &h.UserID, &h.Currency, &h.Amount, &h.Status, &h.Reference,
		&h.Description, &h.ReleaseReason, &h.CreatedAt, &h.ReleasedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHoldNotFound
		}
		return nil, fmt.Errorf("failed to get hold: %w", err)
	}

	return h, nil
}

// CreateRefund создаёт запись о возврате.
func (s *PostgresLedgerStorage) CreateRefund(ctx context.Context, refund *models.Refund) error {
	if refund.ID == uuid.Nil {
		refund.ID = uuid.New()
	}

	query := `
		INSERT INTO refunds (id, user_id, withdrawal_id, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := s.pool.QueryRow(ctx, query,
		refund.ID, refund.UserID, refund.WithdrawalID, refund.Amount, refund.Currency, refund.Status,
	).Scan(&refund.CreatedAt, &refund.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}

	return nil
}

// UpdateRefundStatus меняет статус возврата.
func (s *PostgresLedgerStorage) UpdateRefundStatus(ctx context.Context, id uuid.UUID, status models.RefundStatus) error {
	query := `UPDATE refunds SET status = $1, updated_at = NOW() WHERE id = $2`

	result, err := s.pool.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update refund: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrRefundNotFound
	}

	return nil
}

// AppendTransaction добавляет запись в историю движения средств.
func (s *PostgresLedgerStorage) AppendTransaction(ctx context.Context, t *models.Transaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	query := `
		INSERT INTO transactions (id, user_id, type, amount, currency, reference_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	_, err := s.pool.Exec(ctx, query, t.ID, t.UserID, t.Type, t.Amount, t.Currency, t.ReferenceID, t.Description)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	return nil
}

// casBalanceTx выполняет compare-and-swap строки баланса внутри транзакции.
func (s *PostgresLedgerStorage) casBalanceTx(ctx context.Context, tx pgx.Tx, b *models.UserBalance) error {
	if b.Version == 0 {
		query := `
			INSERT INTO user_balances (user_id, currency, available, held, version, updated_at)
			VALUES ($1, $2, $3, $4, 1, NOW())
			ON CONFLICT (user_id, currency) DO NOTHING
		`
		result, err := tx.Exec(ctx, query, b.UserID, b.Currency, b.Available, b.Held)
		if err != nil {
			return fmt.Errorf("failed to insert balance: %w", err)
		}
		if result.RowsAffected() == 0 {
			return ErrVersionConflict
		}
		return nil
	}

	query := `
		UPDATE user_balances
		SET available = $1, held = $2, version = version + 1, updated_at = NOW()
		WHERE user_id = $3 AND currency = $4 AND version = $5
	`
	result, err := tx.Exec(ctx, query, b.Available, b.Held, b.UserID, b.Currency, b.Version)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	return nil
}
