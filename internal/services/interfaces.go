package services

import (
	"context"
	"time"

	"github.com/agamariel/gopayout/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerStorage определяет интерфейс хранилища балансов, резервов и истории.
// Все изменения баланса выполняются через compare-and-swap по UserBalance.Version.
type LedgerStorage interface {
	GetBalance(ctx context.Context, userID uuid.UUID, currency string) (*models.UserBalance, error)
	ListBalances(ctx context.Context, userID uuid.UUID) ([]*models.UserBalance, error)
	SaveBalance(ctx context.Context, balance *models.UserBalance) error
	CreateHold(ctx context.Context, balance *models.UserBalance, hold *models.BalanceHold) error
	ReleaseHold(ctx context.Context, balance *models.UserBalance, holdID uuid.UUID, reason string) error
	GetActiveHold(ctx context.Context, userID, reference uuid.UUID) (*models.BalanceHold, error)
	CreateRefund(ctx context.Context, refund *models.Refund) error
	UpdateRefundStatus(ctx context.Context, id uuid.UUID, status models.RefundStatus) error
	AppendTransaction(ctx context.Context, tx *models.Transaction) error
}

// WithdrawalStorage определяет интерфейс для работы с выводами.
type WithdrawalStorage interface {
	Create(ctx context.Context, withdrawal *models.Withdrawal) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error)
	GetByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.Withdrawal, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Withdrawal, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.WithdrawalStatus, reason *string) error
	ListByStatusBefore(ctx context.Context, status models.WithdrawalStatus, before time.Time, limit int) ([]*models.Withdrawal, error)
}

// AuditStorage определяет интерфейс журнала аудита.
type AuditStorage interface {
	Append(ctx context.Context, entry *models.AuditLogEntry) error
	ListByWithdrawal(ctx context.Context, withdrawalID uuid.UUID) ([]*models.AuditLogEntry, error)
}

// BalanceLedger - операции над балансами, которыми пользуются саги.
type BalanceLedger interface {
	GetBalances(ctx context.Context, userID uuid.UUID, currency *string) ([]models.BalanceView, error)
	Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, currency, reference, description string) error
	Hold(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, currency string, reference uuid.UUID, description string) (*models.BalanceHold, error)
	Release(ctx context.Context, userID, reference uuid.UUID, reason string) error
	Debit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, currency string, reference uuid.UUID) error
	Refund(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, currency string, reference uuid.UUID) (*models.Refund, error)
}
