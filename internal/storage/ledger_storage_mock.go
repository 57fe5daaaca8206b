package storage

import (
	"context"

	"github.com/agamariel/gopayout/internal/models"
	"github.com/google/uuid"
)

// MockLedgerStorage - мок хранилища балансов. Незаданные функции делегируются
// в Fallback, если он указан.
type MockLedgerStorage struct {
	Fallback *MemoryStorage

	GetBalanceFunc    func(ctx context.Context, userID uuid.UUID, currency string) (*models.UserBalance, error)
	SaveBalanceFunc   func(ctx context.Context, balance *models.UserBalance) error
	CreateHoldFunc    func(ctx context.Context, balance *models.UserBalance, hold *models.BalanceHold) error
	ReleaseHoldFunc   func(ctx context.Context, balance *models.UserBalance, holdID uuid.UUID, reason string) error
	GetActiveHoldFunc func(ctx context.Context, userID, reference uuid.UUID) (*models.BalanceHold, error)
	AppendTxFunc      func(ctx context.Context, t *models.Transaction) error
}

func (m *MockLedgerStorage) GetBalance(ctx context.Context, userID uuid.UUID, currency string) (*models.UserBalance, error) {
	if m.GetBalanceFunc != nil {
		return m.GetBalanceFunc(ctx, userID, currency)
	}
	if m.Fallback != nil {
		return m.Fallback.GetBalance(ctx, userID, currency)
	}
	return nil, ErrBalanceNotFound
}

func (m *MockLedgerStorage) ListBalances(ctx context.Context, userID uuid.UUID) ([]*models.UserBalance, error) {
	if m.Fallback != nil {
		return m.Fallback.ListBalances(ctx, userID)
	}
	return []*models.UserBalance{}, nil
}

func (m *MockLedgerStorage) SaveBalance(ctx context.Context, balance *models.UserBalance) error {
	if m.SaveBalanceFunc != nil {
		return m.SaveBalanceFunc(ctx, balance)
	}
	if m.Fallback != nil {
		return m.Fallback.SaveBalance(ctx, balance)
	}
	return nil
}

func (m *MockLedgerStorage) CreateHold(ctx context.Context, balance *models.UserBalance, hold *models.BalanceHold) error {
	if m.CreateHoldFunc != nil {
		return m.CreateHoldFunc(ctx, balance, hold)
	}
	if m.Fallback != nil {
		return m.Fallback.CreateHold(ctx, balance, hold)
	}
	return nil
}

func (m *MockLedgerStorage) ReleaseHold(ctx context.Context, balance *models.UserBalance, holdID uuid.UUID, reason string) error {
	if m.ReleaseHoldFunc != nil {
		return m.ReleaseHoldFunc(ctx, balance, holdID, reason)
	}
	if m.Fallback != nil {
		return m.Fallback.ReleaseHold(ctx, balance, holdID, reason)
	}
	return nil
}

func (m *MockLedgerStorage) GetActiveHold(ctx context.Context, userID, reference uuid.UUID) (*models.BalanceHold, error) {
	if m.GetActiveHoldFunc != nil {
		return m.GetActiveHoldFunc(ctx, userID, reference)
	}
	if m.Fallback != nil {
		return m.Fallback.GetActiveHold(ctx, userID, reference)
	}
	return nil, ErrHoldNotFound
}

func (m *MockLedgerStorage) CreateRefund(ctx context.Context, refund *models.Refund) error {
	if m.Fallback != nil {
		return m.Fallback.CreateRefund(ctx, refund)
	}
	return nil
}

func (m *MockLedgerStorage) UpdateRefundStatus(ctx context.Context, id uuid.UUID, status models.RefundStatus) error {
	if m.Fallback != nil {
		return m.Fallback.UpdateRefundStatus(ctx, id, status)
	}
	return nil
}

func (m *MockLedgerStorage) AppendTransaction(ctx context.Context, t *models.Transaction) error {
	if m.AppendTxFunc != nil {
		return m.AppendTxFunc(ctx, t)
	}
	if m.Fallback != nil {
		return m.Fallback.AppendTransaction(ctx, t)
	}
	return nil
}

// MockAuditStorage - мок журнала аудита.
type MockAuditStorage struct {
	AppendFunc func(ctx context.Context, e *models.AuditLogEntry) error
}

func (m *MockAuditStorage) Append(ctx context.Context, e *models.AuditLogEntry) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, e)
	}
	return nil
}

func (m *MockAuditStorage) ListByWithdrawal(context.Context, uuid.UUID) ([]*models.AuditLogEntry, error) {
	return []*models.AuditLogEntry{}, nil
}
