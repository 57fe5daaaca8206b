package storage

import (
	"context"
	"time"

	"github.com/agamariel/gopayout/internal/models"
	"github.com/google/uuid"
)

// MockWithdrawalStorage - мок для тестов. Незаданные функции делегируются
// в Fallback, если он указан.
type MockWithdrawalStorage struct {
	Fallback *MemoryStorage

	CreateFunc              func(ctx context.Context, w *models.Withdrawal) error
	GetByIDFunc             func(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error)
	GetByIdempotencyKeyFunc func(ctx context.Context, userID uuid.UUID, key string) (*models.Withdrawal, error)
	GetByUserIDFunc         func(ctx context.Context, userID uuid.UUID) ([]*models.Withdrawal, error)
	UpdateStatusFunc        func(ctx context.Context, id uuid.UUID, from, to models.WithdrawalStatus, reason *string) error
	ListByStatusBeforeFunc  func(ctx context.Context, status models.WithdrawalStatus, before time.Time, limit int) ([]*models.Withdrawal, error)
}

func (m *MockWithdrawalStorage) Create(ctx context.Context, w *models.Withdrawal) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, w)
	}
	if m.Fallback != nil {
		return m.Fallback.Create(ctx, w)
	}
	return nil
}

func (m *MockWithdrawalStorage) GetByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	if m.Fallback != nil {
		return m.Fallback.GetByID(ctx, id)
	}
	return nil, ErrWithdrawalNotFound
}

func (m *MockWithdrawalStorage) GetByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.Withdrawal, error) {
	if m.GetByIdempotencyKeyFunc != nil {
		return m.GetByIdempotencyKeyFunc(ctx, userID, key)
	}
	if m.Fallback != nil {
		return m.Fallback.GetByIdempotencyKey(ctx, userID, key)
	}
	return nil, ErrWithdrawalNotFound
}

func (m *MockWithdrawalStorage) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Withdrawal, error) {
	if m.GetByUserIDFunc != nil {
		return m.GetByUserIDFunc(ctx, userID)
	}
	if m.Fallback != nil {
		return m.Fallback.GetByUserID(ctx, userID)
	}
	return []*models.Withdrawal{}, nil
}

func (m *MockWithdrawalStorage) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.WithdrawalStatus, reason *string) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, from, to, reason)
	}
	if m.Fallback != nil {
		return m.Fallback.UpdateStatus(ctx, id, from, to, reason)
	}
	return nil
}

func (m *MockWithdrawalStorage) ListByStatusBefore(ctx context.Context, status models.WithdrawalStatus, before time.Time, limit int) ([]*models.Withdrawal, error) {
	if m.ListByStatusBeforeFunc != nil {
		return m.ListByStatusBeforeFunc(ctx, status, before, limit)
	}
	if m.Fallback != nil {
		return m.Fallback.ListByStatusBefore(ctx, status, before, limit)
	}
	return []*models.Withdrawal{}, nil
}
