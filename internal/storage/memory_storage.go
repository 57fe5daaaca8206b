package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agamariel/gopayout/internal/models"
	"github.com/google/uuid"
)

type balanceKey struct {
	userID   uuid.UUID
	currency string
}

// MemoryStorage - потокобезопасное хранилище в памяти. Реализует те же контракты,
// что и Postgres-хранилища (включая compare-and-swap по версии баланса),
// и используется при запуске без DATABASE_URI и в тестах.
type MemoryStorage struct {
	mu sync.Mutex

	balances     map[balanceKey]models.UserBalance
	holds        map[uuid.UUID]models.BalanceHold
	refunds      map[uuid.UUID]models.Refund
	transactions []models.Transaction
	withdrawals  map[uuid.UUID]models.Withdrawal
	audit        []models.AuditLogEntry

	now func() time.Time
}

// NewMemoryStorage создаёт пустое хранилище.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		balances:    make(map[balanceKey]models.UserBalance),
		holds:       make(map[uuid.UUID]models.BalanceHold),
		refunds:     make(map[uuid.UUID]models.Refund),
		withdrawals: make(map[uuid.UUID]models.Withdrawal),
		now:         time.Now,
	}
}

// SetClock подменяет источник времени (для тестов сверки).
func (s *MemoryStorage) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// --- балансы ---

func (s *MemoryStorage) GetBalance(_ context.Context, userID uuid.UUID, currency string) (*models.UserBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[balanceKey{userID, currency}]
	if !ok {
		return nil, ErrBalanceNotFound
	}
	return &b, nil
}

func (s *MemoryStorage) ListBalances(_ context.Context, userID uuid.UUID) ([]*models.UserBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []*models.UserBalance
	for k, b := range s.balances {
		if k.userID == userID {
			b := b
			list = append(list, &b)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Currency < list[j].Currency })
	return list, nil
}

func (s *MemoryStorage) SaveBalance(_ context.Context, balance *models.UserBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersionLocked(balance); err != nil {
		return err
	}
	s.writeBalanceLocked(balance)
	return nil
}

func (s *MemoryStorage) CreateHold(_ context.Context, balance *models.UserBalance, hold *models.BalanceHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersionLocked(balance); err != nil {
		return err
	}
	for _, h := range s.holds {
		if h.Reference == hold.Reference && h.Status == models.HoldStatusActive {
			return ErrHoldExists
		}
	}

	if hold.ID == uuid.Nil {
		hold.ID = uuid.New()
	}
	hold.Status = models.HoldStatusActive
	hold.CreatedAt = s.now()
	s.holds[hold.ID] = *hold
	s.writeBalanceLocked(balance)
	return nil
}

func (s *MemoryStorage) ReleaseHold(_ context.Context, balance *models.UserBalance, holdID uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holds[holdID]
	if !ok || h.Status != models.HoldStatusActive {
		return ErrHoldNotFound
	}
	if err := s.checkVersionLocked(balance); err != nil {
		return err
	}

	now := s.now()
	h.Status = models.HoldStatusReleased
	h.ReleaseReason = &reason
	h.ReleasedAt = &now
	s.holds[holdID] = h
	s.writeBalanceLocked(balance)
	return nil
}

func (s *MemoryStorage) GetActiveHold(_ context.Context, userID, reference uuid.UUID) (*models.BalanceHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.holds {
		if h.UserID == userID && h.Reference == reference && h.Status == models.HoldStatusActive {
			h := h
			return &h, nil
		}
	}
	return nil, ErrHoldNotFound
}

// Holds возвращает все резервы пользователя (для тестов и диагностики).
func (s *MemoryStorage) Holds(userID uuid.UUID) []models.BalanceHold {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []models.BalanceHold
	for _, h := range s.holds {
		if h.UserID == userID {
			list = append(list, h)
		}
	}
	return list
}

func (s *MemoryStorage) CreateRefund(_ context.Context, refund *models.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if refund.ID == uuid.Nil {
		refund.ID = uuid.New()
	}
	refund.CreatedAt = s.now()
	refund.UpdatedAt = refund.CreatedAt
	s.refunds[refund.ID] = *refund
	return nil
}

func (s *MemoryStorage) UpdateRefundStatus(_ context.Context, id uuid.UUID, status models.RefundStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.refunds[id]
	if !ok {
		return ErrRefundNotFound
	}
	r.Status = status
	r.UpdatedAt = s.now()
	s.refunds[id] = r
	return nil
}

// Refunds возвращает записи о возвратах пользователя.
func (s *MemoryStorage) Refunds(userID uuid.UUID) []models.Refund {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []models.Refund
	for _, r := range s.refunds {
		if r.UserID == userID {
			list = append(list, r)
		}
	}
	return list
}

func (s *MemoryStorage) AppendTransaction(_ context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = s.now()
	s.transactions = append(s.transactions, *t)
	return nil
}

// Transactions возвращает историю движения средств пользователя.
func (s *MemoryStorage) Transactions(userID uuid.UUID) []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []models.Transaction
	for _, t := range s.transactions {
		if t.UserID == userID {
			list = append(list, t)
		}
	}
	return list
}

func (s *MemoryStorage) checkVersionLocked(b *models.UserBalance) error {
	current, ok := s.balances[balanceKey{b.UserID, b.Currency}]
	if b.Version == 0 {
		if ok {
			return ErrVersionConflict
		}
		return nil
	}
	if !ok || current.Version != b.Version {
		return ErrVersionConflict
	}
	return nil
}

func (s *MemoryStorage) writeBalanceLocked(b *models.UserBalance) {
	b.Version++
	b.UpdatedAt = s.now()
	s.balances[balanceKey{b.UserID, b.Currency}] = *b
}

// --- выводы ---

func (s *MemoryStorage) Create(_ context.Context, w *models.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.IdempotencyKey != nil {
		for _, existing := range s.withdrawals {
			if existing.UserID == w.UserID && existing.IdempotencyKey != nil && *existing.IdempotencyKey == *w.IdempotencyKey {
				return ErrIdempotencyKeyExists
			}
		}
	}

	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	w.CreatedAt = s.now()
	w.UpdatedAt = w.CreatedAt
	s.withdrawals[w.ID] = *w
	return nil
}

func (s *MemoryStorage) GetByID(_ context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[id]
	if !ok {
		return nil, ErrWithdrawalNotFound
	}
	return &w, nil
}

func (s *MemoryStorage) GetByIdempotencyKey(_ context.Context, userID uuid.UUID, key string) (*models.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.withdrawals {
		if w.UserID == userID && w.IdempotencyKey != nil && *w.IdempotencyKey == key {
			w := w
			return &w, nil
		}
	}
	return nil, ErrWithdrawalNotFound
}

func (s *MemoryStorage) GetByUserID(_ context.Context, userID uuid.UUID) ([]*models.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []*models.Withdrawal
	for _, w := range s.withdrawals {
		if w.UserID == userID {
			w := w
			list = append(list, &w)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (s *MemoryStorage) ListByStatusBefore(_ context.Context, status models.WithdrawalStatus, before time.Time, limit int) ([]*models.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []*models.Withdrawal
	for _, w := range s.withdrawals {
		if w.Status == status && w.CreatedAt.Before(before) {
			w := w
			list = append(list, &w)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (s *MemoryStorage) UpdateStatus(_ context.Context, id uuid.UUID, from, to models.WithdrawalStatus, reason *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[id]
	if !ok {
		return ErrWithdrawalNotFound
	}
	if w.Status != from {
		return ErrStatusConflict
	}

	w.Status = to
	if reason != nil {
		r := *reason
		w.Reason = &r
	}
	w.UpdatedAt = s.now()
	s.withdrawals[id] = w
	return nil
}

// --- аудит ---

func (s *MemoryStorage) Append(_ context.Context, e *models.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = s.now()
	s.audit = append(s.audit, *e)
	return nil
}

func (s *MemoryStorage) ListByWithdrawal(_ context.Context, withdrawalID uuid.UUID) ([]*models.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []*models.AuditLogEntry
	for _, e := range s.audit {
		if e.WithdrawalID == withdrawalID {
			e := e
			list = append(list, &e)
		}
	}
	return list, nil
}
