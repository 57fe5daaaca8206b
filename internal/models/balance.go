package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UserBalance - баланс пользователя в одной валюте.
// Version увеличивается при каждой записи и используется для compare-and-swap.
type UserBalance struct {
	UserID    uuid.UUID       `db:"user_id"`
	Currency  string          `db:"currency"`
	Available decimal.Decimal `db:"available"`
	Held      decimal.Decimal `db:"held"`
	Version   int64           `db:"version"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// Total возвращает available + held.
func (b *UserBalance) Total() decimal.Decimal {
	return b.Available.Add(b.Held)
}

// HoldStatus описывает статус резервирования.
type HoldStatus string

const (
	HoldStatusActive   HoldStatus = "ACTIVE"
	HoldStatusReleased HoldStatus = "RELEASED"
)

// BalanceHold - резервирование средств под конкретный вывод.
type BalanceHold struct {
	ID            uuid.UUID       `db:"id"`
	UserID        uuid.UUID       `db:"user_id"`
	Currency      string          `db:"currency"`
	Amount        decimal.Decimal `db:"amount"`
	Status        HoldStatus      `db:"status"`
	Reference     uuid.UUID       `db:"reference"`
	Description   string          `db:"description"`
	ReleaseReason *string         `db:"release_reason"`
	CreatedAt     time.Time       `db:"created_at"`
	ReleasedAt    *time.Time      `db:"released_at"`
}

// TransactionType - тип движения средств в истории.
type TransactionType string

const (
	TransactionTypeDeposit TransactionType = "DEPOSIT"
	TransactionTypeDebit   TransactionType = "DEBIT"
	TransactionTypeRefund  TransactionType = "REFUND"
)

// Transaction - запись истории движения средств для сверки.
type Transaction struct {
	ID          uuid.UUID       `db:"id"`
	UserID      uuid.UUID       `db:"user_id"`
	Type        TransactionType `db:"type"`
	Amount      decimal.Decimal `db:"amount"`
	Currency    string          `db:"currency"`
	ReferenceID string          `db:"reference_id"`
	Description string          `db:"description"`
	CreatedAt   time.Time       `db:"created_at"`
}

// RefundStatus описывает статус возврата.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "PENDING"
	RefundStatusCompleted RefundStatus = "COMPLETED"
)

// Refund - возврат средств по неуспешному выводу.
type Refund struct {
	ID           uuid.UUID       `db:"id"`
	UserID       uuid.UUID       `db:"user_id"`
	WithdrawalID uuid.UUID       `db:"withdrawal_id"`
	Amount       decimal.Decimal `db:"amount"`
	Currency     string          `db:"currency"`
	Status       RefundStatus    `db:"status"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

// BalanceView - ответ с балансом по валюте.
type BalanceView struct {
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Held      decimal.Decimal `json:"held"`
}

// DepositRequest DTO для пополнения баланса.
type DepositRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference"`
}
