package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalStatus описывает статус вывода средств.
type WithdrawalStatus string

const (
	WithdrawalStatusCreated             WithdrawalStatus = "CREATED"
	WithdrawalStatusPendingVerification WithdrawalStatus = "PENDING_VERIFICATION"
	WithdrawalStatusCompleted           WithdrawalStatus = "COMPLETED"
	WithdrawalStatusFailed              WithdrawalStatus = "FAILED"
	WithdrawalStatusCanceled            WithdrawalStatus = "CANCELED"
	WithdrawalStatusRefunded            WithdrawalStatus = "REFUNDED"
)

// AllWithdrawalStatuses перечисляет все объявленные статусы.
var AllWithdrawalStatuses = []WithdrawalStatus{
	WithdrawalStatusCreated,
	WithdrawalStatusPendingVerification,
	WithdrawalStatusCompleted,
	WithdrawalStatusFailed,
	WithdrawalStatusCanceled,
	WithdrawalStatusRefunded,
}

// Withdrawal представляет вывод средств пользователя внешнему платёжному партнёру.
type Withdrawal struct {
	ID             uuid.UUID        `db:"id"`
	UserID         uuid.UUID        `db:"user_id"`
	Amount         decimal.Decimal  `db:"amount"`
	Currency       string           `db:"currency"`
	Destination    string           `db:"destination"`
	Status         WithdrawalStatus `db:"status"`
	Reason         *string          `db:"reason"`
	IdempotencyKey *string          `db:"idempotency_key"`
	CorrelationID  string           `db:"correlation_id"`
	CreatedAt      time.Time        `db:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at"`

	// Replayed выставляется, когда вывод возвращён повторным запросом
	// с тем же ключом идемпотентности. Не хранится.
	Replayed bool `db:"-"`
}

// InitiateWithdrawalRequest - входные данные саги создания вывода.
type InitiateWithdrawalRequest struct {
	UserID         string          `json:"user_id" validate:"required,uuid"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency" validate:"required,iso4217"`
	Destination    string          `json:"destination" validate:"required,email,max=254"`
	IdempotencyKey string          `json:"-" validate:"omitempty,max=128"`
}

// CancelRequest DTO для отмены вывода.
type CancelRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// FailRequest DTO для отметки вывода как неуспешного.
type FailRequest struct {
	Reason string `json:"reason"`
}

// WithdrawalResponse DTO для ответа по выводу.
type WithdrawalResponse struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Amount      string  `json:"amount"`
	Currency    string  `json:"currency"`
	Destination string  `json:"destination"`
	Status      string  `json:"status"`
	Reason      *string `json:"reason,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// NewWithdrawalResponse преобразует доменную модель в DTO.
func NewWithdrawalResponse(w *Withdrawal) *WithdrawalResponse {
	return &WithdrawalResponse{
		ID:          w.ID.String(),
		UserID:      w.UserID.String(),
		Amount:      w.Amount.String(),
		Currency:    w.Currency,
		Destination: w.Destination,
		Status:      string(w.Status),
		Reason:      w.Reason,
		CreatedAt:   w.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   w.UpdatedAt.Format(time.RFC3339),
	}
}
