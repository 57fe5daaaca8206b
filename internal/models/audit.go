package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction - действие, зафиксированное в журнале аудита.
type AuditAction string

const (
	AuditActionCreate    AuditAction = "create"
	AuditActionAdvance   AuditAction = "advance"
	AuditActionFail      AuditAction = "fail"
	AuditActionCancel    AuditAction = "cancel"
	AuditActionRefund    AuditAction = "refund"
	AuditActionComplete  AuditAction = "complete"
	AuditActionReconcile AuditAction = "reconcile"
)

// AuditLogEntry - неизменяемая запись журнала аудита вывода.
type AuditLogEntry struct {
	ID             uuid.UUID         `db:"id"`
	WithdrawalID   uuid.UUID         `db:"withdrawal_id"`
	Action         AuditAction       `db:"action"`
	PreviousStatus *WithdrawalStatus `db:"previous_status"`
	NewStatus      WithdrawalStatus  `db:"new_status"`
	Reason         *string           `db:"reason"`
	CorrelationID  string            `db:"correlation_id"`
	CreatedAt      time.Time         `db:"created_at"`
}
