package services

import (
	"context"
	"errors"
	"time"

	"github.com/agamariel/gopayout/internal/apperr"
	"github.com/agamariel/gopayout/internal/logging"
	"github.com/agamariel/gopayout/internal/models"
	"github.com/agamariel/gopayout/internal/statemachine"
	"github.com/agamariel/gopayout/internal/storage"
	"github.com/sirupsen/logrus"
)

// statusWriter - единственный путь изменения статуса вывода: сверка с машиной
// состояний, compare-and-swap в хранилище и запись в журнал аудита.
type statusWriter struct {
	withdrawals  WithdrawalStorage
	audit        AuditStorage
	logger       logrus.FieldLogger
	storeTimeout time.Duration
}

// transition переводит w в статус to. При успехе w обновляется на месте.
// Ошибки хранилища возвращаются как есть, чтобы вызывающий мог их классифицировать.
func (s *statusWriter) transition(ctx context.Context, w *models.Withdrawal, to models.WithdrawalStatus, action models.AuditAction, reason *string) error {
	if err := statemachine.Validate(w.Status, to); err != nil {
		return err
	}

	storeCtx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()

	from := w.Status
	if err := s.withdrawals.UpdateStatus(storeCtx, w.ID, from, to, reason); err != nil {
		return err
	}

	w.Status = to
	if reason != nil {
		w.Reason = reason
	}
	w.UpdatedAt = time.Now()

	s.appendAudit(ctx, w, action, &from, reason)
	return nil
}

// appendAudit пишет запись аудита; ошибка только логируется.
func (s *statusWriter) appendAudit(ctx context.Context, w *models.Withdrawal, action models.AuditAction, prev *models.WithdrawalStatus, reason *string) {
	storeCtx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()

	entry := &models.AuditLogEntry{
		WithdrawalID:   w.ID,
		Action:         action,
		PreviousStatus: prev,
		NewStatus:      w.Status,
		Reason:         reason,
		CorrelationID:  logging.CorrelationID(ctx),
	}
	if err := s.audit.Append(storeCtx, entry); err != nil {
		logging.Entry(ctx, s.logger).WithError(err).WithFields(logrus.Fields{
			"withdrawal_id": w.ID,
			"action":        action,
		}).Error("failed to append audit entry")
	}
}

// load читает вывод и переводит ошибки хранилища в типизированные.
func (s *statusWriter) load(ctx context.Context, w *models.Withdrawal) (*models.Withdrawal, error) {
	storeCtx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()

	fresh, err := s.withdrawals.GetByID(storeCtx, w.ID)
	if err != nil {
		if errors.Is(err, storage.ErrWithdrawalNotFound) {
			return nil, apperr.NotFound("withdrawal %s not found", w.ID)
		}
		return nil, apperr.Internal("failed to load withdrawal", err)
	}
	return fresh, nil
}

// reload перечитывает вывод после записи; при ошибке возвращает локальную копию,
// так как запись уже подтверждена хранилищем.
func (s *statusWriter) reload(ctx context.Context, w *models.Withdrawal) *models.Withdrawal {
	fresh, err := s.load(ctx, w)
	if err != nil {
		logging.Entry(ctx, s.logger).WithError(err).WithField("withdrawal_id", w.ID).
			Warn("failed to re-fetch withdrawal, returning local copy")
		return w
	}
	return fresh
}

// transitionError классифицирует ошибку записи статуса, за которой не стоит
// уже выполненное движение средств.
func transitionError(err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, storage.ErrWithdrawalNotFound):
		return apperr.NotFound("withdrawal not found")
	case errors.Is(err, storage.ErrStatusConflict):
		return apperr.IllegalTransition("withdrawal status changed concurrently, reload and retry")
	default:
		return apperr.Internal("failed to update withdrawal status", err)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
