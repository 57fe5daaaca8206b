package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/agamariel/gopayout/internal/apperr"
	"github.com/agamariel/gopayout/internal/logging"
	"github.com/agamariel/gopayout/internal/models"
	"github.com/agamariel/gopayout/internal/notify"
	"github.com/agamariel/gopayout/internal/statemachine"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultCancelReason = "canceled"
	notifyTimeout       = 10 * time.Second
)

// WithdrawalLifecycle определяет операции над уже созданным выводом.
type WithdrawalLifecycle interface {
	Get(ctx context.Context, id string) (*models.Withdrawal, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Withdrawal, error)
	Cancel(ctx context.Context, id string, reason *string) (*models.Withdrawal, error)
	Refund(ctx context.Context, id string) (*models.Withdrawal, error)
	Complete(ctx context.Context, id string) (*models.Withdrawal, error)
	Fail(ctx context.Context, id string, reason string) (*models.Withdrawal, error)
}

// Lifecycle реализует WithdrawalLifecycle.
//
// Движение средств всегда выполняется до записи статуса. Если после успешного
// движения средств статус записать не удалось, возвращается
// MANUAL_INTERVENTION_REQUIRED: средства уже перемещены, а статус устарел.
type Lifecycle struct {
	withdrawals  WithdrawalStorage
	ledger       BalanceLedger
	notifier     notify.Sender
	status       *statusWriter
	storeTimeout time.Duration
	logger       logrus.FieldLogger
}

// NewLifecycle создаёт сервис жизненного цикла выводов.
func NewLifecycle(
	withdrawals WithdrawalStorage,
	audit AuditStorage,
	ledger BalanceLedger,
	notifier notify.Sender,
	storeTimeout time.Duration,
	logger logrus.FieldLogger,
) *Lifecycle {
	return &Lifecycle{
		withdrawals: withdrawals,
		ledger:      ledger,
		notifier:    notifier,
		status: &statusWriter{
			withdrawals:  withdrawals,
			audit:        audit,
			logger:       logger,
			storeTimeout: storeTimeout,
		},
		storeTimeout: storeTimeout,
		logger:       logger,
	}
}

// Get возвращает вывод по ID.
func (l *Lifecycle) Get(ctx context.Context, id string) (*models.Withdrawal, error) {
	withdrawalID, err := parseID(id, "withdrawal id")
	if err != nil {
		return nil, err
	}
	return l.status.load(ctx, &models.Withdrawal{ID: withdrawalID})
}

// ListByUser возвращает выводы пользователя, новые первыми.
func (l *Lifecycle) ListByUser(ctx context.Context, userID string) ([]*models.Withdrawal, error) {
	uid, err := parseID(userID, "user id")
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := withTimeout(ctx, l.storeTimeout)
	defer cancel()

	list, err := l.withdrawals.GetByUserID(storeCtx, uid)
	if err != nil {
		return nil, apperr.Internal("failed to list withdrawals", err)
	}
	return list, nil
}

// Cancel отменяет вывод в статусе CREATED или PENDING_VERIFICATION
// и возвращает зарезервированные средства в available.
func (l *Lifecycle) Cancel(ctx context.Context, id string, reason *string) (*models.Withdrawal, error) {
	ctx, _ = logging.EnsureCorrelationID(ctx)

	w, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := statemachine.Validate(w.Status, models.WithdrawalStatusCanceled); err != nil {
		return nil, err
	}
	log := l.entry(ctx, w)

	releaseReason := defaultCancelReason
	if reason != nil && strings.TrimSpace(*reason) != "" {
		r := strings.TrimSpace(*reason)
		reason = &r
		releaseReason = r
	} else {
		reason = nil
	}

	released := true
	if err := l.ledger.Release(ctx, w.UserID, w.ID, releaseReason); err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			log.WithError(err).Error("failed to release hold")
			return nil, err
		}
		// Без резерва можно отменить только CREATED: резерв ещё не был создан.
		if w.Status != models.WithdrawalStatusCreated {
			return nil, l.missingHold(ctx, log, w)
		}
		released = false
		log.Warn("no active hold to release on cancel")
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := l.status.transition(persistCtx, w, models.WithdrawalStatusCanceled, models.AuditActionCancel, reason); err != nil {
		if released {
			return nil, l.staleStatus(log, w, models.WithdrawalStatusCanceled, err)
		}
		return nil, transitionError(err)
	}

	log.Info("withdrawal canceled")
	return l.status.reload(persistCtx, w), nil
}

// Refund возвращает средства неуспешного вывода и уведомляет получателя.
func (l *Lifecycle) Refund(ctx context.Context, id string) (*models.Withdrawal, error) {
	ctx, _ = logging.EnsureCorrelationID(ctx)

	w, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := statemachine.Validate(w.Status, models.WithdrawalStatusRefunded); err != nil {
		return nil, err
	}
	log := l.entry(ctx, w)

	refund, err := l.ledger.Refund(ctx, w.UserID, w.Amount, w.Currency, w.ID)
	if err != nil {
		log.WithError(err).Error("failed to refund withdrawal")
		return nil, err
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := l.status.transition(persistCtx, w, models.WithdrawalStatusRefunded, models.AuditActionRefund, nil); err != nil {
		if refund.Amount.IsZero() {
			return nil, transitionError(err)
		}
		return nil, l.staleStatus(log, w, models.WithdrawalStatusRefunded, err)
	}

	log.WithField("refunded", refund.Amount.String()).Info("withdrawal refunded")

	l.notifyRefund(persistCtx, log, w)
	return l.status.reload(persistCtx, w), nil
}

// Complete фиксирует успешную выплату: резерв списывается.
func (l *Lifecycle) Complete(ctx context.Context, id string) (*models.Withdrawal, error) {
	ctx, _ = logging.EnsureCorrelationID(ctx)

	w, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := statemachine.Validate(w.Status, models.WithdrawalStatusCompleted); err != nil {
		return nil, err
	}
	log := l.entry(ctx, w)

	if err := l.ledger.Debit(ctx, w.UserID, w.Amount, w.Currency, w.ID); err != nil {
		log.WithError(err).Error("failed to debit withdrawal")
		return nil, err
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := l.status.transition(persistCtx, w, models.WithdrawalStatusCompleted, models.AuditActionComplete, nil); err != nil {
		return nil, l.staleStatus(log, w, models.WithdrawalStatusCompleted, err)
	}

	log.Info("withdrawal completed")
	return l.status.reload(persistCtx, w), nil
}

// Fail отмечает вывод как неуспешный. Резерв остаётся активным,
// его возвращает последующий Refund.
func (l *Lifecycle) Fail(ctx context.Context, id string, reason string) (*models.Withdrawal, error) {
	ctx, _ = logging.EnsureCorrelationID(ctx)

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.BadRequest("reason is required")
	}

	w, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := l.status.transition(ctx, w, models.WithdrawalStatusFailed, models.AuditActionFail, &reason); err != nil {
		return nil, transitionError(err)
	}

	l.entry(ctx, w).WithField("reason", reason).Info("withdrawal failed")
	return l.status.reload(ctx, w), nil
}

func (l *Lifecycle) notifyRefund(ctx context.Context, log *logrus.Entry, w *models.Withdrawal) {
	notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if err := l.notifier.SendRefundNotice(notifyCtx, w.Destination, w.Amount, w.Currency); err != nil {
		log.WithError(err).Warn("failed to send refund notice")
	}
}

// staleStatus описывает состояние, когда средства уже перемещены, а статус не записан.
func (l *Lifecycle) staleStatus(log *logrus.Entry, w *models.Withdrawal, target models.WithdrawalStatus, err error) error {
	log.WithError(err).WithFields(logrus.Fields{
		"target_status": target,
		"critical":      true,
	}).Error("funds moved but withdrawal status was not updated")

	return apperr.ManualInterventionRequired("funds moved but withdrawal status was not updated", err).
		WithDetail("withdrawal_id", w.ID.String()).
		WithDetail("status", string(w.Status)).
		WithDetail("target_status", string(target))
}

// missingHold описывает отмену PENDING_VERIFICATION вывода, резерв которого уже
// списан или освобождён другой операцией. Статус при этом не меняется.
func (l *Lifecycle) missingHold(ctx context.Context, log *logrus.Entry, w *models.Withdrawal) error {
	fresh, err := l.status.load(ctx, w)
	if err != nil {
		return err
	}
	if fresh.Status != w.Status {
		return apperr.IllegalTransition("withdrawal status changed concurrently, reload and retry").
			WithDetail("status", string(fresh.Status))
	}

	log.WithField("critical", true).Error("pending withdrawal has no active hold")
	return apperr.IllegalTransition("withdrawal funds are already being settled").
		WithDetail("withdrawal_id", w.ID.String()).
		WithDetail("status", string(w.Status))
}

func (l *Lifecycle) entry(ctx context.Context, w *models.Withdrawal) *logrus.Entry {
	return logging.Entry(ctx, l.logger).WithFields(logrus.Fields{
		"withdrawal_id": w.ID,
		"user_id":       w.UserID,
		"status":        w.Status,
	})
}

func parseID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid %s format", what)
	}
	return id, nil
}
