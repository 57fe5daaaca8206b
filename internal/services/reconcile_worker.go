package services

import (
	"context"
	"errors"
	"time"

	"github.com/agamariel/gopayout/internal/logging"
	"github.com/agamariel/gopayout/internal/models"
	"github.com/agamariel/gopayout/internal/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	reconcileBatchSize     = 100
	reconcileMissingReason = "reconciled: hold missing"
)

// HoldFinder - чтение активного резерва без изменения баланса.
type HoldFinder interface {
	GetActiveHold(ctx context.Context, userID, reference uuid.UUID) (*models.BalanceHold, error)
}

// ReconcileWorker периодически находит выводы, застрявшие в CREATED дольше grace,
// и доводит их до согласованного состояния: при активном резерве переводит в
// PENDING_VERIFICATION, без резерва - в FAILED.
type ReconcileWorker struct {
	withdrawals WithdrawalStorage
	holds       HoldFinder
	status      *statusWriter
	interval    time.Duration
	grace       time.Duration
	now         func() time.Time
	logger      logrus.FieldLogger
}

func NewReconcileWorker(
	withdrawals WithdrawalStorage,
	audit AuditStorage,
	holds HoldFinder,
	interval, grace time.Duration,
	storeTimeout time.Duration,
	logger logrus.FieldLogger,
) *ReconcileWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ReconcileWorker{
		withdrawals: withdrawals,
		holds:       holds,
		status: &statusWriter{
			withdrawals:  withdrawals,
			audit:        audit,
			logger:       logger,
			storeTimeout: storeTimeout,
		},
		interval: interval,
		grace:    grace,
		now:      time.Now,
		logger:   logger,
	}
}

// Start запускает воркер в отдельной горутине и останавливается по ctx.Done().
func (w *ReconcileWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.WithError(err).Error("reconcile worker error on initial batch")
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.RunOnce(ctx); err != nil {
					w.logger.WithError(err).Error("reconcile worker error")
				}
			}
		}
	}()
}

// RunOnce обрабатывает одну пачку застрявших выводов и возвращает число
// выводов, статус которых был изменён.
func (w *ReconcileWorker) RunOnce(ctx context.Context) (int, error) {
	storeCtx, cancel := withTimeout(ctx, w.status.storeTimeout)
	stale, err := w.withdrawals.ListByStatusBefore(storeCtx, models.WithdrawalStatusCreated, w.now().Add(-w.grace), reconcileBatchSize)
	cancel()
	if err != nil {
		return 0, err
	}

	if len(stale) > 0 {
		w.logger.WithField("count", len(stale)).Info("reconciling stale withdrawals")
	}

	fixed := 0
	for _, wd := range stale {
		if ctx.Err() != nil {
			return fixed, ctx.Err()
		}
		if err := w.reconcile(ctx, wd); err != nil {
			w.logger.WithError(err).WithField("withdrawal_id", wd.ID).Warn("failed to reconcile withdrawal")
			continue
		}
		fixed++
	}
	return fixed, nil
}

func (w *ReconcileWorker) reconcile(ctx context.Context, wd *models.Withdrawal) error {
	ctx = logging.WithCorrelationID(ctx, wd.CorrelationID)

	storeCtx, cancel := withTimeout(ctx, w.status.storeTimeout)
	hold, err := w.holds.GetActiveHold(storeCtx, wd.UserID, wd.ID)
	cancel()

	log := logging.Entry(ctx, w.logger).WithField("withdrawal_id", wd.ID)

	switch {
	case err == nil:
		if err := w.status.transition(ctx, wd, models.WithdrawalStatusPendingVerification, models.AuditActionReconcile, nil); err != nil {
			return err
		}
		log.WithField("hold_id", hold.ID).Info("reconciled: hold found, advanced to pending verification")
		return nil
	case errors.Is(err, storage.ErrHoldNotFound):
		reason := reconcileMissingReason
		if err := w.status.transition(ctx, wd, models.WithdrawalStatusFailed, models.AuditActionReconcile, &reason); err != nil {
			return err
		}
		log.Info("reconciled: hold missing, marked as failed")
		return nil
	default:
		return err
	}
}
