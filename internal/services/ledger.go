package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agamariel/gopayout/internal/apperr"
	"github.com/agamariel/gopayout/internal/logging"
	"github.com/agamariel/gopayout/internal/models"
	"github.com/agamariel/gopayout/internal/storage"
	"github.com/agamariel/gopayout/internal/utils"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	casMaxRetries = 8
	casBaseDelay  = 5 * time.Millisecond

	debitReleaseReason  = "debited"
	refundReleaseReason = "refunded"
)

// Ledger - единственный компонент, который изменяет балансы пользователей.
//
// Каждая операция читает баланс, вычисляет новые значения в decimal и записывает их
// через compare-and-swap по версии строки. При конфликте версии операция
// повторяется с экспоненциальной задержкой, поэтому две конкурентные операции
// над одной парой (пользователь, валюта) никогда не применяются поверх одного
// и того же прочитанного состояния.
//
// Политика списания: Debit потребляет активный резерв вывода (held уменьшается,
// резерв переходит в RELEASED), available при этом не меняется.
type Ledger struct {
	store   LedgerStorage
	logger  logrus.FieldLogger
	backoff func() retry.Backoff
}

// NewLedger создаёт реестр балансов.
func NewLedger(store LedgerStorage, logger logrus.FieldLogger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(casMaxRetries, retry.WithJitterPercent(20, retry.NewExponential(casBaseDelay)))
		},
	}
}

// GetBalances возвращает балансы пользователя. Если currency задана, список
// содержит не более одного элемента.
func (l *Ledger) GetBalances(ctx context.Context, userID uuid.UUID, currency *string) ([]models.BalanceView, error) {
	if currency != nil {
		code := utils.NormalizeCurrency(*currency)
		b, err := l.store.GetBalance(ctx, userID, code)
		if err != nil {
			if errors.Is(err, storage.ErrBalanceNotFound) {
				return []models.BalanceView{}, nil
			}
			return nil, apperr.Internal("failed to read balance", err)
		}
		return []models.BalanceView{toView(b)}, nil
	}

	list, err := l.store.ListBalances(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("failed to read balances", err)
	}

	views := make([]models.BalanceView, 0, len(list))
	for _, b := range list {
		views = append(views, toView(b))
	}
	return views, nil
}

// Deposit зачисляет средства на available.
func (l *Ledger) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, currency, reference, description string) error {
	currency = utils.NormalizeCurrency(currency)
	if err := validateAmount(amount, currency); err != nil {
		return err
	}

	err := l.mutate(ctx, func(ctx context.Context) error {
		b, err := l.store.GetBalance(ctx, userID, currency)
		if errors.Is(err, storage.ErrBalanceNotFound) {
			b = &models.UserBalance{UserID: userID, Currency: currency}
		} else if err != nil {
			return err
		}

		b.Available = b.Available.Add(amount)
		return l.store.SaveBalance(ctx, b)
	})
	if err != nil {
		return l.mutationError("deposit", err)
	}

	l.appendTransaction(ctx, &models.Transaction{
		UserID:      userID,
		Type:        models.TransactionTypeDeposit,
		Amount:      amount,
		Currency:    currency,
		ReferenceID: reference,
		Description: description,
	})
	return nil
}

// Hold резервирует amount: available уменьшается, held увеличивается на ту же сумму.
func (l *Ledger) Hold(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, currency string, reference uuid.UUID, description string) (*models.BalanceHold, error) {
	currency = utils.NormalizeCurrency(currency)
	if err := validateAmount(amount, currency); err != nil {
		return nil, err
	}

	var hold *models.BalanceHold
	err := l.mutate(ctx, func(ctx context.Context) error {
		b, err := l.store.GetBalance(ctx, userID, currency)
		if errors.Is(err, storage.ErrBalanceNotFound) {
			return insufficientFunds(amount, decimal.Zero, currency)
		}
		if err != nil {
			return err
		}
		if b.Available.LessThan(amount) {
			return insufficientFunds(amount, b.Available, currency)
		}

		b.Available = b.Available.Sub(amount)
		b.Held = b.Held.Add(amount)

		hold = &models.BalanceHold{
			UserID:      userID,
			Currency:    currency,
			Amount:      amount,
			Reference:   reference,
			Description: description,
		}
		return l.store.CreateHold(ctx, b, hold)
	})
	if err != nil {
		if errors.Is(err, storage.ErrHoldExists) {
			return nil, apperr.BadRequest("active hold already exists for reference %s", reference)
		}
		return nil, l.mutationError("hold", err)
	}

	logging.Entry(ctx, l.logger).WithFields(logrus.Fields{
		"user_id":   userID,
		"hold_id":   hold.ID,
		"reference": reference,
		"amount":    amount.String(),
		"currency":  currency,
	}).Info("funds held")
	return hold, nil
}

// Release освобождает активный резерв и возвращает его сумму в available.
// Повторный вызов возвращает NotFound и ничего не зачисляет.
func (l *Ledger) Release(ctx context.Context, userID, reference uuid.UUID, reason string) error {
	var released *models.BalanceHold
	err := l.mutate(ctx, func(ctx context.Context) error {
		hold, err := l.store.GetActiveHold(ctx, userID, reference)
		if err != nil {
			return err
		}
		b, err := l.store.GetBalance(ctx, userID, hold.Currency)
		if err != nil {
			return err
		}
		if b.Held.LessThan(hold.Amount) {
			return fmt.Errorf("held %s is below hold amount %s", b.Held, hold.Amount)
		}

		b.Held = b.Held.Sub(hold.Amount)
		b.Available = b.Available.Add(hold.Amount)
		released = hold
		return l.store.ReleaseHold(ctx, b, hold.ID, reason)
	})
	if err != nil {
		return l.mutationError("release", err)
	}

	logging.Entry(ctx, l.logger).WithFields(logrus.Fields{
		"user_id":   userID,
		"hold_id":   released.ID,
		"reference": reference,
		"amount":    released.Amount.String(),
		"reason":    reason,
	}).Info("hold released")
	return nil
}

// Debit списывает средства успешного вывода, потребляя его активный резерв.
// amount должен совпадать с суммой резерва.
func (l *Ledger) Debit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, currency string, reference uuid.UUID) error {
	currency = utils.NormalizeCurrency(currency)
	if err := validateAmount(amount, currency); err != nil {
		return err
	}

	err := l.mutate(ctx, func(ctx context.Context) error {
		hold, err := l.store.GetActiveHold(ctx, userID, reference)
		if err != nil {
			return err
		}
		if hold.Currency != currency || !hold.Amount.Equal(amount) {
			return apperr.BadRequest("debit %s %s does not match hold %s %s", amount, currency, hold.Amount, hold.Currency)
		}
		b, err := l.store.GetBalance(ctx, userID, currency)
		if err != nil {
			return err
		}
		if b.Held.LessThan(amount) {
			return fmt.Errorf("held %s is below debit amount %s", b.Held, amount)
		}

		b.Held = b.Held.Sub(amount)
		return l.store.ReleaseHold(ctx, b, hold.ID, debitReleaseReason)
	})
	if err != nil {
		return l.mutationError("debit", err)
	}

	l.appendTransaction(ctx, &models.Transaction{
		UserID:      userID,
		Type:        models.TransactionTypeDebit,
		Amount:      amount,
		Currency:    currency,
		ReferenceID: reference.String(),
		Description: "withdrawal payout",
	})
	return nil
}

// Refund возвращает зарезервированные под вывод средства в available.
// Переносится сумма активного резерва, ограниченная текущим held. Запись о возврате
// создаётся только после переноса и хранит фактическую сумму; если резерва нет,
// ничего не переносится и ни возврат, ни транзакция не записываются.
func (l *Ledger) Refund(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, currency string, reference uuid.UUID) (*models.Refund, error) {
	currency = utils.NormalizeCurrency(currency)
	if err := validateAmount(amount, currency); err != nil {
		return nil, err
	}
	log := logging.Entry(ctx, l.logger).WithFields(logrus.Fields{
		"user_id":   userID,
		"reference": reference,
	})

	moved := decimal.Zero
	err := l.mutate(ctx, func(ctx context.Context) error {
		moved = decimal.Zero

		hold, err := l.store.GetActiveHold(ctx, userID, reference)
		if errors.Is(err, storage.ErrHoldNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		b, err := l.store.GetBalance(ctx, userID, hold.Currency)
		if err != nil {
			return err
		}

		moved = decimal.Min(hold.Amount, b.Held)
		b.Held = b.Held.Sub(moved)
		b.Available = b.Available.Add(moved)
		return l.store.ReleaseHold(ctx, b, hold.ID, refundReleaseReason)
	})
	if err != nil {
		return nil, l.mutationError("refund", err)
	}

	refund := &models.Refund{
		UserID:       userID,
		WithdrawalID: reference,
		Amount:       moved,
		Currency:     currency,
		Status:       models.RefundStatusCompleted,
	}
	if moved.IsZero() {
		log.WithField("requested", amount.String()).Warn("no active hold to refund")
		return refund, nil
	}
	if !moved.Equal(amount) {
		log.WithFields(logrus.Fields{
			"requested": amount.String(),
			"moved":     moved.String(),
		}).Warn("refund amount differs from held amount")
	}

	l.recordRefund(ctx, log, refund)
	l.appendTransaction(ctx, &models.Transaction{
		UserID:      userID,
		Type:        models.TransactionTypeRefund,
		Amount:      moved,
		Currency:    currency,
		ReferenceID: reference.String(),
		Description: "withdrawal refund",
	})

	log.WithField("amount", moved.String()).Info("refund completed")
	return refund, nil
}

// recordRefund сохраняет запись об уже выполненном возврате: PENDING -> COMPLETED.
// Ошибки записи только логируются, баланс к этому моменту уже изменён.
func (l *Ledger) recordRefund(ctx context.Context, log *logrus.Entry, refund *models.Refund) {
	refund.Status = models.RefundStatusPending
	if err := l.store.CreateRefund(ctx, refund); err != nil {
		log.WithError(err).Error("failed to record refund")
		refund.Status = models.RefundStatusCompleted
		return
	}
	if err := l.store.UpdateRefundStatus(ctx, refund.ID, models.RefundStatusCompleted); err != nil {
		log.WithError(err).WithField("refund_id", refund.ID).Error("failed to mark refund completed")
		return
	}
	refund.Status = models.RefundStatusCompleted
}

// mutate выполняет fn, повторяя его при конфликте версии баланса.
func (l *Ledger) mutate(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, l.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, storage.ErrVersionConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// mutationError переводит ошибки хранилища в типизированные ошибки.
func (l *Ledger) mutationError(op string, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, storage.ErrHoldNotFound):
		return apperr.NotFound("no active hold found")
	case errors.Is(err, storage.ErrBalanceNotFound):
		return apperr.NotFound("balance not found")
	case errors.Is(err, storage.ErrVersionConflict):
		return apperr.Internal(op+": balance is under heavy contention, retry later", err)
	default:
		return apperr.Internal(op+" failed", err)
	}
}

// appendTransaction пишет историю; ошибка логируется и не отменяет изменение баланса.
func (l *Ledger) appendTransaction(ctx context.Context, t *models.Transaction) {
	if err := l.store.AppendTransaction(ctx, t); err != nil {
		logging.Entry(ctx, l.logger).WithError(err).WithFields(logrus.Fields{
			"user_id":   t.UserID,
			"type":      t.Type,
			"reference": t.ReferenceID,
		}).Error("failed to append ledger transaction")
	}
}

func validateAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return apperr.BadRequest("amount must be positive")
	}
	if !utils.FitsCurrencyScale(amount, currency) {
		return apperr.BadRequest("amount %s exceeds %d decimal places allowed for %s", amount, utils.CurrencyScale(currency), currency)
	}
	return nil
}

func insufficientFunds(requested, available decimal.Decimal, currency string) error {
	return apperr.InsufficientFunds("insufficient funds").
		WithDetail("requested", requested.String()).
		WithDetail("available", available.String()).
		WithDetail("currency", currency)
}

func toView(b *models.UserBalance) models.BalanceView {
	return models.BalanceView{
		Currency:  b.Currency,
		Available: b.Available,
		Held:      b.Held,
	}
}
