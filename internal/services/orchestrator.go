package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/agamariel/gopayout/internal/apperr"
	"github.com/agamariel/gopayout/internal/eligibility"
	"github.com/agamariel/gopayout/internal/logging"
	"github.com/agamariel/gopayout/internal/models"
	"github.com/agamariel/gopayout/internal/storage"
	"github.com/agamariel/gopayout/internal/utils"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// OrchestratorConfig - ограничения и таймауты саги создания вывода.
type OrchestratorConfig struct {
	MinAmount     decimal.Decimal
	MaxAmount     decimal.Decimal
	StoreTimeout  time.Duration
	VerifyTimeout time.Duration
}

// Orchestrator выполняет сагу создания вывода:
// проверка запроса, проверка средств, проверка получателя, запись CREATED,
// резерв средств, перевод в PENDING_VERIFICATION.
//
// Шаги 1-3 не имеют побочных эффектов. Запись CREATED - граница отката:
// если резерв не удался, вывод переводится в FAILED и сохраняется.
type Orchestrator struct {
	withdrawals WithdrawalStorage
	ledger      BalanceLedger
	verifier    eligibility.Verifier
	status      *statusWriter
	validate    *validator.Validate
	cfg         OrchestratorConfig
	logger      logrus.FieldLogger
}

// NewOrchestrator создаёт оркестратор.
func NewOrchestrator(
	withdrawals WithdrawalStorage,
	audit AuditStorage,
	ledger BalanceLedger,
	verifier eligibility.Verifier,
	cfg OrchestratorConfig,
	logger logrus.FieldLogger,
) *Orchestrator {
	return &Orchestrator{
		withdrawals: withdrawals,
		ledger:      ledger,
		verifier:    verifier,
		status: &statusWriter{
			withdrawals:  withdrawals,
			audit:        audit,
			logger:       logger,
			storeTimeout: cfg.StoreTimeout,
		},
		validate: newValidator(),
		cfg:      cfg,
		logger:   logger,
	}
}

// InitiateWithdrawal создаёт вывод и резервирует под него средства.
func (o *Orchestrator) InitiateWithdrawal(ctx context.Context, req models.InitiateWithdrawalRequest) (*models.Withdrawal, error) {
	ctx, correlationID := logging.EnsureCorrelationID(ctx)

	req.Currency = utils.NormalizeCurrency(req.Currency)
	req.Destination = strings.TrimSpace(req.Destination)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	log := logging.Entry(ctx, o.logger).WithFields(logrus.Fields{
		"user_id":  req.UserID,
		"amount":   req.Amount.String(),
		"currency": req.Currency,
	})

	// 1. Проверка запроса.
	userID, err := o.validateRequest(req)
	if err != nil {
		log.WithError(err).Info("withdrawal request rejected")
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := o.findByIdempotencyKey(ctx, userID, req)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			log.WithField("withdrawal_id", existing.ID).Info("idempotent replay, returning existing withdrawal")
			existing.Replayed = true
			return existing, nil
		}
	}

	// 2. Проверка средств.
	if err := o.checkFunds(ctx, userID, req); err != nil {
		log.WithError(err).Info("funds check failed")
		return nil, err
	}

	// 3. Проверка получателя.
	if err := o.checkEligibility(ctx, req.Destination); err != nil {
		log.WithError(err).Warn("eligibility check failed")
		return nil, err
	}

	// 4. Запись CREATED.
	w := &models.Withdrawal{
		ID:            uuid.New(),
		UserID:        userID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Destination:   req.Destination,
		Status:        models.WithdrawalStatusCreated,
		CorrelationID: correlationID,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		w.IdempotencyKey = &key
	}

	if err := o.create(ctx, w); err != nil {
		if errors.Is(err, storage.ErrIdempotencyKeyExists) {
			// Параллельный запрос с тем же ключом успел раньше.
			existing, findErr := o.findByIdempotencyKey(ctx, userID, req)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				existing.Replayed = true
				return existing, nil
			}
		}
		log.WithError(err).Error("failed to persist withdrawal")
		return nil, apperr.Internal("failed to persist withdrawal", err)
	}
	o.status.appendAudit(ctx, w, models.AuditActionCreate, nil, nil)

	log = log.WithField("withdrawal_id", w.ID)
	log.Info("withdrawal created")

	// 5. Резерв средств.
	hold, err := o.hold(ctx, w)

	// Дальше запись состояния не должна прерываться отменой запроса клиентом.
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		return nil, o.compensateHoldFailure(persistCtx, log, w, err)
	}

	// 6. Перевод в PENDING_VERIFICATION.
	if err := o.status.transition(persistCtx, w, models.WithdrawalStatusPendingVerification, models.AuditActionAdvance, nil); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"hold_id":  hold.ID,
			"critical": true,
		}).Error("funds held but withdrawal status was not advanced")
		return nil, apperr.ManualInterventionRequired("funds are held but withdrawal status was not advanced", err).
			WithDetail("withdrawal_id", w.ID.String()).
			WithDetail("hold_id", hold.ID.String())
	}

	log.Info("withdrawal pending verification")

	// 7. Повторное чтение.
	return o.status.reload(persistCtx, w), nil
}

func (o *Orchestrator) validateRequest(req models.InitiateWithdrawalRequest) (uuid.UUID, error) {
	if err := o.validate.Struct(req); err != nil {
		return uuid.Nil, validationError(err)
	}

	if !req.Amount.IsPositive() {
		return uuid.Nil, apperr.BadRequest("amount must be positive")
	}
	if req.Amount.LessThan(o.cfg.MinAmount) || req.Amount.GreaterThan(o.cfg.MaxAmount) {
		return uuid.Nil, apperr.BadRequest("amount must be between %s and %s", o.cfg.MinAmount, o.cfg.MaxAmount).
			WithDetail("min", o.cfg.MinAmount.String()).
			WithDetail("max", o.cfg.MaxAmount.String())
	}
	if !utils.FitsCurrencyScale(req.Amount, req.Currency) {
		return uuid.Nil, apperr.BadRequest("amount %s exceeds %d decimal places allowed for %s",
			req.Amount, utils.CurrencyScale(req.Currency), req.Currency)
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid user id")
	}
	return userID, nil
}

// findByIdempotencyKey возвращает ранее созданный вывод с тем же ключом
// или nil, если такого нет.
func (o *Orchestrator) findByIdempotencyKey(ctx context.Context, userID uuid.UUID, req models.InitiateWithdrawalRequest) (*models.Withdrawal, error) {
	storeCtx, cancel := withTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()

	existing, err := o.withdrawals.GetByIdempotencyKey(storeCtx, userID, req.IdempotencyKey)
	if errors.Is(err, storage.ErrWithdrawalNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("failed to look up idempotency key", err)
	}

	if !existing.Amount.Equal(req.Amount) || existing.Currency != req.Currency || existing.Destination != req.Destination {
		return nil, apperr.IdempotencyConflict("idempotency key was already used with a different request").
			WithDetail("withdrawal_id", existing.ID.String())
	}
	return existing, nil
}

func (o *Orchestrator) checkFunds(ctx context.Context, userID uuid.UUID, req models.InitiateWithdrawalRequest) error {
	storeCtx, cancel := withTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()

	balances, err := o.ledger.GetBalances(storeCtx, userID, &req.Currency)
	if err != nil {
		return err
	}

	available := decimal.Zero
	if len(balances) > 0 {
		available = balances[0].Available
	}
	if available.LessThan(req.Amount) {
		return insufficientFunds(req.Amount, available, req.Currency)
	}
	return nil
}

// checkEligibility закрыт по умолчанию: недоступность проверяющего сервиса
// не пропускает вывод дальше.
func (o *Orchestrator) checkEligibility(ctx context.Context, destination string) error {
	verifyCtx, cancel := withTimeout(ctx, o.cfg.VerifyTimeout)
	defer cancel()

	ok, err := o.verifier.VerifyEligibility(verifyCtx, destination)
	if err != nil {
		return apperr.Internal("eligibility verifier unavailable", err)
	}
	if !ok {
		return apperr.Ineligible("destination is not eligible for withdrawal")
	}
	return nil
}

func (o *Orchestrator) create(ctx context.Context, w *models.Withdrawal) error {
	storeCtx, cancel := withTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()
	return o.withdrawals.Create(storeCtx, w)
}

func (o *Orchestrator) hold(ctx context.Context, w *models.Withdrawal) (*models.BalanceHold, error) {
	storeCtx, cancel := withTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()
	return o.ledger.Hold(storeCtx, w.UserID, w.Amount, w.Currency, w.ID, fmt.Sprintf("withdrawal %s", w.ID))
}

// compensateHoldFailure переводит вывод в FAILED и возвращает исходную ошибку.
// Если компенсация тоже не удалась, возвращаются обе ошибки.
func (o *Orchestrator) compensateHoldFailure(ctx context.Context, log *logrus.Entry, w *models.Withdrawal, holdErr error) error {
	log.WithError(holdErr).Warn("failed to hold funds, marking withdrawal as failed")

	reason := "hold failed: " + holdFailureReason(holdErr)
	if err := o.status.transition(ctx, w, models.WithdrawalStatusFailed, models.AuditActionFail, &reason); err != nil {
		log.WithError(err).WithField("critical", true).Error("compensation failed, withdrawal left in CREATED")
		return apperr.CompensationFailed("hold failed and withdrawal could not be marked as failed", multierr.Combine(holdErr, err)).
			WithDetail("withdrawal_id", w.ID.String())
	}
	return holdErr
}

func holdFailureReason(err error) string {
	if e, ok := apperr.As(err); ok {
		return strings.ToLower(e.Code)
	}
	return "internal"
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// validationError переводит ошибки validator в BadRequest с перечнем полей.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.BadRequest("invalid request")
	}

	fields := make(map[string]string, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
		names = append(names, fe.Field())
	}

	e := apperr.BadRequest("invalid fields: %s", strings.Join(names, ", "))
	return e.WithDetail("fields", fields)
}
