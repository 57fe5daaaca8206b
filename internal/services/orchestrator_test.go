package services

import (
	"context"
	"errors"
	"testing"

	"github.com/agamariel/gopayout/internal/apperr"
	"github.com/agamariel/gopayout/internal/eligibility"
	"github.com/agamariel/gopayout/internal/logging"
	"github.com/agamariel/gopayout/internal/models"
	"github.com/agamariel/gopayout/internal/storage"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestOrchestrator_InitiateWithdrawal_Success(t *testing.T) {
	f := newFixture(t)
	f.allowAll()
	userID := uuid.New()
	f.deposit(t, userID, "200", "USD")

	ctx := logging.WithCorrelationID(context.Background(), "corr-1")
	w, err := f.orch.InitiateWithdrawal(ctx, models.InitiateWithdrawalRequest{
		UserID:      userID.String(),
		Amount:      dec("100"),
		Currency:    "usd",
		Destination: "a@b.com",
	})
	require.NoError(t, err)

	assert.Equal(t, models.WithdrawalStatusPendingVerification, w.Status)
	assert.Equal(t, "USD", w.Currency)
	assert.Equal(t, "corr-1", w.CorrelationID)
	requireDecimal(t, "100", w.Amount)

	b := f.balance(t, userID, "USD")
	requireDecimal(t, "100", b.Available)
	requireDecimal(t, "100", b.Held)

	entries, err := f.store.ListByWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.AuditActionCreate, entries[0].Action)
	assert.Equal(t, models.AuditActionAdvance, entries[1].Action)
	require.NotNil(t, entries[1].PreviousStatus)
	assert.Equal(t, models.WithdrawalStatusCreated, *entries[1].PreviousStatus)
	assert.Equal(t, models.WithdrawalStatusPendingVerification, entries[1].NewStatus)
	assert.Equal(t, "corr-1", entries[1].CorrelationID)

	f.verifier.AssertCalled(t, "VerifyEligibility", mock.Anything, "a@b.com")
}

func TestOrchestrator_InitiateWithdrawal_Validation(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name   string
		mutate func(r *models.InitiateWithdrawalRequest)
	}{
		{name: "below minimum", mutate: func(r *models.InitiateWithdrawalRequest) { r.Amount = dec("1") }},
		{name: "above maximum", mutate: func(r *models.InitiateWithdrawalRequest) { r.Amount = dec("500.01") }},
		{name: "negative amount", mutate: func(r *models.InitiateWithdrawalRequest) { r.Amount = dec("-10") }},
		{name: "too many decimals", mutate: func(r *models.InitiateWithdrawalRequest) { r.Amount = dec("10.005") }},
		{name: "malformed user id", mutate: func(r *models.InitiateWithdrawalRequest) { r.UserID = "not-a-uuid" }},
		{name: "empty user id", mutate: func(r *models.InitiateWithdrawalRequest) { r.UserID = "" }},
		{name: "malformed destination", mutate: func(r *models.InitiateWithdrawalRequest) { r.Destination = "not-an-email" }},
		{name: "unknown currency", mutate: func(r *models.InitiateWithdrawalRequest) { r.Currency = "usdx" }},
		{name: "missing currency", mutate: func(r *models.InitiateWithdrawalRequest) { r.Currency = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.allowAll()
			f.deposit(t, userID, "1000", "USD")

			req := models.InitiateWithdrawalRequest{
				UserID:      userID.String(),
				Amount:      dec("100"),
				Currency:    "USD",
				Destination: gofakeit.Email(),
			}
			tt.mutate(&req)

			_, err := f.orch.InitiateWithdrawal(context.Background(), req)
			require.ErrorIs(t, err, apperr.ErrBadRequest)
			assert.Equal(t, apperr.KindClientFault, apperr.KindOf(err))

			b := f.balance(t, userID, "USD")
			requireDecimal(t, "1000", b.Available)
			requireDecimal(t, "0", b.Held)
			f.verifier.AssertNotCalled(t, "VerifyEligibility", mock.Anything, mock.Anything)

			list, err := f.store.GetByUserID(context.Background(), userID)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestOrchestrator_InitiateWithdrawal_BelowMinimum(t *testing.T) {
	f := newFixture(t)
	f.allowAll()
	userID := uuid.New()
	f.deposit(t, userID, "200", "USD")

	_, err := f.orch.InitiateWithdrawal(context.Background(), models.InitiateWithdrawalRequest{
		UserID:      userID.String(),
		Amount:      dec("1"),
		Currency:    "USD",
		Destination: "a@b.com",
	})
	require.ErrorIs(t, err, apperr.ErrBadRequest)

	e, _ := apperr.As(err)
	assert.Equal(t, "5", e.Details["min"])
	assert.Equal(t, "500", e.Details["max"])

	b := f.balance(t, userID, "USD")
	requireDecimal(t, "200", b.Available)
	requireDecimal(t, "0", b.Held)
}

func TestOrchestrator_InitiateWithdrawal_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.allowAll()
	userID := uuid.New()
	f.deposit(t, userID, "50", "USD")

	_, err := f.orch.InitiateWithdrawal(context.Background(), f.request(userID, "100"))
	require.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.Equal(t, apperr.KindResourceConflict, apperr.KindOf(err))

	e, _ := apperr.As(err)
	assert.Equal(t, "100", e.Details["requested"])
	assert.Equal(t, "50", e.Details["available"])
	assert.Equal(t, "USD", e.Details["currency"])

	list, err := f.store.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, list)
	f.verifier.AssertNotCalled(t, "VerifyEligibility", mock.Anything, mock.Anything)
}

func TestOrchestrator_InitiateWithdrawal_Eligibility(t *testing.T) {
	t.Run("ineligible destination", func(t *testing.T) {
		f := newFixture(t)
		userID := uuid.New()
		f.deposit(t, userID, "200", "USD")
		f.verifier.On("VerifyEligibility", mock.Anything, mock.Anything).Return(false, nil)

		_, err := f.orch.InitiateWithdrawal(context.Background(), f.request(userID, "100"))
		require.ErrorIs(t, err, apperr.ErrIneligible)
		assert.Equal(t, apperr.KindResourceConflict, apperr.KindOf(err))

		list, err := f.store.GetByUserID(context.Background(), userID)
		require.NoError(t, err)
		assert.Empty(t, list)
		requireDecimal(t, "200", f.balance(t, userID, "USD").Available)
	})

	t.Run("verifier unavailable fails closed", func(t *testing.T) {
		f := newFixture(t)
		userID := uuid.New()
		f.deposit(t, userID, "200", "USD")
		f.verifier.On("VerifyEligibility", mock.Anything, mock.Anything).
			Return(false, &eligibility.UnavailableError{StatusCode: 503})

		_, err := f.orch.InitiateWithdrawal(context.Background(), f.request(userID, "100"))
		require.ErrorIs(t, err, apperr.ErrInternal)
		require.ErrorIs(t, err, eligibility.ErrUnavailable)
		assert.Equal(t, apperr.KindInfrastructure, apperr.KindOf(err))

		list, err := f.store.GetByUserID(context.Background(), userID)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestOrchestrator_InitiateWithdrawal_HoldFailure(t *testing.T) {
	store := storage.NewMemoryStorage()
	userID := uuid.New()
	holdErr := errors.New("balance table locked")

	ledger := newTestLedger(&storage.MockLedgerStorage{
		Fallback: store,
		CreateHoldFunc: func(context.Context, *models.UserBalance, *models.BalanceHold) error {
			return holdErr
		},
	})
	require.NoError(t, ledger.Deposit(context.Background(), userID, dec("200"), "USD", "", ""))

	verifier := eligibility.StaticVerifier{Eligible: true}
	orch := NewOrchestrator(store, store, ledger, verifier, testOrchestratorConfig, logging.Discard())

	_, err := orch.InitiateWithdrawal(context.Background(), models.InitiateWithdrawalRequest{
		UserID:      userID.String(),
		Amount:      dec("100"),
		Currency:    "USD",
		Destination: gofakeit.Email(),
	})
	require.ErrorIs(t, err, apperr.ErrInternal)
	require.ErrorIs(t, err, holdErr)

	list, err := store.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.WithdrawalStatusFailed, list[0].Status)
	require.NotNil(t, list[0].Reason)
	assert.Equal(t, "hold failed: internal", *list[0].Reason)

	views, err := ledger.GetBalances(context.Background(), userID, nil)
	require.NoError(t, err)
	require.Len(t, views, 1)
	requireDecimal(t, "200", views[0].Available)
	requireDecimal(t, "0", views[0].Held)
	assert.Empty(t, store.Holds(userID))
}

func TestOrchestrator_InitiateWithdrawal_CompensationFailure(t *testing.T) {
	store := storage.NewMemoryStorage()
	userID := uuid.New()
	holdErr := errors.New("balance table locked")
	statusErr := errors.New("withdrawals table locked")

	ledger := newTestLedger(&storage.MockLedgerStorage{
		Fallback: store,
		CreateHoldFunc: func(context.Context, *models.UserBalance, *models.BalanceHold) error {
			return holdErr
		},
	})
	require.NoError(t, ledger.Deposit(context.Background(), userID, dec("200"), "USD", "", ""))

	withdrawals := &storage.MockWithdrawalStorage{
		Fallback: store,
		UpdateStatusFunc: func(context.Context, uuid.UUID, models.WithdrawalStatus, models.WithdrawalStatus, *string) error {
			return statusErr
		},
	}
	orch := NewOrchestrator(withdrawals, store, ledger, eligibility.StaticVerifier{Eligible: true}, testOrchestratorConfig, logging.Discard())

	_, err := orch.InitiateWithdrawal(context.Background(), models.InitiateWithdrawalRequest{
		UserID:      userID.String(),
		Amount:      dec("100"),
		Currency:    "USD",
		Destination: gofakeit.Email(),
	})
	require.ErrorIs(t, err, apperr.ErrCompensationFailed)
	assert.Equal(t, apperr.KindCriticalInconsistency, apperr.KindOf(err))
	// Обе ошибки доступны вызывающему.
	assert.ErrorIs(t, err, holdErr)
	assert.ErrorIs(t, err, statusErr)

	list, err := store.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.WithdrawalStatusCreated, list[0].Status)
}

func TestOrchestrator_InitiateWithdrawal_AdvanceFailure(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	f.deposit(t, userID, "200", "USD")

	withdrawals := &storage.MockWithdrawalStorage{
		Fallback: f.store,
		UpdateStatusFunc: func(ctx context.Context, id uuid.UUID, from, to models.WithdrawalStatus, reason *string) error {
			if to == models.WithdrawalStatusPendingVerification {
				return errors.New("write timeout")
			}
			return f.store.UpdateStatus(ctx, id, from, to, reason)
		},
	}
	orch := NewOrchestrator(withdrawals, f.store, f.ledger, eligibility.StaticVerifier{Eligible: true}, testOrchestratorConfig, logging.Discard())

	_, err := orch.InitiateWithdrawal(context.Background(), f.request(userID, "100"))
	require.ErrorIs(t, err, apperr.ErrManualInterventionRequired)
	assert.Equal(t, apperr.KindCriticalInconsistency, apperr.KindOf(err))

	e, _ := apperr.As(err)
	assert.NotEmpty(t, e.Details["withdrawal_id"])
	assert.NotEmpty(t, e.Details["hold_id"])

	// Резерв не снимается автоматически.
	b := f.balance(t, userID, "USD")
	requireDecimal(t, "100", b.Available)
	requireDecimal(t, "100", b.Held)

	list, err := f.store.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.WithdrawalStatusCreated, list[0].Status)
}

func TestOrchestrator_InitiateWithdrawal_Idempotency(t *testing.T) {
	ctx := context.Background()

	t.Run("same key and payload returns existing", func(t *testing.T) {
		f := newFixture(t)
		f.allowAll()
		userID := uuid.New()
		f.deposit(t, userID, "200", "USD")

		req := f.request(userID, "100")
		req.IdempotencyKey = "key-1"

		first, err := f.orch.InitiateWithdrawal(ctx, req)
		require.NoError(t, err)
		second, err := f.orch.InitiateWithdrawal(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.False(t, first.Replayed)
		assert.True(t, second.Replayed)
		require.NotNil(t, second.IdempotencyKey)
		assert.Equal(t, "key-1", *second.IdempotencyKey)

		b := f.balance(t, userID, "USD")
		requireDecimal(t, "100", b.Available)
		requireDecimal(t, "100", b.Held)
	})

	t.Run("same key different payload", func(t *testing.T) {
		f := newFixture(t)
		f.allowAll()
		userID := uuid.New()
		f.deposit(t, userID, "200", "USD")

		req := f.request(userID, "100")
		req.IdempotencyKey = "key-1"
		_, err := f.orch.InitiateWithdrawal(ctx, req)
		require.NoError(t, err)

		req.Amount = dec("50")
		_, err = f.orch.InitiateWithdrawal(ctx, req)
		require.ErrorIs(t, err, apperr.ErrIdempotencyConflict)
		requireDecimal(t, "100", f.balance(t, userID, "USD").Held)
	})

	t.Run("same key different users", func(t *testing.T) {
		f := newFixture(t)
		f.allowAll()
		alice, bob := uuid.New(), uuid.New()
		f.deposit(t, alice, "200", "USD")
		f.deposit(t, bob, "200", "USD")

		reqA := f.request(alice, "100")
		reqA.IdempotencyKey = "shared"
		reqB := f.request(bob, "100")
		reqB.IdempotencyKey = "shared"

		a, err := f.orch.InitiateWithdrawal(ctx, reqA)
		require.NoError(t, err)
		b, err := f.orch.InitiateWithdrawal(ctx, reqB)
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("concurrent insert with same key", func(t *testing.T) {
		f := newFixture(t)
		f.allowAll()
		userID := uuid.New()
		f.deposit(t, userID, "200", "USD")

		req := f.request(userID, "100")
		req.IdempotencyKey = "race"
		first, err := f.orch.InitiateWithdrawal(ctx, req)
		require.NoError(t, err)

		// Первый поиск по ключу не видит запись, как будто она появилась позже.
		lookups := 0
		withdrawals := &storage.MockWithdrawalStorage{
			Fallback: f.store,
			GetByIdempotencyKeyFunc: func(ctx context.Context, userID uuid.UUID, key string) (*models.Withdrawal, error) {
				lookups++
				if lookups == 1 {
					return nil, storage.ErrWithdrawalNotFound
				}
				return f.store.GetByIdempotencyKey(ctx, userID, key)
			},
		}
		orch := NewOrchestrator(withdrawals, f.store, f.ledger, f.verifier, testOrchestratorConfig, logging.Discard())

		second, err := orch.InitiateWithdrawal(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.True(t, second.Replayed)
		assert.Equal(t, 2, lookups)
		requireDecimal(t, "100", f.balance(t, userID, "USD").Held)
	})
}

func TestOrchestrator_InitiateWithdrawal_ConcurrentRequests(t *testing.T) {
	f := newFixture(t)
	f.allowAll()
	userID := uuid.New()
	f.deposit(t, userID, "250", "USD")

	const requests = 5
	errs := make(chan error, requests)
	for i := 0; i < requests; i++ {
		go func() {
			_, err := f.orch.InitiateWithdrawal(context.Background(), f.request(userID, "100"))
			errs <- err
		}()
	}

	succeeded := 0
	for i := 0; i < requests; i++ {
		err := <-errs
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	}

	assert.Equal(t, 2, succeeded)
	b := f.balance(t, userID, "USD")
	requireDecimal(t, "50", b.Available)
	requireDecimal(t, "200", b.Held)
	assert.True(t, b.Available.Add(b.Held).Equal(decimal.NewFromInt(250)))
}
