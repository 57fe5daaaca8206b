package services

import (
	"context"
	"testing"
	"time"

	"github.com/agamariel/gopayout/internal/logging"
	"github.com/agamariel/gopayout/internal/models"
	"github.com/agamariel/gopayout/internal/storage"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) VerifyEligibility(ctx context.Context, destination string) (bool, error) {
	args := m.Called(ctx, destination)
	return args.Bool(0), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendRefundNotice(ctx context.Context, destination string, amount decimal.Decimal, currency string) error {
	args := m.Called(ctx, destination, amount, currency)
	return args.Error(0)
}

var testOrchestratorConfig = OrchestratorConfig{
	MinAmount:     decimal.NewFromInt(5),
	MaxAmount:     decimal.NewFromInt(500),
	StoreTimeout:  time.Second,
	VerifyTimeout: time.Second,
}

type fixture struct {
	store    *storage.MemoryStorage
	ledger   *Ledger
	verifier *mockVerifier
	notifier *mockNotifier
	orch     *Orchestrator
	life     *Lifecycle
}

// newFixture собирает сервисы поверх хранилища в памяти. Проверка получателя
// по умолчанию разрешает любой адрес.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := storage.NewMemoryStorage()
	f := &fixture{
		store:    store,
		verifier: &mockVerifier{},
		notifier: &mockNotifier{},
	}
	f.ledger = newTestLedger(store)
	f.orch = NewOrchestrator(store, store, f.ledger, f.verifier, testOrchestratorConfig, logging.Discard())
	f.life = NewLifecycle(store, store, f.ledger, f.notifier, time.Second, logging.Discard())
	return f
}

func newTestLedger(store LedgerStorage) *Ledger {
	l := NewLedger(store, logging.Discard())
	l.backoff = func() retry.Backoff {
		return retry.WithMaxRetries(1000, retry.NewConstant(time.Millisecond))
	}
	return l
}

func (f *fixture) allowAll() {
	f.verifier.On("VerifyEligibility", mock.Anything, mock.Anything).Return(true, nil)
}

func (f *fixture) deposit(t *testing.T, userID uuid.UUID, amount, currency string) {
	t.Helper()
	require.NoError(t, f.ledger.Deposit(context.Background(), userID, dec(amount), currency, "test", "test deposit"))
}

func (f *fixture) balance(t *testing.T, userID uuid.UUID, currency string) models.BalanceView {
	t.Helper()
	views, err := f.ledger.GetBalances(context.Background(), userID, &currency)
	require.NoError(t, err)
	if len(views) == 0 {
		return models.BalanceView{Currency: currency}
	}
	return views[0]
}

// pending создаёт вывод в PENDING_VERIFICATION с активным резервом.
func (f *fixture) pending(t *testing.T, userID uuid.UUID, amount string) *models.Withdrawal {
	t.Helper()
	w, err := f.orch.InitiateWithdrawal(context.Background(), f.request(userID, amount))
	require.NoError(t, err)
	require.Equal(t, models.WithdrawalStatusPendingVerification, w.Status)
	return w
}

func (f *fixture) request(userID uuid.UUID, amount string) models.InitiateWithdrawalRequest {
	return models.InitiateWithdrawalRequest{
		UserID:      userID.String(),
		Amount:      dec(amount),
		Currency:    "USD",
		Destination: gofakeit.Email(),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(expected).Equal(actual), "expected %s, got %s", expected, actual)
}
