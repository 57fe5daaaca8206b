package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agamariel/gopayout/internal/apperr"
	"github.com/agamariel/gopayout/internal/models"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLedger struct {
	GetBalancesFunc func(ctx context.Context, userID uuid.UUID, currency *string) ([]models.BalanceView, error)
	DepositFunc     func(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, currency, reference, description string) error
}

func (m *mockLedger) GetBalances(ctx context.Context, userID uuid.UUID, currency *string) ([]models.BalanceView, error) {
	if m.GetBalancesFunc != nil {
		return m.GetBalancesFunc(ctx, userID, currency)
	}
	return []models.BalanceView{}, nil
}

func (m *mockLedger) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, currency, reference, description string) error {
	if m.DepositFunc != nil {
		return m.DepositFunc(ctx, userID, amount, currency, reference, description)
	}
	return nil
}

func (m *mockLedger) Hold(context.Context, uuid.UUID, decimal.Decimal, string, uuid.UUID, string) (*models.BalanceHold, error) {
	return nil, nil
}

func (m *mockLedger) Release(context.Context, uuid.UUID, uuid.UUID, string) error {
	return nil
}

func (m *mockLedger) Debit(context.Context, uuid.UUID, decimal.Decimal, string, uuid.UUID) error {
	return nil
}

func (m *mockLedger) Refund(context.Context, uuid.UUID, decimal.Decimal, string, uuid.UUID) (*models.Refund, error) {
	return nil, nil
}

func TestBalanceHandler_GetBalances(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name           string
		userID         string
		query          string
		expectedStatus int
		wantCurrency   *string
	}{
		{name: "all currencies", userID: userID.String(), expectedStatus: http.StatusOK},
		{name: "single currency", userID: userID.String(), query: "?currency=usd", expectedStatus: http.StatusOK, wantCurrency: strPtr("usd")},
		{name: "bad user id", userID: "nope", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &mockLedger{
				GetBalancesFunc: func(ctx context.Context, uid uuid.UUID, currency *string) ([]models.BalanceView, error) {
					assert.Equal(t, userID, uid)
					assert.Equal(t, tt.wantCurrency, currency)
					return []models.BalanceView{{
						Currency:  "USD",
						Available: decimal.NewFromInt(100),
						Held:      decimal.NewFromInt(50),
					}}, nil
				},
			}

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("user_id")
			c.SetParamValues(tt.userID)

			err := NewBalanceHandler(ledger).GetBalances(c)
			if tt.expectedStatus >= 400 {
				code, _ := errorBody(t, err)
				assert.Equal(t, tt.expectedStatus, code)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, rec.Code)

			var resp []map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Len(t, resp, 1)
			assert.Equal(t, "100", resp[0]["available"])
			assert.Equal(t, "50", resp[0]["held"])
		})
	}
}

func TestBalanceHandler_Deposit(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name           string
		body           string
		depositErr     error
		expectedStatus int
	}{
		{name: "ok", body: `{"amount":"25.00","currency":"USD","reference":"wire-1"}`, expectedStatus: http.StatusOK},
		{name: "missing currency", body: `{"amount":"25.00"}`, expectedStatus: http.StatusBadRequest},
		{name: "malformed", body: `{"amount":`, expectedStatus: http.StatusBadRequest},
		{name: "rejected amount", body: `{"amount":"-1","currency":"USD"}`, depositErr: apperr.BadRequest("amount must be positive"), expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deposited := false
			ledger := &mockLedger{
				DepositFunc: func(ctx context.Context, uid uuid.UUID, amount decimal.Decimal, currency, reference, description string) error {
					deposited = true
					assert.Equal(t, userID, uid)
					return tt.depositErr
				},
			}

			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("user_id")
			c.SetParamValues(userID.String())

			err := NewBalanceHandler(ledger).Deposit(c)
			if tt.expectedStatus >= 400 {
				code, _ := errorBody(t, err)
				assert.Equal(t, tt.expectedStatus, code)
				return
			}

			require.NoError(t, err)
			assert.True(t, deposited)
			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}

func strPtr(s string) *string { return &s }
