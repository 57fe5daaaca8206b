package handlers

import (
	"net/http"

	"github.com/agamariel/gopayout/internal/models"
	"github.com/agamariel/gopayout/internal/services"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// BalanceHandler обрабатывает запросы к балансам пользователей.
type BalanceHandler struct {
	ledger services.BalanceLedger
}

// NewBalanceHandler создаёт новый handler.
func NewBalanceHandler(ledger services.BalanceLedger) *BalanceHandler {
	return &BalanceHandler{ledger: ledger}
}

// GetBalances обрабатывает GET /api/users/:user_id/balances?currency=.
func (h *BalanceHandler) GetBalances(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		return badRequest("invalid user id format")
	}

	var currency *string
	if code := c.QueryParam("currency"); code != "" {
		currency = &code
	}

	balances, err := h.ledger.GetBalances(c.Request().Context(), userID, currency)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, balances)
}

// Deposit обрабатывает POST /api/users/:user_id/deposits.
func (h *BalanceHandler) Deposit(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		return badRequest("invalid user id format")
	}

	var req models.DepositRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request format")
	}
	if req.Currency == "" {
		return badRequest("currency is required")
	}

	if err := h.ledger.Deposit(c.Request().Context(), userID, req.Amount, req.Currency, req.Reference, "deposit"); err != nil {
		return httpError(err)
	}

	currency := req.Currency
	balances, err := h.ledger.GetBalances(c.Request().Context(), userID, &currency)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, balances)
}
