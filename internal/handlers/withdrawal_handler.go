package handlers

import (
	"context"
	"net/http"

	"github.com/agamariel/gopayout/internal/models"
	"github.com/agamariel/gopayout/internal/services"
	"github.com/labstack/echo/v4"
)

const headerIdempotencyKey = "Idempotency-Key"

// WithdrawalInitiator запускает сагу создания вывода.
type WithdrawalInitiator interface {
	InitiateWithdrawal(ctx context.Context, req models.InitiateWithdrawalRequest) (*models.Withdrawal, error)
}

// WithdrawalHandler обрабатывает запросы, связанные с выводами.
type WithdrawalHandler struct {
	initiator WithdrawalInitiator
	lifecycle services.WithdrawalLifecycle
}

func NewWithdrawalHandler(initiator WithdrawalInitiator, lifecycle services.WithdrawalLifecycle) *WithdrawalHandler {
	return &WithdrawalHandler{initiator: initiator, lifecycle: lifecycle}
}

// Initiate обрабатывает POST /api/withdrawals.
func (h *WithdrawalHandler) Initiate(c echo.Context) error {
	var req models.InitiateWithdrawalRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request format")
	}
	req.IdempotencyKey = c.Request().Header.Get(headerIdempotencyKey)

	w, err := h.initiator.InitiateWithdrawal(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}

	status := http.StatusCreated
	if w.Replayed {
		status = http.StatusOK
	}
	return c.JSON(status, models.NewWithdrawalResponse(w))
}

// Get обрабатывает GET /api/withdrawals/:id.
func (h *WithdrawalHandler) Get(c echo.Context) error {
	w, err := h.lifecycle.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, models.NewWithdrawalResponse(w))
}

// Cancel обрабатывает POST /api/withdrawals/:id/cancel. Тело необязательно.
func (h *WithdrawalHandler) Cancel(c echo.Context) error {
	var req models.CancelRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest("invalid request format")
		}
	}

	w, err := h.lifecycle.Cancel(c.Request().Context(), c.Param("id"), req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, models.NewWithdrawalResponse(w))
}

// Refund обрабатывает POST /api/withdrawals/:id/refund.
func (h *WithdrawalHandler) Refund(c echo.Context) error {
	w, err := h.lifecycle.Refund(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, models.NewWithdrawalResponse(w))
}

// Complete обрабатывает POST /api/withdrawals/:id/complete.
func (h *WithdrawalHandler) Complete(c echo.Context) error {
	w, err := h.lifecycle.Complete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, models.NewWithdrawalResponse(w))
}

// Fail обрабатывает POST /api/withdrawals/:id/fail.
func (h *WithdrawalHandler) Fail(c echo.Context) error {
	var req models.FailRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request format")
	}

	w, err := h.lifecycle.Fail(c.Request().Context(), c.Param("id"), req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, models.NewWithdrawalResponse(w))
}

// ListByUser обрабатывает GET /api/users/:user_id/withdrawals.
func (h *WithdrawalHandler) ListByUser(c echo.Context) error {
	list, err := h.lifecycle.ListByUser(c.Request().Context(), c.Param("user_id"))
	if err != nil {
		return httpError(err)
	}

	if len(list) == 0 {
		return c.NoContent(http.StatusNoContent)
	}

	response := make([]*models.WithdrawalResponse, 0, len(list))
	for _, w := range list {
		response = append(response, models.NewWithdrawalResponse(w))
	}
	return c.JSON(http.StatusOK, response)
}
