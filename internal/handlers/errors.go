package handlers

import (
	"net/http"

	"github.com/agamariel/gopayout/internal/apperr"
	"github.com/agamariel/gopayout/internal/logging"
	"github.com/labstack/echo/v4"
)

// ErrorResponse - тело ответа с ошибкой.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// httpError переводит типизированную ошибку в HTTP-ответ. Причина
// инфраструктурных ошибок клиенту не отдаётся.
func httpError(err error) *echo.HTTPError {
	e, ok := apperr.As(err)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, ErrorResponse{
			Code:    apperr.CodeInternal,
			Message: "internal server error",
		})
	}

	return echo.NewHTTPError(statusFor(e), ErrorResponse{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}

func statusFor(e *apperr.Error) int {
	switch e.Code {
	case apperr.CodeIllegalTransition, apperr.CodeIdempotencyConflict:
		return http.StatusConflict
	case apperr.CodeInsufficientFunds:
		return http.StatusPaymentRequired
	}

	switch e.Kind {
	case apperr.KindClientFault:
		return http.StatusBadRequest
	case apperr.KindResourceConflict:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInfrastructure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(message string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, ErrorResponse{
		Code:    apperr.CodeBadRequest,
		Message: message,
	})
}

// CorrelationID кладёт идентификатор запроса в контекст как correlation id.
// Должен стоять после middleware.RequestID.
func CorrelationID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			if id == "" {
				id = c.Request().Header.Get(echo.HeaderXRequestID)
			}

			ctx := c.Request().Context()
			if id != "" {
				ctx = logging.WithCorrelationID(ctx, id)
			} else {
				ctx, id = logging.EnsureCorrelationID(ctx)
				c.Response().Header().Set(echo.HeaderXRequestID, id)
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
