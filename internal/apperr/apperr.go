// Package apperr содержит типизированные ошибки сервиса выводов.
// Каждая ошибка несёт вид (Kind) для классификации и машиночитаемый код.
package apperr

import (
	"errors"
	"fmt"
)

// Kind - класс ошибки.
type Kind int

const (
	KindClientFault Kind = iota + 1
	KindResourceConflict
	KindNotFound
	KindInfrastructure
	KindCriticalInconsistency
)

func (k Kind) String() string {
	switch k {
	case KindClientFault:
		return "client_fault"
	case KindResourceConflict:
		return "resource_conflict"
	case KindNotFound:
		return "not_found"
	case KindInfrastructure:
		return "infrastructure"
	case KindCriticalInconsistency:
		return "critical_inconsistency"
	default:
		return "unknown"
	}
}

const (
	CodeBadRequest                 = "BAD_REQUEST"
	CodeInsufficientFunds          = "INSUFFICIENT_FUNDS"
	CodeIneligible                 = "INELIGIBLE"
	CodeNotFound                   = "NOT_FOUND"
	CodeIllegalTransition          = "ILLEGAL_TRANSITION"
	CodeIdempotencyConflict        = "IDEMPOTENCY_CONFLICT"
	CodeInternal                   = "INTERNAL"
	CodeManualInterventionRequired = "MANUAL_INTERVENTION_REQUIRED"
	CodeCompensationFailed         = "COMPENSATION_FAILED"
)

// Error - структурированная ошибка.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по коду, чтобы работали шаблоны вида errors.Is(err, apperr.ErrNotFound).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetail добавляет диагностическое поле.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Шаблоны для сравнения через errors.Is.
var (
	ErrBadRequest                 = &Error{Kind: KindClientFault, Code: CodeBadRequest}
	ErrInsufficientFunds          = &Error{Kind: KindResourceConflict, Code: CodeInsufficientFunds}
	ErrIneligible                 = &Error{Kind: KindResourceConflict, Code: CodeIneligible}
	ErrNotFound                   = &Error{Kind: KindNotFound, Code: CodeNotFound}
	ErrIllegalTransition          = &Error{Kind: KindClientFault, Code: CodeIllegalTransition}
	ErrIdempotencyConflict        = &Error{Kind: KindClientFault, Code: CodeIdempotencyConflict}
	ErrInternal                   = &Error{Kind: KindInfrastructure, Code: CodeInternal}
	ErrManualInterventionRequired = &Error{Kind: KindCriticalInconsistency, Code: CodeManualInterventionRequired}
	ErrCompensationFailed         = &Error{Kind: KindCriticalInconsistency, Code: CodeCompensationFailed}
)

func BadRequest(format string, args ...any) *Error {
	return &Error{Kind: KindClientFault, Code: CodeBadRequest, Message: fmt.Sprintf(format, args...)}
}

func InsufficientFunds(message string) *Error {
	return &Error{Kind: KindResourceConflict, Code: CodeInsufficientFunds, Message: message}
}

func Ineligible(message string) *Error {
	return &Error{Kind: KindResourceConflict, Code: CodeIneligible, Message: message}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func IllegalTransition(message string) *Error {
	return &Error{Kind: KindClientFault, Code: CodeIllegalTransition, Message: message}
}

func IdempotencyConflict(message string) *Error {
	return &Error{Kind: KindClientFault, Code: CodeIdempotencyConflict, Message: message}
}

// Internal оборачивает инфраструктурную ошибку. Причина доступна через Unwrap,
// но не попадает в сообщение для клиента.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInfrastructure, Code: CodeInternal, Message: message, Err: err}
}

func ManualInterventionRequired(message string, err error) *Error {
	return &Error{Kind: KindCriticalInconsistency, Code: CodeManualInterventionRequired, Message: message, Err: err}
}

func CompensationFailed(message string, err error) *Error {
	return &Error{Kind: KindCriticalInconsistency, Code: CodeCompensationFailed, Message: message, Err: err}
}

// KindOf возвращает вид ошибки; всё, что не является *Error, считается инфраструктурным.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// As возвращает *Error из цепочки, если он там есть.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
