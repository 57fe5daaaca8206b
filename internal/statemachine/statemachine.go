// Package statemachine задаёт допустимые переходы статусов вывода.
// Таблица переходов - единственный источник истины: ни один компонент
// не меняет статус вывода, не сверившись с ней.
package statemachine

import (
	"fmt"
	"strings"

	"github.com/agamariel/gopayout/internal/apperr"
	"github.com/agamariel/gopayout/internal/models"
)

var transitions = map[models.WithdrawalStatus][]models.WithdrawalStatus{
	models.WithdrawalStatusCreated: {
		models.WithdrawalStatusPendingVerification,
		models.WithdrawalStatusCanceled,
		models.WithdrawalStatusFailed,
	},
	models.WithdrawalStatusPendingVerification: {
		models.WithdrawalStatusCompleted,
		models.WithdrawalStatusCanceled,
		models.WithdrawalStatusFailed,
	},
	models.WithdrawalStatusFailed: {
		models.WithdrawalStatusRefunded,
	},
	models.WithdrawalStatusCompleted: {},
	models.WithdrawalStatusCanceled:  {},
	models.WithdrawalStatusRefunded:  {},
}

// CanTransition сообщает, разрешён ли переход from -> to.
func CanTransition(from, to models.WithdrawalStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidTransitions возвращает множество статусов, достижимых из from.
func ValidTransitions(from models.WithdrawalStatus) map[models.WithdrawalStatus]struct{} {
	set := make(map[models.WithdrawalStatus]struct{}, len(transitions[from]))
	for _, s := range transitions[from] {
		set[s] = struct{}{}
	}
	return set
}

// SourcesOf возвращает статусы, из которых достижим to, в порядке объявления.
func SourcesOf(to models.WithdrawalStatus) []models.WithdrawalStatus {
	var sources []models.WithdrawalStatus
	for _, from := range models.AllWithdrawalStatuses {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

func CanCancel(from models.WithdrawalStatus) bool {
	return CanTransition(from, models.WithdrawalStatusCanceled)
}

func CanRefund(from models.WithdrawalStatus) bool {
	return CanTransition(from, models.WithdrawalStatusRefunded)
}

// IsTerminal сообщает, что из статуса нет исходящих переходов.
func IsTerminal(s models.WithdrawalStatus) bool {
	return len(transitions[s]) == 0
}

// Validate возвращает ILLEGAL_TRANSITION, если переход запрещён.
func Validate(from, to models.WithdrawalStatus) error {
	if CanTransition(from, to) {
		return nil
	}

	sources := SourcesOf(to)
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, string(s))
	}

	msg := fmt.Sprintf("cannot transition withdrawal from %s to %s", from, to)
	if len(names) > 0 {
		msg = fmt.Sprintf("%s; allowed from: %s", msg, strings.Join(names, ", "))
	}

	return apperr.IllegalTransition(msg).
		WithDetail("from", string(from)).
		WithDetail("to", string(to)).
		WithDetail("allowed_from", names)
}
