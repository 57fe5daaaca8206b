// Package logging настраивает logrus и переносит correlation id через контекст.
package logging

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

// FieldCorrelationID - имя поля с correlation id в логах.
const FieldCorrelationID = "correlation_id"

// New создаёт логгер с заданным уровнем. При неизвестном уровне используется info,
// а ошибка возвращается вызывающему для предупреждения.
func New(level string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	lvl, err := ParseLevel(level)
	logger.SetLevel(lvl)
	return logger, err
}

// Discard возвращает логгер без вывода, удобный для тестов.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// ParseLevel переводит строку в уровень logrus.
func ParseLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return logrus.TraceLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "", "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	case "fatal":
		return logrus.FatalLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("%s is not a valid log level", s)
	}
}

// WithCorrelationID сохраняет correlation id в контексте.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// CorrelationID извлекает correlation id из контекста.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// EnsureCorrelationID возвращает контекст, в котором гарантированно есть correlation id.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithCorrelationID(ctx, id), id
}

// Entry возвращает запись лога, помеченную correlation id из контекста.
func Entry(ctx context.Context, logger logrus.FieldLogger) *logrus.Entry {
	return logger.WithField(FieldCorrelationID, CorrelationID(ctx))
}
