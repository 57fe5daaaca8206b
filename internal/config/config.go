package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config содержит конфигурацию приложения.
type Config struct {
	RunAddress  string
	DatabaseURI string
	LogLevel    string

	EligibilityServiceAddress string
	EligibilityTimeout        time.Duration
	EligibilityRPS            float64

	SendGridAPIKey string
	NotifyFrom     string

	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal

	StoreTimeout      time.Duration
	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration
}

// Load загружает конфигурацию из флагов командной строки и переменных окружения.
// Приоритет (порядок viper): явно заданные флаги > переменные окружения > значения по умолчанию.
func Load(args []string) (*Config, error) {
	v := viper.New()

	fs := pflag.NewFlagSet("gopayout", pflag.ContinueOnError)
	fs.StringP("run-address", "a", "localhost:8080", "адрес и порт запуска сервиса")
	fs.StringP("database-uri", "d", "", "строка подключения к PostgreSQL")
	fs.StringP("eligibility-service-address", "r", "", "адрес сервиса проверки получателя")
	fs.String("log-level", "info", "уровень логирования")
	fs.Duration("eligibility-timeout", 5*time.Second, "таймаут запроса к сервису проверки")
	fs.Float64("eligibility-rps", 20, "ограничение запросов в секунду к сервису проверки")
	fs.String("sendgrid-api-key", "", "ключ SendGrid для уведомлений")
	fs.String("notify-from", "payouts@gopayout.local", "адрес отправителя уведомлений")
	fs.String("min-amount", "5", "минимальная сумма вывода")
	fs.String("max-amount", "500", "максимальная сумма вывода")
	fs.Duration("store-timeout", 3*time.Second, "таймаут обращения к хранилищу")
	fs.Duration("reconcile-interval", time.Minute, "период сверки зависших выводов, 0 отключает")
	fs.Duration("reconcile-grace", 5*time.Minute, "возраст CREATED вывода, после которого он сверяется")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	// RUN_ADDRESS -> run-address
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		RunAddress:                v.GetString("run-address"),
		DatabaseURI:               v.GetString("database-uri"),
		LogLevel:                  v.GetString("log-level"),
		EligibilityServiceAddress: v.GetString("eligibility-service-address"),
		EligibilityTimeout:        v.GetDuration("eligibility-timeout"),
		EligibilityRPS:            v.GetFloat64("eligibility-rps"),
		SendGridAPIKey:            v.GetString("sendgrid-api-key"),
		NotifyFrom:                v.GetString("notify-from"),
		StoreTimeout:              v.GetDuration("store-timeout"),
		ReconcileInterval:         v.GetDuration("reconcile-interval"),
		ReconcileGrace:            v.GetDuration("reconcile-grace"),
	}

	var err error
	if cfg.MinAmount, err = decimal.NewFromString(v.GetString("min-amount")); err != nil {
		return nil, fmt.Errorf("invalid MIN_AMOUNT: %w", err)
	}
	if cfg.MaxAmount, err = decimal.NewFromString(v.GetString("max-amount")); err != nil {
		return nil, fmt.Errorf("invalid MAX_AMOUNT: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет согласованность значений.
func (c *Config) Validate() error {
	if !c.MinAmount.IsPositive() {
		return errors.New("MIN_AMOUNT must be positive")
	}
	if c.MaxAmount.LessThan(c.MinAmount) {
		return errors.New("MAX_AMOUNT must not be less than MIN_AMOUNT")
	}
	if c.EligibilityTimeout <= 0 {
		return errors.New("ELIGIBILITY_TIMEOUT must be positive")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("STORE_TIMEOUT must be positive")
	}
	if c.ReconcileInterval < 0 || c.ReconcileGrace < 0 {
		return errors.New("reconcile durations must not be negative")
	}
	return nil
}
