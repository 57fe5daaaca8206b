package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/agamariel/gopayout/internal/config"
	"github.com/agamariel/gopayout/internal/eligibility"
	"github.com/agamariel/gopayout/internal/handlers"
	"github.com/agamariel/gopayout/internal/migrations"
	"github.com/agamariel/gopayout/internal/notify"
	"github.com/agamariel/gopayout/internal/services"
	"github.com/agamariel/gopayout/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// App структура для управления приложением и его зависимостями.
type App struct {
	cfg    *config.Config
	logger *logrus.Logger
	dbPool *pgxpool.Pool
	echo   *echo.Echo
	worker *services.ReconcileWorker

	// Storage
	ledgerStorage     services.LedgerStorage
	withdrawalStorage services.WithdrawalStorage
	auditStorage      services.AuditStorage

	// Handlers
	withdrawalHandler *handlers.WithdrawalHandler
	balanceHandler    *handlers.BalanceHandler
}

// NewApp создаёт и инициализирует новое приложение.
func NewApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	app := &App{
		cfg:    cfg,
		logger: logger,
	}

	if err := app.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.initDependencies()
	app.initServer()

	return app, nil
}

// initStorage подключается к PostgreSQL и выполняет миграции.
// Без DATABASE_URI используется хранилище в памяти.
func (app *App) initStorage(ctx context.Context) error {
	if app.cfg.DatabaseURI == "" {
		app.logger.Warn("DATABASE_URI is not configured, using in-memory storage; data will be lost on restart")
		mem := storage.NewMemoryStorage()
		app.ledgerStorage = mem
		app.withdrawalStorage = mem
		app.auditStorage = mem
		return nil
	}

	// Применение миграций
	app.logger.Info("Running database migrations...")
	sqlDB, err := sql.Open("pgx", app.cfg.DatabaseURI)
	if err != nil {
		return fmt.Errorf("unable to open database connection: %w", err)
	}
	defer sqlDB.Close()

	if err := migrations.Run(sqlDB); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	app.logger.Info("Migrations completed successfully")

	// Подключение к базе данных через pgxpool
	dbPool, err := pgxpool.New(ctx, app.cfg.DatabaseURI)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		dbPool.Close()
		return fmt.Errorf("unable to ping database: %w", err)
	}

	app.dbPool = dbPool
	app.ledgerStorage = storage.NewPostgresLedgerStorage(dbPool)
	app.withdrawalStorage = storage.NewPostgresWithdrawalStorage(dbPool)
	app.auditStorage = storage.NewPostgresAuditStorage(dbPool)
	app.logger.Info("Successfully connected to database")

	return nil
}

// initDependencies инициализирует сервисы, внешние клиенты и handlers.
func (app *App) initDependencies() {
	cfg := app.cfg

	var verifier eligibility.Verifier
	if cfg.EligibilityServiceAddress != "" {
		app.logger.WithField("address", cfg.EligibilityServiceAddress).Info("Using eligibility service")
		verifier = eligibility.NewHTTPVerifier(cfg.EligibilityServiceAddress, cfg.EligibilityTimeout, cfg.EligibilityRPS)
	} else {
		app.logger.Warn("ELIGIBILITY_SERVICE_ADDRESS is not configured, every well-formed destination is accepted")
		verifier = eligibility.StaticVerifier{Eligible: true}
	}

	var sender notify.Sender
	if cfg.SendGridAPIKey != "" {
		sender = notify.NewSendGridSender(cfg.SendGridAPIKey, cfg.NotifyFrom)
	} else {
		app.logger.Warn("SENDGRID_API_KEY is not configured, refund notices are only logged")
		sender = notify.NewLogSender(app.logger)
	}

	// Service layer
	ledger := services.NewLedger(app.ledgerStorage, app.logger)
	orchestrator := services.NewOrchestrator(
		app.withdrawalStorage,
		app.auditStorage,
		ledger,
		verifier,
		services.OrchestratorConfig{
			MinAmount:     cfg.MinAmount,
			MaxAmount:     cfg.MaxAmount,
			StoreTimeout:  cfg.StoreTimeout,
			VerifyTimeout: cfg.EligibilityTimeout,
		},
		app.logger,
	)
	lifecycle := services.NewLifecycle(app.withdrawalStorage, app.auditStorage, ledger, sender, cfg.StoreTimeout, app.logger)

	// Handler layer
	app.withdrawalHandler = handlers.NewWithdrawalHandler(orchestrator, lifecycle)
	app.balanceHandler = handlers.NewBalanceHandler(ledger)

	// Сверка застрявших выводов
	if cfg.ReconcileInterval > 0 {
		app.worker = services.NewReconcileWorker(
			app.withdrawalStorage,
			app.auditStorage,
			app.ledgerStorage,
			cfg.ReconcileInterval,
			cfg.ReconcileGrace,
			cfg.StoreTimeout,
			app.logger,
		)
	} else {
		app.logger.Warn("Reconcile worker is disabled")
	}
}

// initServer инициализирует HTTP-сервер и настраивает маршруты.
func (app *App) initServer() {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(handlers.CorrelationID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			app.logger.WithFields(logrus.Fields{
				"method":         v.Method,
				"uri":            v.URI,
				"status":         v.Status,
				"latency":        v.Latency,
				"correlation_id": v.RequestID,
			}).Info("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.Gzip())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST},
	}))

	api := e.Group("/api")

	api.POST("/withdrawals", app.withdrawalHandler.Initiate)
	api.GET("/withdrawals/:id", app.withdrawalHandler.Get)
	api.POST("/withdrawals/:id/cancel", app.withdrawalHandler.Cancel)
	api.POST("/withdrawals/:id/refund", app.withdrawalHandler.Refund)
	api.POST("/withdrawals/:id/complete", app.withdrawalHandler.Complete)
	api.POST("/withdrawals/:id/fail", app.withdrawalHandler.Fail)

	api.GET("/users/:user_id/withdrawals", app.withdrawalHandler.ListByUser)
	api.GET("/users/:user_id/balances", app.balanceHandler.GetBalances)
	api.POST("/users/:user_id/deposits", app.balanceHandler.Deposit)

	app.echo = e
}

// Start запускает приложение.
func (app *App) Start(ctx context.Context) error {
	if app.worker != nil {
		app.logger.Info("Starting reconcile worker")
		app.worker.Start(ctx)
	}

	app.logger.WithField("address", app.cfg.RunAddress).Info("Starting server")
	if err := app.echo.Start(app.cfg.RunAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server stopped: %w", err)
	}

	return nil
}

// Shutdown корректно завершает работу приложения.
func (app *App) Shutdown(ctx context.Context) error {
	app.logger.Info("Shutting down server...")

	if err := app.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	if app.dbPool != nil {
		app.dbPool.Close()
	}

	app.logger.Info("Server gracefully stopped")
	return nil
}
