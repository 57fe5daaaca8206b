package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var embedMigrations embed.FS

const dialect = "postgres"

func setup() error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return nil
}

// Run применяет все миграции схемы выводов к базе данных.
func Run(db *sql.DB) error {
	if err := setup(); err != nil {
		return err
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Reset откатывает все миграции. Используется в интеграционных тестах.
func Reset(db *sql.DB) error {
	if err := setup(); err != nil {
		return err
	}
	if err := goose.Reset(db, "."); err != nil {
		return fmt.Errorf("failed to reset migrations: %w", err)
	}
	return nil
}

// Version возвращает текущую версию миграций.
func Version(db *sql.DB) (int64, error) {
	if err := setup(); err != nil {
		return 0, err
	}
	version, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, nil
}
