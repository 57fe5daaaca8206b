//go:build integration
// +build integration

package storage

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/agamariel/gopayout/internal/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func getTestDBPool(t *testing.T) *pgxpool.Pool {
	dbURI := os.Getenv("DATABASE_URI")
	if dbURI == "" {
		t.Skip("DATABASE_URI not set, skipping integration tests")
	}

	sqlDB, err := sql.Open("pgx", dbURI)
	if err != nil {
		t.Fatalf("Unable to open database: %v", err)
	}
	defer sqlDB.Close()

	if err := migrations.Run(sqlDB); err != nil {
		t.Fatalf("Unable to run migrations: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), dbURI)
	if err != nil {
		t.Fatalf("Unable to connect to database: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

func TestPostgresLedgerStorage(t *testing.T) {
	testLedgerStorage(t, NewPostgresLedgerStorage(getTestDBPool(t)))
}

func TestPostgresWithdrawalStorage(t *testing.T) {
	testWithdrawalStorage(t, NewPostgresWithdrawalStorage(getTestDBPool(t)))
}

func TestPostgresAuditStorage(t *testing.T) {
	testAuditStorage(t, NewPostgresAuditStorage(getTestDBPool(t)))
}
