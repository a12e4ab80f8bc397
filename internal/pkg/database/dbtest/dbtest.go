// Package dbtest opens the integration test database. Tests using it are
// skipped unless TEST_DATABASE_URL points at a reachable PostgreSQL.
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/reach/reach-api/internal/pkg/database"
)

// Open connects, applies migrations and registers cleanup.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Skipf("db not available: %v", err)
	}
	if err := database.MigrateUp(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// CreateChild inserts a child owned by parent and returns its id.
func CreateChild(t testing.TB, db *sqlx.DB, parent uuid.UUID) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(`INSERT INTO children (id, parent_user_id, nickname) VALUES ($1, $2, $3)`, id, parent, "kid-"+id.String()[:8])
	if err != nil {
		t.Fatalf("create child failed: %v", err)
	}
	return id
}

// CreateItem inserts a shop item and returns its id.
func CreateItem(t testing.TB, db *sqlx.DB, name string, price int64, inventory *int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(`
		INSERT INTO shop_items (id, name, category, price, is_active, inventory_qty)
		VALUES ($1, $2, 'Test', $3, TRUE, $4)
	`, id, name, price, inventory)
	if err != nil {
		t.Fatalf("create item failed: %v", err)
	}
	return id
}
