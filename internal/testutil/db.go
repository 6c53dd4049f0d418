package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"gopherai-rag/internal/platform/database"
)

// OpenTestDB returns a migrated sqlite database in a per-test directory.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.New(ctx, "sqlite", filepath.Join(t.TempDir(), "rag_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close(db)
	})
	return db
}

// OpenPostgresDB connects to the database named by TEST_DB_HOST and skips
// the test when it is unset. The server needs the vector extension.
func OpenPostgresDB(t *testing.T) *gorm.DB {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	dsn := fmt.Sprintf("host=%s port=5432 user=rag password=rag_pass dbname=rag_test sslmode=disable TimeZone=UTC", host)
	db, err := database.New(context.Background(), "postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close(db)
	})
	return db
}
