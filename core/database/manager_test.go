package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestPool(t *testing.T) *Pool {
	t.Helper()
	pool, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"), DefaultPoolConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestPoolBasicOperations(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	if _, err := pool.Exec(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY, value TEXT)"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}
	if _, err := pool.Exec(ctx, "INSERT INTO test (value) VALUES (?)", "hello"); err != nil {
		t.Fatalf("INSERT failed: %v", err)
	}

	var value string
	if err := pool.QueryRow(ctx, "SELECT value FROM test WHERE id = ?", []any{1}, &value); err != nil {
		t.Fatalf("SELECT failed: %v", err)
	}
	if value != "hello" {
		t.Errorf("value: got %s, want hello", value)
	}

	err := pool.QueryRow(ctx, "SELECT value FROM test WHERE id = ?", []any{2}, &value)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("missing row: got %v, want sql.ErrNoRows", err)
	}
}

func TestPoolTransactionRollback(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	_, _ = pool.Exec(ctx, "CREATE TABLE tx_test (id INTEGER PRIMARY KEY, value INTEGER)")

	err := pool.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO tx_test (value) VALUES (?)", 100)
		return err
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	err = pool.Transaction(ctx, func(tx *sql.Tx) error {
		_, _ = tx.Exec("INSERT INTO tx_test (value) VALUES (?)", 200)
		return sql.ErrNoRows
	})
	if err == nil {
		t.Error("Transaction should have failed")
	}

	var count int
	_ = pool.QueryRow(ctx, "SELECT COUNT(*) FROM tx_test", nil, &count)
	if count != 1 {
		t.Errorf("Rollback failed: count=%d, want 1", count)
	}
}

func TestPoolClosed(t *testing.T) {
	pool := openTestPool(t)
	if err := pool.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := pool.Exec(context.Background(), "SELECT 1"); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Exec after close: got %v, want ErrPoolClosed", err)
	}
}

func TestMigrator(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	migrations := []Migration{
		{
			Version:     2,
			Description: "add email column",
			Statements:  []string{"ALTER TABLE users ADD COLUMN email TEXT"},
		},
		{
			Version:     1,
			Description: "create users table",
			Statements:  []string{"CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)"},
		},
	}

	migrator := NewMigrator(pool, migrations)
	pending, err := migrator.Pending(ctx)
	if err != nil || len(pending) != 2 || pending[0].Version != 1 {
		t.Fatalf("Pending: got %v, %v", pending, err)
	}

	if err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	version, _ := pool.Version(ctx)
	if version != 2 {
		t.Errorf("Version: got %d, want 2", version)
	}

	if _, err := pool.Exec(ctx, "INSERT INTO users (name, email) VALUES ('a', 'a@example.com')"); err != nil {
		t.Errorf("migrated schema unusable: %v", err)
	}
}

func TestMigratorFailureKeepsVersion(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	migrator := NewMigrator(pool, []Migration{
		{Version: 1, Statements: []string{"CREATE TABLE ok (id INTEGER)"}},
		{Version: 2, Statements: []string{"NOT VALID SQL"}},
	})
	if err := migrator.Migrate(ctx); err == nil {
		t.Fatal("Migrate should fail")
	}

	version, _ := pool.Version(ctx)
	if version != 1 {
		t.Errorf("Version: got %d, want 1", version)
	}
}

func TestAdvisoryLock(t *testing.T) {
	tmpDir := t.TempDir()

	lock, err := NewAdvisoryLock(tmpDir, "test")
	if err != nil {
		t.Fatalf("NewAdvisoryLock failed: %v", err)
	}

	ctx := context.Background()
	if err := lock.Acquire(ctx, time.Second); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !lock.IsHeld() {
		t.Error("Lock should be held")
	}

	lock2, _ := NewAdvisoryLock(tmpDir, "test")
	if acquired, _ := lock2.TryAcquire(); acquired {
		t.Error("Second lock should not acquire")
	}
	if err := lock2.Acquire(ctx, 50*time.Millisecond); err == nil {
		t.Error("Acquire should time out while held")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if lock.IsHeld() {
		t.Error("Lock should not be held after release")
	}

	if acquired, _ := lock2.TryAcquire(); !acquired {
		t.Error("Second lock should acquire after release")
	}
	lock2.Release()
}
