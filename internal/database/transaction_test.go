package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"gorm.io/gorm"
)

func openTxTestDB(t *testing.T) Database {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := NewDatabase(ctx, "sqlite:///"+dbPath)
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Session(ctx).Exec("CREATE TABLE test_items (id INTEGER PRIMARY KEY, name TEXT)").Error; err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

func countItems(t *testing.T, db Database) int64 {
	t.Helper()
	var count int64
	if err := db.Session(context.Background()).Table("test_items").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return count
}

func TestTransaction_Commit(t *testing.T) {
	db := openTxTestDB(t)
	ctx := context.Background()

	txn, err := NewTransaction(ctx, db)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	if err := txn.Session().Exec("INSERT INTO test_items (name) VALUES (?)", "item1").Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if got := countItems(t, db); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
}

func TestTransaction_Rollback(t *testing.T) {
	db := openTxTestDB(t)
	ctx := context.Background()

	txn, err := NewTransaction(ctx, db)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	if err := txn.Session().Exec("INSERT INTO test_items (name) VALUES (?)", "item1").Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := txn.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if got := countItems(t, db); got != 0 {
		t.Errorf("count = %d, want 0 after rollback", got)
	}
}

func TestTransaction_RollbackAfterCommit(t *testing.T) {
	db := openTxTestDB(t)
	ctx := context.Background()

	txn, err := NewTransaction(ctx, db)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := txn.Rollback(); err != nil {
		t.Errorf("Rollback after Commit should be a no-op, got %v", err)
	}
}

func TestWithTransactionResult_Success(t *testing.T) {
	db := openTxTestDB(t)
	ctx := context.Background()

	got, err := WithTransactionResult(ctx, db, func(tx *gorm.DB) (int64, error) {
		if err := tx.Exec("INSERT INTO test_items (name) VALUES (?)", "item1").Error; err != nil {
			return 0, err
		}
		var count int64
		if err := tx.Table("test_items").Count(&count).Error; err != nil {
			return 0, err
		}
		return count, nil
	})
	if err != nil {
		t.Fatalf("WithTransactionResult: %v", err)
	}
	if got != 1 {
		t.Errorf("result = %d, want 1", got)
	}
	if count := countItems(t, db); count != 1 {
		t.Errorf("count = %d, want 1 after commit", count)
	}
}

func TestWithTransactionResult_ErrorRollsBack(t *testing.T) {
	db := openTxTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := WithTransactionResult(ctx, db, func(tx *gorm.DB) (int, error) {
		if err := tx.Exec("INSERT INTO test_items (name) VALUES (?)", "item1").Error; err != nil {
			return 0, err
		}
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if count := countItems(t, db); count != 0 {
		t.Errorf("count = %d, want 0 after rollback", count)
	}
}
