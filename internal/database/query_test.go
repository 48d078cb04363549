package database

import (
	"context"
	"path/filepath"
	"testing"
)

func TestQuery_Chaining(t *testing.T) {
	q := NewQuery().
		Equal("state", "waiting").
		LessThanOrEqual("run_after", 100).
		OrderAsc("run_after").
		Limit(1)

	filters := q.Filters()
	if len(filters) != 2 {
		t.Fatalf("Filters() len = %d, want 2", len(filters))
	}
	if filters[0].Field() != "state" || filters[0].Operator() != OpEqual {
		t.Errorf("first filter = %v %v, want state =", filters[0].Field(), filters[0].Operator())
	}
	if filters[1].Field() != "run_after" || filters[1].Operator() != OpLessThanOrEqual {
		t.Errorf("second filter = %v %v, want run_after <=", filters[1].Field(), filters[1].Operator())
	}

	orders := q.Orders()
	if len(orders) != 1 {
		t.Fatalf("Orders() len = %d, want 1", len(orders))
	}
	if orders[0].Field() != "run_after" || orders[0].Direction() != SortAsc {
		t.Errorf("order = %v %v, want run_after ASC", orders[0].Field(), orders[0].Direction())
	}
}

func TestQuery_MethodsReturnCopies(t *testing.T) {
	base := NewQuery().Equal("state", "failed")
	derived := base.LessThan("updated_at", 50)

	if len(base.Filters()) != 1 {
		t.Errorf("base mutated: %d filters, want 1", len(base.Filters()))
	}
	if len(derived.Filters()) != 2 {
		t.Errorf("derived = %d filters, want 2", len(derived.Filters()))
	}
}

func TestQuery_Apply(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := NewDatabase(ctx, "sqlite:///"+dbPath)
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	defer func() { _ = db.Close() }()

	err = db.Session(ctx).Exec(`
		CREATE TABLE test_jobs (
			id INTEGER PRIMARY KEY,
			state TEXT,
			run_after INTEGER
		)
	`).Error
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	err = db.Session(ctx).Exec(`
		INSERT INTO test_jobs (state, run_after) VALUES
		('waiting', 10),
		('waiting', 30),
		('active', 5),
		('waiting', 20)
	`).Error
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	type testJob struct {
		ID       int64
		State    string
		RunAfter int64
	}

	var rows []testJob
	q := NewQuery().
		Equal("state", "waiting").
		LessThanOrEqual("run_after", 25).
		OrderDesc("run_after")
	if err := q.Apply(db.Session(ctx).Table("test_jobs")).Find(&rows).Error; err != nil {
		t.Fatalf("apply query: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].RunAfter != 20 || rows[1].RunAfter != 10 {
		t.Errorf("order = [%d, %d], want [20, 10]", rows[0].RunAfter, rows[1].RunAfter)
	}
}

func TestQuery_ApplyLimitOffset(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := NewDatabase(ctx, "sqlite:///"+dbPath)
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Session(ctx).Exec("CREATE TABLE test_rows (id INTEGER PRIMARY KEY, n INTEGER)").Error; err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := db.Session(ctx).Exec("INSERT INTO test_rows (n) VALUES (1), (2), (3), (4)").Error; err != nil {
		t.Fatalf("insert: %v", err)
	}

	var ns []int64
	q := NewQuery().GreaterThanOrEqual("n", 1).OrderAsc("n").Limit(2).Offset(1)
	if err := q.Apply(db.Session(ctx).Table("test_rows")).Pluck("n", &ns).Error; err != nil {
		t.Fatalf("apply query: %v", err)
	}

	if len(ns) != 2 || ns[0] != 2 || ns[1] != 3 {
		t.Errorf("got %v, want [2 3]", ns)
	}
}
