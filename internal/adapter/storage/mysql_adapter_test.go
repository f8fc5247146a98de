package storage

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/allocation?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	return db
}

func newMySQLAdapter(t *testing.T) *MySQLAdapter {
	db := getMySQLDB(t)
	t.Cleanup(func() { db.Close() })

	adapter := NewMySQLAdapter(db)
	if err := adapter.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return adapter
}

func TestMySQLAdapter_Contract(t *testing.T) {
	testRepositoryContract(t, newMySQLAdapter(t))
}

func TestMySQLAdapter_EmptySnapshot(t *testing.T) {
	adapter := newMySQLAdapter(t)

	snap, err := adapter.LoadSnapshot(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Lots.Len() != 0 || snap.Orders.Len() != 0 {
		t.Errorf("expected empty snapshot, got %d lots and %d orders", snap.Lots.Len(), snap.Orders.Len())
	}
}

func TestInClause(t *testing.T) {
	if got := inClause(3); got != "?,?,?" {
		t.Errorf("expected ?,?,?, got %s", got)
	}
	if got := inClause(1); got != "?" {
		t.Errorf("expected ?, got %s", got)
	}
}
