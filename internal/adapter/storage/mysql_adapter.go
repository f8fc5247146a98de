package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/lot-allocation/internal/core/domain"
	"github.com/rl1809/lot-allocation/internal/core/engine"
	"github.com/rl1809/lot-allocation/internal/core/ledger"
	"github.com/rl1809/lot-allocation/internal/port"
)

const mysqlDuplicateEntry = 1062

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		code VARCHAR(64) PRIMARY KEY,
		description VARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		seq BIGINT AUTO_INCREMENT PRIMARY KEY,
		id VARCHAR(64) NOT NULL UNIQUE,
		item_code VARCHAR(64) NOT NULL,
		requested_quantity INT NOT NULL,
		allocated_quantity INT NOT NULL DEFAULT 0,
		status VARCHAR(32) NOT NULL,
		submitted_at DATETIME(6) NOT NULL,
		version INT NOT NULL DEFAULT 0,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_orders_pending (item_code, submitted_at, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS inventory_lots (
		seq BIGINT AUTO_INCREMENT PRIMARY KEY,
		id VARCHAR(64) NOT NULL UNIQUE,
		item_code VARCHAR(64) NOT NULL,
		received_quantity INT NOT NULL,
		remaining_quantity INT NOT NULL,
		receipt_date DATETIME(6) NOT NULL,
		unit_price DECIMAL(18,4) NOT NULL DEFAULT 0,
		version INT NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_lots_item (item_code, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS allocation_runs (
		seq BIGINT AUTO_INCREMENT PRIMARY KEY,
		id VARCHAR(64) NOT NULL UNIQUE,
		method VARCHAR(8) NOT NULL,
		executed_at DATETIME(6) NOT NULL,
		result_count INT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS allocation_results (
		seq BIGINT AUTO_INCREMENT PRIMARY KEY,
		id VARCHAR(64) NOT NULL UNIQUE,
		run_id VARCHAR(64) NOT NULL,
		order_id VARCHAR(64) NOT NULL,
		item_code VARCHAR(64) NOT NULL,
		lot_id VARCHAR(64) NOT NULL,
		allocated_quantity INT NOT NULL,
		unit_price DECIMAL(18,4) NOT NULL,
		allocated_price DECIMAL(18,4) NOT NULL,
		method VARCHAR(8) NOT NULL,
		allocation_date DATETIME(6) NOT NULL,
		INDEX idx_results_order (order_id),
		INDEX idx_results_run (run_id)
	)`,
}

// MySQLAdapter stores committed state in MySQL. The DSN must set parseTime=true.
type MySQLAdapter struct {
	db *sql.DB
}

var _ port.DatabaseRepository = (*MySQLAdapter)(nil)

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the tables if they are missing.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func isMySQLDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

func inClause(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func (m *MySQLAdapter) CreateItem(ctx context.Context, item domain.Item) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO items (code, description, created_at) VALUES (?, ?, ?)`,
		item.Code, item.Description, item.CreatedAt,
	)
	if isMySQLDuplicate(err) {
		return fmt.Errorf("item %s: %w", item.Code, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, code string) (*domain.Item, error) {
	item, err := scanItem(m.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE code = ?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	return &item, nil
}

func (m *MySQLAdapter) ListItems(ctx context.Context) ([]domain.Item, error) {
	return mysqlQuery(ctx, m.db, scanItem, `SELECT `+itemColumns+` FROM items ORDER BY code`)
}

func (m *MySQLAdapter) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO orders (id, item_code, requested_quantity, allocated_quantity, status, submitted_at, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		order.ID, order.ItemCode, order.RequestedQuantity, order.AllocatedQuantity,
		string(order.Status), order.SubmittedAt, order.SubmittedAt,
	)
	if isMySQLDuplicate(err) {
		return domain.Order{}, fmt.Errorf("order %s: %w", order.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return domain.Order{}, fmt.Errorf("order seq: %w", err)
	}
	order.Seq = seq
	order.Version = 0
	order.UpdatedAt = order.SubmittedAt
	return order, nil
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(m.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &order, nil
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, itemCode string) ([]domain.Order, error) {
	if itemCode == "" {
		return mysqlQuery(ctx, m.db, scanOrder,
			`SELECT `+orderColumns+` FROM orders ORDER BY submitted_at, seq`)
	}
	return mysqlQuery(ctx, m.db, scanOrder,
		`SELECT `+orderColumns+` FROM orders WHERE item_code = ? ORDER BY submitted_at, seq`, itemCode)
}

func (m *MySQLAdapter) CreateLot(ctx context.Context, lot domain.InventoryLot) (domain.InventoryLot, error) {
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO inventory_lots (id, item_code, received_quantity, remaining_quantity, receipt_date, unit_price, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		lot.ID, lot.ItemCode, lot.ReceivedQuantity, lot.RemainingQuantity, lot.ReceiptDate,
		lot.UnitPrice, lot.CreatedAt, lot.UpdatedAt,
	)
	if isMySQLDuplicate(err) {
		return domain.InventoryLot{}, fmt.Errorf("lot %s: %w", lot.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return domain.InventoryLot{}, fmt.Errorf("insert lot: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return domain.InventoryLot{}, fmt.Errorf("lot seq: %w", err)
	}
	lot.Seq = seq
	lot.Version = 0
	return lot, nil
}

func (m *MySQLAdapter) ListLots(ctx context.Context, itemCode string) ([]domain.InventoryLot, error) {
	if itemCode == "" {
		return mysqlQuery(ctx, m.db, scanLot, `SELECT `+lotColumns+` FROM inventory_lots ORDER BY seq`)
	}
	return mysqlQuery(ctx, m.db, scanLot,
		`SELECT `+lotColumns+` FROM inventory_lots WHERE item_code = ? ORDER BY seq`, itemCode)
}

func (m *MySQLAdapter) ListResults(ctx context.Context, filter domain.ResultFilter) ([]domain.AllocationResult, error) {
	where, args := resultWhere(filter, func(int) string { return "?" })
	query := `SELECT ` + resultColumns + ` FROM allocation_results` + where + ` ORDER BY seq`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return mysqlQuery(ctx, m.db, scanResult, query, args...)
}

func (m *MySQLAdapter) ListRuns(ctx context.Context, limit int) ([]domain.AllocationRun, error) {
	query := `SELECT ` + runColumns + ` FROM allocation_runs ORDER BY seq DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return mysqlQuery(ctx, m.db, scanRun, query, args...)
}

func (m *MySQLAdapter) PendingItemCodes(ctx context.Context) ([]string, error) {
	return mysqlQuery(ctx, m.db, func(row rowScanner) (string, error) {
		var code string
		err := row.Scan(&code)
		return code, err
	}, `SELECT DISTINCT item_code FROM orders WHERE allocated_quantity < requested_quantity ORDER BY item_code`)
}

func (m *MySQLAdapter) LoadSnapshot(ctx context.Context, itemCodes []string) (*ledger.Snapshot, error) {
	if len(itemCodes) == 0 {
		return ledger.NewSnapshot(nil, nil, nil)
	}

	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	in := inClause(len(itemCodes))
	args := stringArgs(itemCodes)

	items, err := mysqlQuery(ctx, tx, scanItem,
		`SELECT `+itemColumns+` FROM items WHERE code IN (`+in+`)`, args...)
	if err != nil {
		return nil, err
	}
	lots, err := mysqlQuery(ctx, tx, scanLot,
		`SELECT `+lotColumns+` FROM inventory_lots WHERE item_code IN (`+in+`) ORDER BY seq`, args...)
	if err != nil {
		return nil, err
	}
	orders, err := mysqlQuery(ctx, tx, scanOrder,
		`SELECT `+orderColumns+` FROM orders
		WHERE item_code IN (`+in+`) AND allocated_quantity < requested_quantity
		ORDER BY submitted_at, seq`, args...)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit snapshot tx: %w", err)
	}
	return ledger.NewSnapshot(items, lots, orders)
}

// CommitRun applies the plan in one transaction. Any row whose version moved
// since the snapshot aborts the whole run with ErrOptimisticLock.
func (m *MySQLAdapter) CommitRun(ctx context.Context, plan *engine.Plan) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	run := plan.Run()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO allocation_runs (id, method, executed_at, result_count) VALUES (?, ?, ?, ?)`,
		run.ID, run.Method.String(), run.ExecutedAt, run.ResultCount,
	)
	if isMySQLDuplicate(err) {
		return fmt.Errorf("run %s: %w", run.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, lot := range plan.Lots {
		result, err := tx.ExecContext(ctx, `
			UPDATE inventory_lots
			SET remaining_quantity = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`,
			lot.RemainingQuantity, lot.UpdatedAt, lot.ID, lot.Version,
		)
		if err != nil {
			return fmt.Errorf("update lot %s: %w", lot.ID, err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return port.ErrOptimisticLock
		}
	}

	for _, order := range plan.Orders {
		result, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET allocated_quantity = ?, status = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`,
			order.AllocatedQuantity, string(order.Status), order.UpdatedAt, order.ID, order.Version,
		)
		if err != nil {
			return fmt.Errorf("update order %s: %w", order.ID, err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return port.ErrOptimisticLock
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO allocation_results (`+resultColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare result insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range plan.Results {
		if _, err := stmt.ExecContext(ctx, r.ID, r.RunID, r.OrderID, r.ItemCode, r.LotID,
			r.AllocatedQuantity, r.UnitPrice, r.AllocatedPrice, r.Method.String(), r.AllocationDate); err != nil {
			return fmt.Errorf("insert result %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

type sqlQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func mysqlQuery[T any](ctx context.Context, q sqlQueryer, scan func(rowScanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
