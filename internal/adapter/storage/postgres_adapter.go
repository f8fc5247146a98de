package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rl1809/lot-allocation/internal/core/domain"
	"github.com/rl1809/lot-allocation/internal/core/engine"
	"github.com/rl1809/lot-allocation/internal/core/ledger"
	"github.com/rl1809/lot-allocation/internal/port"
)

const pgUniqueViolation = "23505"

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		code TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		seq BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		item_code TEXT NOT NULL,
		requested_quantity INT NOT NULL,
		allocated_quantity INT NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		submitted_at TIMESTAMPTZ NOT NULL,
		version INT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_pending ON orders (item_code, submitted_at, seq)
		WHERE allocated_quantity < requested_quantity`,
	`CREATE TABLE IF NOT EXISTS inventory_lots (
		seq BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		item_code TEXT NOT NULL,
		received_quantity INT NOT NULL,
		remaining_quantity INT NOT NULL,
		receipt_date TIMESTAMPTZ NOT NULL,
		unit_price NUMERIC(18,4) NOT NULL DEFAULT 0,
		version INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lots_item ON inventory_lots (item_code, seq)`,
	`CREATE TABLE IF NOT EXISTS allocation_runs (
		seq BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		method TEXT NOT NULL,
		executed_at TIMESTAMPTZ NOT NULL,
		result_count INT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS allocation_results (
		seq BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		run_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		item_code TEXT NOT NULL,
		lot_id TEXT NOT NULL,
		allocated_quantity INT NOT NULL,
		unit_price NUMERIC(18,4) NOT NULL,
		allocated_price NUMERIC(18,4) NOT NULL,
		method TEXT NOT NULL,
		allocation_date TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_results_order ON allocation_results (order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_results_run ON allocation_results (run_id)`,
}

// PostgresAdapter stores committed state in PostgreSQL through a pgx pool.
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

var _ port.DatabaseRepository = (*PostgresAdapter)(nil)

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

func (p *PostgresAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func isPgDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (p *PostgresAdapter) CreateItem(ctx context.Context, item domain.Item) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO items (code, description, created_at) VALUES ($1,$2,$3)`,
		item.Code, item.Description, item.CreatedAt)
	if isPgDuplicate(err) {
		return fmt.Errorf("item %s: %w", item.Code, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) GetItem(ctx context.Context, code string) (*domain.Item, error) {
	item, err := scanItem(p.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE code=$1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	return &item, nil
}

func (p *PostgresAdapter) ListItems(ctx context.Context) ([]domain.Item, error) {
	return pgQuery(ctx, p.pool, scanItem, `SELECT `+itemColumns+` FROM items ORDER BY code`)
}

func (p *PostgresAdapter) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO orders (id, item_code, requested_quantity, allocated_quantity, status, submitted_at, version, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,0,$6)
		RETURNING seq`,
		order.ID, order.ItemCode, order.RequestedQuantity, order.AllocatedQuantity,
		string(order.Status), order.SubmittedAt,
	).Scan(&order.Seq)
	if isPgDuplicate(err) {
		return domain.Order{}, fmt.Errorf("order %s: %w", order.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	order.Version = 0
	order.UpdatedAt = order.SubmittedAt
	return order, nil
}

func (p *PostgresAdapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(p.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &order, nil
}

func (p *PostgresAdapter) ListOrders(ctx context.Context, itemCode string) ([]domain.Order, error) {
	if itemCode == "" {
		return pgQuery(ctx, p.pool, scanOrder, `SELECT `+orderColumns+` FROM orders ORDER BY submitted_at, seq`)
	}
	return pgQuery(ctx, p.pool, scanOrder,
		`SELECT `+orderColumns+` FROM orders WHERE item_code=$1 ORDER BY submitted_at, seq`, itemCode)
}

func (p *PostgresAdapter) CreateLot(ctx context.Context, lot domain.InventoryLot) (domain.InventoryLot, error) {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO inventory_lots (id, item_code, received_quantity, remaining_quantity, receipt_date, unit_price, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6::numeric,0,$7,$8)
		RETURNING seq`,
		lot.ID, lot.ItemCode, lot.ReceivedQuantity, lot.RemainingQuantity, lot.ReceiptDate,
		lot.UnitPrice.String(), lot.CreatedAt, lot.UpdatedAt,
	).Scan(&lot.Seq)
	if isPgDuplicate(err) {
		return domain.InventoryLot{}, fmt.Errorf("lot %s: %w", lot.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return domain.InventoryLot{}, fmt.Errorf("insert lot: %w", err)
	}
	lot.Version = 0
	return lot, nil
}

func (p *PostgresAdapter) ListLots(ctx context.Context, itemCode string) ([]domain.InventoryLot, error) {
	if itemCode == "" {
		return pgQuery(ctx, p.pool, scanLot, `SELECT `+lotColumns+` FROM inventory_lots ORDER BY seq`)
	}
	return pgQuery(ctx, p.pool, scanLot,
		`SELECT `+lotColumns+` FROM inventory_lots WHERE item_code=$1 ORDER BY seq`, itemCode)
}

func pgBind(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (p *PostgresAdapter) ListResults(ctx context.Context, filter domain.ResultFilter) ([]domain.AllocationResult, error) {
	where, args := resultWhere(filter, pgBind)
	query := `SELECT ` + resultColumns + ` FROM allocation_results` + where + ` ORDER BY seq`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT ` + pgBind(len(args))
	}
	return pgQuery(ctx, p.pool, scanResult, query, args...)
}

func (p *PostgresAdapter) ListRuns(ctx context.Context, limit int) ([]domain.AllocationRun, error) {
	query := `SELECT ` + runColumns + ` FROM allocation_runs ORDER BY seq DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	return pgQuery(ctx, p.pool, scanRun, query, args...)
}

func (p *PostgresAdapter) PendingItemCodes(ctx context.Context) ([]string, error) {
	return pgQuery(ctx, p.pool, func(row rowScanner) (string, error) {
		var code string
		err := row.Scan(&code)
		return code, err
	}, `SELECT DISTINCT item_code FROM orders WHERE allocated_quantity < requested_quantity ORDER BY item_code`)
}

func (p *PostgresAdapter) LoadSnapshot(ctx context.Context, itemCodes []string) (*ledger.Snapshot, error) {
	if len(itemCodes) == 0 {
		return ledger.NewSnapshot(nil, nil, nil)
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	items, err := pgQuery(ctx, tx, scanItem,
		`SELECT `+itemColumns+` FROM items WHERE code = ANY($1)`, itemCodes)
	if err != nil {
		return nil, err
	}
	lots, err := pgQuery(ctx, tx, scanLot,
		`SELECT `+lotColumns+` FROM inventory_lots WHERE item_code = ANY($1) ORDER BY seq`, itemCodes)
	if err != nil {
		return nil, err
	}
	orders, err := pgQuery(ctx, tx, scanOrder,
		`SELECT `+orderColumns+` FROM orders
		WHERE item_code = ANY($1) AND allocated_quantity < requested_quantity
		ORDER BY submitted_at, seq`, itemCodes)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit snapshot tx: %w", err)
	}
	return ledger.NewSnapshot(items, lots, orders)
}

func (p *PostgresAdapter) CommitRun(ctx context.Context, plan *engine.Plan) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	run := plan.Run()
	_, err = tx.Exec(ctx, `INSERT INTO allocation_runs (id, method, executed_at, result_count) VALUES ($1,$2,$3,$4)`,
		run.ID, run.Method.String(), run.ExecutedAt, run.ResultCount)
	if isPgDuplicate(err) {
		return fmt.Errorf("run %s: %w", run.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, lot := range plan.Lots {
		tag, err := tx.Exec(ctx, `
			UPDATE inventory_lots
			SET remaining_quantity=$1, version=version+1, updated_at=$2
			WHERE id=$3 AND version=$4`,
			lot.RemainingQuantity, lot.UpdatedAt, lot.ID, lot.Version)
		if err != nil {
			return fmt.Errorf("update lot %s: %w", lot.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return port.ErrOptimisticLock
		}
	}

	for _, order := range plan.Orders {
		tag, err := tx.Exec(ctx, `
			UPDATE orders
			SET allocated_quantity=$1, status=$2, version=version+1, updated_at=$3
			WHERE id=$4 AND version=$5`,
			order.AllocatedQuantity, string(order.Status), order.UpdatedAt, order.ID, order.Version)
		if err != nil {
			return fmt.Errorf("update order %s: %w", order.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return port.ErrOptimisticLock
		}
	}

	batch := &pgx.Batch{}
	for _, r := range plan.Results {
		batch.Queue(`INSERT INTO allocation_results (`+resultColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8::numeric,$9,$10)`,
			r.ID, r.RunID, r.OrderID, r.ItemCode, r.LotID, r.AllocatedQuantity,
			r.UnitPrice.String(), r.AllocatedPrice.String(), r.Method.String(), r.AllocationDate)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert results: %w", err)
	}

	return tx.Commit(ctx)
}

type pgQueryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func pgQuery[T any](ctx context.Context, q pgQueryer, scan func(rowScanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, query, args...)
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
