package storage

import (
	"fmt"
	"strings"

	"github.com/rl1809/lot-allocation/internal/core/domain"
)

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const (
	itemColumns   = `code, description, created_at`
	orderColumns  = `seq, id, item_code, requested_quantity, allocated_quantity, status, submitted_at, version, updated_at`
	lotColumns    = `seq, id, item_code, received_quantity, remaining_quantity, receipt_date, unit_price, version, created_at, updated_at`
	resultColumns = `id, run_id, order_id, item_code, lot_id, allocated_quantity, unit_price, allocated_price, method, allocation_date`
	runColumns    = `id, method, executed_at, result_count`
)

func scanItem(row rowScanner) (domain.Item, error) {
	var item domain.Item
	err := row.Scan(&item.Code, &item.Description, &item.CreatedAt)
	return item, err
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	err := row.Scan(&o.Seq, &o.ID, &o.ItemCode, &o.RequestedQuantity, &o.AllocatedQuantity,
		&status, &o.SubmittedAt, &o.Version, &o.UpdatedAt)
	o.Status = domain.AllocationStatus(status)
	return o, err
}

func scanLot(row rowScanner) (domain.InventoryLot, error) {
	var l domain.InventoryLot
	err := row.Scan(&l.Seq, &l.ID, &l.ItemCode, &l.ReceivedQuantity, &l.RemainingQuantity,
		&l.ReceiptDate, &l.UnitPrice, &l.Version, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func scanResult(row rowScanner) (domain.AllocationResult, error) {
	var (
		r      domain.AllocationResult
		method string
	)
	if err := row.Scan(&r.ID, &r.RunID, &r.OrderID, &r.ItemCode, &r.LotID, &r.AllocatedQuantity,
		&r.UnitPrice, &r.AllocatedPrice, &method, &r.AllocationDate); err != nil {
		return r, err
	}
	m, err := domain.ParseMethod(method)
	if err != nil {
		return r, fmt.Errorf("result %s: %w", r.ID, err)
	}
	r.Method = m
	return r, nil
}

func scanRun(row rowScanner) (domain.AllocationRun, error) {
	var (
		run    domain.AllocationRun
		method string
	)
	if err := row.Scan(&run.ID, &method, &run.ExecutedAt, &run.ResultCount); err != nil {
		return run, err
	}
	m, err := domain.ParseMethod(method)
	if err != nil {
		return run, fmt.Errorf("run %s: %w", run.ID, err)
	}
	run.Method = m
	return run, nil
}

// resultWhere renders the filter as a WHERE clause. bind returns the
// placeholder for the next argument in the driver's dialect.
func resultWhere(f domain.ResultFilter, bind func(n int) string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, column+" = "+bind(len(args)))
	}
	if f.OrderID != "" {
		add("order_id", f.OrderID)
	}
	if f.ItemCode != "" {
		add("item_code", f.ItemCode)
	}
	if f.LotID != "" {
		add("lot_id", f.LotID)
	}
	if f.RunID != "" {
		add("run_id", f.RunID)
	}
	if f.Method.Valid() {
		add("method", f.Method.String())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
