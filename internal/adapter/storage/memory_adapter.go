package storage

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rl1809/lot-allocation/internal/core/domain"
	"github.com/rl1809/lot-allocation/internal/core/engine"
	"github.com/rl1809/lot-allocation/internal/core/ledger"
	"github.com/rl1809/lot-allocation/internal/port"
)

// MemoryAdapter keeps committed state in process. Readers share mu; a commit
// holds it exclusively, so listings and snapshots never see half a run.
type MemoryAdapter struct {
	mu       sync.RWMutex
	items    map[string]domain.Item
	lots     *ledger.LotLedger
	orders   *ledger.OrderQueue
	results  []domain.AllocationResult
	runs     []domain.AllocationRun
	lotSeq   int64
	orderSeq int64
}

var _ port.DatabaseRepository = (*MemoryAdapter)(nil)

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		items:  make(map[string]domain.Item),
		lots:   ledger.NewLotLedger(),
		orders: ledger.NewOrderQueue(),
	}
}

func (m *MemoryAdapter) CreateItem(ctx context.Context, item domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[item.Code]; exists {
		return fmt.Errorf("item %s: %w", item.Code, domain.ErrAlreadyExists)
	}
	m.items[item.Code] = item
	return nil
}

func (m *MemoryAdapter) GetItem(ctx context.Context, code string) (*domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[code]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *MemoryAdapter) ListItems(ctx context.Context) ([]domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]domain.Item, 0, len(m.items))
	for _, item := range m.items {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.Item) int { return cmp.Compare(a.Code, b.Code) })
	return items, nil
}

func (m *MemoryAdapter) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.orderSeq++
	order.Seq = m.orderSeq
	order.Version = 0
	if err := m.orders.Submit(order); err != nil {
		m.orderSeq--
		return domain.Order{}, err
	}
	return order, nil
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders.Get(id)
	if !ok {
		return nil, nil
	}
	return &order, nil
}

func (m *MemoryAdapter) ListOrders(ctx context.Context, itemCode string) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var orders []domain.Order
	for _, o := range m.orders.All() {
		if itemCode == "" || o.ItemCode == itemCode {
			orders = append(orders, o)
		}
	}
	slices.SortStableFunc(orders, func(a, b domain.Order) int {
		if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return orders, nil
}

func (m *MemoryAdapter) CreateLot(ctx context.Context, lot domain.InventoryLot) (domain.InventoryLot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lotSeq++
	lot.Seq = m.lotSeq
	lot.Version = 0
	if err := m.lots.Receive(lot); err != nil {
		m.lotSeq--
		return domain.InventoryLot{}, err
	}
	return lot, nil
}

func (m *MemoryAdapter) ListLots(ctx context.Context, itemCode string) ([]domain.InventoryLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if itemCode != "" {
		return m.lots.LotsFor(itemCode), nil
	}
	return m.lots.All(), nil
}

func (m *MemoryAdapter) ListResults(ctx context.Context, filter domain.ResultFilter) ([]domain.AllocationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []domain.AllocationResult
	for _, r := range m.results {
		if !filter.Match(r) {
			continue
		}
		results = append(results, r)
		if filter.Limit > 0 && len(results) == filter.Limit {
			break
		}
	}
	return results, nil
}

func (m *MemoryAdapter) ListRuns(ctx context.Context, limit int) ([]domain.AllocationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]domain.AllocationRun, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		runs = append(runs, m.runs[i])
		if limit > 0 && len(runs) == limit {
			break
		}
	}
	return runs, nil
}

func (m *MemoryAdapter) PendingItemCodes(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.orders.PendingItems(), nil
}

func (m *MemoryAdapter) LoadSnapshot(ctx context.Context, itemCodes []string) (*ledger.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		items  []domain.Item
		lots   []domain.InventoryLot
		orders []domain.Order
	)
	for _, code := range itemCodes {
		if item, ok := m.items[code]; ok {
			items = append(items, item)
		}
		lots = append(lots, m.lots.LotsFor(code)...)
		orders = append(orders, m.orders.Pending(code)...)
	}
	return ledger.NewSnapshot(items, lots, orders)
}

func (m *MemoryAdapter) CommitRun(ctx context.Context, plan *engine.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, run := range m.runs {
		if run.ID == plan.RunID {
			return fmt.Errorf("run %s: %w", plan.RunID, domain.ErrAlreadyExists)
		}
	}

	// verify every version before touching anything
	for _, lot := range plan.Lots {
		current, ok := m.lots.Lot(lot.ID)
		if !ok || current.Version != lot.Version {
			return port.ErrOptimisticLock
		}
	}
	for _, order := range plan.Orders {
		current, ok := m.orders.Get(order.ID)
		if !ok || current.Version != order.Version {
			return port.ErrOptimisticLock
		}
	}

	for _, lot := range plan.Lots {
		lot.Version++
		if err := m.lots.Put(lot); err != nil {
			return err
		}
	}
	for _, order := range plan.Orders {
		order.Version++
		if err := m.orders.Put(order); err != nil {
			return err
		}
	}
	m.results = append(m.results, plan.Results...)
	m.runs = append(m.runs, plan.Run())
	return nil
}

// Dump returns all committed state at once.
func (m *MemoryAdapter) Dump() ([]domain.InventoryLot, []domain.Order, []domain.AllocationResult) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.lots.All(), m.orders.All(), slices.Clone(m.results)
}
