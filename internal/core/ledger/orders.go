package ledger

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/rl1809/lot-allocation/internal/core/domain"
)

// OrderQueue keeps orders per item in submission order. An order stays
// pending until its requested quantity is covered and never comes back.
type OrderQueue struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	byItem map[string][]string
	seq    []string
}

func NewOrderQueue() *OrderQueue {
	return &OrderQueue{
		orders: make(map[string]*domain.Order),
		byItem: make(map[string][]string),
	}
}

func submissionOrder(a, b *domain.Order) int {
	if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

func (q *OrderQueue) Submit(order domain.Order) error {
	if order.ID == "" {
		return fmt.Errorf("%w: order id cannot be empty", domain.ErrInvalidArgument)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.orders[order.ID]; exists {
		return fmt.Errorf("order %s: %w", order.ID, domain.ErrAlreadyExists)
	}
	q.orders[order.ID] = &order

	// Insert after every order that sorts equal or earlier, keeping ties in
	// insertion order.
	ids := q.byItem[order.ItemCode]
	pos := len(ids)
	for i, id := range ids {
		if submissionOrder(&order, q.orders[id]) < 0 {
			pos = i
			break
		}
	}
	q.byItem[order.ItemCode] = slices.Insert(ids, pos, order.ID)
	q.seq = append(q.seq, order.ID)
	return nil
}

// Pending returns the item's orders with outstanding quantity, oldest first.
func (q *OrderQueue) Pending(itemCode string) []domain.Order {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pending []domain.Order
	for _, id := range q.byItem[itemCode] {
		if o := q.orders[id]; o.Pending() {
			pending = append(pending, *o)
		}
	}
	return pending
}

// PendingItems returns the sorted codes of items with at least one pending order.
func (q *OrderQueue) PendingItems() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var items []string
	for item, ids := range q.byItem {
		for _, id := range ids {
			if q.orders[id].Pending() {
				items = append(items, item)
				break
			}
		}
	}
	slices.Sort(items)
	return items
}

func (q *OrderQueue) Get(id string) (domain.Order, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	o, ok := q.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Apply records quantity allocated to the order and refreshes its status.
func (q *OrderQueue) Apply(id string, quantity int) (domain.Order, error) {
	if quantity <= 0 {
		return domain.Order{}, fmt.Errorf("%w: applied quantity must be positive, got %d", domain.ErrInvalidArgument, quantity)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	o, ok := q.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if quantity > o.Outstanding() {
		return *o, fmt.Errorf("%w: order %s outstanding %d, applying %d", domain.ErrInvalidArgument, id, o.Outstanding(), quantity)
	}
	o.AllocatedQuantity += quantity
	o.Status = domain.StatusFor(o.RequestedQuantity, o.AllocatedQuantity)
	return *o, nil
}

// Put overwrites an existing order with committed state.
func (q *OrderQueue) Put(order domain.Order) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.orders[order.ID]; !ok {
		return fmt.Errorf("order %s: %w", order.ID, domain.ErrNotFound)
	}
	q.orders[order.ID] = &order
	return nil
}

// All returns every order in insertion order.
func (q *OrderQueue) All() []domain.Order {
	q.mu.Lock()
	defer q.mu.Unlock()

	orders := make([]domain.Order, 0, len(q.seq))
	for _, id := range q.seq {
		orders = append(orders, *q.orders[id])
	}
	return orders
}

func (q *OrderQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.seq)
}

func (q *OrderQueue) Clone() *OrderQueue {
	q.mu.Lock()
	defer q.mu.Unlock()

	c := &OrderQueue{
		orders: make(map[string]*domain.Order, len(q.orders)),
		byItem: make(map[string][]string, len(q.byItem)),
		seq:    slices.Clone(q.seq),
	}
	for id, o := range q.orders {
		cp := *o
		c.orders[id] = &cp
	}
	for item, ids := range q.byItem {
		c.byItem[item] = slices.Clone(ids)
	}
	return c
}
