// Package ledger holds the mutable allocation state: lots per item and the
// queue of pending orders. Both are explicit values handed to each run.
package ledger

import (
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/rl1809/lot-allocation/internal/core/domain"
)

type LotLedger struct {
	mu     sync.Mutex
	lots   map[string]*domain.InventoryLot
	byItem map[string][]string // lot IDs in receipt order
	seq    []string
}

func NewLotLedger() *LotLedger {
	return &LotLedger{
		lots:   make(map[string]*domain.InventoryLot),
		byItem: make(map[string][]string),
	}
}

// Receive appends a lot. A receipt never merges into an existing lot, even
// one received on the same date.
func (l *LotLedger) Receive(lot domain.InventoryLot) error {
	if lot.ID == "" {
		return fmt.Errorf("%w: lot id cannot be empty", domain.ErrInvalidArgument)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.lots[lot.ID]; exists {
		return fmt.Errorf("lot %s: %w", lot.ID, domain.ErrAlreadyExists)
	}
	l.lots[lot.ID] = &lot
	l.byItem[lot.ItemCode] = append(l.byItem[lot.ItemCode], lot.ID)
	l.seq = append(l.seq, lot.ID)
	return nil
}

// LotsFor returns every lot of the item, exhausted ones included.
func (l *LotLedger) LotsFor(itemCode string) []domain.InventoryLot {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := l.byItem[itemCode]
	lots := make([]domain.InventoryLot, 0, len(ids))
	for _, id := range ids {
		lots = append(lots, *l.lots[id])
	}
	return lots
}

func (l *LotLedger) Lot(id string) (domain.InventoryLot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lot, ok := l.lots[id]
	if !ok {
		return domain.InventoryLot{}, false
	}
	return *lot, true
}

// Reserve decrements the lot's remaining quantity.
func (l *LotLedger) Reserve(id string, quantity int) (domain.InventoryLot, error) {
	if quantity <= 0 {
		return domain.InventoryLot{}, fmt.Errorf("%w: reserve quantity must be positive, got %d", domain.ErrInvalidArgument, quantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lot, ok := l.lots[id]
	if !ok {
		return domain.InventoryLot{}, fmt.Errorf("lot %s: %w", id, domain.ErrNotFound)
	}
	if quantity > lot.RemainingQuantity {
		return *lot, fmt.Errorf("lot %s has %d, requested %d: %w", id, lot.RemainingQuantity, quantity, domain.ErrInsufficientLotQuantity)
	}
	lot.RemainingQuantity -= quantity
	return *lot, nil
}

// Available yields, in the given order, the current state of each lot that
// still has stock. Remaining quantities are read at yield time, so draws made
// while iterating are visible, and ranging again restarts from the top.
func (l *LotLedger) Available(ordered []domain.InventoryLot) iter.Seq[domain.InventoryLot] {
	return func(yield func(domain.InventoryLot) bool) {
		for _, candidate := range ordered {
			lot, ok := l.Lot(candidate.ID)
			if !ok || lot.RemainingQuantity <= 0 {
				continue
			}
			if !yield(lot) {
				return
			}
		}
	}
}

// All returns every lot in receipt order.
func (l *LotLedger) All() []domain.InventoryLot {
	l.mu.Lock()
	defer l.mu.Unlock()

	lots := make([]domain.InventoryLot, 0, len(l.seq))
	for _, id := range l.seq {
		lots = append(lots, *l.lots[id])
	}
	return lots
}

func (l *LotLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seq)
}

// Put overwrites an existing lot with committed state.
func (l *LotLedger) Put(lot domain.InventoryLot) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.lots[lot.ID]; !ok {
		return fmt.Errorf("lot %s: %w", lot.ID, domain.ErrNotFound)
	}
	l.lots[lot.ID] = &lot
	return nil
}

func (l *LotLedger) Clone() *LotLedger {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := &LotLedger{
		lots:   make(map[string]*domain.InventoryLot, len(l.lots)),
		byItem: make(map[string][]string, len(l.byItem)),
		seq:    slices.Clone(l.seq),
	}
	for id, lot := range l.lots {
		cp := *lot
		c.lots[id] = &cp
	}
	for item, ids := range l.byItem {
		c.byItem[item] = slices.Clone(ids)
	}
	return c
}
