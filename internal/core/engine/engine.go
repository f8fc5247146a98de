// Package engine turns a snapshot of pending orders and inventory lots into an
// allocation plan. The engine never writes to storage: it works on a private
// copy of the snapshot and returns everything the run changed so the caller
// can commit it as one batch, or drop it.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/lot-allocation/internal/core/domain"
	"github.com/rl1809/lot-allocation/internal/core/ledger"
	"github.com/rl1809/lot-allocation/internal/core/strategy"
)

type Engine struct {
	now   func() time.Time
	newID func() string
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Allocate runs one allocation pass. Orders are always served oldest first;
// the method only decides which lot each order draws from. The snapshot is
// not modified.
func (e *Engine) Allocate(snap *ledger.Snapshot, method domain.Method, runID string) (*Plan, error) {
	s, err := strategy.For(method)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, &domain.StateError{Entity: "snapshot", Reason: "missing"}
	}
	if err := Validate(snap); err != nil {
		return nil, err
	}
	if runID == "" {
		runID = e.newID()
	}

	now := e.now().UTC()
	work := snap.Clone()
	plan := &Plan{
		RunID:      runID,
		Method:     method,
		ExecutedAt: now,
	}
	touchedLots := make(map[string]struct{})

	for _, item := range work.Orders.PendingItems() {
		ordered := strategy.Order(s, work.Lots.LotsFor(item))

		for _, order := range work.Orders.Pending(item) {
			allocatedBefore := order.AllocatedQuantity
			outstanding := order.Outstanding()

			for candidate := range work.Lots.Available(ordered) {
				if outstanding == 0 {
					break
				}
				take := min(outstanding, candidate.RemainingQuantity)
				if _, err := work.Lots.Reserve(candidate.ID, take); err != nil {
					if errors.Is(err, domain.ErrInsufficientLotQuantity) {
						break
					}
					return nil, fmt.Errorf("reserve lot %s: %w", candidate.ID, err)
				}
				if _, err := work.Orders.Apply(order.ID, take); err != nil {
					return nil, fmt.Errorf("apply order %s: %w", order.ID, err)
				}
				outstanding -= take
				touchedLots[candidate.ID] = struct{}{}

				plan.Results = append(plan.Results, domain.AllocationResult{
					ID:                e.newID(),
					RunID:             runID,
					OrderID:           order.ID,
					ItemCode:          item,
					LotID:             candidate.ID,
					AllocatedQuantity: take,
					UnitPrice:         candidate.UnitPrice,
					AllocatedPrice:    candidate.UnitPrice.Mul(decimal.NewFromInt(int64(take))),
					Method:            method,
					AllocationDate:    now,
				})
			}

			updated, _ := work.Orders.Get(order.ID)
			updated.Status = domain.StatusFor(updated.RequestedQuantity, updated.AllocatedQuantity)
			if updated.AllocatedQuantity != allocatedBefore {
				updated.UpdatedAt = now
				plan.Orders = append(plan.Orders, updated)
			}
			plan.Outcomes = append(plan.Outcomes, Outcome{
				OrderID:         updated.ID,
				ItemCode:        item,
				Requested:       updated.RequestedQuantity,
				AllocatedBefore: allocatedBefore,
				AllocatedInRun:  updated.AllocatedQuantity - allocatedBefore,
				Outstanding:     updated.Outstanding(),
				Status:          updated.Status,
			})
		}
	}

	for _, lot := range work.Lots.All() {
		if _, ok := touchedLots[lot.ID]; ok {
			lot.UpdatedAt = now
			plan.Lots = append(plan.Lots, lot)
		}
	}

	return plan, nil
}

// Validate checks the snapshot for referential and quantity corruption before
// anything is consumed.
func Validate(snap *ledger.Snapshot) error {
	for _, lot := range snap.Lots.All() {
		if !snap.HasItem(lot.ItemCode) {
			return &domain.StateError{Entity: "lot", ID: lot.ID, Reason: fmt.Sprintf("unknown item %q", lot.ItemCode)}
		}
		if err := lot.Check(); err != nil {
			return err
		}
	}
	for _, order := range snap.Orders.All() {
		if !snap.HasItem(order.ItemCode) {
			return &domain.StateError{Entity: "order", ID: order.ID, Reason: fmt.Sprintf("unknown item %q", order.ItemCode)}
		}
		if err := order.Check(); err != nil {
			return err
		}
	}
	return nil
}
