package engine

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/lot-allocation/internal/core/domain"
	"github.com/rl1809/lot-allocation/internal/core/ledger"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	n := 0
	return New(
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)
}

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
}

func lot(id, item string, qty, d int, seq int64) domain.InventoryLot {
	return domain.InventoryLot{
		ID: id, Seq: seq, ItemCode: item,
		ReceivedQuantity: qty, RemainingQuantity: qty,
		ReceiptDate: day(d), UnitPrice: decimal.NewFromInt(10),
	}
}

func order(id, item string, qty int, minute int) domain.Order {
	return domain.Order{
		ID: id, ItemCode: item, RequestedQuantity: qty,
		Status: domain.StatusUnallocated, SubmittedAt: day(1).Add(time.Duration(minute) * time.Minute),
	}
}

func items(codes ...string) []domain.Item {
	out := make([]domain.Item, 0, len(codes))
	for _, c := range codes {
		out = append(out, domain.Item{Code: c})
	}
	return out
}

func snapshot(t *testing.T, it []domain.Item, lots []domain.InventoryLot, orders []domain.Order) *ledger.Snapshot {
	t.Helper()
	s, err := ledger.NewSnapshot(it, lots, orders)
	require.NoError(t, err)
	return s
}

type draw struct {
	lot string
	qty int
}

func draws(plan *Plan, orderID string) []draw {
	var out []draw
	for _, r := range plan.Results {
		if r.OrderID == orderID {
			out = append(out, draw{r.LotID, r.AllocatedQuantity})
		}
	}
	return out
}

func outcome(t *testing.T, plan *Plan, orderID string) Outcome {
	t.Helper()
	for _, o := range plan.Outcomes {
		if o.OrderID == orderID {
			return o
		}
	}
	t.Fatalf("no outcome for order %s", orderID)
	return Outcome{}
}

func twoLotSnapshot(t *testing.T) *ledger.Snapshot {
	return snapshot(t, items("X1"),
		[]domain.InventoryLot{lot("lot-day2", "X1", 5, 2, 2), lot("lot-day1", "X1", 5, 1, 1)},
		[]domain.Order{order("o-1", "X1", 7, 0)},
	)
}

func TestAllocate_ScenarioA_FIFO(t *testing.T) {
	plan, err := newTestEngine().Allocate(twoLotSnapshot(t), domain.MethodFIFO, "run-a")
	require.NoError(t, err)

	assert.Equal(t, []draw{{"lot-day1", 5}, {"lot-day2", 2}}, draws(plan, "o-1"))
	assert.Equal(t, domain.StatusFullyAllocated, outcome(t, plan, "o-1").Status)
}

func TestAllocate_ScenarioB_LIFO(t *testing.T) {
	plan, err := newTestEngine().Allocate(twoLotSnapshot(t), domain.MethodLIFO, "run-b")
	require.NoError(t, err)

	assert.Equal(t, []draw{{"lot-day2", 5}, {"lot-day1", 2}}, draws(plan, "o-1"))
	assert.Equal(t, domain.StatusFullyAllocated, outcome(t, plan, "o-1").Status)
}

func TestAllocate_ScenarioC_Partial(t *testing.T) {
	snap := snapshot(t, items("X2"),
		[]domain.InventoryLot{lot("lot", "X2", 3, 1, 1)},
		[]domain.Order{order("o-1", "X2", 10, 0)},
	)

	plan, err := newTestEngine().Allocate(snap, domain.MethodFIFO, "run-c")
	require.NoError(t, err)

	assert.Equal(t, []draw{{"lot", 3}}, draws(plan, "o-1"))
	out := outcome(t, plan, "o-1")
	assert.Equal(t, domain.StatusPartiallyAllocated, out.Status)
	assert.Equal(t, 7, out.Outstanding)
	assert.Len(t, plan.Pending(), 1)
}

func TestAllocate_ScenarioD_NoLots(t *testing.T) {
	snap := snapshot(t, items("X3"), nil, []domain.Order{order("o-1", "X3", 5, 0)})

	plan, err := newTestEngine().Allocate(snap, domain.MethodLIFO, "run-d")
	require.NoError(t, err)

	assert.Empty(t, plan.Results)
	assert.Empty(t, plan.Orders)
	assert.Empty(t, plan.Lots)
	assert.Equal(t, domain.StatusUnallocated, outcome(t, plan, "o-1").Status)
}

func TestAllocate_ScenarioE_SubmissionOrder(t *testing.T) {
	snap := snapshot(t, items("X1"),
		[]domain.InventoryLot{lot("lot", "X1", 6, 1, 1)},
		[]domain.Order{order("second", "X1", 4, 1), order("first", "X1", 4, 0)},
	)

	plan, err := newTestEngine().Allocate(snap, domain.MethodFIFO, "run-e")
	require.NoError(t, err)

	assert.Equal(t, []draw{{"lot", 4}}, draws(plan, "first"))
	assert.Equal(t, []draw{{"lot", 2}}, draws(plan, "second"))
	assert.Equal(t, domain.StatusFullyAllocated, outcome(t, plan, "first").Status)
	assert.Equal(t, domain.StatusPartiallyAllocated, outcome(t, plan, "second").Status)
}

func TestAllocate_ContinuesPartiallyAllocatedOrder(t *testing.T) {
	o := order("o-1", "X1", 10, 0)
	o.AllocatedQuantity = 3
	o.Status = domain.StatusPartiallyAllocated
	snap := snapshot(t, items("X1"), []domain.InventoryLot{lot("lot", "X1", 20, 1, 1)}, []domain.Order{o})

	plan, err := newTestEngine().Allocate(snap, domain.MethodFIFO, "")
	require.NoError(t, err)

	assert.Equal(t, []draw{{"lot", 7}}, draws(plan, "o-1"))
	out := outcome(t, plan, "o-1")
	assert.Equal(t, 3, out.AllocatedBefore)
	assert.Equal(t, 7, out.AllocatedInRun)
	require.Len(t, plan.Orders, 1)
	assert.Equal(t, 10, plan.Orders[0].AllocatedQuantity)
	assert.Equal(t, domain.StatusFullyAllocated, plan.Orders[0].Status)
	require.Len(t, plan.Lots, 1)
	assert.Equal(t, 13, plan.Lots[0].RemainingQuantity)
}

func TestAllocate_SkipsExhaustedLots(t *testing.T) {
	empty := lot("old", "X1", 5, 1, 1)
	empty.RemainingQuantity = 0
	snap := snapshot(t, items("X1"),
		[]domain.InventoryLot{empty, lot("new", "X1", 5, 2, 2)},
		[]domain.Order{order("o-1", "X1", 2, 0)},
	)

	plan, err := newTestEngine().Allocate(snap, domain.MethodFIFO, "run")
	require.NoError(t, err)
	assert.Equal(t, []draw{{"new", 2}}, draws(plan, "o-1"))
}

func TestAllocate_PlanCarriesPricesAndMetadata(t *testing.T) {
	l := lot("lot", "X1", 5, 1, 1)
	l.UnitPrice = decimal.RequireFromString("2.50")
	l.Version = 4
	snap := snapshot(t, items("X1"), []domain.InventoryLot{l}, []domain.Order{order("o-1", "X1", 3, 0)})

	plan, err := newTestEngine().Allocate(snap, domain.MethodLIFO, "run-p")
	require.NoError(t, err)
	require.Len(t, plan.Results, 1)

	r := plan.Results[0]
	assert.Equal(t, "run-p", r.RunID)
	assert.Equal(t, domain.MethodLIFO, r.Method)
	assert.Equal(t, fixedNow, r.AllocationDate)
	assert.True(t, decimal.RequireFromString("7.5").Equal(r.AllocatedPrice), "got %s", r.AllocatedPrice)
	assert.NotEmpty(t, r.ID)

	require.Len(t, plan.Lots, 1)
	assert.Equal(t, 4, plan.Lots[0].Version, "plan keeps the version read for optimistic commit")

	run := plan.Run()
	assert.Equal(t, 1, run.ResultCount)
	assert.Equal(t, 3, plan.AllocatedQuantity())
}

func TestAllocate_GeneratesRunID(t *testing.T) {
	plan, err := newTestEngine().Allocate(twoLotSnapshot(t), domain.MethodFIFO, "")
	require.NoError(t, err)
	assert.NotEmpty(t, plan.RunID)
	for _, r := range plan.Results {
		assert.Equal(t, plan.RunID, r.RunID)
	}
}

func TestAllocate_DoesNotMutateSnapshot(t *testing.T) {
	snap := twoLotSnapshot(t)
	_, err := newTestEngine().Allocate(snap, domain.MethodFIFO, "run")
	require.NoError(t, err)

	for _, l := range snap.Lots.All() {
		assert.Equal(t, l.ReceivedQuantity, l.RemainingQuantity)
	}
	o, _ := snap.Orders.Get("o-1")
	assert.Zero(t, o.AllocatedQuantity)
}

func TestAllocate_UnknownMethod(t *testing.T) {
	_, err := newTestEngine().Allocate(twoLotSnapshot(t), domain.Method(0), "run")
	assert.ErrorIs(t, err, domain.ErrUnknownAllocationMethod)
}

func TestAllocate_InvalidState(t *testing.T) {
	negative := lot("neg", "X1", 5, 1, 1)
	negative.RemainingQuantity = -1

	overAllocated := order("o-over", "X1", 2, 0)
	overAllocated.AllocatedQuantity = 3

	tests := []struct {
		name   string
		items  []domain.Item
		lots   []domain.InventoryLot
		orders []domain.Order
	}{
		{
			name:   "lot references unknown item",
			items:  items("X1"),
			lots:   []domain.InventoryLot{lot("l", "GHOST", 5, 1, 1)},
			orders: []domain.Order{order("o", "X1", 1, 0)},
		},
		{
			name:   "order references unknown item",
			items:  items("X1"),
			lots:   []domain.InventoryLot{lot("l", "X1", 5, 1, 1)},
			orders: []domain.Order{order("o", "GHOST", 1, 0)},
		},
		{
			name:   "negative remaining quantity",
			items:  items("X1"),
			lots:   []domain.InventoryLot{negative},
			orders: []domain.Order{order("o", "X1", 1, 0)},
		},
		{
			name:   "order allocated beyond request",
			items:  items("X1"),
			lots:   []domain.InventoryLot{lot("l", "X1", 5, 1, 1)},
			orders: []domain.Order{overAllocated, order("o", "X1", 1, 1)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := snapshot(t, tt.items, tt.lots, tt.orders)
			plan, err := newTestEngine().Allocate(snap, domain.MethodFIFO, "run")
			assert.ErrorIs(t, err, domain.ErrInvalidState)
			assert.Nil(t, plan)
		})
	}
}

func TestAllocate_Idempotent(t *testing.T) {
	snap := snapshot(t, items("X1"),
		[]domain.InventoryLot{lot("lot", "X1", 10, 1, 1)},
		[]domain.Order{order("o-1", "X1", 4, 0), order("o-2", "X1", 6, 1)},
	)
	e := newTestEngine()

	plan, err := e.Allocate(snap, domain.MethodFIFO, "first")
	require.NoError(t, err)
	require.Len(t, plan.Results, 2)

	next := commit(t, snap, plan)
	again, err := e.Allocate(next, domain.MethodFIFO, "second")
	require.NoError(t, err)
	assert.True(t, again.Empty())
	assert.Empty(t, again.Outcomes)
}

// commit applies a plan to a snapshot the way a store would.
func commit(t *testing.T, snap *ledger.Snapshot, plan *Plan) *ledger.Snapshot {
	t.Helper()
	next := snap.Clone()
	for _, l := range plan.Lots {
		require.NoError(t, next.Lots.Put(l))
	}
	for _, o := range plan.Orders {
		require.NoError(t, next.Orders.Put(o))
	}
	return next
}

func TestAllocate_Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	codes := []string{"A", "B", "C"}

	for round := 0; round < 200; round++ {
		var lots []domain.InventoryLot
		var orders []domain.Order
		nLots, nOrders := rng.IntN(8), 1+rng.IntN(8)
		for i := 0; i < nLots; i++ {
			lots = append(lots, lot(fmt.Sprintf("l-%d", i), codes[rng.IntN(len(codes))], 1+rng.IntN(10), 1+rng.IntN(5), int64(i)))
		}
		for i := 0; i < nOrders; i++ {
			orders = append(orders, order(fmt.Sprintf("o-%d", i), codes[rng.IntN(len(codes))], 1+rng.IntN(12), rng.IntN(30)))
		}
		method := domain.MethodFIFO
		if rng.IntN(2) == 1 {
			method = domain.MethodLIFO
		}

		snap := snapshot(t, items(codes...), lots, orders)
		plan, err := newTestEngine().Allocate(snap, method, "run")
		require.NoError(t, err)

		perOrder := map[string]int{}
		perLot := map[string]int{}
		for _, r := range plan.Results {
			require.Positive(t, r.AllocatedQuantity)
			perOrder[r.OrderID] += r.AllocatedQuantity
			perLot[r.LotID] += r.AllocatedQuantity
		}
		for _, o := range orders {
			assert.LessOrEqual(t, perOrder[o.ID], o.RequestedQuantity)
		}
		for _, l := range lots {
			assert.LessOrEqual(t, perLot[l.ID], l.ReceivedQuantity)
		}

		checkLotPreference(t, snap, plan)
	}
}

// checkLotPreference asserts that no draw took from a lot while a lot that
// sorts earlier under the run's method still had stock at that moment.
func checkLotPreference(t *testing.T, snap *ledger.Snapshot, plan *Plan) {
	t.Helper()
	remaining := map[string]int{}
	byID := map[string]domain.InventoryLot{}
	for _, l := range snap.Lots.All() {
		remaining[l.ID] = l.RemainingQuantity
		byID[l.ID] = l
	}

	for _, r := range plan.Results {
		drawn := byID[r.LotID]
		for id, left := range remaining {
			other := byID[id]
			if id == r.LotID || other.ItemCode != r.ItemCode || left == 0 {
				continue
			}
			preferred := other.ReceiptDate.Before(drawn.ReceiptDate)
			if plan.Method == domain.MethodLIFO {
				preferred = other.ReceiptDate.After(drawn.ReceiptDate)
			}
			assert.False(t, preferred, "run %s drew from %s while %s still had %d", plan.Method, drawn.ID, id, left)
		}
		remaining[r.LotID] -= r.AllocatedQuantity
	}
}
