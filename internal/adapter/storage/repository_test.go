package storage

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/lot-allocation/internal/core/domain"
	"github.com/rl1809/lot-allocation/internal/core/engine"
	"github.com/rl1809/lot-allocation/internal/port"
)

// testRepositoryContract drives a store through one full allocation cycle.
// IDs are unique per call so it can run against shared databases.
func testRepositoryContract(t *testing.T, repo port.DatabaseRepository) {
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	code := "item-" + suffix
	now := time.Now().UTC().Truncate(time.Millisecond)

	// items
	require.NoError(t, repo.CreateItem(ctx, domain.Item{Code: code, Description: "widget", CreatedAt: now}))
	err := repo.CreateItem(ctx, domain.Item{Code: code, CreatedAt: now})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	item, err := repo.GetItem(ctx, code)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "widget", item.Description)

	missing, err := repo.GetItem(ctx, "missing-"+suffix)
	require.NoError(t, err)
	assert.Nil(t, missing)

	// lots
	newLot := func(qty, day int) domain.InventoryLot {
		lot, err := domain.NewInventoryLot(uuid.NewString(), code, qty,
			time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC), decimal.RequireFromString("2.5"))
		require.NoError(t, err)
		lot.CreatedAt, lot.UpdatedAt = now, now
		created, err := repo.CreateLot(ctx, *lot)
		require.NoError(t, err)
		return created
	}
	day1 := newLot(5, 1)
	day2 := newLot(5, 2)
	assert.Less(t, day1.Seq, day2.Seq)

	_, err = repo.CreateLot(ctx, day1)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	// orders
	o, err := domain.NewOrder("order-"+suffix, code, 7, now)
	require.NoError(t, err)
	order, err := repo.CreateOrder(ctx, *o)
	require.NoError(t, err)
	assert.Positive(t, order.Seq)

	_, err = repo.CreateOrder(ctx, *o)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	pending, err := repo.PendingItemCodes(ctx)
	require.NoError(t, err)
	assert.Contains(t, pending, code)

	// allocate
	snap, err := repo.LoadSnapshot(ctx, []string{code})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Lots.Len())
	assert.Equal(t, 1, snap.Orders.Len())

	plan, err := engine.New().Allocate(snap, domain.MethodFIFO, "")
	require.NoError(t, err)
	require.Len(t, plan.Results, 2)
	require.NoError(t, repo.CommitRun(ctx, plan))

	got, err := repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 7, got.AllocatedQuantity)
	assert.Equal(t, domain.StatusFullyAllocated, got.Status)
	assert.Equal(t, 1, got.Version)

	lots, err := repo.ListLots(ctx, code)
	require.NoError(t, err)
	require.Len(t, lots, 2)
	assert.Equal(t, day1.ID, lots[0].ID)
	assert.Equal(t, 0, lots[0].RemainingQuantity)
	assert.Equal(t, 3, lots[1].RemainingQuantity)
	assert.Equal(t, 1, lots[1].Version)

	results, err := repo.ListResults(ctx, domain.ResultFilter{RunID: plan.RunID})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, day1.ID, results[0].LotID)
	assert.Equal(t, domain.MethodFIFO, results[0].Method)
	assert.True(t, results[1].AllocatedPrice.Equal(decimal.NewFromInt(5)), "got %s", results[1].AllocatedPrice)

	limited, err := repo.ListResults(ctx, domain.ResultFilter{OrderID: order.ID, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	runs, err := repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.True(t, slices.ContainsFunc(runs, func(r domain.AllocationRun) bool {
		return r.ID == plan.RunID && r.ResultCount == 2
	}))

	// the same run cannot be committed twice
	err = repo.CommitRun(ctx, plan)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	// a plan built from the stale snapshot is rejected as a whole
	stale, err := engine.New().Allocate(snap, domain.MethodLIFO, "")
	require.NoError(t, err)
	err = repo.CommitRun(ctx, stale)
	assert.ErrorIs(t, err, port.ErrOptimisticLock)

	results, err = repo.ListResults(ctx, domain.ResultFilter{RunID: stale.RunID})
	require.NoError(t, err)
	assert.Empty(t, results)

	lots, err = repo.ListLots(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, 3, lots[1].RemainingQuantity)

	pending, err = repo.PendingItemCodes(ctx)
	require.NoError(t, err)
	assert.NotContains(t, pending, code)
}
