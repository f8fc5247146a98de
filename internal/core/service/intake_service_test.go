package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/lot-allocation/internal/core/domain"
)

func TestRegisterItem(t *testing.T) {
	f := newFixture(t)

	_, err := f.intake.RegisterItem(context.Background(), "  ", "blank")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	item, err := f.intake.RegisterItem(context.Background(), "X1", "widget")
	require.NoError(t, err)
	assert.Equal(t, "X1", item.Code)

	_, err = f.intake.RegisterItem(context.Background(), "X1", "again")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	items, err := f.report.ListItems(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestSubmitOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.intake.SubmitOrder(context.Background(), "o-1", "X1", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.item(t, "X1")

	_, err = f.intake.SubmitOrder(context.Background(), "o-1", "X1", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	order, err := f.intake.SubmitOrder(context.Background(), "", "X1", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, int64(1), order.Seq)
	assert.Equal(t, domain.StatusUnallocated, order.Status)

	_, err = f.intake.SubmitOrder(context.Background(), order.ID, "X1", 3)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestReceiveLot(t *testing.T) {
	f := newFixture(t)
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.intake.ReceiveLot(context.Background(), "X1", 5, day, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.item(t, "X1")

	_, err = f.intake.ReceiveLot(context.Background(), "X1", 0, day, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	first, err := f.intake.ReceiveLot(context.Background(), "X1", 5, day, decimal.NewFromInt(2))
	require.NoError(t, err)
	second, err := f.intake.ReceiveLot(context.Background(), "X1", 5, day, decimal.NewFromInt(2))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID, "same-day receipts stay separate lots")
	assert.Less(t, first.Seq, second.Seq)
	assert.Equal(t, 5, second.RemainingQuantity)
}

func TestReportService(t *testing.T) {
	f := newFixture(t)

	_, err := f.report.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.report.ListResults(context.Background(), domain.ResultFilter{Limit: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.report.ListRuns(context.Background(), -1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
