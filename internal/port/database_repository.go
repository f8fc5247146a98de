package port

import (
	"context"
	"errors"

	"github.com/rl1809/lot-allocation/internal/core/domain"
	"github.com/rl1809/lot-allocation/internal/core/engine"
	"github.com/rl1809/lot-allocation/internal/core/ledger"
)

var ErrOptimisticLock = errors.New("optimistic lock conflict")

type DatabaseRepository interface {
	CreateItem(ctx context.Context, item domain.Item) error

	// GetItem returns nil when the item does not exist
	GetItem(ctx context.Context, code string) (*domain.Item, error)

	ListItems(ctx context.Context) ([]domain.Item, error)

	// CreateOrder persists a new order and returns it with its store-assigned sequence
	CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error)

	// GetOrder returns nil when the order does not exist
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrders lists orders in submission order; empty itemCode lists all
	ListOrders(ctx context.Context, itemCode string) ([]domain.Order, error)

	// CreateLot appends a new inventory lot and returns it with its store-assigned sequence
	CreateLot(ctx context.Context, lot domain.InventoryLot) (domain.InventoryLot, error)

	ListLots(ctx context.Context, itemCode string) ([]domain.InventoryLot, error)

	ListResults(ctx context.Context, filter domain.ResultFilter) ([]domain.AllocationResult, error)

	ListRuns(ctx context.Context, limit int) ([]domain.AllocationRun, error)

	// PendingItemCodes returns the sorted codes of items with outstanding orders
	PendingItemCodes(ctx context.Context) ([]string, error)

	// LoadSnapshot reads a committed, consistent view of the given items, their lots and pending orders
	LoadSnapshot(ctx context.Context, itemCodes []string) (*ledger.Snapshot, error)

	// CommitRun writes the plan atomically with version checks on every lot and order;
	// returns ErrOptimisticLock and writes nothing if any row changed since the snapshot
	CommitRun(ctx context.Context, plan *engine.Plan) error
}
