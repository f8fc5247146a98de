package ledger

import (
	"errors"
	"maps"

	"github.com/rl1809/lot-allocation/internal/core/domain"
)

// Snapshot is the consistent view one allocation run works on.
type Snapshot struct {
	Items  map[string]domain.Item
	Lots   *LotLedger
	Orders *OrderQueue
}

func NewSnapshot(items []domain.Item, lots []domain.InventoryLot, orders []domain.Order) (*Snapshot, error) {
	s := &Snapshot{
		Items:  make(map[string]domain.Item, len(items)),
		Lots:   NewLotLedger(),
		Orders: NewOrderQueue(),
	}
	for _, item := range items {
		s.Items[item.Code] = item
	}
	for _, lot := range lots {
		if err := s.Lots.Receive(lot); err != nil {
			return nil, snapshotError("lot", lot.ID, err)
		}
	}
	for _, order := range orders {
		if err := s.Orders.Submit(order); err != nil {
			return nil, snapshotError("order", order.ID, err)
		}
	}
	return s, nil
}

func snapshotError(entity, id string, err error) error {
	if errors.Is(err, domain.ErrAlreadyExists) {
		return &domain.StateError{Entity: entity, ID: id, Reason: "duplicate id"}
	}
	return &domain.StateError{Entity: entity, ID: id, Reason: err.Error()}
}

func (s *Snapshot) HasItem(code string) bool {
	_, ok := s.Items[code]
	return ok
}

func (s *Snapshot) Clone() *Snapshot {
	return &Snapshot{
		Items:  maps.Clone(s.Items),
		Lots:   s.Lots.Clone(),
		Orders: s.Orders.Clone(),
	}
}
