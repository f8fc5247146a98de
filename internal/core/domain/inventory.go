package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Item struct {
	Code        string
	Description string
	CreatedAt   time.Time
}

// InventoryLot is one discrete receipt of stock. Lots are never merged or
// deleted; exhausted lots stay behind with RemainingQuantity == 0.
type InventoryLot struct {
	ID                string
	Seq               int64 // creation sequence, assigned by the store on receipt
	ItemCode          string
	ReceivedQuantity  int
	RemainingQuantity int
	ReceiptDate       time.Time
	UnitPrice         decimal.Decimal
	Version           int // optimistic locking
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func NewInventoryLot(id, itemCode string, quantity int, receiptDate time.Time, unitPrice decimal.Decimal) (*InventoryLot, error) {
	if itemCode == "" {
		return nil, fmt.Errorf("%w: item code cannot be empty", ErrInvalidArgument)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: received quantity must be positive, got %d", ErrInvalidArgument, quantity)
	}
	if unitPrice.IsNegative() {
		return nil, fmt.Errorf("%w: unit price cannot be negative, got %s", ErrInvalidArgument, unitPrice)
	}
	if receiptDate.IsZero() {
		return nil, fmt.Errorf("%w: receipt date is required", ErrInvalidArgument)
	}

	return &InventoryLot{
		ID:                id,
		ItemCode:          itemCode,
		ReceivedQuantity:  quantity,
		RemainingQuantity: quantity,
		ReceiptDate:       receiptDate,
		UnitPrice:         unitPrice,
	}, nil
}

func (l InventoryLot) Consumed() int {
	return l.ReceivedQuantity - l.RemainingQuantity
}

func (l InventoryLot) Exhausted() bool {
	return l.RemainingQuantity == 0
}

// Check reports quantity corruption as a *StateError.
func (l InventoryLot) Check() error {
	switch {
	case l.ReceivedQuantity <= 0:
		return &StateError{Entity: "lot", ID: l.ID, Reason: fmt.Sprintf("received quantity %d is not positive", l.ReceivedQuantity)}
	case l.RemainingQuantity < 0:
		return &StateError{Entity: "lot", ID: l.ID, Reason: fmt.Sprintf("remaining quantity %d is negative", l.RemainingQuantity)}
	case l.RemainingQuantity > l.ReceivedQuantity:
		return &StateError{Entity: "lot", ID: l.ID, Reason: fmt.Sprintf("remaining quantity %d exceeds received %d", l.RemainingQuantity, l.ReceivedQuantity)}
	}
	return nil
}
