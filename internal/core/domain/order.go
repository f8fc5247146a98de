package domain

import (
	"fmt"
	"time"
)

type AllocationStatus string

const (
	StatusUnallocated        AllocationStatus = "unallocated"
	StatusPartiallyAllocated AllocationStatus = "partially_allocated"
	StatusFullyAllocated     AllocationStatus = "fully_allocated"
)

// StatusFor derives the allocation status from requested and allocated quantities.
func StatusFor(requested, allocated int) AllocationStatus {
	switch {
	case allocated <= 0:
		return StatusUnallocated
	case allocated < requested:
		return StatusPartiallyAllocated
	default:
		return StatusFullyAllocated
	}
}

type Order struct {
	ID                string
	Seq               int64
	ItemCode          string
	RequestedQuantity int
	AllocatedQuantity int
	Status            AllocationStatus
	SubmittedAt       time.Time
	Version           int // optimistic locking
	UpdatedAt         time.Time
}

func NewOrder(id, itemCode string, quantity int, submittedAt time.Time) (*Order, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: order id cannot be empty", ErrInvalidArgument)
	}
	if itemCode == "" {
		return nil, fmt.Errorf("%w: item code cannot be empty", ErrInvalidArgument)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: requested quantity must be positive, got %d", ErrInvalidArgument, quantity)
	}

	return &Order{
		ID:                id,
		ItemCode:          itemCode,
		RequestedQuantity: quantity,
		Status:            StatusUnallocated,
		SubmittedAt:       submittedAt,
		UpdatedAt:         submittedAt,
	}, nil
}

func (o Order) Outstanding() int {
	return o.RequestedQuantity - o.AllocatedQuantity
}

// Pending reports whether the order still waits for stock.
func (o Order) Pending() bool {
	return o.AllocatedQuantity < o.RequestedQuantity
}

func (o Order) Check() error {
	switch {
	case o.RequestedQuantity <= 0:
		return &StateError{Entity: "order", ID: o.ID, Reason: fmt.Sprintf("requested quantity %d is not positive", o.RequestedQuantity)}
	case o.AllocatedQuantity < 0:
		return &StateError{Entity: "order", ID: o.ID, Reason: fmt.Sprintf("allocated quantity %d is negative", o.AllocatedQuantity)}
	case o.AllocatedQuantity > o.RequestedQuantity:
		return &StateError{Entity: "order", ID: o.ID, Reason: fmt.Sprintf("allocated quantity %d exceeds requested %d", o.AllocatedQuantity, o.RequestedQuantity)}
	}
	return nil
}
