// Package strategy orders candidate lots for an allocation run. Ordering is a
// pure function of the lots handed in; nothing here mutates state.
package strategy

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/rl1809/lot-allocation/internal/core/domain"
)

type Strategy interface {
	Method() domain.Method
	// Compare orders two lots: negative when a must be drawn before b.
	Compare(a, b domain.InventoryLot) int
}

type fifo struct{}

func (fifo) Method() domain.Method { return domain.MethodFIFO }

func (fifo) Compare(a, b domain.InventoryLot) int {
	if c := a.ReceiptDate.Compare(b.ReceiptDate); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

// lifo is the exact reverse of fifo, including the sequence tie-break.
type lifo struct{}

func (lifo) Method() domain.Method { return domain.MethodLIFO }

func (lifo) Compare(a, b domain.InventoryLot) int {
	return fifo{}.Compare(b, a)
}

var (
	FIFO Strategy = fifo{}
	LIFO Strategy = lifo{}
)

func For(method domain.Method) (Strategy, error) {
	switch method {
	case domain.MethodFIFO:
		return FIFO, nil
	case domain.MethodLIFO:
		return LIFO, nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownAllocationMethod, method)
	}
}

// Order returns the lots sorted for consumption. The input slice is left untouched.
func Order(s Strategy, lots []domain.InventoryLot) []domain.InventoryLot {
	ordered := slices.Clone(lots)
	slices.SortStableFunc(ordered, s.Compare)
	return ordered
}
