package engine

import (
	"time"

	"github.com/rl1809/lot-allocation/internal/core/domain"
)

// Plan is the complete outcome of one run: the results to append and the lot
// and order rows to overwrite. Lots and Orders hold post-run state with the
// Version read from the snapshot, for optimistic commits.
type Plan struct {
	RunID      string
	Method     domain.Method
	ExecutedAt time.Time
	Results    []domain.AllocationResult
	Lots       []domain.InventoryLot
	Orders     []domain.Order
	Outcomes   []Outcome
}

// Outcome reports how one pending order fared in a run.
type Outcome struct {
	OrderID         string
	ItemCode        string
	Requested       int
	AllocatedBefore int
	AllocatedInRun  int
	Outstanding     int
	Status          domain.AllocationStatus
}

func (p *Plan) Empty() bool {
	return len(p.Results) == 0
}

func (p *Plan) Run() domain.AllocationRun {
	return domain.AllocationRun{
		ID:          p.RunID,
		Method:      p.Method,
		ExecutedAt:  p.ExecutedAt,
		ResultCount: len(p.Results),
	}
}

func (p *Plan) AllocatedQuantity() int {
	total := 0
	for _, r := range p.Results {
		total += r.AllocatedQuantity
	}
	return total
}

// Pending lists outcomes whose order still has outstanding quantity.
func (p *Plan) Pending() []Outcome {
	var pending []Outcome
	for _, o := range p.Outcomes {
		if o.Outstanding > 0 {
			pending = append(pending, o)
		}
	}
	return pending
}
