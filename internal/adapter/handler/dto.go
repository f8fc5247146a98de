package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/lot-allocation/internal/core/domain"
	"github.com/rl1809/lot-allocation/internal/core/engine"
)

type ItemDTO struct {
	Code        string    `json:"code"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type OrderDTO struct {
	ID                string    `json:"id"`
	ItemCode          string    `json:"item_code"`
	RequestedQuantity int       `json:"requested_quantity"`
	AllocatedQuantity int       `json:"allocated_quantity"`
	Status            string    `json:"status"`
	SubmittedAt       time.Time `json:"submitted_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type LotDTO struct {
	ID                string          `json:"id"`
	ItemCode          string          `json:"item_code"`
	ReceivedQuantity  int             `json:"received_quantity"`
	RemainingQuantity int             `json:"remaining_quantity"`
	ReceiptDate       time.Time       `json:"receipt_date"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
}

type ResultDTO struct {
	ID                string          `json:"id"`
	RunID             string          `json:"run_id"`
	OrderID           string          `json:"order_id"`
	ItemCode          string          `json:"item_code"`
	LotID             string          `json:"lot_id"`
	AllocatedQuantity int             `json:"allocated_quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	AllocatedPrice    decimal.Decimal `json:"allocated_price"`
	AllocationMethod  string          `json:"allocation_method"`
	AllocationDate    time.Time       `json:"allocation_date"`
}

type OutcomeDTO struct {
	OrderID         string `json:"order_id"`
	ItemCode        string `json:"item_code"`
	Requested       int    `json:"requested_quantity"`
	AllocatedBefore int    `json:"allocated_before"`
	AllocatedInRun  int    `json:"allocated_in_run"`
	Outstanding     int    `json:"outstanding"`
	Status          string `json:"status"`
}

type RunDTO struct {
	RunID            string       `json:"run_id,omitempty"`
	AllocationMethod string       `json:"allocation_method"`
	ExecutedAt       time.Time    `json:"executed_at"`
	ResultCount      int          `json:"result_count"`
	Results          []ResultDTO  `json:"results,omitempty"`
	Outcomes         []OutcomeDTO `json:"outcomes,omitempty"`
}

func toItemDTO(i domain.Item) ItemDTO {
	return ItemDTO{Code: i.Code, Description: i.Description, CreatedAt: i.CreatedAt}
}

func toOrderDTO(o domain.Order) OrderDTO {
	return OrderDTO{
		ID:                o.ID,
		ItemCode:          o.ItemCode,
		RequestedQuantity: o.RequestedQuantity,
		AllocatedQuantity: o.AllocatedQuantity,
		Status:            string(o.Status),
		SubmittedAt:       o.SubmittedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func toLotDTO(l domain.InventoryLot) LotDTO {
	return LotDTO{
		ID:                l.ID,
		ItemCode:          l.ItemCode,
		ReceivedQuantity:  l.ReceivedQuantity,
		RemainingQuantity: l.RemainingQuantity,
		ReceiptDate:       l.ReceiptDate,
		UnitPrice:         l.UnitPrice,
	}
}

func toResultDTO(r domain.AllocationResult) ResultDTO {
	return ResultDTO{
		ID:                r.ID,
		RunID:             r.RunID,
		OrderID:           r.OrderID,
		ItemCode:          r.ItemCode,
		LotID:             r.LotID,
		AllocatedQuantity: r.AllocatedQuantity,
		UnitPrice:         r.UnitPrice,
		AllocatedPrice:    r.AllocatedPrice,
		AllocationMethod:  r.Method.String(),
		AllocationDate:    r.AllocationDate,
	}
}

func toRunDTO(r domain.AllocationRun) RunDTO {
	return RunDTO{
		RunID:            r.ID,
		AllocationMethod: r.Method.String(),
		ExecutedAt:       r.ExecutedAt,
		ResultCount:      r.ResultCount,
	}
}

// planMessage is the status line both transports report for a run.
func planMessage(p *engine.Plan) string {
	if p.Empty() {
		return "nothing to allocate"
	}
	return "allocation completed"
}

// toPlanDTO omits the run id of an empty plan, which is never stored.
func toPlanDTO(p *engine.Plan) RunDTO {
	dto := toRunDTO(p.Run())
	if p.Empty() {
		dto.RunID = ""
	}
	dto.Results = mapSlice(p.Results, toResultDTO)
	dto.Outcomes = mapSlice(p.Outcomes, func(o engine.Outcome) OutcomeDTO {
		return OutcomeDTO{
			OrderID:         o.OrderID,
			ItemCode:        o.ItemCode,
			Requested:       o.Requested,
			AllocatedBefore: o.AllocatedBefore,
			AllocatedInRun:  o.AllocatedInRun,
			Outstanding:     o.Outstanding,
			Status:          string(o.Status),
		}
	})
	return dto
}

func mapSlice[T, U any](in []T, f func(T) U) []U {
	out := make([]U, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}
