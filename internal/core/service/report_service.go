package service

import (
	"context"
	"fmt"

	"github.com/rl1809/lot-allocation/internal/core/domain"
	"github.com/rl1809/lot-allocation/internal/port"
)

// ReportService is the read-only side: it lists committed state only.
type ReportService struct {
	db port.DatabaseRepository
}

func NewReportService(db port.DatabaseRepository) *ReportService {
	return &ReportService{db: db}
}

func (s *ReportService) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.db.ListItems(ctx)
}

func (s *ReportService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.db.GetOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return order, nil
}

func (s *ReportService) ListOrders(ctx context.Context, itemCode string) ([]domain.Order, error) {
	return s.db.ListOrders(ctx, itemCode)
}

func (s *ReportService) ListLots(ctx context.Context, itemCode string) ([]domain.InventoryLot, error) {
	return s.db.ListLots(ctx, itemCode)
}

func (s *ReportService) ListResults(ctx context.Context, filter domain.ResultFilter) ([]domain.AllocationResult, error) {
	if filter.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", domain.ErrInvalidArgument)
	}
	return s.db.ListResults(ctx, filter)
}

func (s *ReportService) ListRuns(ctx context.Context, limit int) ([]domain.AllocationRun, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", domain.ErrInvalidArgument)
	}
	return s.db.ListRuns(ctx, limit)
}
