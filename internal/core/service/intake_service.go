package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/lot-allocation/internal/core/domain"
	"github.com/rl1809/lot-allocation/internal/port"
)

// IntakeService accepts items, orders and inventory receipts. Everything it
// stores has been validated, so allocation runs only see positive quantities.
type IntakeService struct {
	db    port.DatabaseRepository
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

func NewIntakeService(db port.DatabaseRepository, log *zap.Logger) *IntakeService {
	if log == nil {
		log = zap.NewNop()
	}
	return &IntakeService{
		db:    db,
		log:   log,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (s *IntakeService) RegisterItem(ctx context.Context, code, description string) (*domain.Item, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: item code cannot be empty", domain.ErrInvalidArgument)
	}

	item := domain.Item{Code: code, Description: description, CreatedAt: s.now().UTC()}
	if err := s.db.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}

	s.log.Info("item registered", zap.String("item_code", code))
	return &item, nil
}

func (s *IntakeService) SubmitOrder(ctx context.Context, orderID, itemCode string, quantity int) (*domain.Order, error) {
	if orderID == "" {
		orderID = s.newID()
	}
	order, err := domain.NewOrder(orderID, itemCode, quantity, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.requireItem(ctx, itemCode); err != nil {
		return nil, err
	}

	created, err := s.db.CreateOrder(ctx, *order)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.log.Info("order submitted",
		zap.String("order_id", created.ID),
		zap.String("item_code", created.ItemCode),
		zap.Int("quantity", created.RequestedQuantity))
	return &created, nil
}

// ReceiveLot records a new receipt as its own lot.
func (s *IntakeService) ReceiveLot(ctx context.Context, itemCode string, quantity int, receiptDate time.Time, unitPrice decimal.Decimal) (*domain.InventoryLot, error) {
	lot, err := domain.NewInventoryLot(s.newID(), itemCode, quantity, receiptDate, unitPrice)
	if err != nil {
		return nil, err
	}
	if err := s.requireItem(ctx, itemCode); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	lot.CreatedAt = now
	lot.UpdatedAt = now

	created, err := s.db.CreateLot(ctx, *lot)
	if err != nil {
		return nil, fmt.Errorf("create lot: %w", err)
	}

	s.log.Info("inventory received",
		zap.String("lot_id", created.ID),
		zap.String("item_code", created.ItemCode),
		zap.Int("quantity", created.ReceivedQuantity),
		zap.Time("receipt_date", created.ReceiptDate))
	return &created, nil
}

func (s *IntakeService) requireItem(ctx context.Context, itemCode string) error {
	item, err := s.db.GetItem(ctx, itemCode)
	if err != nil {
		return fmt.Errorf("get item: %w", err)
	}
	if item == nil {
		return fmt.Errorf("item %s: %w", itemCode, domain.ErrNotFound)
	}
	return nil
}
