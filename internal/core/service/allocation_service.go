package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/lot-allocation/internal/core/domain"
	"github.com/rl1809/lot-allocation/internal/core/engine"
	"github.com/rl1809/lot-allocation/internal/port"
)

var (
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrConflict         = errors.New("allocation conflict")
)

const idempotencyKeyPrefix = "allocation:"

type AllocationService struct {
	db     port.DatabaseRepository
	locker port.Locker
	idem   port.IdempotencyStore
	engine *engine.Engine
	log    *zap.Logger
	tracer trace.Tracer

	mu      sync.RWMutex
	closed  bool
	reports chan *engine.Plan
}

type Option func(*AllocationService)

// WithIdempotency rejects repeated request IDs with ErrDuplicateRequest.
func WithIdempotency(store port.IdempotencyStore) Option {
	return func(s *AllocationService) { s.idem = store }
}

func WithEngine(e *engine.Engine) Option {
	return func(s *AllocationService) { s.engine = e }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *AllocationService) { s.log = log }
}

// NewAllocationService wires the run pipeline. Committed plans are queued on
// Reports when queueSize > 0.
func NewAllocationService(db port.DatabaseRepository, locker port.Locker, queueSize int, opts ...Option) *AllocationService {
	s := &AllocationService{
		db:     db,
		locker: locker,
		engine: engine.New(),
		log:    zap.NewNop(),
		tracer: otel.Tracer("allocation-service"),
	}
	if queueSize > 0 {
		s.reports = make(chan *engine.Plan, queueSize)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allocate runs one allocation pass with the given method. The returned plan
// lists every result created and the outcome of each pending order; orders
// left partially allocated are a normal outcome, not an error.
func (s *AllocationService) Allocate(ctx context.Context, requestID string, method domain.Method) (*engine.Plan, error) {
	ctx, span := s.tracer.Start(ctx, "Allocate", trace.WithAttributes(
		attribute.String("allocation.method", method.String()),
		attribute.String("allocation.request_id", requestID),
	))
	defer span.End()

	plan, err := s.allocate(ctx, requestID, method)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("allocation.run_id", plan.RunID),
		attribute.Int("allocation.results", len(plan.Results)),
	)
	return plan, nil
}

func (s *AllocationService) allocate(ctx context.Context, requestID string, method domain.Method) (_ *engine.Plan, err error) {
	if !method.Valid() {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownAllocationMethod, method)
	}

	if requestID != "" && s.idem != nil {
		key := idempotencyKeyPrefix + requestID
		ok, setErr := s.idem.SetIdempotency(ctx, key)
		if setErr != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", setErr)
		}
		if !ok {
			return nil, ErrDuplicateRequest
		}
		// A run that did not commit leaves nothing behind, its request ID included.
		defer func() {
			if err != nil {
				s.releaseRequest(ctx, key)
			}
		}()
	}

	items, err := s.db.PendingItemCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("pending items: %w", err)
	}

	unlock, err := s.locker.Lock(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	defer unlock()

	snap, err := s.db.LoadSnapshot(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	plan, err := s.engine.Allocate(snap, method, "")
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			s.log.Error("allocation run rejected", zap.String("method", method.String()), zap.Error(err))
		}
		return nil, err
	}

	if plan.Empty() {
		s.log.Info("allocation run found nothing to allocate",
			zap.String("method", method.String()),
			zap.Int("pending_orders", len(plan.Outcomes)))
		return plan, nil
	}

	if err := s.db.CommitRun(ctx, plan); err != nil {
		if errors.Is(err, port.ErrOptimisticLock) {
			return nil, fmt.Errorf("%w: run %s: %w", ErrConflict, plan.RunID, err)
		}
		return nil, fmt.Errorf("commit run %s: %w", plan.RunID, err)
	}

	s.log.Info("allocation run committed",
		zap.String("run_id", plan.RunID),
		zap.String("method", method.String()),
		zap.Int("results", len(plan.Results)),
		zap.Int("allocated_quantity", plan.AllocatedQuantity()),
		zap.Int("still_pending", len(plan.Pending())))

	s.enqueue(ctx, plan)
	return plan, nil
}

func (s *AllocationService) releaseRequest(ctx context.Context, key string) {
	if err := s.idem.ReleaseIdempotency(context.WithoutCancel(ctx), key); err != nil {
		s.log.Warn("failed to release request id", zap.String("key", key), zap.Error(err))
	}
}

func (s *AllocationService) enqueue(ctx context.Context, plan *engine.Plan) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.reports == nil || s.closed {
		return
	}
	select {
	case s.reports <- plan:
	case <-ctx.Done():
		s.log.Warn("run report dropped", zap.String("run_id", plan.RunID), zap.Error(ctx.Err()))
	}
}

// Reports delivers committed plans for asynchronous publication.
func (s *AllocationService) Reports() <-chan *engine.Plan {
	return s.reports
}

func (s *AllocationService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.reports == nil {
		s.closed = true
		return
	}
	s.closed = true
	close(s.reports)
}
