package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/rl1809/lot-allocation/internal/core/engine"
	"github.com/rl1809/lot-allocation/internal/port"
)

const EventAllocationCompleted = "allocation.completed"

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
}

type KafkaPublisher struct {
	log      *zap.Logger
	producer Producer
	topic    string
}

var _ port.EventPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(log *zap.Logger, producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{log: log, producer: producer, topic: topic}
}

type resultEvent struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"order_id"`
	ItemCode          string          `json:"item_code"`
	LotID             string          `json:"lot_id"`
	AllocatedQuantity int             `json:"allocated_quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	AllocatedPrice    decimal.Decimal `json:"allocated_price"`
}

type outcomeEvent struct {
	OrderID        string `json:"order_id"`
	ItemCode       string `json:"item_code"`
	AllocatedInRun int    `json:"allocated_in_run"`
	Outstanding    int    `json:"outstanding"`
	Status         string `json:"status"`
}

type allocationCompletedEvent struct {
	RunID      string         `json:"run_id"`
	Method     string         `json:"method"`
	ExecutedAt time.Time      `json:"executed_at"`
	Results    []resultEvent  `json:"results"`
	Outcomes   []outcomeEvent `json:"outcomes"`
}

func newAllocationCompletedEvent(plan *engine.Plan) allocationCompletedEvent {
	ev := allocationCompletedEvent{
		RunID:      plan.RunID,
		Method:     plan.Method.String(),
		ExecutedAt: plan.ExecutedAt,
		Results:    make([]resultEvent, 0, len(plan.Results)),
		Outcomes:   make([]outcomeEvent, 0, len(plan.Outcomes)),
	}
	for _, r := range plan.Results {
		ev.Results = append(ev.Results, resultEvent{
			ID:                r.ID,
			OrderID:           r.OrderID,
			ItemCode:          r.ItemCode,
			LotID:             r.LotID,
			AllocatedQuantity: r.AllocatedQuantity,
			UnitPrice:         r.UnitPrice,
			AllocatedPrice:    r.AllocatedPrice,
		})
	}
	for _, o := range plan.Outcomes {
		ev.Outcomes = append(ev.Outcomes, outcomeEvent{
			OrderID:        o.OrderID,
			ItemCode:       o.ItemCode,
			AllocatedInRun: o.AllocatedInRun,
			Outstanding:    o.Outstanding,
			Status:         string(o.Status),
		})
	}
	return ev
}

// PublishAllocation writes one allocation.completed message keyed by run ID.
func (p *KafkaPublisher) PublishAllocation(ctx context.Context, plan *engine.Plan) error {
	payload, err := json.Marshal(newAllocationCompletedEvent(plan))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic:   p.topic,
		Key:     []byte(plan.RunID),
		Value:   payload,
		Headers: injectHeaders(ctx, []kafka.Header{{Key: "event_type", Value: []byte(EventAllocationCompleted)}}),
	}
	if err := p.producer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("allocation event publish failed", zap.String("run_id", plan.RunID), zap.Error(err))
		return err
	}
	p.log.Info("allocation event published", zap.String("run_id", plan.RunID), zap.Int("results", len(plan.Results)))
	return nil
}

func injectHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}

// LogPublisher stands in when no broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

var _ port.EventPublisher = (*LogPublisher)(nil)

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) PublishAllocation(ctx context.Context, plan *engine.Plan) error {
	p.log.Info("allocation run completed",
		zap.String("run_id", plan.RunID),
		zap.String("method", plan.Method.String()),
		zap.Int("results", len(plan.Results)))
	return nil
}
