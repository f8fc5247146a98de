package port

import (
	"context"

	"github.com/rl1809/lot-allocation/internal/core/engine"
)

type EventPublisher interface {
	// PublishAllocation announces a committed allocation run
	PublishAllocation(ctx context.Context, plan *engine.Plan) error
}
