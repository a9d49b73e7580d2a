// Package channel provides the in-process event bus carrying dispatch
// requests from the intake path to the dispatch orchestrator.
package channel

import (
	"context"

	"github.com/fieldserve/workorder/internal/domain"
)

// MetricsSink records bus metrics. All methods must be non-blocking.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

type EventBus struct {
	ch      chan domain.DispatchRequest
	metrics MetricsSink // optional, nil = disabled
}

func NewEventBus(buffer int) *EventBus {
	return &EventBus{
		ch: make(chan domain.DispatchRequest, buffer),
	}
}

// WithMetrics attaches a metrics sink.
func (b *EventBus) WithMetrics(sink MetricsSink) *EventBus {
	b.metrics = sink
	sink.BufferCapacitySet(cap(b.ch))
	return b
}

// Emit queues a dispatch request, blocking until there is buffer space or
// ctx is cancelled.
func (b *EventBus) Emit(ctx context.Context, req domain.DispatchRequest) error {
	select {
	case b.ch <- req:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ctx.Err()
	}
}

func (b *EventBus) Channel() <-chan domain.DispatchRequest {
	return b.ch
}
