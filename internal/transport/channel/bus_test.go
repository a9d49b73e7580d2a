package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fieldserve/workorder/internal/domain"
	"github.com/fieldserve/workorder/internal/testutil"
)

// mockBusMetrics records bus metric calls.
type mockBusMetrics struct {
	mu         sync.Mutex
	sizes      []int
	capacity   int
	emitErrors int
}

func (m *mockBusMetrics) BufferSizeUpdate(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes = append(m.sizes, size)
}

func (m *mockBusMetrics) BufferCapacitySet(capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacity = capacity
}

func (m *mockBusMetrics) EmitError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitErrors++
}

func (m *mockBusMetrics) getCapacity() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capacity
}

func (m *mockBusMetrics) getEmitErrors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emitErrors
}

// TestEventBus_EmitAndReceive verifies requests flow through in order.
func TestEventBus_EmitAndReceive(t *testing.T) {
	ctx := testutil.TestContext(t)

	bus := NewEventBus(4)
	first := domain.DispatchRequest{JobID: uuid.New(), Reason: domain.DispatchReasonCreated}
	second := domain.DispatchRequest{JobID: uuid.New(), Reason: domain.DispatchReasonRetrigger}

	if err := bus.Emit(ctx, first); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if err := bus.Emit(ctx, second); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	got := <-bus.Channel()
	if got.JobID != first.JobID {
		t.Errorf("first received job = %s, want %s", got.JobID, first.JobID)
	}
	got = <-bus.Channel()
	if got.JobID != second.JobID {
		t.Errorf("second received job = %s, want %s", got.JobID, second.JobID)
	}
}

// TestEventBus_FullBufferBlocksUntilCancel verifies Emit on a full buffer
// honours context cancellation instead of dropping silently.
func TestEventBus_FullBufferBlocksUntilCancel(t *testing.T) {
	bus := NewEventBus(1)
	metrics := &mockBusMetrics{}
	bus.WithMetrics(metrics)

	ctx := context.Background()
	if err := bus.Emit(ctx, domain.DispatchRequest{JobID: uuid.New()}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	err := bus.Emit(cancelCtx, domain.DispatchRequest{JobID: uuid.New()})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded on full buffer, got %v", err)
	}
	if metrics.getEmitErrors() != 1 {
		t.Errorf("expected 1 emit error recorded, got %d", metrics.getEmitErrors())
	}
}

// TestEventBus_MetricsCapacity verifies WithMetrics reports the buffer
// capacity once at wiring time.
func TestEventBus_MetricsCapacity(t *testing.T) {
	metrics := &mockBusMetrics{}
	NewEventBus(32).WithMetrics(metrics)

	if got := metrics.getCapacity(); got != 32 {
		t.Errorf("capacity = %d, want 32", got)
	}
}
