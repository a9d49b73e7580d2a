package redispatch

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

// mockStore returns scripted stalled jobs and records query parameters.
type mockStore struct {
	mu            sync.Mutex
	stalled       []domain.Job
	err           error
	lastOlderThan time.Time
	lastMax       int
}

func (m *mockStore) GetStalledJobs(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOlderThan = olderThan
	m.lastMax = maxResults
	if m.err != nil {
		return nil, m.err
	}
	return m.stalled, nil
}

func (m *mockStore) getQuery() (time.Time, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOlderThan, m.lastMax
}

// mockEmitter records emitted requests and signals each one.
type mockEmitter struct {
	mu       sync.Mutex
	events   []domain.DispatchRequest
	failFor  map[uuid.UUID]bool
	signaled chan struct{}
}

func newMockEmitter() *mockEmitter {
	return &mockEmitter{signaled: make(chan struct{}, 64)}
}

func (m *mockEmitter) Emit(ctx context.Context, req domain.DispatchRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[req.JobID] {
		return errors.New("buffer full")
	}
	m.events = append(m.events, req)
	m.signaled <- struct{}{}
	return nil
}

func (m *mockEmitter) getEvents() []domain.DispatchRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DispatchRequest, len(m.events))
	copy(out, m.events)
	return out
}

// immediateSchedule fires once right away, then parks future runs out of
// reach. It anchors on wall time because the sweeper's timer does, even
// when the sweep clock is faked.
type immediateSchedule struct {
	mu    sync.Mutex
	fired bool
}

func (s *immediateSchedule) Next(after time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fired {
		s.fired = true
		return time.Now()
	}
	return time.Now().Add(24 * time.Hour)
}

func stalledJob(updatedAt time.Time) domain.Job {
	return domain.Job{
		ID:        uuid.New(),
		OrgID:     uuid.New(),
		Status:    domain.JobStatusMatching,
		UpdatedAt: updatedAt,
	}
}

// TestSweeper_ReEmitsStalledJobs verifies a sweep cycle re-emits one
// dispatch request per stalled job with reason "retrigger", and that the
// store is queried with the configured threshold and batch size.
func TestSweeper_ReEmitsStalledJobs(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := testutil.NewFakeClock(now)

	jobA := stalledJob(now.Add(-30 * time.Minute))
	jobB := stalledJob(now.Add(-2 * time.Hour))
	store := &mockStore{stalled: []domain.Job{jobA, jobB}}
	emitter := newMockEmitter()

	cfg := Config{Threshold: 10 * time.Minute, BatchSize: 25}
	s := New(cfg, store, emitter, &immediateSchedule{}).WithClock(clock.Now)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-emitter.signaled:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for re-emit")
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	events := emitter.getEvents()
	if len(events) != 2 {
		t.Fatalf("expected 2 re-emitted requests, got %d", len(events))
	}
	seen := map[uuid.UUID]bool{}
	for _, ev := range events {
		seen[ev.JobID] = true
		if ev.Reason != domain.DispatchReasonRetrigger {
			t.Errorf("job %s: reason = %s, want retrigger", ev.JobID, ev.Reason)
		}
	}
	if !seen[jobA.ID] || !seen[jobB.ID] {
		t.Error("expected both stalled jobs re-emitted")
	}

	olderThan, maxResults := store.getQuery()
	if want := now.Add(-10 * time.Minute); !olderThan.Equal(want) {
		t.Errorf("olderThan = %s, want %s", olderThan, want)
	}
	if maxResults != 25 {
		t.Errorf("maxResults = %d, want 25", maxResults)
	}
}

// TestSweeper_EmitFailureContinues verifies one failed re-emit does not
// abort the rest of the sweep.
func TestSweeper_EmitFailureContinues(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := testutil.NewFakeClock(now)

	bad := stalledJob(now.Add(-time.Hour))
	good := stalledJob(now.Add(-time.Hour))
	store := &mockStore{stalled: []domain.Job{bad, good}}
	emitter := newMockEmitter()
	emitter.failFor = map[uuid.UUID]bool{bad.ID: true}

	s := New(DefaultConfig(), store, emitter, &immediateSchedule{}).WithClock(clock.Now)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-emitter.signaled:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for re-emit")
	}
	cancel()
	<-done

	events := emitter.getEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 successful re-emit, got %d", len(events))
	}
	if events[0].JobID != good.ID {
		t.Errorf("re-emitted job = %s, want %s", events[0].JobID, good.ID)
	}
}

// TestSweeper_StoreErrorSkipsCycle verifies a failed stalled-jobs query
// aborts the cycle without emitting anything.
func TestSweeper_StoreErrorSkipsCycle(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	store := &mockStore{err: errors.New("connection reset")}
	emitter := newMockEmitter()

	s := New(DefaultConfig(), store, emitter, &immediateSchedule{}).WithClock(clock.Now)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if got := len(emitter.getEvents()); got != 0 {
		t.Errorf("expected no re-emits after store error, got %d", got)
	}
}

// TestDefaultConfig pins the stock threshold and batch size.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Threshold != 10*time.Minute {
		t.Errorf("threshold = %s, want 10m", cfg.Threshold)
	}
	if cfg.BatchSize != 100 {
		t.Errorf("batch size = %d, want 100", cfg.BatchSize)
	}
}
