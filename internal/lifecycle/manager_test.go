package lifecycle

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

// mockStore is a thread-safe in-memory job store with the guarded-update
// semantics the Store contract requires.
type mockStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]domain.Job
	insertErr error
	// forceStale makes the next UpdateJobState lose its guard, simulating a
	// concurrent transition between read and write.
	forceStale bool
	deleted    []uuid.UUID
}

func newMockStore() *mockStore {
	return &mockStore{jobs: make(map[uuid.UUID]domain.Job)}
}

func (m *mockStore) addJob(job domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
}

func (m *mockStore) InsertJob(ctx context.Context, job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *mockStore) GetJobByID(ctx context.Context, jobID uuid.UUID) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.Job{}, ErrNotFound
	}
	return job, nil
}

func (m *mockStore) UpdateJobState(ctx context.Context, jobID uuid.UUID, from, to domain.JobStatus, techID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if m.forceStale || job.Status != from {
		m.forceStale = false
		return ErrStaleState
	}
	job.Status = to
	job.AssignedTechID = techID
	m.jobs[jobID] = job
	return nil
}

func (m *mockStore) DeleteJob(ctx context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, jobID)
	m.deleted = append(m.deleted, jobID)
	return nil
}

func (m *mockStore) getJob(t *testing.T, jobID uuid.UUID) domain.Job {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		t.Fatalf("job %s not in store", jobID)
	}
	return job
}

// mockEmitter records emitted dispatch requests.
type mockEmitter struct {
	mu      sync.Mutex
	events  []domain.DispatchRequest
	emitErr error
}

func (m *mockEmitter) Emit(ctx context.Context, req domain.DispatchRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emitErr != nil {
		return m.emitErr
	}
	m.events = append(m.events, req)
	return nil
}

func (m *mockEmitter) getEvents() []domain.DispatchRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DispatchRequest, len(m.events))
	copy(out, m.events)
	return out
}

func validRequest() domain.ValidatedRequest {
	return domain.ValidatedRequest{
		Draft: domain.Draft{
			Title:       "Burst pipe in basement",
			Description: "Burst pipe in basement, water everywhere",
			Trade:       domain.TradePlumbing,
			Urgency:     domain.UrgencyEmergency,
			AddressText: "55 Water St, Boston, MA 02109",
		},
		OrgID:    uuid.New(),
		Location: domain.Location{Lat: 42.3554, Lng: -71.0523, City: "Boston", State: "MA"},
	}
}

func addJobInStatus(store *mockStore, status domain.JobStatus, techID *uuid.UUID) domain.Job {
	job := domain.Job{
		ID:             uuid.New(),
		OrgID:          uuid.New(),
		Title:          "Flickering hallway lights",
		Trade:          domain.TradeElectrical,
		Urgency:        domain.UrgencyNextDay,
		Status:         status,
		AssignedTechID: techID,
	}
	store.addJob(job)
	return job
}

// TestCreate_PersistsPendingJobAndEmitsDispatch verifies the creation path:
// the job lands in pending with SLA defaults and a dispatch request with
// reason "created" is emitted.
func TestCreate_PersistsPendingJobAndEmitsDispatch(t *testing.T) {
	ctx := testutil.TestContext(t)

	store := newMockStore()
	emitter := &mockEmitter{}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m := New(store, emitter).WithClock(func() time.Time { return now })

	job, err := m.Create(ctx, validRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if job.Status != domain.JobStatusPending {
		t.Errorf("expected status pending, got %s", job.Status)
	}
	if job.AssignedTechID != nil {
		t.Error("expected no assigned technician on creation")
	}
	if !job.CreatedAt.Equal(now) {
		t.Errorf("expected CreatedAt %s, got %s", now, job.CreatedAt)
	}

	want := domain.DefaultSLA(domain.TradePlumbing, domain.UrgencyEmergency)
	if job.SLA != want {
		t.Errorf("expected SLA %+v, got %+v", want, job.SLA)
	}

	events := emitter.getEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 dispatch request, got %d", len(events))
	}
	if events[0].JobID != job.ID {
		t.Errorf("dispatch request carries job %s, want %s", events[0].JobID, job.ID)
	}
	if events[0].Reason != domain.DispatchReasonCreated {
		t.Errorf("expected reason created, got %s", events[0].Reason)
	}
}

// TestCreate_BudgetInvariant verifies that an inverted budget range is
// rejected before anything is persisted.
func TestCreate_BudgetInvariant(t *testing.T) {
	ctx := testutil.TestContext(t)

	store := newMockStore()
	m := New(store, &mockEmitter{})

	req := validRequest()
	lo := int64(80000)
	hi := int64(50000)
	req.BudgetMinCents = &lo
	req.BudgetMaxCents = &hi

	_, err := m.Create(ctx, req)
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	if len(store.jobs) != 0 {
		t.Error("expected no job persisted after rejected creation")
	}
}

// TestCreate_EmitFailureStillCreates verifies that a full event bus does not
// fail creation; the job stays pending for the sweeper.
func TestCreate_EmitFailureStillCreates(t *testing.T) {
	ctx := testutil.TestContext(t)

	store := newMockStore()
	emitter := &mockEmitter{emitErr: errors.New("buffer full")}
	m := New(store, emitter)

	job, err := m.Create(ctx, validRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if got := store.getJob(t, job.ID).Status; got != domain.JobStatusPending {
		t.Errorf("expected job pending after emit failure, got %s", got)
	}
}

// TestAssign_FromPendingAndMatching verifies assignment is allowed from both
// pre-assignment states.
func TestAssign_FromPendingAndMatching(t *testing.T) {
	for _, status := range []domain.JobStatus{domain.JobStatusPending, domain.JobStatusMatching} {
		t.Run(string(status), func(t *testing.T) {
			ctx := testutil.TestContext(t)

			store := newMockStore()
			job := addJobInStatus(store, status, nil)
			m := New(store, &mockEmitter{})

			techID := uuid.New()
			updated, err := m.Assign(ctx, job.ID, techID)
			if err != nil {
				t.Fatalf("Assign failed: %v", err)
			}
			if updated.Status != domain.JobStatusAssigned {
				t.Errorf("expected status assigned, got %s", updated.Status)
			}
			if updated.AssignedTechID == nil || *updated.AssignedTechID != techID {
				t.Errorf("expected technician %s, got %v", techID, updated.AssignedTechID)
			}
		})
	}
}

// TestAssign_ReassignOverwritesTechnician verifies assigned → assigned is a
// direct re-assignment with no unassign step.
func TestAssign_ReassignOverwritesTechnician(t *testing.T) {
	ctx := testutil.TestContext(t)

	store := newMockStore()
	firstTech := uuid.New()
	job := addJobInStatus(store, domain.JobStatusAssigned, &firstTech)
	m := New(store, &mockEmitter{})

	secondTech := uuid.New()
	updated, err := m.Assign(ctx, job.ID, secondTech)
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if updated.AssignedTechID == nil || *updated.AssignedTechID != secondTech {
		t.Errorf("expected technician %s, got %v", secondTech, updated.AssignedTechID)
	}

	stored := store.getJob(t, job.ID)
	if stored.AssignedTechID == nil || *stored.AssignedTechID != secondTech {
		t.Error("expected store to hold the new technician")
	}
}

// TestAssign_TerminalStatusRejected verifies completed and archived jobs
// cannot be assigned.
func TestAssign_TerminalStatusRejected(t *testing.T) {
	for _, status := range []domain.JobStatus{domain.JobStatusCompleted, domain.JobStatusArchived} {
		t.Run(string(status), func(t *testing.T) {
			ctx := testutil.TestContext(t)

			store := newMockStore()
			job := addJobInStatus(store, status, nil)
			m := New(store, &mockEmitter{})

			_, err := m.Assign(ctx, job.ID, uuid.New())
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

// TestUnassign_ReturnsJobToPendingAndRedispatches verifies unassigning an
// assigned job clears the technician, moves it to pending, and emits a
// dispatch request with reason "unassigned".
func TestUnassign_ReturnsJobToPendingAndRedispatches(t *testing.T) {
	ctx := testutil.TestContext(t)

	store := newMockStore()
	techID := uuid.New()
	job := addJobInStatus(store, domain.JobStatusAssigned, &techID)
	emitter := &mockEmitter{}
	m := New(store, emitter)

	updated, err := m.Unassign(ctx, job.ID)
	if err != nil {
		t.Fatalf("Unassign failed: %v", err)
	}
	if updated.Status != domain.JobStatusPending {
		t.Errorf("expected status pending, got %s", updated.Status)
	}
	if updated.AssignedTechID != nil {
		t.Error("expected technician cleared")
	}

	events := emitter.getEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 dispatch request, got %d", len(events))
	}
	if events[0].Reason != domain.DispatchReasonUnassigned {
		t.Errorf("expected reason unassigned, got %s", events[0].Reason)
	}
}

// TestUnassign_NoTechnicianIsNoOp verifies unassigning a pending or matching
// job succeeds without changing anything or emitting events.
func TestUnassign_NoTechnicianIsNoOp(t *testing.T) {
	for _, status := range []domain.JobStatus{domain.JobStatusPending, domain.JobStatusMatching} {
		t.Run(string(status), func(t *testing.T) {
			ctx := testutil.TestContext(t)

			store := newMockStore()
			job := addJobInStatus(store, status, nil)
			emitter := &mockEmitter{}
			m := New(store, emitter)

			updated, err := m.Unassign(ctx, job.ID)
			if err != nil {
				t.Fatalf("Unassign failed: %v", err)
			}
			if updated.Status != status {
				t.Errorf("expected status unchanged (%s), got %s", status, updated.Status)
			}
			if len(emitter.getEvents()) != 0 {
				t.Error("expected no dispatch request for no-op unassign")
			}
		})
	}
}

// TestComplete_RequiresAssignedTechnician verifies the completion
// precondition: a job with no technician cannot complete, and nothing
// changes on rejection.
func TestComplete_RequiresAssignedTechnician(t *testing.T) {
	ctx := testutil.TestContext(t)

	store := newMockStore()
	job := addJobInStatus(store, domain.JobStatusPending, nil)
	m := New(store, &mockEmitter{})

	_, err := m.Complete(ctx, job.ID)
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	if got := store.getJob(t, job.ID).Status; got != domain.JobStatusPending {
		t.Errorf("expected status unchanged, got %s", got)
	}
}

// TestComplete_FromAssigned verifies the happy completion path keeps the
// technician on the record.
func TestComplete_FromAssigned(t *testing.T) {
	ctx := testutil.TestContext(t)

	store := newMockStore()
	techID := uuid.New()
	job := addJobInStatus(store, domain.JobStatusAssigned, &techID)
	m := New(store, &mockEmitter{})

	updated, err := m.Complete(ctx, job.ID)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if updated.Status != domain.JobStatusCompleted {
		t.Errorf("expected status completed, got %s", updated.Status)
	}

	stored := store.getJob(t, job.ID)
	if stored.AssignedTechID == nil || *stored.AssignedTechID != techID {
		t.Error("expected technician retained on completed job")
	}
}

// TestArchive_ClearsAssignment verifies archiving an assigned job clears the
// technician so archived jobs never carry one.
func TestArchive_ClearsAssignment(t *testing.T) {
	ctx := testutil.TestContext(t)

	store := newMockStore()
	techID := uuid.New()
	job := addJobInStatus(store, domain.JobStatusAssigned, &techID)
	m := New(store, &mockEmitter{})

	updated, err := m.Archive(ctx, job.ID)
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if updated.Status != domain.JobStatusArchived {
		t.Errorf("expected status archived, got %s", updated.Status)
	}
	if store.getJob(t, job.ID).AssignedTechID != nil {
		t.Error("expected technician cleared on archive")
	}
}

// TestArchive_CompletedJobRejected verifies completed is terminal: it cannot
// move to archived.
func TestArchive_CompletedJobRejected(t *testing.T) {
	ctx := testutil.TestContext(t)

	store := newMockStore()
	job := addJobInStatus(store, domain.JobStatusCompleted, nil)
	m := New(store, &mockEmitter{})

	_, err := m.Archive(ctx, job.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

// TestTransition_LostGuardMapsToInvalidTransition verifies that a guarded
// update losing its race surfaces as ErrInvalidTransition, not a raw store
// error.
func TestTransition_LostGuardMapsToInvalidTransition(t *testing.T) {
	ctx := testutil.TestContext(t)

	store := newMockStore()
	job := addJobInStatus(store, domain.JobStatusPending, nil)
	store.forceStale = true
	m := New(store, &mockEmitter{})

	_, err := m.Assign(ctx, job.ID, uuid.New())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on stale state, got %v", err)
	}
}

// TestMarkMatching verifies the orchestrator-facing transition: pending
// moves to matching, matching is idempotent, assigned is rejected.
func TestMarkMatching(t *testing.T) {
	ctx := testutil.TestContext(t)

	store := newMockStore()
	m := New(store, &mockEmitter{})

	pending := addJobInStatus(store, domain.JobStatusPending, nil)
	if err := m.MarkMatching(ctx, pending.ID); err != nil {
		t.Fatalf("MarkMatching from pending failed: %v", err)
	}
	if got := store.getJob(t, pending.ID).Status; got != domain.JobStatusMatching {
		t.Errorf("expected status matching, got %s", got)
	}

	if err := m.MarkMatching(ctx, pending.ID); err != nil {
		t.Errorf("MarkMatching on matching job should be a no-op, got %v", err)
	}

	techID := uuid.New()
	assigned := addJobInStatus(store, domain.JobStatusAssigned, &techID)
	if err := m.MarkMatching(ctx, assigned.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for assigned job, got %v", err)
	}
}

// TestGetJob_NotFound verifies missing jobs surface ErrNotFound.
func TestGetJob_NotFound(t *testing.T) {
	ctx := testutil.TestContext(t)

	m := New(newMockStore(), &mockEmitter{})
	_, err := m.GetJob(ctx, uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// TestDelete_CascadesThroughStore verifies Delete reaches the store.
func TestDelete_CascadesThroughStore(t *testing.T) {
	ctx := testutil.TestContext(t)

	store := newMockStore()
	job := addJobInStatus(store, domain.JobStatusArchived, nil)
	m := New(store, &mockEmitter{})

	if err := m.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := m.GetJob(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected job gone after delete, got %v", err)
	}
}

// TestCanTransition covers the full transition table, including the
// re-assignment self-loop and terminal states.
func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to domain.JobStatus
		want     bool
	}{
		{domain.JobStatusPending, domain.JobStatusMatching, true},
		{domain.JobStatusPending, domain.JobStatusAssigned, true},
		{domain.JobStatusPending, domain.JobStatusArchived, true},
		{domain.JobStatusPending, domain.JobStatusCompleted, false},
		{domain.JobStatusMatching, domain.JobStatusPending, true},
		{domain.JobStatusMatching, domain.JobStatusAssigned, true},
		{domain.JobStatusMatching, domain.JobStatusCompleted, false},
		{domain.JobStatusAssigned, domain.JobStatusAssigned, true},
		{domain.JobStatusAssigned, domain.JobStatusPending, true},
		{domain.JobStatusAssigned, domain.JobStatusCompleted, true},
		{domain.JobStatusAssigned, domain.JobStatusArchived, true},
		{domain.JobStatusCompleted, domain.JobStatusArchived, false},
		{domain.JobStatusCompleted, domain.JobStatusPending, false},
		{domain.JobStatusArchived, domain.JobStatusPending, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
