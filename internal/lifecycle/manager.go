// Package lifecycle owns the job state machine. Every status or assignment
// change flows through the Manager's transition methods; no other component
// writes Status or AssignedTechID.
//
// Transitions are applied as single guarded updates in the store, so a
// rejected transition never leaves partially-applied state, and two
// concurrent transitions cannot both win the same guard.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/fieldserve/workorder/internal/domain"
)

var (
	// ErrInvalidTransition is returned when the requested transition is not
	// allowed from the job's current status.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrPreconditionFailed is returned when the transition is allowed in
	// principle but a required field is missing (completing a job with no
	// assigned technician).
	ErrPreconditionFailed = errors.New("transition precondition failed")

	// ErrNotFound is returned when the job does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrStaleState is returned by stores when a guarded update matched no
	// rows because the job's status changed concurrently.
	ErrStaleState = errors.New("job state changed concurrently")
)

// validTransitions lists every allowed (from → to) pair. assigned →
// assigned covers re-assignment to a different technician, which is
// permitted without an explicit unassign step.
var validTransitions = map[domain.JobStatus][]domain.JobStatus{
	domain.JobStatusPending:  {domain.JobStatusMatching, domain.JobStatusAssigned, domain.JobStatusArchived},
	domain.JobStatusMatching: {domain.JobStatusPending, domain.JobStatusAssigned, domain.JobStatusArchived},
	domain.JobStatusAssigned: {domain.JobStatusAssigned, domain.JobStatusPending, domain.JobStatusCompleted, domain.JobStatusArchived},
	// completed and archived are terminal - no outgoing transitions
}

// CanTransition reports whether moving from → to is permitted.
func CanTransition(from, to domain.JobStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type Store interface {
	InsertJob(ctx context.Context, job domain.Job) error
	GetJobByID(ctx context.Context, jobID uuid.UUID) (domain.Job, error)
	// UpdateJobState sets status and assigned technician in one statement,
	// guarded on the current status. Implementations MUST return
	// ErrStaleState when the guard matches no rows for an existing job, and
	// ErrNotFound when the job does not exist.
	UpdateJobState(ctx context.Context, jobID uuid.UUID, from, to domain.JobStatus, techID *uuid.UUID) error
	// DeleteJob hard-deletes the job and cascades its outreach records.
	DeleteJob(ctx context.Context, jobID uuid.UUID) error
}

type EventEmitter interface {
	Emit(ctx context.Context, req domain.DispatchRequest) error
}

// MetricsSink records lifecycle metrics. All methods must be non-blocking.
type MetricsSink interface {
	TransitionApplied(from, to string)
	TransitionRejected(reason string)
}

type Manager struct {
	store   Store
	emitter EventEmitter
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(store Store, emitter EventEmitter) *Manager {
	return &Manager{
		store:   store,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (m *Manager) WithMetrics(sink MetricsSink) *Manager {
	m.metrics = sink
	return m
}

// WithClock overrides the clock, for tests.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Create persists a validated request as a pending job, initializes its SLA
// from trade+urgency defaults, and emits an asynchronous dispatch request.
// The duplicate and geocode gates must have passed (or been explicitly
// bypassed) before Create is called.
func (m *Manager) Create(ctx context.Context, req domain.ValidatedRequest) (domain.Job, error) {
	if req.BudgetMinCents != nil && req.BudgetMaxCents != nil && *req.BudgetMinCents > *req.BudgetMaxCents {
		return domain.Job{}, fmt.Errorf("%w: budget min exceeds max", ErrPreconditionFailed)
	}

	now := m.clock().UTC()
	job := domain.Job{
		ID:    uuid.New(),
		OrgID: req.OrgID,

		Title:       req.Title,
		Description: req.Description,
		Trade:       req.Trade,
		Urgency:     req.Urgency,

		AddressText: req.AddressText,
		Location:    req.Location,

		ScheduledStart: req.ScheduledStart,
		BudgetMinCents: req.BudgetMinCents,
		BudgetMaxCents: req.BudgetMaxCents,
		PayRate:        req.PayRate,

		ContactName:  req.ContactName,
		ContactPhone: req.ContactPhone,
		ContactEmail: req.ContactEmail,

		Status:   domain.JobStatusPending,
		PolicyID: req.PolicyID,
		SLA:      domain.DefaultSLA(req.Trade, req.Urgency),

		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.store.InsertJob(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}

	m.recordApplied("", string(domain.JobStatusPending))

	// Dispatch is fire-and-forget: an emit failure leaves the job pending
	// for the re-dispatch sweep rather than failing the creation.
	event := domain.DispatchRequest{
		JobID:       job.ID,
		OrgID:       job.OrgID,
		Reason:      domain.DispatchReasonCreated,
		RequestedAt: now,
	}
	if err := m.emitter.Emit(ctx, event); err != nil {
		log.Printf("lifecycle: dispatch emit failed for job=%s (sweeper will retry): %v", job.ID, err)
	}

	return job, nil
}

// Assign sets the job's technician and moves it to assigned. Valid from
// pending, matching, or assigned (re-assignment overwrites the technician).
func (m *Manager) Assign(ctx context.Context, jobID, techID uuid.UUID) (domain.Job, error) {
	job, err := m.store.GetJobByID(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}

	if !CanTransition(job.Status, domain.JobStatusAssigned) {
		m.recordRejected("assign_from_" + string(job.Status))
		return domain.Job{}, fmt.Errorf("%w: cannot assign job in status %s", ErrInvalidTransition, job.Status)
	}

	if err := m.applyState(ctx, jobID, job.Status, domain.JobStatusAssigned, &techID); err != nil {
		return domain.Job{}, err
	}

	job.Status = domain.JobStatusAssigned
	job.AssignedTechID = &techID
	return job, nil
}

// Unassign clears the technician and returns the job to pending, re-opening
// the candidate list. Calling it on a job that already has no technician
// (pending or matching) is a no-op.
func (m *Manager) Unassign(ctx context.Context, jobID uuid.UUID) (domain.Job, error) {
	job, err := m.store.GetJobByID(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}

	switch job.Status {
	case domain.JobStatusPending, domain.JobStatusMatching:
		// Already unassigned; idempotent no-op.
		return job, nil
	case domain.JobStatusAssigned:
	default:
		m.recordRejected("unassign_from_" + string(job.Status))
		return domain.Job{}, fmt.Errorf("%w: cannot unassign job in status %s", ErrInvalidTransition, job.Status)
	}

	if err := m.applyState(ctx, jobID, domain.JobStatusAssigned, domain.JobStatusPending, nil); err != nil {
		return domain.Job{}, err
	}

	event := domain.DispatchRequest{
		JobID:       job.ID,
		OrgID:       job.OrgID,
		Reason:      domain.DispatchReasonUnassigned,
		RequestedAt: m.clock().UTC(),
	}
	if err := m.emitter.Emit(ctx, event); err != nil {
		log.Printf("lifecycle: dispatch emit failed for job=%s (sweeper will retry): %v", job.ID, err)
	}

	job.Status = domain.JobStatusPending
	job.AssignedTechID = nil
	return job, nil
}

// Complete marks an assigned job as done. Completing a job with no assigned
// technician fails with ErrPreconditionFailed and changes nothing.
func (m *Manager) Complete(ctx context.Context, jobID uuid.UUID) (domain.Job, error) {
	job, err := m.store.GetJobByID(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}

	if job.AssignedTechID == nil {
		m.recordRejected("complete_unassigned")
		return domain.Job{}, fmt.Errorf("%w: job has no assigned technician", ErrPreconditionFailed)
	}
	if !CanTransition(job.Status, domain.JobStatusCompleted) {
		m.recordRejected("complete_from_" + string(job.Status))
		return domain.Job{}, fmt.Errorf("%w: cannot complete job in status %s", ErrInvalidTransition, job.Status)
	}

	if err := m.applyState(ctx, jobID, job.Status, domain.JobStatusCompleted, job.AssignedTechID); err != nil {
		return domain.Job{}, err
	}

	job.Status = domain.JobStatusCompleted
	return job, nil
}

// Archive moves a non-terminal job to archived, clearing any assignment so
// the technician invariant holds.
func (m *Manager) Archive(ctx context.Context, jobID uuid.UUID) (domain.Job, error) {
	job, err := m.store.GetJobByID(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}

	if !CanTransition(job.Status, domain.JobStatusArchived) {
		m.recordRejected("archive_from_" + string(job.Status))
		return domain.Job{}, fmt.Errorf("%w: cannot archive job in status %s", ErrInvalidTransition, job.Status)
	}

	if err := m.applyState(ctx, jobID, job.Status, domain.JobStatusArchived, nil); err != nil {
		return domain.Job{}, err
	}

	job.Status = domain.JobStatusArchived
	job.AssignedTechID = nil
	return job, nil
}

// Delete hard-deletes the job; the store cascades its outreach records.
func (m *Manager) Delete(ctx context.Context, jobID uuid.UUID) error {
	return m.store.DeleteJob(ctx, jobID)
}

// MarkMatching moves a pending job to matching. Called by the dispatch
// orchestrator when it picks up a dispatch request; a job already in
// matching is left alone.
func (m *Manager) MarkMatching(ctx context.Context, jobID uuid.UUID) error {
	job, err := m.store.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == domain.JobStatusMatching {
		return nil
	}
	if job.Status != domain.JobStatusPending {
		return fmt.Errorf("%w: cannot start matching for job in status %s", ErrInvalidTransition, job.Status)
	}
	return m.applyState(ctx, jobID, domain.JobStatusPending, domain.JobStatusMatching, nil)
}

// GetJob returns the job by ID.
func (m *Manager) GetJob(ctx context.Context, jobID uuid.UUID) (domain.Job, error) {
	return m.store.GetJobByID(ctx, jobID)
}

// applyState runs the guarded update and maps a lost guard to
// ErrInvalidTransition: the state the caller decided on no longer exists.
func (m *Manager) applyState(ctx context.Context, jobID uuid.UUID, from, to domain.JobStatus, techID *uuid.UUID) error {
	err := m.store.UpdateJobState(ctx, jobID, from, to, techID)
	if err != nil {
		if errors.Is(err, ErrStaleState) {
			m.recordRejected("stale_state")
			return fmt.Errorf("%w: job left status %s concurrently", ErrInvalidTransition, from)
		}
		return err
	}
	m.recordApplied(string(from), string(to))
	return nil
}

func (m *Manager) recordApplied(from, to string) {
	if m.metrics != nil {
		m.metrics.TransitionApplied(from, to)
	}
}

func (m *Manager) recordRejected(reason string) {
	if m.metrics != nil {
		m.metrics.TransitionRejected(reason)
	}
}
