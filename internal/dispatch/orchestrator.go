// Package dispatch notifies candidate technicians about newly created or
// re-triggered jobs. It consumes dispatch requests from the event bus,
// ranks candidates through the external compliance scorer, and records one
// outreach record per (job, technician) pair.
//
// Dispatch is fire-and-forget from the caller's perspective: delivery
// failures leave SentAt null on the outreach record and the job in
// matching, where the re-dispatch sweeper or a manual re-trigger picks it
// up. The orchestrator owns no retry loop beyond the notifier's bounded
// policy.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/fieldserve/workorder/internal/domain"
	"github.com/fieldserve/workorder/internal/retry"
)

// DefaultTopK is the number of ranked candidates contacted per dispatch.
const DefaultTopK = 5

// Jobs is the lifecycle surface the orchestrator is allowed to touch.
// Status changes go through it; the orchestrator never writes job state
// directly.
type Jobs interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (domain.Job, error)
	MarkMatching(ctx context.Context, jobID uuid.UUID) error
}

type Store interface {
	InsertOutreach(ctx context.Context, rec domain.OutreachRecord) error
	// FinalizeOutreach records the delivery result: sentAt is nil on
	// non-delivery, and errMsg carries the last notifier error.
	FinalizeOutreach(ctx context.Context, outreachID uuid.UUID, sentAt *time.Time, attempts int, errMsg string) error
}

// Scorer is the consumed compliance/matching contract. Ranking is keyed by
// the job's policy when present, else by trade and location proximity.
type Scorer interface {
	RankCandidates(ctx context.Context, job domain.Job) ([]domain.Candidate, error)
}

// ChannelRouter picks the delivery route for one technician. The concrete
// rule is an external business policy consumed as a black box.
type ChannelRouter interface {
	Route(ctx context.Context, orgID, techID uuid.UUID) domain.OutreachChannel
}

// Notifier delivers one outreach message.
type Notifier interface {
	Notify(ctx context.Context, req NotifyRequest) NotifyResult
}

type NotifyRequest struct {
	OutreachID uuid.UUID
	JobID      uuid.UUID
	TechID     uuid.UUID
	Channel    domain.OutreachChannel

	Title       string
	Trade       domain.Trade
	Urgency     domain.Urgency
	AddressText string
}

type NotifyResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r NotifyResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r NotifyResult) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	if r.StatusCode == 429 {
		return true
	}
	return r.StatusCode >= 500
}

// AnalyticsSink records dispatch funnel events as a best-effort side
// effect; it never affects dispatch correctness.
type AnalyticsSink interface {
	Record(ctx context.Context, req domain.DispatchRequest, outcome string)
}

// MetricsSink records orchestrator metrics. All methods must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	OutreachAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DispatchOutcome(outcome string)
	EventsInFlightIncr()
	EventsInFlightDecr()
}

// Outcome constants for DispatchOutcome.
const (
	OutcomeNotified     = "notified"
	OutcomeNoCandidates = "no_candidates"
	OutcomeScorerFailed = "scorer_failed"
	OutcomeAllFailed    = "all_failed"
	OutcomeSkipped      = "skipped"
)

type Orchestrator struct {
	jobs      Jobs
	store     Store
	scorer    Scorer
	router    ChannelRouter
	notifier  Notifier
	policy    retry.Policy
	topK      int
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
	clock     func() time.Time
}

func New(jobs Jobs, store Store, scorer Scorer, router ChannelRouter, notifier Notifier, policy retry.Policy) *Orchestrator {
	return &Orchestrator{
		jobs:     jobs,
		store:    store,
		scorer:   scorer,
		router:   router,
		notifier: notifier,
		policy:   policy,
		topK:     DefaultTopK,
		clock:    time.Now,
	}
}

// WithTopK overrides how many ranked candidates are contacted.
func (o *Orchestrator) WithTopK(k int) *Orchestrator {
	if k > 0 {
		o.topK = k
	}
	return o
}

// WithAnalytics attaches an analytics sink.
func (o *Orchestrator) WithAnalytics(sink AnalyticsSink) *Orchestrator {
	o.analytics = sink
	return o
}

// WithMetrics attaches a metrics sink.
func (o *Orchestrator) WithMetrics(sink MetricsSink) *Orchestrator {
	o.metrics = sink
	return o
}

// WithClock overrides the clock, for tests.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// Run processes dispatch requests until ctx is cancelled, then drains
// remaining buffered requests with a timeout.
func (o *Orchestrator) Run(ctx context.Context, ch <-chan domain.DispatchRequest) {
	for {
		// Checked first so a cancelled context always takes the drain path
		// instead of racing a buffered request into a doomed Dispatch.
		select {
		case <-ctx.Done():
			o.drain(ch)
			return
		default:
		}

		select {
		case <-ctx.Done():
			o.drain(ch)
			return
		case req := <-ch:
			if err := o.Dispatch(ctx, req); err != nil {
				log.Printf("dispatch: error: %v", err)
			}
		}
	}
}

// DrainTimeout is the maximum time to wait for buffered requests during
// shutdown.
const DrainTimeout = 30 * time.Second

func (o *Orchestrator) drain(ch <-chan domain.DispatchRequest) {
	drainCtx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("dispatch: drain timeout, processed %d requests", count)
			}
			return
		case req, ok := <-ch:
			if !ok {
				log.Printf("dispatch: drain complete, processed %d requests", count)
				return
			}
			if err := o.Dispatch(drainCtx, req); err != nil {
				log.Printf("dispatch: drain error: %v", err)
			}
			count++
		default:
			if count > 0 {
				log.Printf("dispatch: drain complete, processed %d requests", count)
			}
			return
		}
	}
}

// Dispatch handles one dispatch request end to end.
func (o *Orchestrator) Dispatch(ctx context.Context, req domain.DispatchRequest) error {
	if o.metrics != nil {
		o.metrics.EventsInFlightIncr()
		defer o.metrics.EventsInFlightDecr()
	}

	job, err := o.jobs.GetJob(ctx, req.JobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	// Replays and late re-triggers are expected; only pending/matching
	// jobs are dispatchable.
	if job.Status != domain.JobStatusPending && job.Status != domain.JobStatusMatching {
		log.Printf("dispatch: job=%s status=%s, skipping", job.ID, job.Status)
		o.recordOutcome(ctx, req, OutcomeSkipped)
		return nil
	}

	if err := o.jobs.MarkMatching(ctx, job.ID); err != nil {
		// Lost a race with an assignment; nothing to do.
		log.Printf("dispatch: job=%s no longer dispatchable: %v", job.ID, err)
		o.recordOutcome(ctx, req, OutcomeSkipped)
		return nil
	}

	candidates, err := o.scorer.RankCandidates(ctx, job)
	if err != nil {
		o.recordOutcome(ctx, req, OutcomeScorerFailed)
		return fmt.Errorf("rank candidates for job %s: %w", job.ID, err)
	}
	if len(candidates) == 0 {
		log.Printf("dispatch: job=%s no eligible candidates", job.ID)
		o.recordOutcome(ctx, req, OutcomeNoCandidates)
		return nil
	}

	if len(candidates) > o.topK {
		candidates = candidates[:o.topK]
	}

	sent := 0
	for _, cand := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if o.notifyCandidate(ctx, job, cand) {
			sent++
		}
	}

	if sent == 0 {
		// Job stays in matching for manual or scheduled re-trigger.
		log.Printf("dispatch: job=%s all %d notifications failed", job.ID, len(candidates))
		o.recordOutcome(ctx, req, OutcomeAllFailed)
		return nil
	}

	log.Printf("dispatch: job=%s notified %d/%d candidates", job.ID, sent, len(candidates))
	o.recordOutcome(ctx, req, OutcomeNotified)
	return nil
}

// notifyCandidate creates the outreach record and attempts delivery with
// the bounded retry policy. Reports whether delivery succeeded.
func (o *Orchestrator) notifyCandidate(ctx context.Context, job domain.Job, cand domain.Candidate) bool {
	channel := o.router.Route(ctx, job.OrgID, cand.TechID)

	rec := domain.OutreachRecord{
		ID:        uuid.New(),
		JobID:     job.ID,
		OrgID:     job.OrgID,
		TechID:    cand.TechID,
		Channel:   channel,
		Score:     cand.Score,
		CreatedAt: o.clock().UTC(),
	}
	if err := o.store.InsertOutreach(ctx, rec); err != nil {
		log.Printf("dispatch: job=%s tech=%s failed to record outreach: %v", job.ID, cand.TechID, err)
		return false
	}

	notifyReq := NotifyRequest{
		OutreachID:  rec.ID,
		JobID:       job.ID,
		TechID:      cand.TechID,
		Channel:     channel,
		Title:       job.Title,
		Trade:       job.Trade,
		Urgency:     job.Urgency,
		AddressText: job.AddressText,
	}

	var lastResult NotifyResult
	attempts := 0

	for attempt := 1; attempt <= o.policy.Attempts(); attempt++ {
		if attempt > 1 {
			if err := o.policy.Wait(ctx, attempt-1); err != nil {
				break
			}
		}

		result := o.notifier.Notify(ctx, notifyReq)
		lastResult = result
		attempts = attempt

		if o.metrics != nil {
			o.metrics.OutreachAttemptCompleted(attempt, classifyStatus(result.StatusCode, result.Error), result.Duration)
		}

		if result.IsSuccess() {
			sentAt := o.clock().UTC()
			if err := o.store.FinalizeOutreach(ctx, rec.ID, &sentAt, attempts, ""); err != nil {
				log.Printf("dispatch: job=%s tech=%s failed to finalize outreach: %v", job.ID, cand.TechID, err)
			}
			return true
		}

		if !result.IsRetryable() {
			log.Printf("dispatch: job=%s tech=%s non-retryable status=%d", job.ID, cand.TechID, result.StatusCode)
			break
		}

		log.Printf("dispatch: job=%s tech=%s attempt=%d failed status=%d err=%v",
			job.ID, cand.TechID, attempt, result.StatusCode, result.Error)
	}

	errMsg := fmt.Sprintf("status %d", lastResult.StatusCode)
	if lastResult.Error != nil {
		errMsg = lastResult.Error.Error()
	}
	// SentAt stays null: the record itself signals non-delivery.
	if err := o.store.FinalizeOutreach(ctx, rec.ID, nil, attempts, errMsg); err != nil {
		log.Printf("dispatch: job=%s tech=%s failed to finalize outreach: %v", job.ID, cand.TechID, err)
	}
	return false
}

func (o *Orchestrator) recordOutcome(ctx context.Context, req domain.DispatchRequest, outcome string) {
	if o.metrics != nil {
		o.metrics.DispatchOutcome(outcome)
	}
	if o.analytics != nil {
		o.analytics.Record(ctx, req, outcome)
	}
}

// classifyStatus maps a status code and error to a bounded-cardinality
// metrics class.
func classifyStatus(statusCode int, err error) string {
	if err != nil {
		return "error"
	}
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "error"
	}
}
