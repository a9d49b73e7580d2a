// Package redispatch re-triggers dispatch for stalled jobs.
//
// A job is stalled when it sits in pending or matching with no delivered
// outreach for longer than the threshold (a crashed process, a full event
// bus, or a dispatch round where every notification failed). The sweeper
// periodically scans for stalled jobs and re-emits dispatch requests; the
// orchestrator's status checks make replays safe.
//
// The sweep cadence is a cron expression so operators can confine sweeps
// to business hours. Only the leader instance sweeps.
package redispatch

import (
	"context"
	"log"
	"time"

	"github.com/fieldserve/workorder/internal/domain"
)

// Store fetches stalled jobs.
type Store interface {
	// GetStalledJobs returns pending/matching jobs with no sent outreach
	// whose last update is older than olderThan.
	GetStalledJobs(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Job, error)
}

type EventEmitter interface {
	Emit(ctx context.Context, req domain.DispatchRequest) error
}

// Schedule yields successive sweep times.
type Schedule interface {
	Next(after time.Time) time.Time
}

// MetricsSink records sweeper metrics. All methods must be non-blocking.
type MetricsSink interface {
	StalledJobsUpdate(count int)
	SweepCompleted(reEmitted, failed int)
}

// Config holds sweeper configuration.
type Config struct {
	// Threshold is the age after which a pending/matching job with no
	// delivered outreach counts as stalled. It must exceed the notifier's
	// maximum retry window so in-flight dispatches are not re-emitted.
	Threshold time.Duration

	// BatchSize is the maximum number of stalled jobs per sweep.
	BatchSize int
}

// DefaultConfig returns the default sweeper configuration.
func DefaultConfig() Config {
	return Config{
		Threshold: 10 * time.Minute,
		BatchSize: 100,
	}
}

type Sweeper struct {
	config   Config
	store    Store
	emitter  EventEmitter
	schedule Schedule
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time
}

func New(config Config, store Store, emitter EventEmitter, schedule Schedule) *Sweeper {
	return &Sweeper{
		config:   config,
		store:    store,
		emitter:  emitter,
		schedule: schedule,
		clock:    time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (s *Sweeper) WithMetrics(sink MetricsSink) *Sweeper {
	s.metrics = sink
	return s
}

// WithClock overrides the clock, for tests.
func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	s.clock = clock
	return s
}

// Run executes sweep cycles on the schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("redispatch: started (threshold=%s, batch=%d)", s.config.Threshold, s.config.BatchSize)

	for {
		next := s.schedule.Next(s.clock())
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			log.Println("redispatch: stopped")
			return
		case <-timer.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle executes one sweep.
func (s *Sweeper) runCycle(ctx context.Context) {
	now := s.clock().UTC()
	olderThan := now.Add(-s.config.Threshold)

	stalled, err := s.store.GetStalledJobs(ctx, olderThan, s.config.BatchSize)
	if err != nil {
		// Store error: log and abort; the next sweep retries.
		log.Printf("redispatch: failed to fetch stalled jobs: %v", err)
		return
	}

	if s.metrics != nil {
		s.metrics.StalledJobsUpdate(len(stalled))
	}
	if len(stalled) == 0 {
		return
	}

	log.Printf("redispatch: found %d stalled jobs", len(stalled))

	reEmitted := 0
	failed := 0

	for _, job := range stalled {
		if ctx.Err() != nil {
			log.Printf("redispatch: sweep interrupted, processed %d/%d", reEmitted+failed, len(stalled))
			return
		}

		req := domain.DispatchRequest{
			JobID:       job.ID,
			OrgID:       job.OrgID,
			Reason:      domain.DispatchReasonRetrigger,
			RequestedAt: now,
		}

		if err := s.emitter.Emit(ctx, req); err != nil {
			log.Printf("redispatch: failed to re-emit job=%s: %v", job.ID, err)
			failed++
			continue
		}

		log.Printf("redispatch: re-emitted job=%s status=%s (age=%s)",
			job.ID, job.Status, now.Sub(job.UpdatedAt).Round(time.Second))
		reEmitted++
	}

	if s.metrics != nil {
		s.metrics.SweepCompleted(reEmitted, failed)
	}
	log.Printf("redispatch: sweep complete, re-emitted=%d, failed=%d", reEmitted, failed)
}
