// Package dedup flags suspected duplicate work orders before creation.
//
// The detector only informs: it returns candidates for human resolution
// (view existing / continue anyway / cancel) and never blocks creation by
// itself. Two near-simultaneous submissions can both pass the check; that
// race is accepted rather than serialized.
//
// Similarity rule: same organization, same trade, created within the
// recency window, and token-set Jaccard similarity of the normalized
// addresses at or above the threshold. Normalized containment (one address
// a substring of the other) also counts.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldserve/workorder/internal/domain"
)

// Defaults for the duplicate match rule.
const (
	DefaultThreshold = 0.6
	DefaultWindow    = 30 * 24 * time.Hour
)

type Store interface {
	// FindOpenJobs returns non-completed, non-archived jobs for the
	// organization and trade created at or after since.
	FindOpenJobs(ctx context.Context, orgID uuid.UUID, trade domain.Trade, since time.Time) ([]domain.Job, error)
}

// MetricsSink records detector metrics. All methods must be non-blocking.
type MetricsSink interface {
	DuplicateCheckCompleted(candidates int)
}

type Detector struct {
	store     Store
	threshold float64
	window    time.Duration
	metrics   MetricsSink // optional, nil = disabled
	clock     func() time.Time
}

func New(store Store) *Detector {
	return &Detector{
		store:     store,
		threshold: DefaultThreshold,
		window:    DefaultWindow,
		clock:     time.Now,
	}
}

// WithThreshold overrides the similarity threshold (0..1].
func (d *Detector) WithThreshold(t float64) *Detector {
	d.threshold = t
	return d
}

// WithWindow overrides the recency window.
func (d *Detector) WithWindow(w time.Duration) *Detector {
	d.window = w
	return d
}

// WithMetrics attaches a metrics sink.
func (d *Detector) WithMetrics(sink MetricsSink) *Detector {
	d.metrics = sink
	return d
}

// WithClock overrides the clock, for tests.
func (d *Detector) WithClock(clock func() time.Time) *Detector {
	d.clock = clock
	return d
}

// FindDuplicates returns candidate duplicates of the given submission.
// excludeJobID skips the job currently being edited so update flows do not
// self-match; pass uuid.Nil on create flows.
func (d *Detector) FindDuplicates(ctx context.Context, orgID uuid.UUID, trade domain.Trade, addressText string, excludeJobID uuid.UUID) ([]domain.DuplicateCandidate, error) {
	since := d.clock().UTC().Add(-d.window)

	jobs, err := d.store.FindOpenJobs(ctx, orgID, trade, since)
	if err != nil {
		return nil, fmt.Errorf("find open jobs: %w", err)
	}

	normalized := normalizeAddress(addressText)

	var candidates []domain.DuplicateCandidate
	for _, job := range jobs {
		if job.ID == excludeJobID {
			continue
		}
		if !job.Status.IsOpen() {
			continue
		}

		existing := normalizeAddress(job.AddressText)
		score := similarity(addressText, job.AddressText)

		switch {
		case score >= d.threshold:
			candidates = append(candidates, domain.DuplicateCandidate{
				JobID:  job.ID,
				Reason: fmt.Sprintf("same trade, address similarity %.2f", score),
			})
		case normalized != "" && existing != "" &&
			(strings.Contains(existing, normalized) || strings.Contains(normalized, existing)):
			candidates = append(candidates, domain.DuplicateCandidate{
				JobID:  job.ID,
				Reason: "same trade, address containment",
			})
		}
	}

	if d.metrics != nil {
		d.metrics.DuplicateCheckCompleted(len(candidates))
	}

	return candidates, nil
}
