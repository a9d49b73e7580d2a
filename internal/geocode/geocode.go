// Package geocode resolves free-text addresses to coordinates through an
// external provider with bounded retry. Failure is always explicit: the
// adapter never substitutes fallback coordinates, so the caller can present
// a recovery choice instead of silently corrupting distance-based matching.
package geocode

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/fieldserve/workorder/internal/domain"
	"github.com/fieldserve/workorder/internal/retry"
)

// ErrNotFound is returned by providers when the address does not resolve.
// Not-found is terminal: retrying the same query cannot succeed.
var ErrNotFound = errors.New("address not found")

// DefaultRetryPolicy allows 3 total attempts with 500ms, 1s waits.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 2, InitialDelay: 500 * time.Millisecond, BackoffMultiplier: 2}
}

// Provider is the consumed geocoder contract.
type Provider interface {
	Lookup(ctx context.Context, query string) (domain.Location, error)
}

// Breaker short-circuits calls to an unhealthy provider.
type Breaker interface {
	Allow(provider string) error
	RecordSuccess(provider string)
	RecordFailure(provider string)
}

// MetricsSink records geocode metrics. All methods must be non-blocking.
type MetricsSink interface {
	GeocodeAttemptCompleted(attempt int, outcome string, duration time.Duration)
	GeocodeOutcome(outcome string)
}

// Outcome constants for geocode metrics.
const (
	OutcomeResolved    = "resolved"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
)

// Result is the explicit success/failure outcome of a geocode. When OK is
// false, Location is zero and must not be used.
type Result struct {
	OK       bool
	Location domain.Location
}

const providerName = "geocoder"

type Adapter struct {
	provider Provider
	policy   retry.Policy
	limiter  *rate.Limiter // optional, nil = unlimited
	breaker  Breaker       // optional, nil = disabled
	metrics  MetricsSink   // optional, nil = disabled
}

func New(provider Provider, policy retry.Policy) *Adapter {
	return &Adapter{provider: provider, policy: policy}
}

// WithLimiter attaches an outbound rate limiter for provider politeness.
func (a *Adapter) WithLimiter(l *rate.Limiter) *Adapter {
	a.limiter = l
	return a
}

// WithBreaker attaches a circuit breaker.
func (a *Adapter) WithBreaker(b Breaker) *Adapter {
	a.breaker = b
	return a
}

// WithMetrics attaches a metrics sink.
func (a *Adapter) WithMetrics(sink MetricsSink) *Adapter {
	a.metrics = sink
	return a
}

// Geocode resolves addressText. Transient provider failures are retried per
// the policy; not-found is terminal. A non-nil error is returned only for
// caller cancellation; every provider-side failure surfaces as Result{OK:
// false} so the caller can offer fix-address vs approved-fallback.
func (a *Adapter) Geocode(ctx context.Context, addressText string) (Result, error) {
	if a.breaker != nil {
		if err := a.breaker.Allow(providerName); err != nil {
			log.Printf("geocode: provider circuit open, failing fast")
			a.recordOutcome(OutcomeUnavailable)
			return Result{}, nil
		}
	}

	attempts := a.policy.Attempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			log.Printf("geocode: attempt=%d backoff=%s", attempt, a.policy.Delay(attempt-1))
			if err := a.policy.Wait(ctx, attempt-1); err != nil {
				return Result{}, err
			}
		}

		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return Result{}, err
			}
		}

		start := time.Now()
		loc, err := a.provider.Lookup(ctx, addressText)
		duration := time.Since(start)

		if err == nil {
			a.recordAttempt(attempt, OutcomeResolved, duration)
			a.recordOutcome(OutcomeResolved)
			if a.breaker != nil {
				a.breaker.RecordSuccess(providerName)
			}
			return Result{OK: true, Location: loc}, nil
		}

		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		if errors.Is(err, ErrNotFound) {
			a.recordAttempt(attempt, OutcomeNotFound, duration)
			a.recordOutcome(OutcomeNotFound)
			// Not a provider health problem; the breaker stays closed.
			if a.breaker != nil {
				a.breaker.RecordSuccess(providerName)
			}
			return Result{}, nil
		}

		a.recordAttempt(attempt, OutcomeUnavailable, duration)
		if a.breaker != nil {
			a.breaker.RecordFailure(providerName)
		}
		lastErr = err
		log.Printf("geocode: attempt=%d transient failure: %v", attempt, err)
	}

	log.Printf("geocode: all %d attempts failed: %v", attempts, lastErr)
	a.recordOutcome(OutcomeUnavailable)
	return Result{}, nil
}

func (a *Adapter) recordAttempt(attempt int, outcome string, d time.Duration) {
	if a.metrics != nil {
		a.metrics.GeocodeAttemptCompleted(attempt, outcome, d)
	}
}

func (a *Adapter) recordOutcome(outcome string) {
	if a.metrics != nil {
		a.metrics.GeocodeOutcome(outcome)
	}
}
