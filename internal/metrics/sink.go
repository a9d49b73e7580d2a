package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable, implementations
// log warnings and continue.
type Sink interface {
	// Intake metrics
	ParseCompleted(source string, duration time.Duration)
	DuplicateCheckCompleted(candidates int)
	GeocodeAttemptCompleted(attempt int, outcome string, duration time.Duration)
	GeocodeOutcome(outcome string)

	// Lifecycle metrics
	TransitionApplied(from, to string)
	TransitionRejected(reason string)

	// Dispatch metrics
	OutreachAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DispatchOutcome(outcome string)
	EventsInFlightIncr()
	EventsInFlightDecr()

	// EventBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()

	// Re-dispatch sweeper metrics
	StalledJobsUpdate(count int)
	SweepCompleted(reEmitted, failed int)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}
