package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) ParseCompleted(source string, duration time.Duration)                      {}
func (n *NoopSink) DuplicateCheckCompleted(candidates int)                                    {}
func (n *NoopSink) GeocodeAttemptCompleted(attempt int, outcome string, d time.Duration)      {}
func (n *NoopSink) GeocodeOutcome(outcome string)                                             {}
func (n *NoopSink) TransitionApplied(from, to string)                                         {}
func (n *NoopSink) TransitionRejected(reason string)                                          {}
func (n *NoopSink) OutreachAttemptCompleted(attempt int, statusClass string, d time.Duration) {}
func (n *NoopSink) DispatchOutcome(outcome string)                                            {}
func (n *NoopSink) EventsInFlightIncr()                                                       {}
func (n *NoopSink) EventsInFlightDecr()                                                       {}
func (n *NoopSink) BufferSizeUpdate(size int)                                                 {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                            {}
func (n *NoopSink) EmitError()                                                                {}
func (n *NoopSink) StalledJobsUpdate(count int)                                               {}
func (n *NoopSink) SweepCompleted(reEmitted, failed int)                                      {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                         {}
func (n *NoopSink) LeaderAcquired()                                                           {}
func (n *NoopSink) LeaderLost(reason string)                                                  {}
