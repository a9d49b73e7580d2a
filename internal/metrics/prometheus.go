package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Intake metrics
	parsesTotal     *prometheus.CounterVec
	parseDuration   prometheus.Histogram
	duplicateChecks prometheus.Counter
	duplicatesFound prometheus.Counter
	geocodeAttempts *prometheus.CounterVec
	geocodeOutcomes *prometheus.CounterVec
	geocodeDuration prometheus.Histogram

	// Lifecycle metrics
	transitionsTotal *prometheus.CounterVec
	rejectionsTotal  *prometheus.CounterVec

	// Dispatcher metrics
	outreachAttemptsTotal *prometheus.CounterVec
	dispatchOutcomesTotal *prometheus.CounterVec
	outreachDuration      prometheus.Histogram
	eventsInFlight        prometheus.Gauge

	// EventBus metrics
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Re-dispatch sweeper metrics
	stalledJobs       prometheus.Gauge
	sweepReEmitsTotal prometheus.Counter
	sweepErrorsTotal  prometheus.Counter

	// Leader election metrics
	leaderStatus        prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
// Metrics that fail to register will be replaced with no-op collectors.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initIntakeMetrics(reg)
	s.initLifecycleMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initSweeperMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initIntakeMetrics(reg prometheus.Registerer) {
	s.parsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workorder_intake_parses_total",
		Help: "Total number of raw-text parses by source.",
	}, []string{"source"})
	s.parseDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "workorder_intake_parse_duration_seconds",
		Help:    "Duration of raw-text parsing in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.duplicateChecks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "workorder_intake_duplicate_checks_total",
		Help: "Total number of duplicate checks performed.",
	})
	s.duplicatesFound = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "workorder_intake_duplicates_found_total",
		Help: "Total number of duplicate checks that returned at least one candidate.",
	})
	s.geocodeAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workorder_geocode_attempts_total",
		Help: "Total number of geocoding attempts.",
	}, []string{"attempt", "outcome"})
	s.geocodeOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workorder_geocode_outcomes_total",
		Help: "Total number of final geocoding outcomes per request.",
	}, []string{"outcome"})
	s.geocodeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "workorder_geocode_duration_seconds",
		Help:    "Geocoder request latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	s.register(reg, s.parsesTotal, "workorder_intake_parses_total")
	s.register(reg, s.parseDuration, "workorder_intake_parse_duration_seconds")
	s.register(reg, s.duplicateChecks, "workorder_intake_duplicate_checks_total")
	s.register(reg, s.duplicatesFound, "workorder_intake_duplicates_found_total")
	s.register(reg, s.geocodeAttempts, "workorder_geocode_attempts_total")
	s.register(reg, s.geocodeOutcomes, "workorder_geocode_outcomes_total")
	s.register(reg, s.geocodeDuration, "workorder_geocode_duration_seconds")
}

func (s *PrometheusSink) initLifecycleMetrics(reg prometheus.Registerer) {
	s.transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workorder_lifecycle_transitions_total",
		Help: "Total number of applied status transitions.",
	}, []string{"from", "to"})
	s.rejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workorder_lifecycle_rejections_total",
		Help: "Total number of rejected transition attempts.",
	}, []string{"reason"})

	s.register(reg, s.transitionsTotal, "workorder_lifecycle_transitions_total")
	s.register(reg, s.rejectionsTotal, "workorder_lifecycle_rejections_total")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.outreachAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workorder_dispatch_outreach_attempts_total",
		Help: "Total number of outreach notification attempts.",
	}, []string{"attempt", "status_class"})
	s.dispatchOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workorder_dispatch_outcomes_total",
		Help: "Total number of final dispatch outcomes per request.",
	}, []string{"outcome"})
	s.outreachDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "workorder_dispatch_outreach_duration_seconds",
		Help:    "Outreach request latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "workorder_dispatch_events_in_flight",
		Help: "Number of dispatch requests currently being processed.",
	})

	s.register(reg, s.outreachAttemptsTotal, "workorder_dispatch_outreach_attempts_total")
	s.register(reg, s.dispatchOutcomesTotal, "workorder_dispatch_outcomes_total")
	s.register(reg, s.outreachDuration, "workorder_dispatch_outreach_duration_seconds")
	s.register(reg, s.eventsInFlight, "workorder_dispatch_events_in_flight")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "workorder_eventbus_buffer_size",
		Help: "Current number of dispatch requests in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "workorder_eventbus_buffer_capacity",
		Help: "Configured capacity of the event bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "workorder_eventbus_emit_errors_total",
		Help: "Total number of emit errors (context canceled while buffer full).",
	})

	s.register(reg, s.bufferSize, "workorder_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "workorder_eventbus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "workorder_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initSweeperMetrics(reg prometheus.Registerer) {
	s.stalledJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "workorder_sweep_stalled_jobs",
		Help: "Number of stalled jobs found in the most recent sweep cycle.",
	})
	s.sweepReEmitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "workorder_sweep_reemits_total",
		Help: "Total number of dispatch requests re-emitted by the sweeper.",
	})
	s.sweepErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "workorder_sweep_errors_total",
		Help: "Total number of re-emit failures during sweep cycles.",
	})

	s.register(reg, s.stalledJobs, "workorder_sweep_stalled_jobs")
	s.register(reg, s.sweepReEmitsTotal, "workorder_sweep_reemits_total")
	s.register(reg, s.sweepErrorsTotal, "workorder_sweep_errors_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "workorder_leader_status",
		Help: "Whether this instance currently holds the sweep leader lock (1 or 0).",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "workorder_leader_acquired_total",
		Help: "Total number of times the sweep leader lock was acquired.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workorder_leader_lost_total",
		Help: "Total number of times the sweep leader lock was lost.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "workorder_leader_status")
	s.register(reg, s.leaderAcquiredTotal, "workorder_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "workorder_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Intake metrics implementation

func (s *PrometheusSink) ParseCompleted(source string, duration time.Duration) {
	s.parsesTotal.WithLabelValues(source).Inc()
	s.parseDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DuplicateCheckCompleted(candidates int) {
	s.duplicateChecks.Inc()
	if candidates > 0 {
		s.duplicatesFound.Inc()
	}
}

func (s *PrometheusSink) GeocodeAttemptCompleted(attempt int, outcome string, duration time.Duration) {
	s.geocodeAttempts.WithLabelValues(strconv.Itoa(attempt), outcome).Inc()
	s.geocodeDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) GeocodeOutcome(outcome string) {
	s.geocodeOutcomes.WithLabelValues(outcome).Inc()
}

// Lifecycle metrics implementation

func (s *PrometheusSink) TransitionApplied(from, to string) {
	s.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (s *PrometheusSink) TransitionRejected(reason string) {
	s.rejectionsTotal.WithLabelValues(reason).Inc()
}

// Dispatcher metrics implementation

func (s *PrometheusSink) OutreachAttemptCompleted(attempt int, statusClass string, duration time.Duration) {
	s.outreachAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), statusClass).Inc()
	s.outreachDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DispatchOutcome(outcome string) {
	s.dispatchOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Re-dispatch sweeper metrics implementation

func (s *PrometheusSink) StalledJobsUpdate(count int) {
	s.stalledJobs.Set(float64(count))
}

func (s *PrometheusSink) SweepCompleted(reEmitted, failed int) {
	s.sweepReEmitsTotal.Add(float64(reEmitted))
	s.sweepErrorsTotal.Add(float64(failed))
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
