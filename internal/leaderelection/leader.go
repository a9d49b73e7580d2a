// Package leaderelection gates the re-dispatch sweep behind a Postgres
// advisory lock so that exactly one instance scans for stalled jobs.
//
// The lock is session-scoped and lives as long as the dedicated database
// connection that took it; there is no renewal and no TTL. When that
// connection dies, Postgres releases the lock server-side (how quickly
// depends on TCP keepalive settings) and another instance can take over.
//
// The heartbeat ping only detects local connection death so the sweeper can
// be stopped promptly. It does not renew the lock.
package leaderelection

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// MetricsSink records sweep-leadership changes. All methods must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string) // reason: "shutdown", "conn_lost", "error"
}

// Elector contends for the sweep lock and runs the sweeper while holding it.
type Elector struct {
	db                *sql.DB
	lockKey           int64
	retryInterval     time.Duration // standby: how often to contend for the lock
	heartbeatInterval time.Duration // holder: how often to ping the lock connection
	onElected         func(ctx context.Context)
	onDemoted         func()
	metrics           MetricsSink // optional, nil = disabled
}

// New creates an Elector contending for lockKey.
//
// onElected runs in its own goroutine once the lock is held; its context is
// cancelled when the lock is lost. It should start the sweeper and return
// when the sweeper stops.
//
// onDemoted is called synchronously on every loss of the lock. It must block
// until the sweeper has fully stopped, and must be idempotent.
func New(
	db *sql.DB,
	lockKey int64,
	retryInterval, heartbeatInterval time.Duration,
	onElected func(ctx context.Context),
	onDemoted func(),
) *Elector {
	return &Elector{
		db:                db,
		lockKey:           lockKey,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		onElected:         onElected,
		onDemoted:         onDemoted,
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run contends for the sweep lock until ctx is cancelled. Each pass either
// fails to take the lock and waits out retryInterval, or holds it until the
// connection dies or ctx ends.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("leader: contending for sweep lock (key=%d, retry=%s, heartbeat=%s)",
		e.lockKey, e.retryInterval, e.heartbeatInterval)

	for {
		if ctx.Err() != nil {
			log.Println("leader: stopped")
			return
		}

		reason := e.acquireAndHold(ctx)

		if ctx.Err() != nil {
			log.Println("leader: stopped")
			return
		}

		if reason != "" {
			log.Printf("leader: sweep leadership lost (reason=%s), contending again in %s",
				reason, e.retryInterval)
		}

		select {
		case <-ctx.Done():
			log.Println("leader: stopped")
			return
		case <-time.After(e.retryInterval):
		}
	}
}

// acquireAndHold takes one non-blocking shot at the advisory lock and, if it
// wins, holds it until lost. Returns the loss reason, or "" when the lock
// was never taken.
func (e *Elector) acquireAndHold(ctx context.Context) string {
	// The lock is tied to a session, so it needs its own connection; the
	// pool would hand the session to unrelated queries.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		log.Printf("leader: no dedicated connection for the sweep lock: %v", err)
		return ""
	}
	defer conn.Close()

	var acquired bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.lockKey).Scan(&acquired)
	if err != nil {
		log.Printf("leader: sweep lock query failed: %v", err)
		return ""
	}
	if !acquired {
		log.Printf("leader: sweep lock %d held by another instance", e.lockKey)
		return ""
	}

	log.Printf("leader: holding sweep lock %d, starting sweeper", e.lockKey)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	sweepCtx, cancelSweep := context.WithCancel(ctx)

	go e.onElected(sweepCtx)

	reason := e.heartbeat(ctx, conn)

	cancelSweep()
	e.onDemoted()

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}

	log.Printf("leader: released sweep lock %d", e.lockKey)
	return reason
}

// heartbeat pings the lock connection until it dies or ctx ends. The ping
// detects local connection death only; the lock itself needs no renewal.
func (e *Elector) heartbeat(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				log.Printf("leader: sweep lock connection ping failed: %v", err)
				return "conn_lost"
			}
		}
	}
}
