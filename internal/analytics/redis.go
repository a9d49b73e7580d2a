// Package analytics records dispatch funnel counters in Redis. Counters
// are bucketed by hour and expire after a configurable retention so the
// keyspace stays bounded without an external compaction job.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fieldserve/workorder/internal/domain"
)

// DefaultRetention keeps funnel counters for 30 days.
const DefaultRetention = 30 * 24 * time.Hour

// RedisSink implements dispatch.AnalyticsSink on top of a Redis client.
// Writes are best-effort: failures are logged and dropped.
type RedisSink struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisSink creates a sink with the default retention.
func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client, retention: DefaultRetention}
}

// WithRetention overrides how long funnel counters are kept.
func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	if d > 0 {
		s.retention = d
	}
	return s
}

// Record increments the hourly counter for (org, reason, outcome).
func (s *RedisSink) Record(ctx context.Context, req domain.DispatchRequest, outcome string) {
	key := buildKey(req.OrgID.String(), string(req.Reason), outcome, req.RequestedAt)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline for job %s: %v", req.JobID, err)
	}
}

func buildKey(orgID, reason, outcome string, t time.Time) string {
	bucket := t.UTC().Format("2006010215")
	return fmt.Sprintf("o:%s:dispatch:%s:%s:%s", orgID, reason, outcome, bucket)
}
