// Package retry defines the explicit retry policy passed to I/O-calling
// components. Components never share a hidden global backoff helper; each
// receives its own Policy at construction.
package retry

import (
	"context"
	"time"
)

// Policy bounds retries for transient failures. The delay before retry n
// (1-based) is InitialDelay * BackoffMultiplier^(n-1).
type Policy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	BackoffMultiplier int
}

// Attempts returns the total number of attempts the policy allows.
func (p Policy) Attempts() int {
	return p.MaxRetries + 1
}

// Delay returns the wait before the given retry (1-based).
func (p Policy) Delay(retry int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < retry; i++ {
		d *= time.Duration(p.BackoffMultiplier)
	}
	return d
}

// Wait sleeps for the given retry's delay, returning early with ctx.Err()
// on cancellation.
func (p Policy) Wait(ctx context.Context, retry int) error {
	timer := time.NewTimer(p.Delay(retry))
	select {
	case <-ctx.Done():
		if !timer.Stop() {
			<-timer.C
		}
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
