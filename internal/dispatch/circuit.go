package dispatch

import (
	"context"
	"time"

	"rejourney-engine/internal/dispatch/circuitstate"
)

// circuitBreaker gates new uploads after a run of consecutive failures
// (§4.5, §8 invariant 8): opens after Threshold consecutive failures,
// closes automatically after Cooldown with no intervening traffic, and a
// single success resets the counter to 0.
type circuitBreaker struct {
	store     circuitstate.Store
	threshold int64
	cooldown  time.Duration
	now       func() time.Time
}

func newCircuitBreaker(store circuitstate.Store, threshold int64, cooldown time.Duration, now func() time.Time) *circuitBreaker {
	if store == nil {
		store = circuitstate.NewInProcess()
	}
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &circuitBreaker{store: store, threshold: threshold, cooldown: cooldown, now: now}
}

// Allow reports whether new uploads may proceed right now.
func (c *circuitBreaker) Allow(ctx context.Context) (bool, error) {
	until, err := c.store.OpenUntil(ctx)
	if err != nil {
		return false, err
	}
	if until.IsZero() {
		return true, nil
	}
	if !c.now().Before(until) {
		return true, nil
	}
	return false, nil
}

// RecordSuccess resets the failure counter.
func (c *circuitBreaker) RecordSuccess(ctx context.Context) error {
	return c.store.RecordSuccess(ctx)
}

// RecordFailure increments the failure counter and opens the circuit if the
// threshold is reached.
func (c *circuitBreaker) RecordFailure(ctx context.Context) error {
	count, err := c.store.RecordFailure(ctx)
	if err != nil {
		return err
	}
	if count >= c.threshold {
		return c.store.Open(ctx, c.now().Add(c.cooldown))
	}
	return nil
}
