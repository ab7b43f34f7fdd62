// Package circuitstate backs the Segment Dispatcher's circuit breaker
// counter. By default it's an in-process atomic counter; when a Redis
// address is configured it's shared across processes via go-redis, the
// way the teacher shares login-rate-limit state across server instances
// in internal/server/ratelimit.go's tokenStore.
package circuitstate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Store tracks consecutive failure counts and an open-until deadline for
// the circuit breaker (§4.5, §8 invariant 8).
type Store interface {
	// RecordFailure increments the consecutive-failure counter and returns
	// the new count.
	RecordFailure(ctx context.Context) (int64, error)
	// RecordSuccess resets the counter to 0 (§4.5: "a single success resets
	// the counter").
	RecordSuccess(ctx context.Context) error
	// Open marks the circuit open until the given deadline.
	Open(ctx context.Context, until time.Time) error
	// OpenUntil returns the current open-until deadline, or the zero time
	// if the circuit is closed.
	OpenUntil(ctx context.Context) (time.Time, error)
}

// InProcess is the default Store: an atomic failure counter plus a
// mutex-guarded deadline, sufficient for a single engine instance.
type InProcess struct {
	failures  atomic.Int64
	mu        sync.Mutex
	openUntil time.Time
}

func NewInProcess() *InProcess { return &InProcess{} }

func (s *InProcess) RecordFailure(context.Context) (int64, error) {
	return s.failures.Add(1), nil
}

func (s *InProcess) RecordSuccess(context.Context) error {
	s.failures.Store(0)
	return nil
}

func (s *InProcess) Open(_ context.Context, until time.Time) error {
	s.mu.Lock()
	s.openUntil = until
	s.mu.Unlock()
	return nil
}

func (s *InProcess) OpenUntil(context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openUntil, nil
}
