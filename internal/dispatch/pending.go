// Package dispatch implements the Segment Dispatcher: the three-phase
// upload (presign / PUT / complete) for event batches, frame bundles, and
// hierarchy snapshots, plus the retry queue and circuit breaker that guard
// it (§4.5, §5, §7, §8).
package dispatch

import (
	"context"
	"time"
)

// Kind identifies an upload lane.
type Kind string

const (
	KindEvents      Kind = "events"
	KindVideo       Kind = "video"
	KindHierarchy   Kind = "hierarchy"
	KindScreenshots Kind = "screenshots"
)

// Pending is a queued upload awaiting the three-phase protocol (§3).
type Pending struct {
	SessionID   string
	Kind        Kind
	Payload     []byte
	RangeStart  int64
	RangeEnd    int64
	ItemCount   int
	Attempt     int
	BatchSeq    int64 // events lane only
	ContentType string

	// ctx is the submitter's context, carried along while this upload
	// sits in the retry queue so a worker that later pops it retries
	// under the original caller's cancellation/deadline.
	ctx context.Context
}

// MaxAttempts is the per-upload retry ceiling (§4.5): after 3 attempts the
// upload is dropped.
const MaxAttempts = 3

// backoff returns the exponential backoff delay for the given attempt
// number (1-indexed), base 1s, multiplier 2, capped at 30s (§4.5).
func backoff(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if cap <= 0 {
		cap = 30 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		d = cap
	}
	return d
}
