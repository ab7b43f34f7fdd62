// Package anr implements the ANR Sentinel: a watchdog that pings the UI
// executor at a fixed interval and emits one anr event per contiguous
// stall once the missed-ping duration exceeds a threshold (§4.9).
package anr

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rejourney-engine/internal/telemetry"
)

// Executor posts a lightweight no-op ping to the UI thread and reports
// when it was acknowledged. Production code binds this to the host's
// serial UI executor; tests can fake slow acknowledgement to simulate a
// stall.
type Executor interface {
	Ping(ctx context.Context) error
}

// StackSnapshotter captures the current UI-thread stack state, a platform
// capability (§4.9).
type StackSnapshotter interface {
	Snapshot() string
}

// Pipeline is the subset of telemetry.Pipeline the sentinel drives.
type Pipeline interface {
	RecordANR(payload telemetry.ANRPayload)
}

// Sentinel is the ANR watchdog. Exactly one Sentinel runs per recording
// session; Start/Stop bracket its lifetime with the orchestrator's
// Recording state.
type Sentinel struct {
	executor  Executor
	snapshot  StackSnapshotter
	pipeline  Pipeline
	interval  time.Duration
	threshold time.Duration
	clock     func() time.Time
	logger    *slog.Logger

	mu        sync.Mutex
	stallFrom time.Time
	emitted   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	stalledTally int64
}

// Config configures a Sentinel.
type Config struct {
	Executor  Executor
	Snapshot  StackSnapshotter
	Pipeline  Pipeline
	Interval  time.Duration
	Threshold time.Duration
	Clock     func() time.Time
	Logger    *slog.Logger
}

// New constructs a Sentinel. Interval defaults to 1s, Threshold to 5s
// (§4.9).
func New(cfg Config) *Sentinel {
	if cfg.Interval <= 0 {
		cfg.Interval = 1 * time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sentinel{
		executor:  cfg.Executor,
		snapshot:  cfg.Snapshot,
		pipeline:  cfg.Pipeline,
		interval:  cfg.Interval,
		threshold: cfg.Threshold,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
}

// Start begins pinging the UI executor on its own goroutine.
func (s *Sentinel) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(runCtx)
}

// Stop halts the watchdog and waits for its goroutine to exit.
func (s *Sentinel) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// StalledTally reports how many ANR events have been emitted this session.
func (s *Sentinel) StalledTally() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stalledTally
}

func (s *Sentinel) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ping(ctx)
		}
	}
}

func (s *Sentinel) ping(ctx context.Context) {
	sentAt := s.clock()
	pingCtx, cancel := context.WithTimeout(ctx, s.threshold)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.executor.Ping(pingCtx) }()

	select {
	case <-done:
		s.onAcknowledged()
	case <-pingCtx.Done():
		s.onMissed(sentAt)
		<-done // executor eventually returns; avoid leaking the goroutine.
	}
}

func (s *Sentinel) onAcknowledged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stallFrom = time.Time{}
	s.emitted = false
}

// onMissed records the start of a contiguous stall (if not already
// underway, using sentAt — the time this ping was issued — as the stall's
// origin) and emits exactly one anr event for it.
func (s *Sentinel) onMissed(sentAt time.Time) {
	s.mu.Lock()
	now := s.clock()
	if s.stallFrom.IsZero() {
		s.stallFrom = sentAt
	}
	alreadyEmitted := s.emitted
	stallFrom := s.stallFrom
	if !alreadyEmitted {
		s.emitted = true
		s.stalledTally++
	}
	s.mu.Unlock()

	if alreadyEmitted {
		return
	}

	threadState := ""
	if s.snapshot != nil {
		threadState = s.snapshot.Snapshot()
	}
	s.pipeline.RecordANR(telemetry.ANRPayload{
		DurationMs:  now.Sub(stallFrom).Milliseconds(),
		ThreadState: threadState,
	})
}
