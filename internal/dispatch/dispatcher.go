package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"rejourney-engine/internal/errs"
	"rejourney-engine/internal/observability/metrics"
)

// Config configures a Dispatcher.
type Config struct {
	Client           IngestClient
	Recorder         *metrics.Recorder
	Logger           *slog.Logger
	MaxAttempts      int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	CircuitThreshold int64
	CircuitCooldown  time.Duration
	CircuitStore     interface {
		RecordFailure(ctx context.Context) (int64, error)
		RecordSuccess(ctx context.Context) error
		Open(ctx context.Context, until time.Time) error
		OpenUntil(ctx context.Context) (time.Time, error)
	}
	Now func() time.Time
}

// Dispatcher orchestrates the three-phase upload for every lane, owning
// the retry queue and circuit breaker (§4.5). Submitted uploads are
// enqueued on the bounded, mutex-guarded retryQueue; a fixed pool of
// worker goroutines (≤2 parallel per §5) drains it, requeuing at head on
// transient failure and dropping after MaxAttempts (§3, §8 invariant 5).
// Ordering across concurrent uploads is not guaranteed, matching §5's
// "server reconstructs order".
type Dispatcher struct {
	client      IngestClient
	recorder    *metrics.Recorder
	logger      *slog.Logger
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time

	breaker *circuitBreaker
	queue   *retryQueue
	wake    chan struct{}
	done    chan struct{}

	active  atomic.Bool
	billing atomic.Bool

	pending sync.WaitGroup // uploads queued, in-flight, or backing off
}

const workerPoolSize = 2
const retryQueueCapacity = 1000

// New constructs a Dispatcher and starts its bounded worker pool
// immediately; callers gate traffic via SubmitEvents/SubmitVideo/
// SubmitHierarchy, not by delaying construction.
func New(cfg Config) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = MaxAttempts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d := &Dispatcher{
		client:      cfg.Client,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
		now:         cfg.Now,
		breaker:     newCircuitBreaker(cfg.CircuitStore, cfg.CircuitThreshold, cfg.CircuitCooldown, cfg.Now),
		queue:       newRetryQueue(retryQueueCapacity),
		wake:        make(chan struct{}, workerPoolSize),
		done:        make(chan struct{}),
	}
	d.active.Store(true)
	for i := 0; i < workerPoolSize; i++ {
		go d.worker()
	}
	return d
}

// BillingBlocked reports whether a 402 has been observed for this session;
// per §7 this is terminal for the session (no subsequent successful
// presigns), though session close is still attempted by the orchestrator.
func (d *Dispatcher) BillingBlocked() bool { return d.billing.Load() }

// Halt marks the dispatcher inactive: no new work is accepted by submit or
// started by a worker, but anything already popped off the retry queue and
// attempting its network calls is left to complete or error out (§5
// cancellation contract).
func (d *Dispatcher) Halt() {
	if d.active.CompareAndSwap(true, false) {
		close(d.done)
	}
}

// submit enqueues p on the retry queue for the worker pool to drain. The
// queue is drop-oldest-refusing at capacity (retryQueue.Enqueue returns
// false rather than evicting already-queued work), matching §5's "only the
// ring buffer evicts on overflow".
func (d *Dispatcher) submit(ctx context.Context, p *Pending) error {
	if !d.active.Load() {
		return errs.New(errs.KindFatalTransport, "dispatcher halted", nil)
	}
	if d.billing.Load() {
		return errs.New(errs.KindBillingBlocked, "session billing blocked", nil)
	}
	p.ctx = ctx
	if !d.queue.Enqueue(p) {
		d.logger.Warn("dispatch: retry queue full, dropping upload", "kind", p.Kind)
		return errs.New(errs.KindFatalTransport, "retry queue full", nil)
	}
	d.pending.Add(1)
	d.wake1()
	return nil
}

// wake1 pokes one idle worker without blocking the caller.
func (d *Dispatcher) wake1() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// SubmitEvents enqueues an event batch (lane=events). Implements
// telemetry.Dispatcher.
func (d *Dispatcher) SubmitEvents(ctx context.Context, sessionID string, batchSeq int64, payload []byte, itemCount int) error {
	return d.submit(ctx, &Pending{
		SessionID:   sessionID,
		Kind:        KindEvents,
		Payload:     payload,
		ItemCount:   itemCount,
		BatchSeq:    batchSeq,
		ContentType: "application/gzip",
	})
}

// SubmitVideo enqueues a frame bundle (lane=video).
func (d *Dispatcher) SubmitVideo(ctx context.Context, sessionID string, payload []byte, rangeStart, rangeEnd int64, frameCount int) error {
	return d.submit(ctx, &Pending{
		SessionID:   sessionID,
		Kind:        KindVideo,
		Payload:     payload,
		RangeStart:  rangeStart,
		RangeEnd:    rangeEnd,
		ItemCount:   frameCount,
		ContentType: "video/mp4",
	})
}

// SubmitHierarchy enqueues a hierarchy snapshot (lane=hierarchy).
func (d *Dispatcher) SubmitHierarchy(ctx context.Context, sessionID string, payload []byte, timestamp int64) error {
	return d.submit(ctx, &Pending{
		SessionID:   sessionID,
		Kind:        KindHierarchy,
		Payload:     payload,
		RangeStart:  timestamp,
		RangeEnd:    timestamp,
		ItemCount:   1,
		ContentType: "application/gzip",
	})
}

// Wait blocks until every queued, in-flight, and backing-off upload has
// resolved (succeeded or been dropped). Used by tests and bounded-timeout
// shutdown paths.
func (d *Dispatcher) Wait() { d.pending.Wait() }

// worker drains the retry queue, attempting one upload at a time. Exactly
// workerPoolSize of these run for the Dispatcher's lifetime, which is what
// bounds upload concurrency to ≤2 parallel (§5) without a separate
// semaphore.
func (d *Dispatcher) worker() {
	for {
		p := d.queue.Pop()
		if p == nil {
			select {
			case <-d.wake:
				continue
			case <-d.done:
				return
			}
		}
		d.process(p)
	}
}

func (d *Dispatcher) process(p *Pending) {
	p.Attempt++
	if err := d.attempt(p.ctx, p); err != nil {
		d.handleFailure(p, err)
		return
	}
	d.pending.Done()
}

// handleFailure classifies the error and either drops the upload (done),
// or — for a transient failure within the attempt budget — schedules an
// exponential backoff after which p is requeued at the head of the retry
// queue, ahead of anything enqueued since (§4.5).
func (d *Dispatcher) handleFailure(p *Pending, err error) {
	ctx := p.ctx
	if errs.Is(err, errs.KindBillingBlocked) {
		d.billing.Store(true)
		d.logger.Warn("dispatch: billing blocked, refusing further uploads this session", "sessionId", p.SessionID)
		d.pending.Done()
		return
	}
	if errs.Is(err, errs.KindFatalTransport) {
		_ = d.breaker.RecordFailure(ctx)
		d.logger.Warn("dispatch: fatal transport error, dropping upload", "kind", p.Kind, "error", err)
		d.pending.Done()
		return
	}
	// Transient: feed the breaker, requeue at head with backoff, up to maxAttempts.
	_ = d.breaker.RecordFailure(ctx)
	if p.Attempt >= d.maxAttempts {
		d.logger.Warn("dispatch: upload exhausted retries, dropping", "kind", p.Kind, "attempts", p.Attempt, "error", err)
		d.pending.Done()
		return
	}
	delay := backoff(p.Attempt, d.baseBackoff, d.maxBackoff)
	go func() {
		select {
		case <-time.After(delay):
		case <-d.done:
			d.pending.Done()
			return
		case <-ctx.Done():
			d.pending.Done()
			return
		}
		d.queue.RequeueAtHead(p)
		d.wake1()
	}()
}

func (d *Dispatcher) attempt(ctx context.Context, p *Pending) error {
	if !d.active.Load() {
		return errs.New(errs.KindFatalTransport, "dispatcher halted", nil)
	}
	allowed, err := d.breaker.Allow(ctx)
	if err != nil {
		d.logger.Warn("dispatch: circuit state check failed, failing open to allow traffic", "error", err)
	} else if !allowed {
		return errs.New(errs.KindTransientTransport, "circuit open", nil)
	}

	switch p.Kind {
	case KindEvents:
		return d.attemptEvents(ctx, p)
	default:
		return d.attemptSegment(ctx, p)
	}
}

func (d *Dispatcher) attemptEvents(ctx context.Context, p *Pending) error {
	resp, status, err := d.client.PresignEvents(ctx, PresignEventsRequest{
		SessionID:   p.SessionID,
		SizeBytes:   len(p.Payload),
		ContentType: "events",
		BatchNumber: p.BatchSeq,
	})
	if err := classify(status, err); err != nil {
		return err
	}
	if resp.SkipUpload {
		d.recordSuccess(ctx)
		return nil
	}
	putStatus, putErr := d.client.Put(ctx, resp.PresignedURL, p.ContentType, p.Payload)
	if err := classify(putStatus, putErr); err != nil {
		return err
	}
	status, err = d.client.CompleteBatch(ctx, CompleteBatchRequest{
		BatchID:         resp.BatchID,
		ActualSizeBytes: len(p.Payload),
		EventCount:      p.ItemCount,
		Timestamp:       d.now().UnixMilli(),
	})
	if err := classify(status, err); err != nil {
		return err
	}
	d.recordSuccess(ctx)
	return nil
}

func (d *Dispatcher) attemptSegment(ctx context.Context, p *Pending) error {
	resp, status, err := d.client.PresignSegment(ctx, PresignSegmentRequest{
		SessionID:  p.SessionID,
		SizeBytes:  len(p.Payload),
		Kind:       string(p.Kind),
		StartTime:  p.RangeStart,
		EndTime:    p.RangeEnd,
		FrameCount: p.ItemCount,
	})
	if err := classify(status, err); err != nil {
		return err
	}
	if resp.SkipUpload {
		d.recordSuccess(ctx)
		return nil
	}
	putStatus, putErr := d.client.Put(ctx, resp.PresignedURL, p.ContentType, p.Payload)
	if err := classify(putStatus, putErr); err != nil {
		return err
	}
	status, err = d.client.CompleteSegment(ctx, CompleteSegmentRequest{
		SegmentID:       resp.SegmentID,
		SessionID:       p.SessionID,
		StartTime:       p.RangeStart,
		EndTime:         p.RangeEnd,
		FrameCount:      p.ItemCount,
		ActualSizeBytes: len(p.Payload),
		Timestamp:       d.now().UnixMilli(),
	})
	if err := classify(status, err); err != nil {
		return err
	}
	d.recordSuccess(ctx)
	return nil
}

func (d *Dispatcher) recordSuccess(ctx context.Context) {
	_ = d.breaker.RecordSuccess(ctx)
	if d.recorder != nil {
		d.recorder.IncrUploadSuccess()
	}
}

// classify turns an HTTP status + transport error into a structured error
// kind per §4.5/§7: 200 success, 402 billing blocked, other 4xx fatal,
// 5xx/network errors transient.
func classify(status int, err error) error {
	if err != nil {
		if _, ok := err.(*errs.Error); ok {
			return err
		}
		return errs.New(errs.KindTransientTransport, "transport", err)
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 402:
		return errs.New(errs.KindBillingBlocked, "presign", nil)
	case status >= 400 && status < 500:
		return errs.New(errs.KindFatalTransport, "http status", nil)
	default:
		return errs.New(errs.KindTransientTransport, "http status", nil)
	}
}
