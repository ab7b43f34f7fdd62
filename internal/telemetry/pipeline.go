package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Dispatcher is the capability the pipeline hands drained, gzipped batches
// to. internal/dispatch.Dispatcher implements this; the signature is
// spelled in primitive types (rather than accepting Batch directly) so
// this package and internal/dispatch don't need to import each other.
type Dispatcher interface {
	SubmitEvents(ctx context.Context, sessionID string, batchSeq int64, payload []byte, itemCount int) error
}

// Pipeline is the Telemetry Pipeline façade: every recorder calls its
// typed RecordXxx operations; it owns the ring, the heartbeat timer, and
// deferred-mode gating (§4.2).
type Pipeline struct {
	ring       *Ring
	clock      func() int64
	maxBytes   int
	dispatcher Dispatcher
	deviceInfo func() DeviceInfo
	logger     *slog.Logger

	sessionID atomic.Value // string
	batchSeq  atomic.Int64

	deferred atomic.Bool

	deadTap *DeadTapDetector

	mu           sync.Mutex
	heartbeat    *time.Ticker
	heartbeatCtx context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	rageTally atomic.Int64
	deadTally atomic.Int64

	obsMu     sync.RWMutex
	observers map[int]func(record []byte)
	nextObsID int
}

// Config configures a Pipeline.
type Config struct {
	RingCapacity      int
	MaxBatchBytes     int
	HeartbeatInterval time.Duration
	DeadTapWindow     time.Duration
	Clock             func() int64
	Dispatcher        Dispatcher
	DeviceInfo        func() DeviceInfo
	Logger            *slog.Logger
}

// New constructs a Pipeline bound to a Dispatcher. The heartbeat is not
// started until Start is called (the orchestrator starts it on entering
// Recording).
func New(cfg Config) *Pipeline {
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = 5000
	}
	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = MaxBatchUncompressedBytes
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Pipeline{
		ring:       NewRing(cfg.RingCapacity),
		clock:      cfg.Clock,
		maxBytes:   cfg.MaxBatchBytes,
		dispatcher: cfg.Dispatcher,
		deviceInfo: cfg.DeviceInfo,
		logger:     cfg.Logger,
	}
	p.deadTap = NewDeadTapDetector(cfg.DeadTapWindow, nil, nil, func() {
		p.deadTally.Add(1)
		p.enqueueDeadTap()
	})
	p.sessionID.Store("")
	return p
}

// SetSessionID updates the sessionId recorders will tag events with; other
// components hold only a read-only reference to this via Pipeline.
func (p *Pipeline) SetSessionID(id string) { p.sessionID.Store(id) }

func (p *Pipeline) SessionID() string {
	v, _ := p.sessionID.Load().(string)
	return v
}

// SetDeferred toggles deferred mode (§4.2): while true, recorders still
// enqueue but neither lane dispatches.
func (p *Pipeline) SetDeferred(deferred bool) { p.deferred.Store(deferred) }

// CommitDeferredData flips deferred mode off and drains the events lane
// immediately.
func (p *Pipeline) CommitDeferredData(ctx context.Context) {
	p.deferred.Store(false)
	p.DispatchNow(ctx)
}

// Start begins the heartbeat timer, posting DispatchNow onto the pipeline
// executor every HeartbeatInterval (§4.2, §5).
func (p *Pipeline) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	p.mu.Lock()
	if p.heartbeat != nil {
		p.mu.Unlock()
		return
	}
	hbCtx, cancel := context.WithCancel(ctx)
	p.heartbeat = time.NewTicker(interval)
	p.heartbeatCtx = hbCtx
	p.cancel = cancel
	ticker := p.heartbeat
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				p.DispatchNow(hbCtx)
			}
		}
	}()
}

// Shutdown stops the heartbeat and awaits a best-effort drain bounded by
// 2s (§5).
func (p *Pipeline) Shutdown() {
	p.mu.Lock()
	if p.heartbeat != nil {
		p.heartbeat.Stop()
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { p.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.DispatchNow(ctx)
}

// RecordTouch enqueues a touch/gesture record. kind is "touch" or
// "gesture" depending on caller (taps are "touch"; rage-tap/dead-tap/swipe
// etc. are "gesture").
func (p *Pipeline) RecordTouch(typ Type, payload TouchPayload) {
	p.enqueue(typ, payload)
}

// RecordInput enqueues an input record and marks a dead-tap response.
func (p *Pipeline) RecordInput(payload InputPayload) {
	if payload.Redacted {
		payload.Value = "***"
	}
	p.enqueue(TypeInput, payload)
	p.deadTap.Response(time.UnixMilli(p.clock()))
}

// RecordNavigation enqueues a navigation record and marks a dead-tap
// response.
func (p *Pipeline) RecordNavigation(payload NavigationPayload) {
	p.enqueue(TypeNavigation, payload)
	p.deadTap.Response(time.UnixMilli(p.clock()))
}

// RecordNetworkRequest enqueues a network_request record. The caller is
// expected to have scrubbed payload.URL already (see the ScrubURL helper
// in internal/telemetry/scrub.go).
func (p *Pipeline) RecordNetworkRequest(payload NetworkRequestPayload) {
	p.enqueue(TypeNetworkRequest, payload)
}

// RecordANR enqueues an anr record.
func (p *Pipeline) RecordANR(payload ANRPayload) {
	p.enqueue(TypeANR, payload)
}

// RecordCustom enqueues a custom record.
func (p *Pipeline) RecordCustom(payload CustomPayload) {
	p.enqueue(TypeCustom, payload)
}

// RecordLog enqueues a log record.
func (p *Pipeline) RecordLog(payload LogPayload) {
	p.enqueue(TypeLog, payload)
}

// NonInteractiveTap records a touch/tap record and arms the dead-tap timer.
// Taps against interactive widgets should call RecordTouch directly instead.
func (p *Pipeline) NonInteractiveTap(payload TouchPayload) {
	p.enqueue(TypeTouch, payload)
	p.deadTap.NonInteractiveTap(time.UnixMilli(p.clock()))
}

func (p *Pipeline) enqueueDeadTap() {
	p.enqueue(TypeGesture, TouchPayload{GestureType: "dead_tap"})
}

// RageTapTally returns the session's rage-tap count so far.
func (p *Pipeline) RageTapTally() int64 { return p.rageTally.Load() }

// DeadTapTally returns the session's dead-tap count so far.
func (p *Pipeline) DeadTapTally() int64 { return p.deadTally.Load() }

// NoteRageTap lets the Interaction Recorder report a rage-tap it already
// enqueued, so the pipeline's session tally stays authoritative.
func (p *Pipeline) NoteRageTap() { p.rageTally.Add(1) }

func (p *Pipeline) enqueue(typ Type, payload interface{}) {
	record, err := NewRecord(typ, p.clock(), payload)
	if err != nil {
		p.logger.Error("telemetry: failed to build record", "type", typ, "error", err)
		return
	}
	serialized, err := record.Serialize()
	if err != nil {
		p.logger.Error("telemetry: failed to serialize record", "type", typ, "error", err)
		return
	}
	p.ring.Push(serialized)
	p.notifyObservers(serialized)
}

// Subscribe registers fn to be called with every record's serialized bytes
// as it's enqueued. It exists for development-time introspection
// (cmd/harness's debug event tail), never for anything the dispatch path
// depends on. fn runs synchronously on the enqueuing goroutine, under the
// observer read lock, so a slow or stuck observer delays or stalls the
// recorder call that enqueued the record. The returned unsubscribe func
// removes fn; it is safe to call more than once.
func (p *Pipeline) Subscribe(fn func(record []byte)) (unsubscribe func()) {
	p.obsMu.Lock()
	if p.observers == nil {
		p.observers = make(map[int]func([]byte))
	}
	id := p.nextObsID
	p.nextObsID++
	p.observers[id] = fn
	p.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.obsMu.Lock()
			delete(p.observers, id)
			p.obsMu.Unlock()
		})
	}
}

func (p *Pipeline) notifyObservers(record []byte) {
	p.obsMu.RLock()
	defer p.obsMu.RUnlock()
	for _, fn := range p.observers {
		fn(record)
	}
}

// DispatchNow drains the ring, serializes+gzips a batch, and submits it to
// the dispatcher (lane=events). A no-op when deferred or the ring is empty.
func (p *Pipeline) DispatchNow(ctx context.Context) {
	if p.deferred.Load() {
		return
	}
	drained := p.ring.Drain(p.maxBytes)
	if len(drained) == 0 {
		return
	}
	info := DeviceInfo{}
	if p.deviceInfo != nil {
		info = p.deviceInfo()
	}
	seq := p.batchSeq.Add(1) - 1
	batch, err := Serialize(p.SessionID(), seq, drained, info)
	if err != nil {
		p.logger.Warn("telemetry: batch serialization failed, requeuing", "error", err, "batchSeq", seq)
		p.ring.PushFront(drained)
		p.batchSeq.Add(-1)
		return
	}
	if p.dispatcher == nil {
		return
	}
	if err := p.dispatcher.SubmitEvents(ctx, batch.SessionID, batch.BatchSeq, batch.SerializedBytes, batch.RecordCount); err != nil {
		p.logger.Warn("telemetry: dispatcher rejected batch", "error", err, "batchSeq", seq)
	}
}

// RingSize exposes the current ring depth, used for session-end
// queueDepthAtFinalize (§4.5).
func (p *Pipeline) RingSize() int { return p.ring.Size() }
