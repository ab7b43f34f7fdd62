package visualcapture

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"rejourney-engine/internal/hierarchy"
	"rejourney-engine/internal/privacy"
	"rejourney-engine/internal/videoencoder"
)

// BitmapSource acquires a screen bitmap from the host. Production code
// binds this to the platform's bitmap-acquisition capability, which must
// run on the UI executor (§4.4, §5); Visual Capture itself has no
// opinion about which executor calls Acquire.
type BitmapSource interface {
	Acquire(ctx context.Context) (bitmap interface{}, width, height int, err error)
}

// BitmapMasker draws opaque fills (with an unreadable placeholder glyph)
// over the given rects on a mutable copy of bitmap, returning the masked
// copy (§4.4 step 3, §4.7).
type BitmapMasker interface {
	Apply(bitmap interface{}, rects []privacy.Rect) interface{}
}

// FocusedViewSource reports the currently-focused view, used as the
// fallback mask target when the privacy scan itself bails out (§4.4 step
// 2, §4.7).
type FocusedViewSource interface {
	Focused() []hierarchy.Node
}

// Encoder is the subset of videoencoder.Encoder the driver feeds.
type Encoder interface {
	WriteFrame(ctx context.Context, bitmap interface{}, width, height int, wallClockMs int64) error
}

// Config configures a Capture driver.
type Config struct {
	Bitmap          BitmapSource
	HierarchySource hierarchy.Source
	Mask            *privacy.Mask
	Masker          BitmapMasker
	Focused         FocusedViewSource
	Encoder         Encoder
	Queue           *FrameQueue

	IntervalSeconds  float64
	ScanBudget       int
	ScanFallback     int
	MaxLongestEdgePx int
	CaptureScale     float64
	Clock            func() int64
	Logger           *slog.Logger
}

// Capture drives periodic bitmap acquisition, masking, and encoder
// handoff (§4.4). It implements videoencoder.Delegate: closed segments are
// read from disk and queued for the dispatcher's video lane.
type Capture struct {
	bitmap   BitmapSource
	hsource  hierarchy.Source
	mask     *privacy.Mask
	masker   BitmapMasker
	focused  FocusedViewSource
	encoder  Encoder
	queue    *FrameQueue
	interval time.Duration
	budget   int
	fallback int
	clock    func() int64
	logger   *slog.Logger

	mu        sync.Mutex
	sessionID string
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New constructs a Capture driver. IntervalSeconds defaults to 1s (§4.4);
// ScanBudget/ScanFallback default to the Privacy Mask's documented 500/2000
// view caps (§4.7).
func New(cfg Config) *Capture {
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 1
	}
	if cfg.ScanBudget <= 0 {
		cfg.ScanBudget = 500
	}
	if cfg.ScanFallback <= 0 {
		cfg.ScanFallback = 2000
	}
	if cfg.Clock == nil {
		cfg.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Capture{
		bitmap:   cfg.Bitmap,
		hsource:  cfg.HierarchySource,
		mask:     cfg.Mask,
		masker:   cfg.Masker,
		focused:  cfg.Focused,
		encoder:  cfg.Encoder,
		queue:    cfg.Queue,
		interval: time.Duration(cfg.IntervalSeconds * float64(time.Second)),
		budget:   cfg.ScanBudget,
		fallback: cfg.ScanFallback,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
}

// SetSessionID records which session closed segments belong to.
func (c *Capture) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// Start begins the capture ticker on its own goroutine.
func (c *Capture) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	c.wg.Add(1)
	go c.loop(runCtx)
}

// Stop halts the capture ticker and waits for it to exit.
func (c *Capture) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

func (c *Capture) loop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick performs one capture cycle: acquire, mask, encode (§4.4 steps
// 1-4). Errors are logged and the cycle is skipped; Visual Capture never
// propagates an acquisition or encoder failure to the caller (§7).
func (c *Capture) Tick(ctx context.Context) {
	if c.bitmap == nil || c.encoder == nil {
		return
	}
	bmp, w, h, err := c.bitmap.Acquire(ctx)
	if err != nil {
		c.logger.Warn("visualcapture: bitmap acquisition failed, skipping tick", "error", err)
		return
	}

	rects := c.privacyRects()
	if c.masker != nil && len(rects) > 0 {
		bmp = c.masker.Apply(bmp, rects)
	}

	ts := c.clock()
	if err := c.encoder.WriteFrame(ctx, bmp, w, h, ts); err != nil {
		c.logger.Warn("visualcapture: encoder rejected frame, retrying next tick", "error", err)
	}
}

func (c *Capture) privacyRects() []privacy.Rect {
	if c.mask == nil || c.hsource == nil {
		return nil
	}
	roots := c.hsource.Roots()
	var focusedFallback func() []hierarchy.Node
	if c.focused != nil {
		focusedFallback = c.focused.Focused
	}
	return c.mask.Rects(roots, c.budget, c.fallback, focusedFallback)
}

// OnSegmentClosed implements videoencoder.Delegate: read the closed
// segment file and queue it for the dispatcher's video lane.
func (c *Capture) OnSegmentClosed(seg videoencoder.Segment) {
	if c.queue == nil {
		return
	}
	payload, err := os.ReadFile(seg.File)
	if err != nil {
		c.logger.Warn("visualcapture: failed to read closed segment, dropping", "file", seg.File, "error", err)
		return
	}
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	c.queue.Push(Bundle{
		SessionID:  sessionID,
		Payload:    payload,
		RangeStart: seg.StartMs,
		RangeEnd:   seg.EndMs,
		FrameCount: seg.FrameCount,
	})
}
