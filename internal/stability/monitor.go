// Package stability implements the Stability Monitor: a last-chance crash
// handler that records fatal crashes and writes an emergency-flush marker
// so a subsequent process can recover the in-progress video segment
// (§4.4, §7).
package stability

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"rejourney-engine/internal/telemetry"
)

// CrashMarker is the pending_crash_segment.json payload (§6): a description
// of the in-progress video segment at the moment of a fatal crash.
type CrashMarker struct {
	SessionID  string `json:"sessionId"`
	File       string `json:"file"`
	StartMs    int64  `json:"startMs"`
	EndMs      int64  `json:"endMs"`
	FrameCount int    `json:"frameCount"`
}

// Pipeline is the subset of telemetry.Pipeline the monitor drives. A crash
// handler runs in a dying process, so this call is best-effort: it must
// never itself attempt a network upload (§7).
type Pipeline interface {
	RecordCustom(payload telemetry.CustomPayload)
}

// Monitor installs a last-chance crash handler for the lifetime of a
// recording session. Because Go's panic/recover model does not expose a
// single global last-chance hook the way host-OS crash reporters do, the
// host embeds Monitor.Handle in its own top-level recover (or signal
// handler for SIGSEGV/SIGABRT delivered to a supervisor process) and calls
// it with the panic value; Monitor does not install any global hook
// itself.
type Monitor struct {
	dir      string
	pipeline Pipeline
	logger   *slog.Logger

	mu          sync.Mutex
	crashTally  int64
	segmentInfo func() CrashMarker
}

// Config configures a Monitor.
type Config struct {
	Dir         string
	Pipeline    Pipeline
	Logger      *slog.Logger
	SegmentInfo func() CrashMarker
}

// New constructs a Monitor rooted at dir (the engine's private directory).
func New(cfg Config) *Monitor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{dir: cfg.Dir, pipeline: cfg.Pipeline, logger: cfg.Logger, segmentInfo: cfg.SegmentInfo}
}

// Handle is invoked by the host's last-chance recover/signal path with the
// recovered panic value (or nil for an externally-observed fatal signal).
// It writes the emergency-flush marker, best-effort, and returns without
// attempting any network I/O — a crash handler in a dying process must not
// try to upload (§7).
func (m *Monitor) Handle(recovered interface{}) {
	m.mu.Lock()
	m.crashTally++
	m.mu.Unlock()

	m.logger.Error("stability: fatal crash observed", "recovered", recovered)

	if m.segmentInfo == nil {
		return
	}
	marker := m.segmentInfo()
	if marker.SessionID == "" {
		return
	}
	if err := m.writeMarker(marker); err != nil {
		m.logger.Error("stability: failed to write crash marker", "error", err)
	}
}

func (m *Monitor) writeMarker(marker CrashMarker) error {
	return WriteMarker(m.dir, marker)
}

// WriteMarker persists the emergency-flush marker to dir, used both by the
// Monitor's own last-chance path and directly by the Video Encoder when it
// flushes an in-progress segment ahead of a crash (§4.4).
func WriteMarker(dir string, marker CrashMarker) error {
	encoded, err := json.Marshal(marker)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "pending_crash_segment.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadMarker loads a previously-written crash marker, if any, returning
// (marker, found, error).
func ReadMarker(dir string) (CrashMarker, bool, error) {
	path := filepath.Join(dir, "pending_crash_segment.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return CrashMarker{}, false, nil
		}
		return CrashMarker{}, false, err
	}
	var marker CrashMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return CrashMarker{}, false, err
	}
	return marker, true, nil
}

// ClearMarker removes the crash marker after the operator has resolved it
// (§9's open question: partial segment recovery policy is left to the
// operator — this only clears the marker on explicit request).
func ClearMarker(dir string) error {
	path := filepath.Join(dir, "pending_crash_segment.json")
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// CrashTally reports how many crashes this Monitor has observed.
func (m *Monitor) CrashTally() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.crashTally
}
