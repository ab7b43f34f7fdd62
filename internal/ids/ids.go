// Package ids mints the identifiers and timestamps the engine hands out:
// monotonic wall-clock readings, session IDs, and the per-install salt
// derived from the host-supplied device fingerprint.
package ids

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// Clock abstracts wall-clock and monotonic time so recorders and tests can
// control both independently of the real clock.
type Clock interface {
	// NowMs returns the current wall-clock time in epoch milliseconds.
	NowMs() int64
	// Monotonic returns a monotonic instant suitable for measuring elapsed
	// durations (budget checks, ANR stall timing).
	Monotonic() time.Time
}

// SystemClock is the production Clock backed by the runtime clock.
type SystemClock struct{}

func (SystemClock) NowMs() int64         { return time.Now().UnixMilli() }
func (SystemClock) Monotonic() time.Time { return time.Now() }

// NewSession mints a fresh sessionId in the form session_<startMs>_<hexRandom>.
// The hex component is 8 bytes of crypto-random data; collisions are
// astronomically unlikely and sessionId is never reused by contract.
func NewSession(startMs int64) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mint session id: %w", err)
	}
	return fmt.Sprintf("session_%d_%s", startMs, hex.EncodeToString(buf)), nil
}

// NewSegmentID mints an identifier for a video segment or hierarchy
// snapshot file rooted at the given session and start time.
func NewSegmentID(sessionID string, startMs int64) string {
	return fmt.Sprintf("seg_%s_%d", sessionID, startMs)
}

const (
	fingerprintSaltIterations = 4096
	fingerprintSaltKeyLen     = 32
)

// FingerprintSalt derives a non-reversible per-install salt from the host's
// deviceFingerprint. The engine never generates or persists a hardware
// identifier itself (per the Device Registrar contract). No engine
// component calls this function; the recovery checkpoint file, for one, is
// always named recovery.json.
func FingerprintSalt(deviceFingerprint string) string {
	sum := sha256.Sum256([]byte(deviceFingerprint))
	derived := pbkdf2.Key(sum[:], []byte("rejourney-fingerprint-salt"), fingerprintSaltIterations, fingerprintSaltKeyLen, sha256.New)
	return hex.EncodeToString(derived)
}
