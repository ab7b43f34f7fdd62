// Package telemetry is the event-producing façade every recorder calls
// through. It owns the Event Ring, batch serialization, the heartbeat
// timer, and deferred-mode gating (§4.2).
package telemetry

import (
	"encoding/json"
	"fmt"
)

// Type is the closed tag set for event records (§3).
type Type string

const (
	TypeTouch             Type = "touch"
	TypeGesture            Type = "gesture"
	TypeInput              Type = "input"
	TypeNavigation          Type = "navigation"
	TypeNetworkRequest      Type = "network_request"
	TypeCustom              Type = "custom"
	TypeError               Type = "error"
	TypeANR                 Type = "anr"
	TypeUserIdentityChanged Type = "user_identity_changed"
	TypeAppStartup          Type = "app_startup"
	TypeAppForeground       Type = "app_foreground"
	TypeLog                 Type = "log"
)

// Record is a single self-describing event record. Payload carries the
// type-specific fields as a raw JSON object so the ring can stay agnostic
// of the shape of any one event type; once enqueued its content is
// immutable (§3) — callers must not mutate a Record after Push.
type Record struct {
	Type      Type            `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Serialize renders the record to its self-describing wire form terminated
// by a newline, matching the ring's byte-bounded drain contract.
func (r Record) Serialize() ([]byte, error) {
	encoded, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("serialize record: %w", err)
	}
	return append(encoded, '\n'), nil
}

// NewRecord builds a Record from a typed payload, marshaling it into the
// self-describing envelope.
func NewRecord(typ Type, timestampMs int64, payload interface{}) (Record, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Record{Type: typ, Timestamp: timestampMs, Payload: raw}, nil
}

// TouchPayload backs touch/gesture records.
type TouchPayload struct {
	GestureType     string    `json:"gestureType"`
	Label           string    `json:"label,omitempty"`
	X               float64   `json:"x"`
	Y               float64   `json:"y"`
	Touches         []Point   `json:"touches,omitempty"`
	Direction       string    `json:"direction,omitempty"`
	Scale           float64   `json:"scale,omitempty"`
	Angle           float64   `json:"angle,omitempty"`
	Count           int       `json:"count,omitempty"`
	FrustrationKind string    `json:"frustrationKind,omitempty"`
}

// Point is a logical-unit coordinate pair.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// InputPayload backs input records. Value is replaced by "***" by the
// recorder before the record ever reaches the ring when Redacted is true.
type InputPayload struct {
	Value    string `json:"value"`
	Label    string `json:"label,omitempty"`
	Redacted bool   `json:"redacted,omitempty"`
}

// NavigationPayload backs navigation records.
type NavigationPayload struct {
	Screen   string `json:"screen"`
	ViewID   string `json:"viewId,omitempty"`
	Entering bool   `json:"entering"`
}

// NetworkRequestPayload backs network_request records. URL must already be
// PII-scrubbed by the caller (see ScrubURL in this package) before construction.
type NetworkRequestPayload struct {
	Method       string `json:"method"`
	URL          string `json:"url"`
	Status       int    `json:"status"`
	DurationMs   int64  `json:"duration"`
	RequestSize  int64  `json:"requestSize,omitempty"`
	ResponseSize int64  `json:"responseSize,omitempty"`
	StartedAtMs  int64  `json:"startedAt"`
	EndedAtMs    int64  `json:"endedAt"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}

// ANRPayload backs anr records.
type ANRPayload struct {
	DurationMs  int64  `json:"durationMs"`
	ThreadState string `json:"threadState"`
}

// CustomPayload backs custom records.
type CustomPayload struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LogPayload backs log records.
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}
