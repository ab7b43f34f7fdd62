package telemetry

import (
	"encoding/json"
	"testing"
)

func TestSerializeGunzipRoundTrip(t *testing.T) {
	r := NewRing(100)
	var records []Record
	for i := 0; i < 5; i++ {
		rec, err := NewRecord(TypeTouch, int64(i), TouchPayload{GestureType: "tap", X: float64(i), Y: float64(i)})
		if err != nil {
			t.Fatalf("NewRecord: %v", err)
		}
		records = append(records, rec)
		ser, err := rec.Serialize()
		if err != nil {
			t.Fatalf("Serialize: %v", err)
		}
		r.Push(ser)
	}
	drained := r.Drain(1 << 20)

	batch, err := Serialize("session_1", 0, drained, DeviceInfo{Platform: "ios"})
	if err != nil {
		t.Fatalf("Serialize batch: %v", err)
	}

	raw, err := Gunzip(batch.SerializedBytes)
	if err != nil {
		t.Fatalf("Gunzip: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if len(env.Events) != len(records) {
		t.Fatalf("got %d events, want %d", len(env.Events), len(records))
	}
}

func TestSerializeRejectsOversizedBatch(t *testing.T) {
	big := make([][]byte, 0)
	chunk := make([]byte, 1000)
	for i := 0; i < 600; i++ {
		big = append(big, chunk)
	}
	if _, err := Serialize("s", 0, big, DeviceInfo{}); err == nil {
		t.Fatalf("expected oversized batch to error")
	}
}
