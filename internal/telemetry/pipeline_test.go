package telemetry

import (
	"sync"
	"testing"
)

func TestSubscribeReceivesEnqueuedRecords(t *testing.T) {
	p := New(Config{})

	var mu sync.Mutex
	var seen [][]byte
	unsubscribe := p.Subscribe(func(record []byte) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, record)
	})

	p.RecordTouch(TypeTouch, TouchPayload{GestureType: "tap", X: 1, Y: 2})
	p.RecordNavigation(NavigationPayload{Screen: "feed"})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("observer saw %d records, want 2", len(seen))
	}

	unsubscribe()
	p.RecordTouch(TypeTouch, TouchPayload{GestureType: "tap"})

	mu.Lock()
	if len(seen) != 2 {
		t.Fatalf("observer saw %d records after unsubscribe, want still 2", len(seen))
	}
	mu.Unlock()
}

func TestSubscribeUnsubscribeIsIdempotent(t *testing.T) {
	p := New(Config{})
	unsubscribe := p.Subscribe(func([]byte) {})
	unsubscribe()
	unsubscribe()
}

func TestMultipleObserversAllReceiveRecords(t *testing.T) {
	p := New(Config{})

	var aCount, bCount int
	var mu sync.Mutex
	p.Subscribe(func([]byte) {
		mu.Lock()
		aCount++
		mu.Unlock()
	})
	p.Subscribe(func([]byte) {
		mu.Lock()
		bCount++
		mu.Unlock()
	})

	p.RecordNavigation(NavigationPayload{Screen: "feed"})

	mu.Lock()
	defer mu.Unlock()
	if aCount != 1 || bCount != 1 {
		t.Fatalf("aCount=%d bCount=%d, want 1/1", aCount, bCount)
	}
}
