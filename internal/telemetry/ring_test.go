package telemetry

import "testing"

func TestRingDropOldestOnOverflow(t *testing.T) {
	r := NewRing(3)
	r.Push([]byte("a"))
	r.Push([]byte("b"))
	r.Push([]byte("c"))
	r.Push([]byte("d"))

	if got := r.Size(); got != 3 {
		t.Fatalf("size = %d, want 3", got)
	}
	drained := r.Drain(1 << 20)
	want := []string{"b", "c", "d"}
	if len(drained) != len(want) {
		t.Fatalf("drained %d records, want %d", len(drained), len(want))
	}
	for i, w := range want {
		if string(drained[i]) != w {
			t.Fatalf("drained[%d] = %q, want %q", i, drained[i], w)
		}
	}
}

func TestRingDrainByteBounded(t *testing.T) {
	r := NewRing(100)
	for _, s := range []string{"aa", "bb", "cc", "dd"} {
		r.Push([]byte(s))
	}
	drained := r.Drain(5)
	if len(drained) != 2 {
		t.Fatalf("drained %d records under 5-byte budget, want 2", len(drained))
	}
	if r.Size() != 2 {
		t.Fatalf("remaining size = %d, want 2", r.Size())
	}
}

func TestRingDrainAlwaysTakesAtLeastOne(t *testing.T) {
	r := NewRing(10)
	r.Push([]byte("this-record-is-bigger-than-the-budget"))
	r.Push([]byte("x"))
	drained := r.Drain(1)
	if len(drained) != 1 {
		t.Fatalf("expected oversized head record to still drain alone, got %d", len(drained))
	}
	if r.Size() != 1 {
		t.Fatalf("remaining size = %d, want 1", r.Size())
	}
}

func TestRingPushFrontRestoresOrderAndEvictsOldest(t *testing.T) {
	r := NewRing(3)
	r.Push([]byte("keep"))
	drained := r.Drain(1 << 20)
	r.Push([]byte("new1"))
	r.Push([]byte("new2"))
	r.Push([]byte("new3"))
	// Simulate a failed drain+gzip: push the drained records back to the
	// head. Capacity is 3 and the ring already holds 3, so the oldest
	// (the re-pushed "keep") must be the one evicted, not "new1".
	r.PushFront(drained)

	all := r.Drain(1 << 20)
	if len(all) != 3 {
		t.Fatalf("got %d records after pushfront, want 3", len(all))
	}
	want := []string{"new1", "new2", "new3"}
	for i, w := range want {
		if string(all[i]) != w {
			t.Fatalf("all[%d] = %q, want %q", i, all[i], w)
		}
	}
}

func TestRingNeverExceedsCapacity(t *testing.T) {
	r := NewRing(5)
	for i := 0; i < 50; i++ {
		r.Push([]byte{byte(i)})
		if r.Size() > 5 {
			t.Fatalf("size exceeded capacity: %d", r.Size())
		}
	}
}
