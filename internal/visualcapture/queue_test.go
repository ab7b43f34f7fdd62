package visualcapture

import "testing"

func TestFrameQueuePushPopOrder(t *testing.T) {
	q := NewFrameQueue(2)
	q.Push(Bundle{RangeStart: 1})
	q.Push(Bundle{RangeStart: 2})

	b, ok := q.Pop()
	if !ok || b.RangeStart != 1 {
		t.Fatalf("expected first bundle with RangeStart=1, got %+v ok=%v", b, ok)
	}
	b, ok = q.Pop()
	if !ok || b.RangeStart != 2 {
		t.Fatalf("expected second bundle with RangeStart=2, got %+v ok=%v", b, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("expected queue empty")
	}
}

func TestFrameQueueDropsAtCapacity(t *testing.T) {
	q := NewFrameQueue(1)
	q.Push(Bundle{RangeStart: 1})
	q.Push(Bundle{RangeStart: 2}) // dropped, queue already full

	if q.Dropped() != 1 {
		t.Fatalf("expected 1 dropped bundle, got %d", q.Dropped())
	}
	b, ok := q.Pop()
	if !ok || b.RangeStart != 1 {
		t.Fatalf("expected the original bundle to survive, got %+v ok=%v", b, ok)
	}
}

func TestFrameQueueRequeueFront(t *testing.T) {
	q := NewFrameQueue(4)
	q.Push(Bundle{RangeStart: 1})
	q.RequeueFront(Bundle{RangeStart: 0})

	b, ok := q.Pop()
	if !ok || b.RangeStart != 0 {
		t.Fatalf("expected requeued bundle at head, got %+v ok=%v", b, ok)
	}
}
