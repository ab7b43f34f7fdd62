package hierarchy

import (
	"testing"
	"time"
)

type staticSource struct {
	roots []Node
}

func (s staticSource) Roots() []Node { return s.roots }

func newScanner(source Source) *Scanner {
	return New(Config{Source: source})
}

// A small opaque, full-alpha child that merely overlaps the parent must
// not suppress earlier siblings: only an exact-frame match occludes (§4.6).
func TestSerializeChildrenPartialOverlapDoesNotOccludeSiblings(t *testing.T) {
	parent := Node{
		Type:  "screen",
		Frame: Frame{W: 400, H: 800},
		Alpha: 1,
		Children: []Node{
			{Type: "label", Frame: Frame{X: 0, Y: 0, W: 400, H: 800}, Alpha: 1},
			{Type: "button", Frame: Frame{X: 10, Y: 10, W: 50, H: 30}, Alpha: 1, Opaque: true},
		},
	}
	s := newScanner(staticSource{roots: []Node{parent}})
	snap, ok := s.Scan(0, Screen{W: 400, H: 800})
	if !ok {
		t.Fatal("expected a snapshot on first scan")
	}
	if len(snap.Root.Children) != 2 {
		t.Fatalf("children = %d, want 2 (partial-overlap opaque child must not occlude the label)", len(snap.Root.Children))
	}
}

// An opaque, full-alpha child whose frame exactly matches the parent's
// suppresses earlier (lower z-order) siblings (§4.6).
func TestSerializeChildrenFullBleedOccludesEarlierSiblings(t *testing.T) {
	parent := Node{
		Type:  "screen",
		Frame: Frame{W: 400, H: 800},
		Alpha: 1,
		Children: []Node{
			{Type: "label", Frame: Frame{X: 0, Y: 0, W: 400, H: 800}, Alpha: 1},
			{Type: "overlay", Frame: Frame{X: 0, Y: 0, W: 400, H: 800}, Alpha: 1, Opaque: true},
		},
	}
	s := newScanner(staticSource{roots: []Node{parent}})
	snap, ok := s.Scan(0, Screen{W: 400, H: 800})
	if !ok {
		t.Fatal("expected a snapshot on first scan")
	}
	if len(snap.Root.Children) != 1 {
		t.Fatalf("children = %d, want 1 (full-bleed opaque overlay must occlude the label beneath it)", len(snap.Root.Children))
	}
	if snap.Root.Children[0].Type != "overlay" {
		t.Fatalf("surviving child = %q, want %q", snap.Root.Children[0].Type, "overlay")
	}
}

// Budget overrun replaces the current subtree with a bailout marker (§4.6,
// §7) rather than aborting the whole scan.
func TestSerializeBailsOutPastBudget(t *testing.T) {
	base := time.UnixMilli(0)
	calls := 0
	clock := func() time.Time {
		calls++
		if calls > 1 {
			return base.Add(time.Hour)
		}
		return base
	}
	s := New(Config{
		Source: staticSource{roots: []Node{{Type: "root", Frame: Frame{W: 10, H: 10}, Alpha: 1, Children: []Node{
			{Type: "child", Frame: Frame{W: 5, H: 5}, Alpha: 1},
		}}}},
		Clock: clock,
	})
	snap, ok := s.Scan(0, Screen{W: 10, H: 10})
	if !ok {
		t.Fatal("expected a snapshot")
	}
	if !snap.Root.Bailout {
		t.Fatal("expected root to bail out once the budget clock has elapsed")
	}
}
