package hierarchy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// SensitivityChecker reports whether a node carries sensitive content; the
// Privacy Mask implements this (§4.7). The scanner asks it once per node
// while serializing, rather than pre-scanning the whole tree twice.
type SensitivityChecker interface {
	IsSensitive(node Node) bool
}

// TextMasker redacts text to asterisks while reporting the display length
// to preserve (§3's textLength). The Privacy Mask implements this using
// display-width-aware counting.
type TextMasker interface {
	Mask(text string) (masked string, textLength int)
}

// Clock returns the current monotonic instant, used to enforce the
// per-scan wall-clock budget.
type Clock func() time.Time

// Scanner implements the View Serializer + Hierarchy Scanner (§4.6).
type Scanner struct {
	source     Source
	masker     SensitivityChecker
	textMasker TextMasker
	maxDepth   int
	budget     time.Duration
	clock      Clock
	lastHash   string
}

// Config configures a Scanner.
type Config struct {
	Source     Source
	Masker     SensitivityChecker
	TextMasker TextMasker
	MaxDepth   int
	Budget     time.Duration
	Clock      Clock
}

// New constructs a Scanner. MaxDepth defaults to 10, Budget to 10ms (§3).
func New(cfg Config) *Scanner {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 10 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Scanner{source: cfg.Source, masker: cfg.Masker, textMasker: cfg.TextMasker, maxDepth: cfg.MaxDepth, budget: cfg.Budget, clock: cfg.Clock}
}

// Scan produces a Snapshot at timestampMs, or (Snapshot{}, false) when the
// change-hash suppression determines this scan is identical to the
// previous one (§4.6).
func (s *Scanner) Scan(timestampMs int64, screen Screen) (Snapshot, bool) {
	roots := s.source.Roots()

	var rootNode Node
	if len(roots) == 1 {
		rootNode = roots[0]
	} else {
		rootNode = Node{Type: "root", Frame: Frame{W: float64(screen.W), H: float64(screen.H)}, Alpha: 1, Children: roots}
	}

	hash := changeHash(rootNode)
	if hash == s.lastHash {
		return Snapshot{}, false
	}
	s.lastHash = hash

	deadline := s.clock().Add(s.budget)
	serialized := s.serialize(rootNode, 0, deadline)

	return Snapshot{
		Timestamp:       timestampMs,
		Screen:          screen,
		Root:            serialized,
		LayoutSignature: hash,
	}, true
}

// changeHash is a coarse hash of (currentScreen-ish root, rootChildCount)
// per §4.6: cheap enough to run every tick, distinct enough to dedupe
// truly-identical consecutive snapshots.
func changeHash(root Node) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%.0f|%.0f", root.Type, len(root.Children), root.Frame.W, root.Frame.H)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (s *Scanner) serialize(node Node, depth int, deadline time.Time) SerializedNode {
	if s.clock().After(deadline) {
		return SerializedNode{Type: node.Type, Frame: node.Frame, Bailout: true}
	}

	out := SerializedNode{
		Type:        node.Type,
		Frame:       node.Frame,
		TestID:      node.TestID,
		Label:       node.Label,
		Hidden:      node.Hidden,
		Alpha:       node.Alpha,
		Interactive: node.Interactive,
		ButtonTitle: node.ButtonTitle,
		Enabled:     node.Enabled,
		SwitchOn:    node.SwitchOn,
		ContentOffset: node.ContentOffset,
		ContentSize:   node.ContentSize,
	}

	if node.Text != "" {
		if s.masker != nil && s.masker.IsSensitive(node) {
			out.Masked = true
			if s.textMasker != nil {
				out.Text, out.TextLength = s.textMasker.Mask(node.Text)
			} else {
				out.TextLength = len([]rune(node.Text))
				out.Text = strings.Repeat("*", out.TextLength)
			}
		} else {
			out.TextLength = len([]rune(node.Text))
			out.Text = node.Text
		}
	} else if s.masker != nil && s.masker.IsSensitive(node) {
		out.Masked = true
	}

	if depth >= s.maxDepth {
		return out
	}

	out.Children = s.serializeChildren(node.Frame, node.Children, depth, deadline)
	return out
}

// serializeChildren implements visibility skipping and the opaque
// full-bleed sibling rule (§4.6): when a later (higher-index, on-top)
// child is opaque, full-alpha, and covers the parent frame exactly,
// earlier siblings are not emitted since they're fully occluded. A
// small opaque child that merely overlaps part of the parent does not
// qualify — only an exact-frame match does.
func (s *Scanner) serializeChildren(parentFrame Frame, children []Node, depth int, deadline time.Time) []SerializedNode {
	visible := make([]Node, 0, len(children))
	for _, c := range children {
		if c.Alpha <= 0.01 || c.Hidden {
			continue
		}
		if c.Frame.W <= 0 || c.Frame.H <= 0 {
			continue
		}
		visible = append(visible, c)
	}
	if len(visible) == 0 {
		return nil
	}

	occludeFrom := -1
	for i := len(visible) - 1; i >= 0; i-- {
		c := visible[i]
		if c.Opaque && c.Alpha >= 1.0 && c.Frame == parentFrame {
			occludeFrom = i
			break
		}
	}

	start := 0
	if occludeFrom > 0 {
		start = occludeFrom
	}

	serialized := make([]SerializedNode, 0, len(visible)-start)
	for i := start; i < len(visible); i++ {
		serialized = append(serialized, s.serialize(visible[i], depth+1, deadline))
	}
	return serialized
}
