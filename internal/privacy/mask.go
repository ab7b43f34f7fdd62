// Package privacy implements the Privacy Mask: sensitive-region detection
// over the view tree, producing opaque rectangles for bitmap masking and a
// sensitivity predicate for hierarchy node masking (§4.7).
package privacy

import (
	"strings"

	"rejourney-engine/internal/hierarchy"
)

// SensitiveMarker is the reserved tag value the host sets on a view to
// force-mark it sensitive, independent of class name.
const SensitiveMarker = "rejourney-sensitive"

var classNameNeedles = []string{
	"textinput",
	"edittext",
	"password",
	"securetext",
	"webview",
	"web_view",
	"camerapreview",
	"camera_preview",
	"videoplayer",
	"video_player",
	"playerview",
}

// Rect is an opaque rectangle to draw over a bitmap, in logical units.
type Rect struct {
	X float64
	Y float64
	W float64
	H float64
}

// Mask identifies sensitive regions by host-side widget class, a reserved
// tag marker, a registered nativeID set, or a heuristic class-name match
// (§4.7). It satisfies hierarchy.SensitivityChecker.
type Mask struct {
	secureClass  func(node hierarchy.Node) bool
	tag          func(node hierarchy.Node) string
	nativeID     func(node hierarchy.Node) string
	maskedIDs    map[string]bool
}

// Config configures a Mask. SecureClass, Tag, and NativeID are host
// capabilities: the engine has no reflection-based introspection of host
// view classes, so these are supplied as callbacks (§9).
type Config struct {
	SecureClass func(node hierarchy.Node) bool
	Tag         func(node hierarchy.Node) string
	NativeID    func(node hierarchy.Node) string
	MaskedIDs   []string
}

// New constructs a Mask.
func New(cfg Config) *Mask {
	ids := make(map[string]bool, len(cfg.MaskedIDs))
	for _, id := range cfg.MaskedIDs {
		ids[id] = true
	}
	return &Mask{secureClass: cfg.SecureClass, tag: cfg.Tag, nativeID: cfg.NativeID, maskedIDs: ids}
}

// IsSensitive reports whether node should be masked in both the bitmap and
// the serialized hierarchy.
func (m *Mask) IsSensitive(node hierarchy.Node) bool {
	if m.secureClass != nil && m.secureClass(node) {
		return true
	}
	if m.tag != nil && m.tag(node) == SensitiveMarker {
		return true
	}
	if m.nativeID != nil {
		if id := m.nativeID(node); id != "" && m.maskedIDs[id] {
			return true
		}
	}
	return classNameMatches(node.Type)
}

func classNameMatches(typeName string) bool {
	lower := strings.ToLower(typeName)
	for _, needle := range classNameNeedles {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

// Rects walks roots and returns the opaque rectangles to draw over the
// bitmap for every sensitive node found, scanning up to budget views
// before giving up; if the first pass yields nothing, a second, wider
// pass up to fallbackBudget is made to preserve coverage over performance
// (§4.7). focusedFallback, if non-nil, is used when both passes yield no
// rects (the scan itself bailed out), masking only the currently-focused
// view (§4.4).
func (m *Mask) Rects(roots []hierarchy.Node, budget, fallbackBudget int, focusedFallback func() []hierarchy.Node) []Rect {
	rects, scanned := m.collect(roots, budget)
	if len(rects) > 0 {
		return rects
	}
	if scanned >= budget {
		rects, _ = m.collect(roots, fallbackBudget)
		if len(rects) > 0 {
			return rects
		}
		if focusedFallback != nil {
			if focused := focusedFallback(); len(focused) > 0 {
				rects, _ = m.collect(focused, fallbackBudget)
				return rects
			}
		}
	}
	return nil
}

func (m *Mask) collect(roots []hierarchy.Node, budget int) ([]Rect, int) {
	var rects []Rect
	scanned := 0
	var walk func(node hierarchy.Node)
	walk = func(node hierarchy.Node) {
		if budget > 0 && scanned >= budget {
			return
		}
		scanned++
		if m.IsSensitive(node) {
			rects = append(rects, Rect{X: node.Frame.X, Y: node.Frame.Y, W: node.Frame.W, H: node.Frame.H})
		}
		for _, child := range node.Children {
			if budget > 0 && scanned >= budget {
				return
			}
			walk(child)
		}
	}
	for _, root := range roots {
		if budget > 0 && scanned >= budget {
			break
		}
		walk(root)
	}
	return rects, scanned
}
