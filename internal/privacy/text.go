package privacy

import (
	"strings"

	"golang.org/x/text/width"
)

// Mask implements hierarchy.TextMasker.
func (m *Mask) Mask(text string) (string, int) { return MaskText(text) }

// MaskText returns an asterisk string preserving the original's display
// width rather than its rune count: a full-width CJK character should
// still read as "wide" in the masked output so reviewers scanning replays
// can't infer script/language from a narrower-than-expected redaction.
func MaskText(text string) (masked string, textLength int) {
	var b strings.Builder
	count := 0
	for _, r := range text {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			b.WriteString("**")
			count += 2
		default:
			b.WriteByte('*')
			count++
		}
	}
	return b.String(), count
}
