package hierarchy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/gzip"
)

// Serialize gzips the JSON encoding of a Snapshot for the dispatcher's
// hierarchy lane, the same compression library the event-batch pipeline
// uses (SPEC_FULL.md §B) since this also runs under the UI-adjacent
// scan budget.
func Serialize(snap Snapshot) ([]byte, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal hierarchy snapshot: %w", err)
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("gzip hierarchy snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip hierarchy snapshot: %w", err)
	}
	return buf.Bytes(), nil
}
