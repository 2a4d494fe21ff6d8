// Package recordid synthesizes record IDs that are unique within a batch.
package recordid

import (
	"fmt"
	"strconv"
)

// Format returns the epoch-nanosecond timestamp followed by rank as a 16-bit
// zero-padded binary string. Ranks that need more than 16 bits print in full;
// IDs sharing a timestamp keep the same prefix, so they stay distinct.
func Format(ns int64, rank int) string {
	return strconv.FormatInt(ns, 10) + fmt.Sprintf("%016b", rank)
}

// Sequencer hands out per-timestamp ranks in arrival order.
// Not safe for concurrent use; use one per batch.
type Sequencer struct {
	seen map[int64]int
}

// NewSequencer returns an empty Sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{seen: make(map[int64]int)}
}

// Next returns the ID of the next record with timestamp ns.
func (s *Sequencer) Next(ns int64) string {
	rank := s.seen[ns]
	s.seen[ns] = rank + 1
	return Format(ns, rank)
}
