package book

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady rejects deltas arriving before the first snapshot or
	// while the book is stale and waiting for resynchronization.
	ErrNotReady = errors.New("order book not ready")
	// ErrStaleSequence rejects updates carrying an already-applied
	// sequence number.
	ErrStaleSequence = errors.New("stale sequence")
)

// GapError reports a delta that does not follow the last applied update.
// Expected is the sequence the book last applied; Got is the sequence the
// rejected delta claimed to follow (its PrevSequence, or Sequence-1 for
// feeds without explicit linkage).
type GapError struct {
	Expected int64
	Got      int64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("sequence gap: book at %d, delta follows %d", e.Expected, e.Got)
}

// CrossedError reports an update whose application would leave the best bid
// at or above the best ask.
type CrossedError struct {
	Bid float64
	Ask float64
}

func (e *CrossedError) Error() string {
	return fmt.Sprintf("crossed book: bid %v >= ask %v", e.Bid, e.Ask)
}
