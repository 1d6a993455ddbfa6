// Package book maintains the live L2 order book and the single goroutine
// that is allowed to mutate it.
package book

import (
	"fmt"
	"sort"
	"time"

	"github.com/Prabhat-190/trade/models"
)

// Book is the in-memory L2 state for one venue and symbol. Sides are
// contiguous sorted slices: bids descending, asks ascending, prices unique
// within a side. Book is not safe for concurrent use; the Keeper is its
// single writer and every reader receives copies via Snapshot.
type Book struct {
	venue    string
	symbol   string
	maxDepth int

	bids []models.PriceLevel
	asks []models.PriceLevel

	lastSequence int64
	lastTime     time.Time
	ready        bool
	stale        bool
}

// New builds an empty book. maxDepth bounds the per-side levels retained
// from snapshots; zero keeps everything the feed sends.
func New(venue, symbol string, maxDepth int) *Book {
	return &Book{venue: venue, symbol: symbol, maxDepth: maxDepth}
}

// Ready reports whether a snapshot has been applied and no gap or crossed
// update has invalidated the state since.
func (b *Book) Ready() bool { return b.ready && !b.stale }

// Stale reports whether the book is waiting for resynchronization.
func (b *Book) Stale() bool { return b.stale }

// LastSequence returns the sequence of the last applied update.
func (b *Book) LastSequence() int64 { return b.lastSequence }

// Apply applies one normalized update. Snapshots replace the book
// wholesale; deltas mutate level by level. A gap or a crossed result
// rejects the update, leaves the previous state intact and marks the book
// stale until the next valid snapshot.
func (b *Book) Apply(u models.BookUpdate) error {
	switch u.Type {
	case models.UpdateSnapshot:
		return b.applySnapshot(u)
	case models.UpdateDelta:
		return b.applyDelta(u)
	default:
		return fmt.Errorf("unknown update type %d", u.Type)
	}
}

func (b *Book) applySnapshot(u models.BookUpdate) error {
	// Re-applying the current snapshot is idempotent; an older one while
	// the book is healthy is dropped.
	if b.Ready() && u.Sequence < b.lastSequence {
		return ErrStaleSequence
	}

	bids := sortedSide(u.Bids, true, b.maxDepth)
	asks := sortedSide(u.Asks, false, b.maxDepth)

	if crossed(bids, asks) {
		b.stale = true
		return &CrossedError{Bid: bids[0].Price, Ask: asks[0].Price}
	}

	b.bids = bids
	b.asks = asks
	b.lastSequence = u.Sequence
	b.lastTime = u.Timestamp
	b.ready = true
	b.stale = false
	return nil
}

func (b *Book) applyDelta(u models.BookUpdate) error {
	if !b.ready || b.stale {
		return ErrNotReady
	}
	if u.Sequence <= b.lastSequence {
		return ErrStaleSequence
	}

	// Continuity: explicit PrevSequence linkage when the venue provides
	// one, plain increments otherwise.
	if u.PrevSequence >= 0 {
		if u.PrevSequence != b.lastSequence {
			b.stale = true
			return &GapError{Expected: b.lastSequence, Got: u.PrevSequence}
		}
	} else if u.Sequence != b.lastSequence+1 {
		b.stale = true
		return &GapError{Expected: b.lastSequence, Got: u.Sequence - 1}
	}

	bids := append([]models.PriceLevel(nil), b.bids...)
	asks := append([]models.PriceLevel(nil), b.asks...)

	for _, c := range u.Changes {
		switch c.Side {
		case models.BidSide:
			bids = applyChange(bids, c.Price, c.Quantity, true)
		case models.AskSide:
			asks = applyChange(asks, c.Price, c.Quantity, false)
		}
	}

	if crossed(bids, asks) {
		b.stale = true
		return &CrossedError{Bid: bids[0].Price, Ask: asks[0].Price}
	}

	b.bids = bids
	b.asks = asks
	b.lastSequence = u.Sequence
	b.lastTime = u.Timestamp
	return nil
}

// Snapshot returns a point-in-time copy of the book. The returned slices
// are owned by the caller.
func (b *Book) Snapshot() models.OrderBookSnapshot {
	bids := make([]models.PriceLevel, len(b.bids))
	copy(bids, b.bids)
	asks := make([]models.PriceLevel, len(b.asks))
	copy(asks, b.asks)

	return models.OrderBookSnapshot{
		Venue:     b.venue,
		Symbol:    b.symbol,
		Sequence:  b.lastSequence,
		Timestamp: b.lastTime,
		Bids:      bids,
		Asks:      asks,
	}
}

// BestBid returns the highest bid, if any.
func (b *Book) BestBid() (models.PriceLevel, bool) {
	if len(b.bids) == 0 {
		return models.PriceLevel{}, false
	}
	return b.bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (b *Book) BestAsk() (models.PriceLevel, bool) {
	if len(b.asks) == 0 {
		return models.PriceLevel{}, false
	}
	return b.asks[0], true
}

// Depth sums the quantities over the top levels of each side. levels <= 0
// covers the whole side.
func (b *Book) Depth(levels int) (bidVolume, askVolume float64) {
	return sideVolume(b.bids, levels), sideVolume(b.asks, levels)
}

func sideVolume(levels []models.PriceLevel, n int) float64 {
	if n <= 0 || n > len(levels) {
		n = len(levels)
	}
	var total float64
	for _, l := range levels[:n] {
		total += l.Quantity
	}
	return total
}

func crossed(bids, asks []models.PriceLevel) bool {
	return len(bids) > 0 && len(asks) > 0 && bids[0].Price >= asks[0].Price
}

// sortedSide copies, filters zero quantities, sorts and trims one side of a
// snapshot payload.
func sortedSide(levels []models.PriceLevel, descending bool, maxDepth int) []models.PriceLevel {
	out := make([]models.PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.Quantity > 0 {
			out = append(out, l)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})

	if maxDepth > 0 && len(out) > maxDepth {
		out = out[:maxDepth]
	}
	return out
}

// applyChange upserts or removes one price level in a sorted side. Removing
// an absent level is a no-op.
func applyChange(levels []models.PriceLevel, price, qty float64, descending bool) []models.PriceLevel {
	idx := sort.Search(len(levels), func(i int) bool {
		if descending {
			return levels[i].Price <= price
		}
		return levels[i].Price >= price
	})
	exists := idx < len(levels) && levels[idx].Price == price

	switch {
	case qty <= 0 && exists:
		return append(levels[:idx], levels[idx+1:]...)
	case qty <= 0:
		return levels
	case exists:
		levels[idx].Quantity = qty
		return levels
	default:
		levels = append(levels, models.PriceLevel{})
		copy(levels[idx+1:], levels[idx:])
		levels[idx] = models.PriceLevel{Price: price, Quantity: qty}
		return levels
	}
}
