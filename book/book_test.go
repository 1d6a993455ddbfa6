package book

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/Prabhat-190/trade/models"
)

func snapshotUpdate(seq int64) models.BookUpdate {
	return models.BookUpdate{
		Type:         models.UpdateSnapshot,
		Venue:        "okx",
		Symbol:       "BTC-USDT-SWAP",
		Sequence:     seq,
		PrevSequence: -1,
		Timestamp:    time.Now(),
		Bids: []models.PriceLevel{
			{Price: 44999.5, Quantity: 2},
			{Price: 44999.0, Quantity: 3},
			{Price: 44998.5, Quantity: 5},
		},
		Asks: []models.PriceLevel{
			{Price: 45000.5, Quantity: 1},
			{Price: 45001.0, Quantity: 4},
			{Price: 45001.5, Quantity: 6},
		},
	}
}

func deltaUpdate(seq, prev int64, changes ...models.LevelChange) models.BookUpdate {
	return models.BookUpdate{
		Type:         models.UpdateDelta,
		Venue:        "okx",
		Symbol:       "BTC-USDT-SWAP",
		Sequence:     seq,
		PrevSequence: prev,
		Timestamp:    time.Now(),
		Changes:      changes,
	}
}

func TestApplySnapshotSortsFiltersAndTrims(t *testing.T) {
	b := New("okx", "BTC-USDT-SWAP", 2)

	u := models.BookUpdate{
		Type:     models.UpdateSnapshot,
		Sequence: 1,
		Bids: []models.PriceLevel{
			{Price: 44998.5, Quantity: 5},
			{Price: 44999.5, Quantity: 2},
			{Price: 44990.0, Quantity: 0},
			{Price: 44999.0, Quantity: 3},
		},
		Asks: []models.PriceLevel{
			{Price: 45001.0, Quantity: 4},
			{Price: 45000.5, Quantity: 1},
		},
	}
	if err := b.Apply(u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := b.Snapshot()
	if len(snap.Bids) != 2 || len(snap.Asks) != 2 {
		t.Fatalf("expected sides trimmed to depth 2, got %d/%d", len(snap.Bids), len(snap.Asks))
	}
	if snap.Bids[0].Price != 44999.5 || snap.Bids[1].Price != 44999.0 {
		t.Fatalf("bids not sorted descending: %+v", snap.Bids)
	}
	if snap.Asks[0].Price != 45000.5 || snap.Asks[1].Price != 45001.0 {
		t.Fatalf("asks not sorted ascending: %+v", snap.Asks)
	}
	if !b.Ready() {
		t.Fatal("expected book ready after snapshot")
	}
}

func TestApplyDeltaUpsertAndRemove(t *testing.T) {
	b := New("okx", "BTC-USDT-SWAP", 0)
	if err := b.Apply(snapshotUpdate(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := b.Apply(deltaUpdate(2, -1,
		models.LevelChange{Side: models.BidSide, Price: 44999.5, Quantity: 2.5},
		models.LevelChange{Side: models.AskSide, Price: 45002.0, Quantity: 1.5},
		models.LevelChange{Side: models.BidSide, Price: 44998.5, Quantity: 0},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := b.Snapshot()
	if snap.Bids[0].Quantity != 2.5 {
		t.Fatalf("expected best bid updated to 2.5, got %+v", snap.Bids[0])
	}
	if len(snap.Bids) != 2 {
		t.Fatalf("expected removed bid level, got %+v", snap.Bids)
	}
	if len(snap.Asks) != 4 || snap.Asks[3].Price != 45002.0 {
		t.Fatalf("expected inserted ask level, got %+v", snap.Asks)
	}
	if b.LastSequence() != 2 {
		t.Fatalf("expected sequence 2, got %d", b.LastSequence())
	}
}

func TestZeroQuantityRemovalIdempotent(t *testing.T) {
	b := New("okx", "BTC-USDT-SWAP", 0)
	if err := b.Apply(snapshotUpdate(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := b.Snapshot()

	// Removing a level that was never present must not error and must not
	// change the sides, twice in a row.
	for seq := int64(2); seq <= 3; seq++ {
		err := b.Apply(deltaUpdate(seq, -1,
			models.LevelChange{Side: models.BidSide, Price: 44000.0, Quantity: 0},
		))
		if err != nil {
			t.Fatalf("unexpected error on absent removal: %v", err)
		}
	}

	after := b.Snapshot()
	if !reflect.DeepEqual(before.Bids, after.Bids) || !reflect.DeepEqual(before.Asks, after.Asks) {
		t.Fatalf("sides changed by absent removals: %+v vs %+v", before, after)
	}
	if b.LastSequence() != 3 {
		t.Fatalf("expected sequence to advance to 3, got %d", b.LastSequence())
	}
}

func TestCrossedDeltaRejectedAndStale(t *testing.T) {
	b := New("okx", "BTC-USDT-SWAP", 0)
	if err := b.Apply(snapshotUpdate(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := b.Apply(deltaUpdate(2, -1,
		models.LevelChange{Side: models.BidSide, Price: 45000.5, Quantity: 1},
	))

	var crossedErr *CrossedError
	if !errors.As(err, &crossedErr) {
		t.Fatalf("expected CrossedError, got %v", err)
	}
	if crossedErr.Bid != 45000.5 || crossedErr.Ask != 45000.5 {
		t.Fatalf("unexpected crossed prices: %+v", crossedErr)
	}
	if !b.Stale() {
		t.Fatal("expected book marked stale after crossed update")
	}
	if bid, _ := b.BestBid(); bid.Price != 44999.5 {
		t.Fatalf("expected rejected update to leave state intact, best bid %v", bid.Price)
	}

	// Deltas are refused until a snapshot heals the book.
	if err := b.Apply(deltaUpdate(3, -1)); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady while stale, got %v", err)
	}
	if err := b.Apply(snapshotUpdate(10)); err != nil {
		t.Fatalf("unexpected error on healing snapshot: %v", err)
	}
	if !b.Ready() {
		t.Fatal("expected book ready after healing snapshot")
	}
}

func TestCrossedSnapshotRejected(t *testing.T) {
	b := New("okx", "BTC-USDT-SWAP", 0)

	u := models.BookUpdate{
		Type:     models.UpdateSnapshot,
		Sequence: 1,
		Bids:     []models.PriceLevel{{Price: 100, Quantity: 1}},
		Asks:     []models.PriceLevel{{Price: 99, Quantity: 1}},
	}
	err := b.Apply(u)

	var crossedErr *CrossedError
	if !errors.As(err, &crossedErr) {
		t.Fatalf("expected CrossedError, got %v", err)
	}
	if b.Ready() {
		t.Fatal("expected book not ready after crossed snapshot")
	}
}

func TestSequenceGapMarksStale(t *testing.T) {
	b := New("okx", "BTC-USDT-SWAP", 0)
	if err := b.Apply(snapshotUpdate(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := b.Apply(deltaUpdate(3, -1))
	var gap *GapError
	if !errors.As(err, &gap) {
		t.Fatalf("expected GapError, got %v", err)
	}
	if gap.Expected != 1 || gap.Got != 2 {
		t.Fatalf("unexpected gap detail: %+v", gap)
	}
	if !b.Stale() {
		t.Fatal("expected book marked stale after gap")
	}
}

func TestPrevSequenceLinkage(t *testing.T) {
	b := New("okx", "BTC-USDT-SWAP", 0)
	if err := b.Apply(snapshotUpdate(100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Venues with explicit linkage may jump sequence numbers as long as
	// PrevSequence chains to the last applied update.
	if err := b.Apply(deltaUpdate(205, 100)); err != nil {
		t.Fatalf("expected linked delta accepted, got %v", err)
	}
	if b.LastSequence() != 205 {
		t.Fatalf("expected sequence 205, got %d", b.LastSequence())
	}

	err := b.Apply(deltaUpdate(300, 206))
	var gap *GapError
	if !errors.As(err, &gap) {
		t.Fatalf("expected GapError on broken linkage, got %v", err)
	}
	if gap.Expected != 205 || gap.Got != 206 {
		t.Fatalf("unexpected gap detail: %+v", gap)
	}
}

func TestStaleSequenceDropped(t *testing.T) {
	b := New("okx", "BTC-USDT-SWAP", 0)
	if err := b.Apply(snapshotUpdate(5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, seq := range []int64{5, 4} {
		if err := b.Apply(deltaUpdate(seq, -1)); !errors.Is(err, ErrStaleSequence) {
			t.Fatalf("expected ErrStaleSequence for seq %d, got %v", seq, err)
		}
	}
	if b.Stale() {
		t.Fatal("stale sequences must not invalidate the book")
	}
	if err := b.Apply(deltaUpdate(6, -1)); err != nil {
		t.Fatalf("expected next delta accepted, got %v", err)
	}
}

func TestSnapshotReapplicationIdempotent(t *testing.T) {
	b := New("okx", "BTC-USDT-SWAP", 0)
	u := snapshotUpdate(7)

	if err := b.Apply(u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := b.Snapshot()

	if err := b.Apply(u); err != nil {
		t.Fatalf("unexpected error on re-application: %v", err)
	}
	second := b.Snapshot()

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("snapshot re-application changed state: %+v vs %+v", first, second)
	}
}

func TestOlderSnapshotDroppedWhileHealthy(t *testing.T) {
	b := New("okx", "BTC-USDT-SWAP", 0)
	if err := b.Apply(snapshotUpdate(10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := b.Apply(snapshotUpdate(5)); !errors.Is(err, ErrStaleSequence) {
		t.Fatalf("expected ErrStaleSequence for older snapshot, got %v", err)
	}
	if b.LastSequence() != 10 {
		t.Fatalf("expected book to stay at sequence 10, got %d", b.LastSequence())
	}
}

func TestDeltaBeforeSnapshotNotReady(t *testing.T) {
	b := New("okx", "BTC-USDT-SWAP", 0)

	if err := b.Apply(deltaUpdate(1, -1)); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady before first snapshot, got %v", err)
	}
}

func TestSnapshotCopyOnRead(t *testing.T) {
	b := New("okx", "BTC-USDT-SWAP", 0)
	if err := b.Apply(snapshotUpdate(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := b.Snapshot()
	snap.Bids[0].Quantity = 999

	if bid, _ := b.BestBid(); bid.Quantity != 2 {
		t.Fatalf("mutating a snapshot leaked into the book: %+v", bid)
	}
}

func TestDepth(t *testing.T) {
	b := New("okx", "BTC-USDT-SWAP", 0)
	if err := b.Apply(snapshotUpdate(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bidVol, askVol := b.Depth(2)
	if bidVol != 5 || askVol != 5 {
		t.Fatalf("unexpected top-2 depth: %v/%v", bidVol, askVol)
	}

	bidVol, askVol = b.Depth(0)
	if bidVol != 10 || askVol != 11 {
		t.Fatalf("unexpected full depth: %v/%v", bidVol, askVol)
	}
}

// The book must never be observable crossed: a crossing update is rejected
// and the book is stale instead.
func TestCrossedOrStaleInvariant(t *testing.T) {
	b := New("okx", "BTC-USDT-SWAP", 0)
	updates := []models.BookUpdate{
		snapshotUpdate(1),
		deltaUpdate(2, -1, models.LevelChange{Side: models.BidSide, Price: 45000.0, Quantity: 1}),
		deltaUpdate(3, -1, models.LevelChange{Side: models.AskSide, Price: 45000.0, Quantity: 2}),
		deltaUpdate(4, -1, models.LevelChange{Side: models.BidSide, Price: 45003.0, Quantity: 1}),
		snapshotUpdate(10),
		deltaUpdate(12, -1),
		snapshotUpdate(20),
	}

	for i, u := range updates {
		_ = b.Apply(u)

		bid, okB := b.BestBid()
		ask, okA := b.BestAsk()
		if okB && okA && bid.Price >= ask.Price {
			t.Fatalf("book crossed after update %d: bid %v ask %v", i, bid.Price, ask.Price)
		}
	}

	// The crossing ask at index 2 and the gap at index 5 both invalidated
	// the book; the final snapshot must have healed it.
	if !b.Ready() {
		t.Fatal("expected book ready after final snapshot")
	}
	if b.LastSequence() != 20 {
		t.Fatalf("expected sequence 20, got %d", b.LastSequence())
	}
}
