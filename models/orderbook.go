package models

import (
	"time"
)

// Book sides and order sides as they appear on the wire and in requests.
const (
	BidSide = "bid"
	AskSide = "ask"

	OrderBuy  = "buy"
	OrderSell = "sell"
)

// UpdateType distinguishes full-book snapshots from incremental deltas.
type UpdateType int

const (
	UpdateSnapshot UpdateType = iota
	UpdateDelta
)

func (t UpdateType) String() string {
	switch t {
	case UpdateSnapshot:
		return "snapshot"
	case UpdateDelta:
		return "delta"
	default:
		return "unknown"
	}
}

// PriceLevel represents a single price level in the orderbook. A level with
// quantity zero is absent from the book, never stored.
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// LevelChange is one (side, price, quantity) mutation carried by a delta
// update. Quantity zero removes the level.
type LevelChange struct {
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// BookUpdate is the normalized form of one feed frame, either a full
// snapshot (Bids/Asks populated) or a delta (Changes populated). Sequence
// numbering is venue-native; PrevSequence is -1 when the venue provides no
// explicit linkage and continuity is Sequence == last+1.
type BookUpdate struct {
	Type         UpdateType
	Venue        string
	Symbol       string
	Sequence     int64
	PrevSequence int64
	Timestamp    time.Time
	Bids         []PriceLevel
	Asks         []PriceLevel
	Changes      []LevelChange
	Received     time.Time
}

// OrderBookSnapshot is a point-in-time copy of the book: bids sorted
// descending, asks ascending, prices unique within a side. Read-only to
// every consumer.
type OrderBookSnapshot struct {
	Venue     string       `json:"venue"`
	Symbol    string       `json:"symbol"`
	Sequence  int64        `json:"sequence"`
	Timestamp time.Time    `json:"timestamp"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// BestBid returns the highest bid, if any.
func (s *OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (s *OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// MidPrice returns (best_bid + best_ask) / 2. The second return is false
// when either side is empty.
func (s *OrderBookSnapshot) MidPrice() (float64, bool) {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// Spread returns best_ask - best_bid, false when either side is empty.
func (s *OrderBookSnapshot) Spread() (float64, bool) {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// SpreadBps returns the spread expressed in basis points of the mid price.
func (s *OrderBookSnapshot) SpreadBps() (float64, bool) {
	spread, ok := s.Spread()
	if !ok {
		return 0, false
	}
	mid, _ := s.MidPrice()
	if mid <= 0 {
		return 0, false
	}
	return spread / mid * 10000, true
}

// DepthVolume sums quantities over the top `levels` price levels of one
// side. Levels <= 0 sums the whole side.
func (s *OrderBookSnapshot) DepthVolume(side string, levels int) float64 {
	var src []PriceLevel
	if side == BidSide {
		src = s.Bids
	} else {
		src = s.Asks
	}
	if levels <= 0 || levels > len(src) {
		levels = len(src)
	}
	var total float64
	for _, lvl := range src[:levels] {
		total += lvl.Quantity
	}
	return total
}

// VWAP walks the book for a hypothetical order of `quantity` base units
// (buys consume asks, sells consume bids) and returns the volume-weighted
// execution price together with the quantity actually available. Callers
// detect insufficient depth by filled < quantity.
func (s *OrderBookSnapshot) VWAP(orderSide string, quantity float64) (price float64, filled float64) {
	if quantity <= 0 {
		return 0, 0
	}
	src := s.Asks
	if orderSide == OrderSell {
		src = s.Bids
	}
	var cost float64
	remaining := quantity
	for _, lvl := range src {
		take := lvl.Quantity
		if take > remaining {
			take = remaining
		}
		cost += take * lvl.Price
		filled += take
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	if filled == 0 {
		return 0, 0
	}
	return cost / filled, filled
}
