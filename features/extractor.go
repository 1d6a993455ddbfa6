// Package features derives per-tick model inputs from accepted book updates.
//
// The extractor keeps a bounded history of feature rows and an EWMA estimate
// of mid-price return variance which downstream cost models consume as the
// live volatility.
package features

import (
	"math"
	"sync"

	"github.com/Prabhat-190/trade/config"
	"github.com/Prabhat-190/trade/models"
)

// Extractor computes MarketFeatures from book snapshots. One writer (the
// book keeper) calls Observe; any number of readers call Latest or History.
type Extractor struct {
	cfg config.FeaturesConfig

	mu           sync.RWMutex
	history      []models.MarketFeatures
	next         int
	count        int
	lastMid      float64
	hasMid       bool
	ewmaVariance float64
	observations int
}

// NewExtractor builds an extractor with the given window and decay settings.
// Out-of-range settings fall back to the config defaults.
func NewExtractor(cfg config.FeaturesConfig) *Extractor {
	if cfg.HistorySize < 2 {
		cfg.HistorySize = 2
	}
	if cfg.EwmaDecay <= 0 || cfg.EwmaDecay >= 1 {
		cfg.EwmaDecay = 0.94
	}
	if cfg.ImbalanceLevels <= 0 {
		cfg.ImbalanceLevels = 5
	}
	if cfg.VolatilitySeed < 0 {
		cfg.VolatilitySeed = 0
	}

	return &Extractor{
		cfg:          cfg,
		history:      make([]models.MarketFeatures, cfg.HistorySize),
		ewmaVariance: cfg.VolatilitySeed * cfg.VolatilitySeed,
	}
}

// Observe derives the feature row for one accepted snapshot and appends it to
// the history window. A book with an empty side yields a NoLiquidity row and
// leaves the volatility estimate untouched.
func (e *Extractor) Observe(snap models.OrderBookSnapshot) models.MarketFeatures {
	e.mu.Lock()
	defer e.mu.Unlock()

	row := models.MarketFeatures{
		Venue:     snap.Venue,
		Symbol:    snap.Symbol,
		Sequence:  snap.Sequence,
		Timestamp: snap.Timestamp,
	}

	mid, hasMid := snap.MidPrice()
	if !hasMid {
		row.NoLiquidity = true
	} else {
		row.MidPrice = mid
		row.Spread, _ = snap.Spread()
		row.SpreadBps, _ = snap.SpreadBps()

		if e.hasMid && e.lastMid > 0 && mid > 0 {
			r := math.Log(mid / e.lastMid)
			e.ewmaVariance = e.cfg.EwmaDecay*e.ewmaVariance + (1-e.cfg.EwmaDecay)*r*r
		}
		e.lastMid = mid
		e.hasMid = true
		e.observations++
	}

	row.Imbalance = imbalance(&snap, e.cfg.ImbalanceLevels)
	row.Volatility = math.Sqrt(e.ewmaVariance)
	row.Observations = e.observations

	e.history[e.next] = row
	e.next = (e.next + 1) % len(e.history)
	if e.count < len(e.history) {
		e.count++
	}

	return row
}

// Latest returns the most recently computed feature row.
func (e *Extractor) Latest() (models.MarketFeatures, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.count == 0 {
		return models.MarketFeatures{}, false
	}
	idx := (e.next - 1 + len(e.history)) % len(e.history)
	return e.history[idx], true
}

// History returns up to n retained feature rows in chronological order.
// n <= 0 returns the whole window.
func (e *Extractor) History(n int) []models.MarketFeatures {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if n <= 0 || n > e.count {
		n = e.count
	}

	out := make([]models.MarketFeatures, 0, n)
	start := (e.next - e.count + len(e.history)) % len(e.history)
	for i := e.count - n; i < e.count; i++ {
		out = append(out, e.history[(start+i)%len(e.history)])
	}
	return out
}

// Volatility reports the current EWMA volatility (sigma per tick). Before the
// second mid-price observation this is exactly the configured seed.
func (e *Extractor) Volatility() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return math.Sqrt(e.ewmaVariance)
}

// Observations reports how many mid prices have contributed to the estimate.
func (e *Extractor) Observations() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.observations
}

// imbalance is (bid_volume - ask_volume) / (bid_volume + ask_volume) over the
// top levels of each side. A book with no volume on either side yields 0.
func imbalance(snap *models.OrderBookSnapshot, levels int) float64 {
	bidVol := snap.DepthVolume(models.BidSide, levels)
	askVol := snap.DepthVolume(models.AskSide, levels)
	total := bidVol + askVol
	if total == 0 {
		return 0
	}
	return (bidVol - askVol) / total
}
