package book

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appconfig "github.com/Prabhat-190/trade/config"
	"github.com/Prabhat-190/trade/features"
	"github.com/Prabhat-190/trade/internal/channel"
	"github.com/Prabhat-190/trade/internal/metrics"
	"github.com/Prabhat-190/trade/latency"
	"github.com/Prabhat-190/trade/logger"
	"github.com/Prabhat-190/trade/models"
)

// Keeper is the single writer of the order book. It consumes normalized
// updates from the shared channel in arrival order, applies them, derives
// features, records tick latency and publishes read-only snapshots. When a
// gap or crossed update invalidates the book it signals the transport to
// resynchronize.
type Keeper struct {
	config   *appconfig.Config
	channels *channel.Channels
	book     *Book
	features *features.Extractor
	ticks    *latency.Tracker
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	venue  string
	symbol string

	// Published state, guarded by mu. The book itself is touched only by
	// the run goroutine; readers see its readiness through this cache.
	latest     models.OrderBookSnapshot
	hasLatest  bool
	ready      bool
	lastAccept time.Time
	lastResync time.Time

	resync chan string
}

// NewKeeper creates the keeper for the configured feed source.
func NewKeeper(cfg *appconfig.Config, channels *channel.Channels, extractor *features.Extractor, ticks *latency.Tracker) *Keeper {
	venue := cfg.Feed.Source
	symbol := cfg.FeedSymbol()

	return &Keeper{
		config:   cfg,
		channels: channels,
		book:     New(venue, symbol, cfg.Book.MaxDepth),
		features: extractor,
		ticks:    ticks,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		venue:    venue,
		symbol:   symbol,
		resync:   make(chan string, 1),
	}
}

// Start launches the apply loop and the periodic status reporter.
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	if k.running {
		k.mu.Unlock()
		return fmt.Errorf("book keeper already running")
	}
	k.running = true
	k.ctx = ctx
	k.mu.Unlock()

	log := k.log.WithComponent("book_keeper").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting book keeper")

	k.wg.Add(1)
	go k.run()

	k.wg.Add(1)
	go k.statusReporter()

	log.Info("book keeper started successfully")
	return nil
}

// Stop waits for the apply loop to drain.
func (k *Keeper) Stop() {
	k.mu.Lock()
	k.running = false
	k.mu.Unlock()

	k.log.WithComponent("book_keeper").Info("stopping book keeper")
	k.wg.Wait()
	k.log.WithComponent("book_keeper").Info("book keeper stopped")
}

// ResyncSignal delivers one reason string per requested resynchronization.
// The transport owning the connection consumes it.
func (k *Keeper) ResyncSignal() <-chan string { return k.resync }

// Ready reports whether estimates may be served from the current book.
func (k *Keeper) Ready() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.hasLatest && k.ready
}

// LatestSnapshot returns the snapshot published after the last accepted
// update. The snapshot and its slices are read-only shared copies.
func (k *Keeper) LatestSnapshot() (models.OrderBookSnapshot, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.latest, k.hasLatest
}

func (k *Keeper) run() {
	defer k.wg.Done()

	for {
		select {
		case <-k.ctx.Done():
			return
		case u, ok := <-k.channels.Updates:
			if !ok {
				return
			}
			k.handleUpdate(u)
		}
	}
}

func (k *Keeper) handleUpdate(u models.BookUpdate) {
	log := k.log.WithComponent("book_keeper").WithFields(logger.Fields{
		"venue":    u.Venue,
		"symbol":   u.Symbol,
		"type":     u.Type.String(),
		"sequence": u.Sequence,
	})

	start := time.Now()

	err := k.book.Apply(u)
	if err == nil {
		snap := k.book.Snapshot()
		k.features.Observe(snap)

		k.mu.Lock()
		if !k.lastAccept.IsZero() {
			metrics.SetBookStaleness(k.venue, float64(start.Sub(k.lastAccept).Microseconds())/1000)
		}
		k.latest = snap
		k.hasLatest = true
		k.ready = k.book.Ready()
		k.lastAccept = start
		k.mu.Unlock()

		elapsed := time.Since(start)
		k.ticks.Record(elapsed)
		metrics.ObserveApplyLatency(k.venue, elapsed.Seconds())
		logger.IncrementUpdateApplied()
		return
	}

	var gap *GapError
	var crossed *CrossedError
	switch {
	case errors.As(err, &gap):
		log.WithFields(logger.Fields{
			"book_sequence": gap.Expected,
			"delta_follows": gap.Got,
		}).Warn("sequence gap detected, requesting resync")
		logger.IncrementGap()
		metrics.IncrementGap(k.venue)
		k.invalidate()
		k.requestResync("sequence_gap")

	case errors.As(err, &crossed):
		log.WithFields(logger.Fields{
			"best_bid": crossed.Bid,
			"best_ask": crossed.Ask,
		}).Warn("crossed book update rejected, requesting resync")
		metrics.IncrementCrossed(k.venue)
		k.invalidate()
		k.requestResync("crossed_book")

	case errors.Is(err, ErrStaleSequence):
		metrics.IncrementFrameDropped(k.venue, "stale_sequence")
		log.Debug("stale sequence dropped")

	case errors.Is(err, ErrNotReady):
		metrics.IncrementFrameDropped(k.venue, "pre_snapshot")
		log.Debug("delta dropped while book awaits snapshot")

	default:
		log.WithError(err).Error("failed to apply book update")
	}
}

// invalidate stops serving estimates until a fresh snapshot is applied.
func (k *Keeper) invalidate() {
	k.mu.Lock()
	k.hasLatest = false
	k.ready = false
	k.mu.Unlock()
}

func (k *Keeper) requestResync(reason string) {
	k.mu.Lock()
	cooldown := k.config.Book.ResyncCooldown
	if cooldown > 0 && time.Since(k.lastResync) < cooldown {
		k.mu.Unlock()
		return
	}
	k.lastResync = time.Now()
	k.mu.Unlock()

	select {
	case k.resync <- reason:
		logger.IncrementResync()
		metrics.IncrementResync(k.venue)
		k.log.WithComponent("book_keeper").WithFields(logger.Fields{"reason": reason}).Info("resync requested")
	default:
		// A resync request is already pending.
	}
}

func (k *Keeper) statusReporter() {
	defer k.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-k.ctx.Done():
			return
		case <-ticker.C:
			k.mu.RLock()
			running := k.running
			k.mu.RUnlock()
			if !running {
				return
			}

			snap, ok := k.LatestSnapshot()
			k.log.WithComponent("book_keeper").WithFields(logger.Fields{
				"ready":          k.Ready(),
				"has_snapshot":   ok,
				"sequence":       snap.Sequence,
				"bid_levels":     len(snap.Bids),
				"ask_levels":     len(snap.Asks),
				"update_backlog": len(k.channels.Updates),
			}).Info("book keeper status")
		}
	}
}
