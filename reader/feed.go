package reader

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "github.com/Prabhat-190/trade/config"
	"github.com/Prabhat-190/trade/internal/channel"
	"github.com/Prabhat-190/trade/internal/metrics"
	"github.com/Prabhat-190/trade/logger"
	"github.com/Prabhat-190/trade/models"
)

// Feed drives one venue source: it dials sessions, pushes every accepted
// update into the update channel and services resync requests from the
// book keeper. Delta sends block when the channel is full so backpressure
// never drops data; only updates that rewind the sequence are dropped.
type Feed struct {
	config   *appconfig.Config
	channels *channel.Channels
	source   Source
	resync   <-chan string
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	venue  string
	symbol string

	state  ConnState
	events chan StateEvent

	// Sequence tracking is owned by the run goroutine.
	lastSeq      int64
	seenSnapshot bool

	forwarded int64
	dropped   int64
}

// NewFeed wires a feed for the configured venue. The resync channel is the
// book keeper's resynchronization signal.
func NewFeed(cfg *appconfig.Config, ch *channel.Channels, source Source, resync <-chan string) *Feed {
	return &Feed{
		config:   cfg,
		channels: ch,
		source:   source,
		resync:   resync,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		venue:    cfg.Feed.Source,
		symbol:   cfg.FeedSymbol(),
		state:    StateDisconnected,
		events:   make(chan StateEvent, 16),
	}
}

// Start launches the connection loop.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("feed already running")
	}
	f.running = true
	f.ctx = ctx
	f.mu.Unlock()

	log := f.log.WithComponent("feed").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"venue":  f.venue,
		"symbol": f.symbol,
		"source": f.source.Name(),
	}).Info("starting feed")

	f.wg.Add(1)
	go f.run()

	f.wg.Add(1)
	go f.statusReporter()

	log.Info("feed started successfully")
	return nil
}

// Stop waits for the connection loop to exit.
func (f *Feed) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	f.log.WithComponent("feed").Info("stopping feed")
	f.wg.Wait()
	f.log.WithComponent("feed").Info("feed stopped")
}

// State returns the current connection state.
func (f *Feed) State() ConnState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Events exposes connection state transitions. The channel is buffered and
// transitions are dropped when no one drains it; State always holds the
// current value.
func (f *Feed) Events() <-chan StateEvent { return f.events }

func (f *Feed) run() {
	defer f.wg.Done()

	backoff := NewBackoff(f.config.Feed.Backoff)
	maxAttempts := f.config.Feed.Backoff.MaxAttempts
	log := f.log.WithComponent("feed").WithFields(logger.Fields{
		"venue":  f.venue,
		"symbol": f.symbol,
	})

	for {
		if f.ctx.Err() != nil {
			f.setState(StateDisconnected, "shutdown")
			return
		}
		if maxAttempts > 0 && backoff.Attempts() >= maxAttempts {
			log.WithFields(logger.Fields{"attempts": backoff.Attempts()}).Error("connection attempts exhausted, feed giving up")
			f.setState(StateDisconnected, "attempts exhausted")
			return
		}

		f.setState(StateConnecting, "")
		sess, err := f.source.Connect(f.ctx)
		if err != nil {
			if f.ctx.Err() != nil {
				f.setState(StateDisconnected, "shutdown")
				return
			}
			metrics.IncrementReconnect(f.venue, "dial_error")
			delay := backoff.Next()
			log.WithError(err).WithFields(logger.Fields{
				"attempt":  backoff.Attempts(),
				"retry_in": delay.String(),
			}).Warn("connection failed")
			if !f.sleep(delay, err.Error()) {
				return
			}
			continue
		}

		backoff.Reset()
		f.lastSeq = -1
		f.seenSnapshot = false
		f.setState(StateConnected, "")
		log.Info("feed connected")

		err = f.consume(sess)
		if f.ctx.Err() != nil {
			f.setState(StateDisconnected, "shutdown")
			return
		}

		metrics.IncrementReconnect(f.venue, "stream_error")
		delay := backoff.Next()
		log.WithError(err).WithFields(logger.Fields{"retry_in": delay.String()}).Warn("stream interrupted, reconnecting")
		if !f.sleep(delay, err.Error()) {
			return
		}
	}
}

// sleep waits out a backoff delay. It returns false when the context ended
// during the wait.
func (f *Feed) sleep(delay time.Duration, reason string) bool {
	f.setState(StateBackoff, reason)
	select {
	case <-time.After(delay):
		return true
	case <-f.ctx.Done():
		f.setState(StateDisconnected, "shutdown")
		return false
	}
}

// consume pumps one session until it fails or the context ends. A nil
// return means shutdown; any error makes the caller reconnect.
func (f *Feed) consume(sess Session) error {
	type readResult struct {
		updates []models.BookUpdate
		err     error
	}

	reads := make(chan readResult)
	readCtx, cancel := context.WithCancel(f.ctx)

	var pump sync.WaitGroup
	pump.Add(1)
	go func() {
		defer pump.Done()
		for {
			updates, err := sess.Read(readCtx)
			select {
			case reads <- readResult{updates: updates, err: err}:
			case <-readCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	// Closing the session unblocks a Read the pump is stuck in.
	defer pump.Wait()
	defer sess.Close()
	defer cancel()

	log := f.log.WithComponent("feed").WithFields(logger.Fields{"venue": f.venue, "symbol": f.symbol})

	for {
		select {
		case <-f.ctx.Done():
			return nil

		case reason := <-f.resync:
			log.WithFields(logger.Fields{"reason": reason}).Info("resynchronizing book")
			snap, direct, err := sess.Resync(f.ctx)
			if err != nil {
				return fmt.Errorf("resync failed: %w", err)
			}
			if direct {
				f.forward(snap)
			}

		case res := <-reads:
			if res.err != nil {
				return res.err
			}
			for _, u := range res.updates {
				f.forward(u)
			}
		}
	}
}

// forward applies the transport dedup policy and hands the update to the
// book keeper. Snapshots always pass and reset the sequence watermark;
// deltas that do not move the sequence forward are dropped.
func (f *Feed) forward(u models.BookUpdate) {
	if u.Received.IsZero() {
		u.Received = time.Now()
	}

	switch u.Type {
	case models.UpdateSnapshot:
		f.lastSeq = u.Sequence
		f.seenSnapshot = true
	case models.UpdateDelta:
		if !f.seenSnapshot {
			metrics.IncrementFrameDropped(f.venue, "pre_snapshot")
			metrics.EmitDropMetric(f.log, metrics.DropMetricPreSnapshot, f.venue, f.symbol, "transport")
			f.countDrop()
			return
		}
		if u.Sequence <= f.lastSeq {
			metrics.IncrementFrameDropped(f.venue, "stale_sequence")
			metrics.EmitDropMetric(f.log, metrics.DropMetricStaleSequence, f.venue, f.symbol, "transport")
			f.countDrop()
			return
		}
		f.lastSeq = u.Sequence
	}

	metrics.IncrementFrame(f.venue, u.Type.String())
	if f.channels.SendUpdate(f.ctx, u) {
		f.mu.Lock()
		f.forwarded++
		f.mu.Unlock()
	}
}

func (f *Feed) countDrop() {
	f.mu.Lock()
	f.dropped++
	f.mu.Unlock()
}

func (f *Feed) setState(state ConnState, reason string) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()

	metrics.SetConnState(f.venue, int(state))
	f.log.WithComponent("feed").WithFields(logger.Fields{
		"venue":  f.venue,
		"state":  state.String(),
		"reason": reason,
	}).Info("connection state changed")

	select {
	case f.events <- StateEvent{State: state, Reason: reason, At: time.Now()}:
	default:
	}
}

func (f *Feed) statusReporter() {
	defer f.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			f.mu.RLock()
			running := f.running
			state := f.state
			forwarded := f.forwarded
			dropped := f.dropped
			f.mu.RUnlock()
			if !running {
				return
			}

			f.log.WithComponent("feed").WithFields(logger.Fields{
				"venue":          f.venue,
				"state":          state.String(),
				"forwarded":      forwarded,
				"dropped":        dropped,
				"update_backlog": len(f.channels.Updates),
			}).Info("feed status")
		}
	}
}
