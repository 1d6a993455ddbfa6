// Package binance streams the spot diff depth channel. Binance sends no
// snapshot on the stream, so each session fetches one over REST and
// splices it in front of the buffered deltas the way the venue documents:
// events at or before the snapshot id are discarded and the first kept
// event has its linkage clamped to the snapshot.
package binance

import (
	"context"
	"strconv"
	"sync"
	"time"

	appconfig "github.com/Prabhat-190/trade/config"
	"github.com/Prabhat-190/trade/logger"
	"github.com/Prabhat-190/trade/models"
	"github.com/Prabhat-190/trade/reader"

	binance "github.com/adshao/go-binance/v2"
)

const defaultSnapshotLimit = 1000

// Source dials Binance depth sessions for the configured symbol.
type Source struct {
	config *appconfig.Config
	log    *logger.Log
}

func New(cfg *appconfig.Config) *Source {
	return &Source{config: cfg, log: logger.GetLogger()}
}

func (s *Source) Name() string { return "binance" }

func (s *Source) Connect(ctx context.Context) (reader.Session, error) {
	symbol := s.config.Feed.Binance.Symbol

	sess := &session{
		symbol: symbol,
		limit:  s.config.Feed.Binance.SnapshotLimit,
		client: binance.NewClient("", ""),
		log:    s.log,
		events: make(chan *binance.WsDepthEvent, 1024),
		closed: make(chan struct{}),
	}

	handler := func(event *binance.WsDepthEvent) {
		select {
		case sess.events <- event:
		case <-sess.closed:
		}
	}
	errHandler := func(err error) {
		sess.mu.Lock()
		if sess.streamErr == nil {
			sess.streamErr = err
		}
		sess.mu.Unlock()
	}

	doneC, stopC, err := binance.WsDepthServe(symbol, handler, errHandler)
	if err != nil {
		return nil, &reader.ConnectionError{Venue: "binance", Op: "dial", Err: err}
	}
	sess.doneC = doneC
	sess.stopC = stopC

	snap, err := sess.fetchSnapshot(ctx)
	if err != nil {
		sess.Close()
		return nil, err
	}

	sess.mu.Lock()
	sess.pending = &snap
	sess.mu.Unlock()

	return sess, nil
}

type session struct {
	symbol string
	limit  int
	client *binance.Client
	log    *logger.Log

	events chan *binance.WsDepthEvent
	doneC  chan struct{}
	stopC  chan struct{}

	mu          sync.Mutex
	streamErr   error
	pending     *models.BookUpdate
	snapshotSeq int64
	spliced     bool

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *session) Read(ctx context.Context) ([]models.BookUpdate, error) {
	s.mu.Lock()
	if s.pending != nil {
		u := *s.pending
		s.pending = nil
		s.mu.Unlock()
		return []models.BookUpdate{u}, nil
	}
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.doneC:
			return nil, &reader.ConnectionError{Venue: "binance", Op: "stream", Err: s.takeStreamErr()}
		case evt := <-s.events:
			u, ok := s.convert(evt)
			if !ok {
				continue
			}
			return []models.BookUpdate{u}, nil
		}
	}
}

// Resync fetches a fresh REST snapshot and resets the splice state so the
// next stream event links against it.
func (s *session) Resync(ctx context.Context) (models.BookUpdate, bool, error) {
	snap, err := s.fetchSnapshot(ctx)
	if err != nil {
		return models.BookUpdate{}, false, err
	}
	return snap, true, nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		close(s.stopC)
	})
	return nil
}

func (s *session) takeStreamErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamErr != nil {
		return s.streamErr
	}
	return context.Canceled
}

func (s *session) fetchSnapshot(ctx context.Context) (models.BookUpdate, error) {
	limit := s.limit
	if limit <= 0 {
		limit = defaultSnapshotLimit
	}

	res, err := s.client.NewDepthService().Symbol(s.symbol).Limit(limit).Do(ctx)
	if err != nil {
		return models.BookUpdate{}, &reader.ConnectionError{Venue: "binance", Op: "snapshot", Err: err}
	}

	u := models.BookUpdate{
		Type:         models.UpdateSnapshot,
		Venue:        "binance",
		Symbol:       s.symbol,
		Sequence:     res.LastUpdateID,
		PrevSequence: -1,
		Timestamp:    time.Now(),
		Received:     time.Now(),
	}
	for _, b := range res.Bids {
		appendLevel(&u.Bids, b.Price, b.Quantity)
	}
	for _, a := range res.Asks {
		appendLevel(&u.Asks, a.Price, a.Quantity)
	}

	s.mu.Lock()
	s.snapshotSeq = res.LastUpdateID
	s.spliced = false
	s.mu.Unlock()

	s.log.WithComponent("binance_source").WithFields(logger.Fields{
		"symbol":   s.symbol,
		"sequence": res.LastUpdateID,
		"bids":     len(u.Bids),
		"asks":     len(u.Asks),
	}).Info("depth snapshot fetched")

	return u, nil
}

// convert maps one depth event onto the book update contract. Events fully
// covered by the snapshot are discarded; the first kept event after a
// snapshot may overlap it, so its linkage is clamped to the snapshot
// sequence.
func (s *session) convert(evt *binance.WsDepthEvent) (models.BookUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.LastUpdateID <= s.snapshotSeq {
		return models.BookUpdate{}, false
	}

	prev := evt.FirstUpdateID - 1
	if !s.spliced {
		if evt.FirstUpdateID <= s.snapshotSeq+1 {
			prev = s.snapshotSeq
		}
		s.spliced = true
	}

	u := models.BookUpdate{
		Type:         models.UpdateDelta,
		Venue:        "binance",
		Symbol:       s.symbol,
		Sequence:     evt.LastUpdateID,
		PrevSequence: prev,
		Timestamp:    time.UnixMilli(evt.Time),
		Received:     time.Now(),
	}
	u.Changes = make([]models.LevelChange, 0, len(evt.Bids)+len(evt.Asks))
	for _, b := range evt.Bids {
		appendChange(&u.Changes, models.BidSide, b.Price, b.Quantity)
	}
	for _, a := range evt.Asks {
		appendChange(&u.Changes, models.AskSide, a.Price, a.Quantity)
	}
	return u, true
}

func appendLevel(dst *[]models.PriceLevel, price, qty string) {
	p, errP := strconv.ParseFloat(price, 64)
	q, errQ := strconv.ParseFloat(qty, 64)
	if errP != nil || errQ != nil {
		return
	}
	*dst = append(*dst, models.PriceLevel{Price: p, Quantity: q})
}

func appendChange(dst *[]models.LevelChange, side, price, qty string) {
	p, errP := strconv.ParseFloat(price, 64)
	q, errQ := strconv.ParseFloat(qty, 64)
	if errP != nil || errQ != nil {
		return
	}
	*dst = append(*dst, models.LevelChange{Side: side, Price: p, Quantity: q})
}
