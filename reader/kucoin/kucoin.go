// Package kucoin streams the futures level2 increment channel through the
// official universal SDK. Increments arrive one level per message with a
// strictly incrementing sequence, so splicing against the REST snapshot is
// a plain sequence comparison.
package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	appconfig "github.com/Prabhat-190/trade/config"
	"github.com/Prabhat-190/trade/logger"
	"github.com/Prabhat-190/trade/models"
	"github.com/Prabhat-190/trade/reader"

	sdkapi "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	futurespublic "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/futurespublic"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"
)

const (
	defaultEndpoint = "https://api-futures.kucoin.com"
	snapshotPath    = "/api/v1/level2/snapshot"
)

// Source dials KuCoin futures sessions for the configured symbol.
type Source struct {
	config *appconfig.Config
	log    *logger.Log
	client *http.Client
}

func New(cfg *appconfig.Config) *Source {
	return &Source{
		config: cfg,
		log:    logger.GetLogger(),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Source) Name() string { return "kucoin" }

func (s *Source) endpoint() string {
	if s.config.Feed.Kucoin.Endpoint != "" {
		return s.config.Feed.Kucoin.Endpoint
	}
	return defaultEndpoint
}

func (s *Source) Connect(ctx context.Context) (reader.Session, error) {
	symbol := s.config.Feed.Kucoin.Symbol

	sess := &session{
		symbol:   symbol,
		endpoint: s.endpoint(),
		client:   s.client,
		log:      s.log,
		events:   make(chan incrementEvent, 1024),
		closed:   make(chan struct{}),
	}

	transportOpt := sdktype.NewTransportOptionBuilder().
		SetTimeout(10 * time.Second).
		Build()
	option := sdktype.NewClientOptionBuilder().
		WithFuturesEndpoint(s.endpoint()).
		WithTransportOption(transportOpt).
		Build()
	client := sdkapi.NewClient(option)
	ws := client.WsService().NewFuturesPublicWS()

	if err := ws.Start(); err != nil {
		return nil, &reader.ConnectionError{Venue: "kucoin", Op: "dial", Err: err}
	}
	sess.stopWS = func() { ws.Stop() }

	_, err := ws.OrderbookIncrement(symbol, func(topic, subject string, data *futurespublic.OrderbookIncrementEvent) error {
		select {
		case sess.events <- incrementEvent{
			sequence:  data.Sequence,
			change:    data.Change,
			timestamp: data.Timestamp,
		}:
		case <-sess.closed:
		}
		return nil
	})
	if err != nil {
		sess.Close()
		return nil, &reader.ConnectionError{Venue: "kucoin", Op: "subscribe", Err: err}
	}

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

type incrementEvent struct {
	sequence  int64
	change    string
	timestamp int64
}

type session struct {
	symbol   string
	endpoint string
	client   *http.Client
	log      *logger.Log
	stopWS   func()

	events chan incrementEvent

	mu          sync.Mutex
	pending     *models.BookUpdate
	snapshotSeq int64

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
		case <-s.closed:
			return nil, &reader.ConnectionError{Venue: "kucoin", Op: "stream", Err: context.Canceled}
		case evt := <-s.events:
			u, ok := s.convert(evt)
			if !ok {
				continue
			}
			return []models.BookUpdate{u}, nil
		}
	}
}

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
		if s.stopWS != nil {
			s.stopWS()
		}
	})
	return nil
}

// convert maps one increment onto the book update contract. Increments at
// or before the snapshot sequence are discarded.
func (s *session) convert(evt incrementEvent) (models.BookUpdate, bool) {
	s.mu.Lock()
	covered := evt.sequence <= s.snapshotSeq
	s.mu.Unlock()
	if covered {
		return models.BookUpdate{}, false
	}

	change, ok := parseChange(evt.change)
	if !ok {
		return models.BookUpdate{}, false
	}

	return models.BookUpdate{
		Type:         models.UpdateDelta,
		Venue:        "kucoin",
		Symbol:       s.symbol,
		Sequence:     evt.sequence,
		PrevSequence: evt.sequence - 1,
		Timestamp:    time.UnixMilli(evt.timestamp),
		Received:     time.Now(),
		Changes:      []models.LevelChange{change},
	}, true
}

func (s *session) fetchSnapshot(ctx context.Context) (models.BookUpdate, error) {
	url := fmt.Sprintf("%s%s?symbol=%s", s.endpoint, snapshotPath, s.symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.BookUpdate{}, &reader.ConnectionError{Venue: "kucoin", Op: "snapshot", Err: err}
	}
	res, err := s.client.Do(req)
	if err != nil {
		return models.BookUpdate{}, &reader.ConnectionError{Venue: "kucoin", Op: "snapshot", Err: err}
	}
	defer res.Body.Close()

	var resp struct {
		Code string `json:"code"`
		Data struct {
			Sequence int64       `json:"sequence"`
			Bids     [][]float64 `json:"bids"`
			Asks     [][]float64 `json:"asks"`
		} `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return models.BookUpdate{}, &reader.ProtocolError{Venue: "kucoin", Reason: "undecodable snapshot", Err: err}
	}
	if resp.Code != "200000" {
		return models.BookUpdate{}, &reader.ProtocolError{Venue: "kucoin", Reason: fmt.Sprintf("snapshot rejected with code %s", resp.Code)}
	}

	u := models.BookUpdate{
		Type:         models.UpdateSnapshot,
		Venue:        "kucoin",
		Symbol:       s.symbol,
		Sequence:     resp.Data.Sequence,
		PrevSequence: -1,
		Timestamp:    time.Now(),
		Received:     time.Now(),
		Bids:         floatLevels(resp.Data.Bids),
		Asks:         floatLevels(resp.Data.Asks),
	}

	s.mu.Lock()
	s.snapshotSeq = resp.Data.Sequence
	s.mu.Unlock()

	s.log.WithComponent("kucoin_source").WithFields(logger.Fields{
		"symbol":   s.symbol,
		"sequence": resp.Data.Sequence,
		"bids":     len(u.Bids),
		"asks":     len(u.Asks),
	}).Info("level2 snapshot fetched")

	return u, nil
}

func floatLevels(rows [][]float64) []models.PriceLevel {
	levels := make([]models.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		levels = append(levels, models.PriceLevel{Price: row[0], Quantity: row[1]})
	}
	return levels
}

// parseChange splits the "price,side,size" change string. The venue has
// reordered the fields before, so the side token is located by value.
func parseChange(change string) (models.LevelChange, bool) {
	parts := strings.Split(change, ",")
	if len(parts) < 3 {
		return models.LevelChange{}, false
	}

	var side, priceStr, qtyStr string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		switch p {
		case "buy", "sell":
			side = p
		default:
			if priceStr == "" {
				priceStr = p
			} else if qtyStr == "" {
				qtyStr = p
			}
		}
	}
	if side == "" || priceStr == "" || qtyStr == "" {
		return models.LevelChange{}, false
	}

	price, errP := strconv.ParseFloat(priceStr, 64)
	qty, errQ := strconv.ParseFloat(qtyStr, 64)
	if errP != nil || errQ != nil {
		return models.LevelChange{}, false
	}

	c := models.LevelChange{Price: price, Quantity: qty}
	if side == "buy" {
		c.Side = models.BidSide
	} else {
		c.Side = models.AskSide
	}
	return c, true
}
