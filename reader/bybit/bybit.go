// Package bybit streams the linear futures order book over the venue's
// public v5 websocket. Subscribing to an orderbook topic makes the venue
// replay a full snapshot before deltas, so resynchronization is a fresh
// subscription on the live socket.
package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	appconfig "github.com/Prabhat-190/trade/config"
	"github.com/Prabhat-190/trade/internal/metrics"
	"github.com/Prabhat-190/trade/logger"
	"github.com/Prabhat-190/trade/models"
	"github.com/Prabhat-190/trade/reader"

	bybit "github.com/bybit-exchange/bybit.go.api"
)

const (
	defaultWSURL = "wss://stream.bybit.com/v5/public/linear"
	defaultDepth = 50
)

var errMalformed = errors.New("malformed frame")

// Source dials Bybit websocket sessions for the configured symbol.
type Source struct {
	config *appconfig.Config
	log    *logger.Log
}

func New(cfg *appconfig.Config) *Source {
	return &Source{config: cfg, log: logger.GetLogger()}
}

func (s *Source) Name() string { return "bybit" }

func (s *Source) wsURL() string {
	if s.config.Feed.Bybit.URL != "" {
		return s.config.Feed.Bybit.URL
	}
	return defaultWSURL
}

func (s *Source) depth() int {
	if s.config.Feed.Bybit.Depth > 0 {
		return s.config.Feed.Bybit.Depth
	}
	return defaultDepth
}

// Connect opens the websocket and subscribes to the orderbook topic. The
// venue answers the subscription with a full snapshot frame.
func (s *Source) Connect(ctx context.Context) (reader.Session, error) {
	symbol := s.config.Feed.Bybit.Symbol
	topic := fmt.Sprintf("orderbook.%d.%s", s.depth(), symbol)

	sess := &session{
		symbol:      symbol,
		topic:       topic,
		readTimeout: s.config.Feed.ReadTimeout,
		log:         s.log,
		frames:      make(chan string, 1024),
		closed:      make(chan struct{}),
	}

	handler := func(message string) error {
		select {
		case sess.frames <- message:
		case <-sess.closed:
		}
		return nil
	}

	ws := bybit.NewBybitPublicWebSocket(s.wsURL(), handler)
	conn := ws.Connect()
	conn.SendSubscription([]string{topic})

	sess.resubscribe = func() { conn.SendSubscription([]string{topic}) }
	sess.disconnect = func() { ws.Disconnect() }

	s.log.WithComponent("bybit_source").WithFields(logger.Fields{
		"symbol": symbol,
		"topic":  topic,
	}).Info("subscribed to orderbook stream")

	return sess, nil
}

type session struct {
	symbol      string
	topic       string
	readTimeout time.Duration
	log         *logger.Log

	resubscribe func()
	disconnect  func()

	frames    chan string
	closeOnce sync.Once
	closed    chan struct{}

	// Sequence rebasing state, owned by the Read caller.
	seqOffset int64
	lastSeq   int64
}

// Read drains the handler channel and converts frames to book updates.
// The socket is owned by the SDK, so stream liveness is bounded here with
// a read deadline instead of on the connection.
func (s *session) Read(ctx context.Context) ([]models.BookUpdate, error) {
	var deadline <-chan time.Time
	if s.readTimeout > 0 {
		timer := time.NewTimer(s.readTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, &reader.ConnectionError{Venue: "bybit", Op: "stream", Err: context.Canceled}
		case <-deadline:
			return nil, &reader.ConnectionError{
				Venue: "bybit",
				Op:    "read",
				Err:   fmt.Errorf("no frame within %s", s.readTimeout),
			}
		case msg := <-s.frames:
			logger.IncrementFrameRead(len(msg))

			u, ok, err := parseMessage(s.symbol, msg)
			if err != nil {
				if errors.Is(err, errMalformed) {
					metrics.EmitDropMetric(s.log, metrics.DropMetricMalformed, "bybit", s.symbol, "parse")
					continue
				}
				return nil, err
			}
			if !ok || !s.rebase(&u) {
				continue
			}
			return []models.BookUpdate{u}, nil
		}
	}
}

// rebase maps venue update ids onto a session-monotone sequence. The venue
// restarts update ids from one after a service restart and replays a
// snapshot that must overwrite local state, so raw ids can move backwards
// across snapshots.
func (s *session) rebase(u *models.BookUpdate) bool {
	seq := s.seqOffset + u.Sequence
	if u.Type == models.UpdateSnapshot {
		if seq <= s.lastSeq {
			s.seqOffset = s.lastSeq + 1 - u.Sequence
			seq = s.seqOffset + u.Sequence
		}
	} else if seq <= s.lastSeq {
		return false
	}
	u.Sequence = seq
	s.lastSeq = seq
	return true
}

// Resync subscribes to the topic again on the live socket; the venue
// responds with a fresh snapshot on the stream.
func (s *session) Resync(ctx context.Context) (models.BookUpdate, bool, error) {
	s.resubscribe()
	return models.BookUpdate{}, false, nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.disconnect()
	})
	return nil
}

type bookMessage struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Ts      int64  `json:"ts"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Op      string `json:"op"`
	Data    struct {
		Symbol string     `json:"s"`
		Bids   [][]string `json:"b"`
		Asks   [][]string `json:"a"`
		Update int64      `json:"u"`
	} `json:"data"`
}

// parseMessage converts one websocket message into a book update. Control
// messages yield ok=false; a rejected subscription is fatal.
func parseMessage(symbol, msg string) (models.BookUpdate, bool, error) {
	var frame bookMessage
	if err := json.Unmarshal([]byte(msg), &frame); err != nil {
		return models.BookUpdate{}, false, errMalformed
	}

	if !strings.HasPrefix(frame.Topic, "orderbook.") {
		if frame.Op == "subscribe" && frame.Success != nil && !*frame.Success {
			return models.BookUpdate{}, false, &reader.ProtocolError{
				Venue:  "bybit",
				Reason: fmt.Sprintf("subscription rejected: %s", frame.RetMsg),
			}
		}
		return models.BookUpdate{}, false, nil
	}

	u := models.BookUpdate{
		Venue:        "bybit",
		Symbol:       symbol,
		Sequence:     frame.Data.Update,
		PrevSequence: -1,
		Timestamp:    time.UnixMilli(frame.Ts),
		Received:     time.Now(),
	}

	switch frame.Type {
	case "snapshot":
		u.Type = models.UpdateSnapshot
		u.Bids = parseLevels(frame.Data.Bids)
		u.Asks = parseLevels(frame.Data.Asks)
	case "delta":
		u.Type = models.UpdateDelta
		u.Changes = appendChanges(nil, models.BidSide, frame.Data.Bids)
		u.Changes = appendChanges(u.Changes, models.AskSide, frame.Data.Asks)
	default:
		return models.BookUpdate{}, false, nil
	}
	return u, true, nil
}

func parseLevels(rows [][]string) []models.PriceLevel {
	levels := make([]models.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		price, errP := strconv.ParseFloat(row[0], 64)
		qty, errQ := strconv.ParseFloat(row[1], 64)
		if errP != nil || errQ != nil {
			continue
		}
		levels = append(levels, models.PriceLevel{Price: price, Quantity: qty})
	}
	return levels
}

func appendChanges(changes []models.LevelChange, side string, rows [][]string) []models.LevelChange {
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		price, errP := strconv.ParseFloat(row[0], 64)
		qty, errQ := strconv.ParseFloat(row[1], 64)
		if errP != nil || errQ != nil {
			continue
		}
		changes = append(changes, models.LevelChange{Side: side, Price: price, Quantity: qty})
	}
	return changes
}
