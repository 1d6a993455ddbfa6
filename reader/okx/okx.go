// Package okx streams the OKX books channel. The venue replays a full
// snapshot after every subscription, so resynchronization is an
// unsubscribe and resubscribe on the live socket rather than a REST
// splice; the REST API is only used to validate the configured
// instrument.
package okx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	appconfig "github.com/Prabhat-190/trade/config"
	"github.com/Prabhat-190/trade/internal/metrics"
	"github.com/Prabhat-190/trade/logger"
	"github.com/Prabhat-190/trade/models"
	"github.com/Prabhat-190/trade/reader"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	defaultWSURL   = "wss://ws.okx.com:8443/ws/v5/public"
	defaultRestURL = "https://www.okx.com"
	defaultChannel = "books"
)

var errMalformed = errors.New("malformed frame")

// userAgentTransport pins the User-Agent on REST requests; the default Go
// agent gets throttled by the venue edge.
type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}

// Source dials OKX websocket sessions for the configured instrument.
type Source struct {
	config  *appconfig.Config
	log     *logger.Log
	limiter *rate.Limiter
	client  *http.Client
}

func New(cfg *appconfig.Config) *Source {
	rps := cfg.Feed.Okx.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Feed.Okx.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &Source{
		config:  cfg,
		log:     logger.GetLogger(),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		client: &http.Client{
			Transport: userAgentTransport{agent: "trade/1.0", base: http.DefaultTransport},
			Timeout:   10 * time.Second,
		},
	}
}

func (s *Source) Name() string { return "okx" }

func (s *Source) wsURL() string {
	if s.config.Feed.Okx.URL != "" {
		return s.config.Feed.Okx.URL
	}
	return defaultWSURL
}

func (s *Source) restURL() string {
	if s.config.Feed.Okx.RestURL != "" {
		return s.config.Feed.Okx.RestURL
	}
	return defaultRestURL
}

func (s *Source) bookChannel() string {
	if s.config.Feed.Okx.Channel != "" {
		return s.config.Feed.Okx.Channel
	}
	return defaultChannel
}

// Connect dials the websocket and subscribes to the book channel. The
// first data frame on the stream is the venue's snapshot.
func (s *Source) Connect(ctx context.Context) (reader.Session, error) {
	symbol := s.config.Feed.Okx.Symbol

	if err := s.validateInstrument(ctx, symbol); err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL(), nil)
	if err != nil {
		return nil, &reader.ConnectionError{Venue: "okx", Op: "dial", Err: err}
	}

	sess := &session{
		conn:        conn,
		symbol:      symbol,
		channel:     s.bookChannel(),
		limiter:     s.limiter,
		readTimeout: s.config.Feed.ReadTimeout,
		log:         s.log,
		done:        make(chan struct{}),
	}

	if err := sess.subscribe(); err != nil {
		conn.Close()
		return nil, err
	}

	if interval := s.config.Feed.PingInterval; interval > 0 {
		sess.wg.Add(1)
		go sess.pingLoop(interval)
	}

	return sess, nil
}

// validateInstrument checks the configured instrument against the venue's
// instrument list. Network trouble only warns so a REST outage cannot keep
// the websocket down; an instrument the venue does not know is fatal.
func (s *Source) validateInstrument(ctx context.Context, symbol string) error {
	log := s.log.WithComponent("okx_source").WithFields(logger.Fields{"symbol": symbol})

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v5/public/instruments?instType=SWAP&instId=%s", s.restURL(), symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.WithError(err).Warn("failed to build instruments request")
		return nil
	}
	resp, err := s.client.Do(req)
	if err != nil {
		log.WithError(err).Warn("failed to fetch instruments list")
		return nil
	}
	defer resp.Body.Close()

	var wrapper struct {
		Code string `json:"code"`
		Data []struct {
			InstID string `json:"instId"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		log.WithError(err).Warn("failed to decode instruments list")
		return nil
	}
	if wrapper.Code != "0" {
		log.WithFields(logger.Fields{"code": wrapper.Code}).Warn("instruments request rejected")
		return nil
	}
	for _, inst := range wrapper.Data {
		if inst.InstID == symbol {
			return nil
		}
	}
	return &reader.ProtocolError{Venue: "okx", Reason: fmt.Sprintf("unknown instrument %q", symbol)}
}

type session struct {
	conn        *websocket.Conn
	symbol      string
	channel     string
	limiter     *rate.Limiter
	readTimeout time.Duration
	log         *logger.Log

	writeMu   sync.Mutex
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) subscribe() error {
	sub := map[string]interface{}{
		"op": "subscribe",
		"args": []map[string]string{{
			"channel": s.channel,
			"instId":  s.symbol,
		}},
	}
	if err := s.writeJSON(sub); err != nil {
		return &reader.ConnectionError{Venue: "okx", Op: "subscribe", Err: err}
	}
	return nil
}

func (s *session) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *session) pingLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *session) Read(ctx context.Context) ([]models.BookUpdate, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.readTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return nil, &reader.ConnectionError{Venue: "okx", Op: "read", Err: err}
		}
		logger.IncrementFrameRead(len(msg))

		updates, err := parseFrame(s.symbol, msg)
		if err != nil {
			if errors.Is(err, errMalformed) {
				metrics.EmitDropMetric(s.log, metrics.DropMetricMalformed, "okx", s.symbol, "parse")
				continue
			}
			return nil, err
		}
		if len(updates) == 0 {
			continue
		}
		return updates, nil
	}
}

// Resync resubscribes on the live socket, which makes the venue replay a
// snapshot with an intact seqId chain. The REST book carries no seqId, so
// a fetched snapshot could never be spliced into the delta stream.
func (s *session) Resync(ctx context.Context) (models.BookUpdate, bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return models.BookUpdate{}, false, err
	}

	arg := map[string]string{"channel": s.channel, "instId": s.symbol}
	if err := s.writeJSON(map[string]interface{}{"op": "unsubscribe", "args": []map[string]string{arg}}); err != nil {
		return models.BookUpdate{}, false, &reader.ConnectionError{Venue: "okx", Op: "unsubscribe", Err: err}
	}
	if err := s.writeJSON(map[string]interface{}{"op": "subscribe", "args": []map[string]string{arg}}); err != nil {
		return models.BookUpdate{}, false, &reader.ConnectionError{Venue: "okx", Op: "subscribe", Err: err}
	}
	return models.BookUpdate{}, false, nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
	s.wg.Wait()
	return nil
}

type bookEvent struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Action string `json:"action"`
	Data   []struct {
		Bids      [][]string `json:"bids"`
		Asks      [][]string `json:"asks"`
		Ts        string     `json:"ts"`
		SeqID     int64      `json:"seqId"`
		PrevSeqID int64      `json:"prevSeqId"`
	} `json:"data"`
}

// parseFrame converts one websocket frame into book updates. Control
// frames yield an empty slice; a rejected subscription is fatal.
func parseFrame(symbol string, msg []byte) ([]models.BookUpdate, error) {
	if string(msg) == "pong" {
		return nil, nil
	}

	var evt bookEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		return nil, errMalformed
	}

	if evt.Event == "error" {
		return nil, &reader.ProtocolError{
			Venue:  "okx",
			Reason: fmt.Sprintf("%s (code %s)", evt.Msg, evt.Code),
		}
	}
	if evt.Event != "" || len(evt.Data) == 0 {
		return nil, nil
	}

	instID := evt.Arg.InstID
	if instID == "" {
		instID = symbol
	}

	updates := make([]models.BookUpdate, 0, len(evt.Data))
	for _, row := range evt.Data {
		ts, _ := strconv.ParseInt(row.Ts, 10, 64)
		u := models.BookUpdate{
			Venue:     "okx",
			Symbol:    instID,
			Sequence:  row.SeqID,
			Timestamp: time.UnixMilli(ts),
			Received:  time.Now(),
		}

		switch evt.Action {
		case "snapshot":
			u.Type = models.UpdateSnapshot
			u.PrevSequence = -1
			u.Bids = parseLevels(row.Bids)
			u.Asks = parseLevels(row.Asks)
		case "update":
			u.Type = models.UpdateDelta
			u.PrevSequence = row.PrevSeqID
			u.Changes = parseChanges(row.Bids, row.Asks)
		default:
			continue
		}
		updates = append(updates, u)
	}
	return updates, nil
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

func parseChanges(bids, asks [][]string) []models.LevelChange {
	changes := make([]models.LevelChange, 0, len(bids)+len(asks))
	appendSide := func(side string, rows [][]string) {
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
	}
	appendSide(models.BidSide, bids)
	appendSide(models.AskSide, asks)
	return changes
}
