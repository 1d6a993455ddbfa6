// Package server exposes the estimator over a JSON HTTP API: estimate
// requests, the current book and features, execution schedules, latency
// summaries, feed status and recent metric and log events, plus the
// prometheus scrape endpoint. The server is optional; when disabled in the
// configuration the constructor returns nil and Run is a no-op.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "github.com/Prabhat-190/trade/config"
	"github.com/Prabhat-190/trade/costmodel"
	"github.com/Prabhat-190/trade/estimator"
	"github.com/Prabhat-190/trade/internal/channel"
	"github.com/Prabhat-190/trade/internal/metrics"
	"github.com/Prabhat-190/trade/logger"
	"github.com/Prabhat-190/trade/models"
	"github.com/Prabhat-190/trade/reader"
)

// historyLimit bounds the recent-metric and recent-log windows.
const historyLimit = 200

// Server hosts the estimator's JSON API.
type Server struct {
	cfg           appconfig.ServerConfig
	log           *logger.Log
	svc           *estimator.Service
	feed          *reader.Feed
	channels      *channel.Channels
	metricStore   *metricStore
	logStore      *logStore
	metricHandler metrics.MetricHandlerID
	httpServer    *http.Server
}

// NewServer constructs the API server when it is enabled. When disabled the
// returned server is nil. The feed may be nil; /api/status then reports the
// connection state as unknown.
func NewServer(cfg appconfig.ServerConfig, svc *estimator.Service, feed *reader.Feed, ch *channel.Channels, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.Addr = normalizeAddress(cfg.Addr)

	metricStore := newMetricStore(historyLimit)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(historyLimit)
	log.AddHook(logStore)

	return &Server{
		cfg:           cfg,
		log:           log,
		svc:           svc,
		feed:          feed,
		channels:      ch,
		metricStore:   metricStore,
		logStore:      logStore,
		metricHandler: handlerID,
	}, nil
}

// Run starts the HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: router,
	}

	s.log.WithComponent("server").WithFields(logger.Fields{
		"addr": s.cfg.Addr,
	}).Info("starting api server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Addr
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	// Client addresses are taken as-is; no proxy headers are trusted.
	// Operators behind a load balancer can override the trusted proxy
	// list via the GIN_TRUSTED_PROXIES environment variable.
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.POST("/api/estimate", s.handleEstimate)
	router.GET("/api/orderbook", s.handleOrderBook)
	router.GET("/api/features", s.handleFeatures)
	router.GET("/api/schedule", s.handleSchedule)
	router.GET("/api/latency", s.handleLatency)
	router.GET("/api/status", s.handleStatus)
	router.GET("/api/metrics", s.handleRecentMetrics)
	router.GET("/api/logs", s.handleRecentLogs)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router, nil
}

func (s *Server) handleEstimate(c *gin.Context) {
	var req models.SimulationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	est, err := s.svc.Estimate(req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, est)
}

func (s *Server) handleOrderBook(c *gin.Context) {
	snap, ok := s.svc.LatestBook()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": estimator.ErrBookNotReady.Error()})
		return
	}

	bids := snap.Bids
	asks := snap.Asks
	if levels := queryInt(c, "levels", 0); levels > 0 {
		if len(bids) > levels {
			bids = bids[:levels]
		}
		if len(asks) > levels {
			asks = asks[:levels]
		}
	}

	payload := gin.H{
		"venue":     snap.Venue,
		"symbol":    snap.Symbol,
		"sequence":  snap.Sequence,
		"timestamp": snap.Timestamp,
		"bids":      bids,
		"asks":      asks,
	}
	if mid, ok := snap.MidPrice(); ok {
		payload["mid_price"] = mid
	}
	if spread, ok := snap.Spread(); ok {
		payload["spread"] = spread
	}
	if bps, ok := snap.SpreadBps(); ok {
		payload["spread_bps"] = bps
	}

	// An optional quantity walks the full book on both sides so clients can
	// see the depth-weighted fill price for an order of that size. A filled
	// value below the quantity means the book is too thin for it.
	if qty, err := strconv.ParseFloat(c.Query("quantity"), 64); err == nil && qty > 0 {
		buyPrice, buyFilled := snap.VWAP(models.OrderBuy, qty)
		sellPrice, sellFilled := snap.VWAP(models.OrderSell, qty)
		payload["walk"] = gin.H{
			"quantity": qty,
			"buy":      gin.H{"vwap": buyPrice, "filled": buyFilled},
			"sell":     gin.H{"vwap": sellPrice, "filled": sellFilled},
		}
	}

	c.JSON(http.StatusOK, payload)
}

func (s *Server) handleFeatures(c *gin.Context) {
	feat, ok := s.svc.LatestFeatures()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no book ticks observed yet"})
		return
	}

	payload := gin.H{"latest": feat}
	if n := queryInt(c, "history", 0); n > 0 {
		payload["history"] = s.svc.FeatureHistory(n)
	}

	c.JSON(http.StatusOK, payload)
}

func (s *Server) handleSchedule(c *gin.Context) {
	quantityUSD, err := strconv.ParseFloat(c.Query("quantity_usd"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity_usd must be a number"})
		return
	}

	horizon := 0.0
	if raw := c.Query("horizon_hours"); raw != "" {
		horizon, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "horizon_hours must be a number"})
			return
		}
	}

	slices, err := s.svc.Schedule(quantityUSD, horizon)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"slices": slices})
}

func (s *Server) handleLatency(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tick":     s.svc.TickStats(),
		"estimate": s.svc.EstimateStats(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	state := "unknown"
	if s.feed != nil {
		state = s.feed.State().String()
	}

	payload := gin.H{
		"conn_state": state,
		"book_ready": s.svc.Ready(),
	}
	if snap, ok := s.svc.LatestBook(); ok {
		payload["venue"] = snap.Venue
		payload["symbol"] = snap.Symbol
		payload["sequence"] = snap.Sequence
		payload["book_timestamp"] = snap.Timestamp
	}
	if s.channels != nil {
		stats := s.channels.GetStats()
		payload["channels"] = gin.H{
			"updates_sent":    stats.UpdatesSent,
			"updates_dropped": stats.UpdatesDropped,
			"records_sent":    stats.RecordsSent,
			"records_dropped": stats.RecordsDropped,
		}
	}

	c.JSON(http.StatusOK, payload)
}

func (s *Server) handleRecentMetrics(c *gin.Context) {
	metricsSnapshot := s.metricStore.snapshot()
	payload := make([]gin.H, 0, len(metricsSnapshot))
	for _, m := range metricsSnapshot {
		payload = append(payload, gin.H{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"component": m.Component,
			"name":      m.Name,
			"value":     m.Value,
			"type":      m.Type,
			"fields":    m.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"metrics": payload})
}

func (s *Server) handleRecentLogs(c *gin.Context) {
	logsSnapshot := s.logStore.snapshot()
	payload := make([]gin.H, 0, len(logsSnapshot))
	for _, l := range logsSnapshot {
		payload = append(payload, gin.H{
			"timestamp": l.Timestamp.Format(time.RFC3339Nano),
			"level":     l.Level,
			"component": l.Component,
			"message":   l.Message,
			"fields":    l.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": payload})
}

// statusFor maps estimator errors onto HTTP status codes. Anything
// unrecognized surfaces as an internal error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, estimator.ErrBookNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, costmodel.ErrUnknownFeeTier):
		return http.StatusNotFound
	case errors.Is(err, costmodel.ErrInvalidParameter):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// queryInt reads a non-negative integer query parameter, falling back on
// absent or unparsable values.
func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
