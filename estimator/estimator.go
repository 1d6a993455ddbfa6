// Package estimator serves execution cost estimates for hypothetical
// orders against the live book. Estimates are synchronous: every request
// reads the latest features, runs the cost model pipeline once and
// returns either a complete estimate or a typed error, never a partial
// result.
package estimator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Prabhat-190/trade/book"
	appconfig "github.com/Prabhat-190/trade/config"
	"github.com/Prabhat-190/trade/costmodel"
	"github.com/Prabhat-190/trade/features"
	"github.com/Prabhat-190/trade/internal/channel"
	"github.com/Prabhat-190/trade/internal/metrics"
	"github.com/Prabhat-190/trade/latency"
	"github.com/Prabhat-190/trade/logger"
	"github.com/Prabhat-190/trade/models"

	"github.com/google/uuid"
)

const defaultFeeTier = "VIP0"

// Service orchestrates the estimate path: request validation, book
// readiness, feature lookup, pipeline evaluation and latency accounting.
type Service struct {
	config    *appconfig.Config
	channels  *channel.Channels
	keeper    *book.Keeper
	features  *features.Extractor
	pipeline  *costmodel.Pipeline
	impact    *costmodel.AlmgrenChrissModel
	ticks     *latency.Tracker
	estimates *latency.Tracker
	log       *logger.Log
}

// NewService wires the estimator against the shared keeper, extractor and
// tick tracker. The estimate latency window is owned here.
func NewService(cfg *appconfig.Config, channels *channel.Channels, keeper *book.Keeper, extractor *features.Extractor, ticks *latency.Tracker) *Service {
	return &Service{
		config:    cfg,
		channels:  channels,
		keeper:    keeper,
		features:  extractor,
		pipeline:  costmodel.NewPipeline(cfg.Models),
		impact:    costmodel.NewAlmgrenChrissModel(cfg.Models.Impact),
		ticks:     latencyOr(ticks, cfg.Latency.WindowSize),
		estimates: latency.NewTracker(cfg.Latency.WindowSize),
		log:       logger.GetLogger(),
	}
}

func latencyOr(t *latency.Tracker, windowSize int) *latency.Tracker {
	if t != nil {
		return t
	}
	return latency.NewTracker(windowSize)
}

// Estimate prices one hypothetical order against the current book state.
func (s *Service) Estimate(req models.SimulationRequest) (models.CostEstimate, error) {
	start := time.Now()

	est, err := s.estimate(start, req)

	elapsed := time.Since(start)
	s.estimates.Record(elapsed)
	metrics.ObserveEstimateLatency(elapsed.Seconds())

	if err != nil {
		logger.IncrementEstimate(false)
		metrics.IncrementEstimate(outcome(err))
		s.log.WithComponent("estimator").WithError(err).WithFields(logger.Fields{
			"side":         req.Side,
			"quantity_usd": req.QuantityUSD,
			"fee_tier":     req.FeeTier,
		}).Debug("estimate rejected")
		return models.CostEstimate{}, err
	}

	est.InternalLatency = elapsed
	logger.IncrementEstimate(true)
	metrics.IncrementEstimate("ok")
	s.capture(est)

	s.log.WithComponent("estimator").WithFields(logger.Fields{
		"request_id":   est.RequestID,
		"side":         est.Side,
		"quantity_usd": est.QuantityUSD,
		"net_cost":     est.NetCost,
		"latency_us":   elapsed.Microseconds(),
	}).Debug("estimate served")

	return est, nil
}

func (s *Service) estimate(now time.Time, req models.SimulationRequest) (models.CostEstimate, error) {
	if err := validateRequest(&req); err != nil {
		return models.CostEstimate{}, err
	}

	if !s.keeper.Ready() {
		return models.CostEstimate{}, ErrBookNotReady
	}
	snap, ok := s.keeper.LatestSnapshot()
	if !ok {
		return models.CostEstimate{}, ErrBookNotReady
	}
	feat, ok := s.features.Latest()
	if !ok || feat.NoLiquidity || feat.MidPrice <= 0 {
		return models.CostEstimate{}, ErrBookNotReady
	}

	quantity := req.QuantityUSD / feat.MidPrice

	volatility := feat.Volatility
	if req.VolatilityOverride != nil {
		volatility = *req.VolatilityOverride
	}

	depthLevels := s.config.Models.Impact.DepthLevels
	bookDepth := snap.DepthVolume(models.BidSide, depthLevels) + snap.DepthVolume(models.AskSide, depthLevels)

	in := costmodel.Input{
		Quantity:     quantity,
		OrderValue:   req.QuantityUSD,
		MidPrice:     feat.MidPrice,
		Spread:       feat.Spread,
		Volatility:   volatility,
		Imbalance:    feat.Imbalance,
		BookDepth:    bookDepth,
		FeeTier:      req.FeeTier,
		HorizonHours: s.config.Models.Impact.HorizonHours,
	}

	res, err := s.pipeline.Evaluate(in)
	if err != nil {
		return models.CostEstimate{}, err
	}

	// The fill drifts away from mid by the per-unit slippage and the
	// temporary impact; permanent impact moves the market, not this fill.
	adjustment := (res.Slippage + res.Impact.Temporary) / quantity
	executionPrice := feat.MidPrice + adjustment
	if req.Side == models.OrderSell {
		executionPrice = feat.MidPrice - adjustment
	}

	return models.CostEstimate{
		RequestID: uuid.NewString(),
		Venue:     snap.Venue,
		Symbol:    snap.Symbol,
		Sequence:  snap.Sequence,
		Timestamp: now,

		Side:          req.Side,
		QuantityUSD:   req.QuantityUSD,
		OrderQuantity: quantity,
		FeeTier:       req.FeeTier,

		MidPrice:       feat.MidPrice,
		Spread:         feat.Spread,
		Volatility:     volatility,
		ExecutionPrice: executionPrice,

		ExpectedSlippage: res.Slippage,
		ExpectedFees:     res.FeesTotal,
		ExpectedImpact:   res.ImpactTotal,
		NetCost:          res.NetCost,
		NetCostBps:       res.NetCost / req.QuantityUSD * 10000,

		MakerRatio: res.MakerRatio,
		TakerRatio: res.TakerRatio,

		Fees:   res.Fees,
		Impact: res.Impact,
	}, nil
}

// Schedule returns the optimal execution trajectory for a notional worked
// over horizonHours. A non-positive horizon falls back to the configured
// impact horizon.
func (s *Service) Schedule(quantityUSD, horizonHours float64) ([]models.ScheduleSlice, error) {
	if quantityUSD <= 0 || math.IsNaN(quantityUSD) || math.IsInf(quantityUSD, 0) {
		return nil, fmt.Errorf("%w: quantity_usd must be positive, got %v", costmodel.ErrInvalidParameter, quantityUSD)
	}
	if horizonHours <= 0 {
		horizonHours = s.config.Models.Impact.HorizonHours
	}

	feat, ok := s.features.Latest()
	if !s.keeper.Ready() || !ok || feat.NoLiquidity || feat.MidPrice <= 0 {
		return nil, ErrBookNotReady
	}

	return s.impact.Schedule(quantityUSD/feat.MidPrice, horizonHours, feat.Volatility)
}

// Ready reports whether the book can currently back an estimate.
func (s *Service) Ready() bool { return s.keeper.Ready() }

// LatestBook returns the snapshot behind the next estimate.
func (s *Service) LatestBook() (models.OrderBookSnapshot, bool) {
	return s.keeper.LatestSnapshot()
}

// LatestFeatures returns the most recent derived feature row.
func (s *Service) LatestFeatures() (models.MarketFeatures, bool) {
	return s.features.Latest()
}

// FeatureHistory returns up to n retained feature rows, oldest first.
func (s *Service) FeatureHistory(n int) []models.MarketFeatures {
	return s.features.History(n)
}

// TickStats summarises the update-apply latency window.
func (s *Service) TickStats() latency.Stats { return s.ticks.Stats() }

// EstimateStats summarises the estimate latency window.
func (s *Service) EstimateStats() latency.Stats { return s.estimates.Stats() }

// capture offers the flattened estimate to the archive writer. The send
// never blocks; a full buffer drops the record and counts it.
func (s *Service) capture(est models.CostEstimate) {
	if !s.config.Writer.Enabled {
		return
	}

	rec := models.EstimateRecord{
		RequestID:   est.RequestID,
		Venue:       est.Venue,
		Symbol:      est.Symbol,
		Sequence:    est.Sequence,
		Timestamp:   est.Timestamp,
		Side:        est.Side,
		QuantityUSD: est.QuantityUSD,
		FeeTier:     est.FeeTier,
		MidPrice:    est.MidPrice,
		Spread:      est.Spread,
		Volatility:  est.Volatility,
		Slippage:    est.ExpectedSlippage,
		Fees:        est.ExpectedFees,
		Impact:      est.ExpectedImpact,
		NetCost:     est.NetCost,
		MakerRatio:  est.MakerRatio,
		LatencyUS:   est.InternalLatency.Microseconds(),
	}
	if feat, ok := s.features.Latest(); ok {
		rec.Imbalance = feat.Imbalance
	}

	if !s.channels.TrySendRecord(context.Background(), rec) {
		metrics.EmitDropMetric(s.log, metrics.DropMetricRecord, est.Venue, est.Symbol, "capture")
	}
}

// validateRequest normalizes the side and fee tier in place and checks the
// numeric fields. Faults wrap ErrInvalidParameter.
func validateRequest(req *models.SimulationRequest) error {
	req.Side = strings.ToLower(strings.TrimSpace(req.Side))
	switch req.Side {
	case models.OrderBuy, models.OrderSell:
	default:
		return fmt.Errorf("%w: side must be %q or %q, got %q",
			costmodel.ErrInvalidParameter, models.OrderBuy, models.OrderSell, req.Side)
	}

	if req.QuantityUSD <= 0 || math.IsNaN(req.QuantityUSD) || math.IsInf(req.QuantityUSD, 0) {
		return fmt.Errorf("%w: quantity_usd must be positive, got %v", costmodel.ErrInvalidParameter, req.QuantityUSD)
	}

	if req.VolatilityOverride != nil {
		v := *req.VolatilityOverride
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: volatility_override must be non-negative, got %v", costmodel.ErrInvalidParameter, v)
		}
	}

	if req.FeeTier == "" {
		req.FeeTier = defaultFeeTier
	}
	return nil
}

// outcome maps an estimate error onto its metrics label.
func outcome(err error) string {
	switch {
	case errors.Is(err, costmodel.ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, costmodel.ErrUnknownFeeTier):
		return "unknown_fee_tier"
	case errors.Is(err, ErrBookNotReady):
		return "book_not_ready"
	default:
		return "error"
	}
}
