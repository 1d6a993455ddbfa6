package models

import "time"

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// FEATURES ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// MarketFeatures holds the derived per-tick features for one accepted book
// sequence. Immutable once computed; recomputed on every accepted update.
type MarketFeatures struct {
	Venue        string    `json:"venue"`
	Symbol       string    `json:"symbol"`
	Sequence     int64     `json:"sequence"`
	Timestamp    time.Time `json:"timestamp"`
	MidPrice     float64   `json:"mid_price"`
	Spread       float64   `json:"spread"`
	SpreadBps    float64   `json:"spread_bps"`
	Imbalance    float64   `json:"imbalance"`
	Volatility   float64   `json:"volatility"`
	Observations int       `json:"observations"`
	NoLiquidity  bool      `json:"no_liquidity"`
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// SIMULATION /////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// SimulationRequest describes a hypothetical order whose execution cost is
// to be estimated. Immutable once submitted.
type SimulationRequest struct {
	Side               string   `json:"side"`
	QuantityUSD        float64  `json:"quantity_usd"`
	FeeTier            string   `json:"fee_tier"`
	VolatilityOverride *float64 `json:"volatility_override,omitempty"`
}

// FeeBreakdown splits expected fees into the maker and taker legs.
type FeeBreakdown struct {
	MakerRate float64 `json:"maker_rate"`
	TakerRate float64 `json:"taker_rate"`
	MakerFee  float64 `json:"maker_fee"`
	TakerFee  float64 `json:"taker_fee"`
}

// ImpactBreakdown splits Almgren-Chriss market impact into its components.
// Temporary recovers after execution, permanent persists, execution risk is
// the variance cost of spreading the order over the horizon.
type ImpactBreakdown struct {
	Temporary     float64 `json:"temporary"`
	Permanent     float64 `json:"permanent"`
	ExecutionRisk float64 `json:"execution_risk"`
}

// ScheduleSlice is one interval of an optimal execution trajectory.
type ScheduleSlice struct {
	Start    float64 `json:"start_hours"`
	End      float64 `json:"end_hours"`
	Quantity float64 `json:"quantity"`
}

// CostEstimate is the result of one simulation request. NetCost is always
// ExpectedSlippage + ExpectedFees + ExpectedImpact and
// MakerRatio + TakerRatio is always 1.
type CostEstimate struct {
	RequestID string    `json:"request_id"`
	Venue     string    `json:"venue"`
	Symbol    string    `json:"symbol"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	Side          string  `json:"side"`
	QuantityUSD   float64 `json:"quantity_usd"`
	OrderQuantity float64 `json:"order_quantity"`
	FeeTier       string  `json:"fee_tier"`

	MidPrice       float64 `json:"mid_price"`
	Spread         float64 `json:"spread"`
	Volatility     float64 `json:"volatility"`
	ExecutionPrice float64 `json:"execution_price"`

	ExpectedSlippage float64 `json:"expected_slippage"`
	ExpectedFees     float64 `json:"expected_fees"`
	ExpectedImpact   float64 `json:"expected_impact"`
	NetCost          float64 `json:"net_cost"`
	NetCostBps       float64 `json:"net_cost_bps"`

	MakerRatio float64 `json:"maker_ratio"`
	TakerRatio float64 `json:"taker_ratio"`

	Fees   FeeBreakdown    `json:"fees"`
	Impact ImpactBreakdown `json:"impact"`

	InternalLatency time.Duration `json:"internal_latency_ns"`
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// CAPTURE ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// EstimateRecord is the flattened capture row for one successful estimate,
// buffered by the capture writer and archived for offline recalibration of
// the regression coefficients.
type EstimateRecord struct {
	RequestID   string    `json:"request_id"`
	Venue       string    `json:"venue"`
	Symbol      string    `json:"symbol"`
	Sequence    int64     `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
	Side        string    `json:"side"`
	QuantityUSD float64   `json:"quantity_usd"`
	FeeTier     string    `json:"fee_tier"`

	MidPrice   float64 `json:"mid_price"`
	Spread     float64 `json:"spread"`
	Imbalance  float64 `json:"imbalance"`
	Volatility float64 `json:"volatility"`

	Slippage   float64 `json:"slippage"`
	Fees       float64 `json:"fees"`
	Impact     float64 `json:"impact"`
	NetCost    float64 `json:"net_cost"`
	MakerRatio float64 `json:"maker_ratio"`
	LatencyUS  int64   `json:"latency_us"`
}
