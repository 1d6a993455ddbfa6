package costmodel

import (
	"math"

	"github.com/Prabhat-190/trade/config"
)

// SlippageModel predicts expected slippage in quote currency with a linear
// model over spread, log order size, volatility and book imbalance. The raw
// prediction is clamped to [0, spread*MaxSpreadMultiple] so a miscalibrated
// coefficient can never produce a negative or runaway estimate.
type SlippageModel struct {
	cfg config.SlippageConfig
}

func NewSlippageModel(cfg config.SlippageConfig) *SlippageModel {
	if cfg.MaxSpreadMultiple <= 0 {
		cfg.MaxSpreadMultiple = 10
	}
	return &SlippageModel{cfg: cfg}
}

func (m *SlippageModel) Name() string { return "slippage" }

// Evaluate writes the clamped slippage prediction. A positive imbalance
// (bid-heavy book) with the default negative imbalance coefficient lowers
// the estimate for buys.
func (m *SlippageModel) Evaluate(in *Input, out *Result) error {
	raw := m.cfg.Intercept +
		m.cfg.SpreadCoef*in.Spread +
		m.cfg.SizeCoef*math.Log1p(in.Quantity) +
		m.cfg.VolatilityCoef*in.Volatility +
		m.cfg.ImbalanceCoef*in.Imbalance*in.Spread

	upper := in.Spread * m.cfg.MaxSpreadMultiple
	if raw < 0 {
		raw = 0
	}
	if raw > upper {
		raw = upper
	}

	out.Slippage = raw
	return nil
}
