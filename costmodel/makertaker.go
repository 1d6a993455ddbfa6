package costmodel

import (
	"math"

	"github.com/Prabhat-190/trade/config"
)

// MakerTakerModel predicts the maker share of a hypothetical order with a
// logistic model over log order size, damped spread, volatility and book
// imbalance. The sigmoid keeps the maker ratio strictly inside [0, 1] and
// the taker ratio is always its complement.
type MakerTakerModel struct {
	cfg config.MakerTakerConfig
}

func NewMakerTakerModel(cfg config.MakerTakerConfig) *MakerTakerModel {
	return &MakerTakerModel{cfg: cfg}
}

func (m *MakerTakerModel) Name() string { return "makertaker" }

func (m *MakerTakerModel) Evaluate(in *Input, out *Result) error {
	z := m.cfg.Intercept +
		m.cfg.SizeCoef*math.Log1p(in.Quantity) +
		m.cfg.SpreadCoef*math.Tanh(in.Spread) +
		m.cfg.VolatilityCoef*in.Volatility +
		m.cfg.ImbalanceCoef*in.Imbalance

	maker := 1 / (1 + math.Exp(-z))

	out.MakerRatio = maker
	out.TakerRatio = 1 - maker
	return nil
}
