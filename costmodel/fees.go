package costmodel

import (
	"fmt"
	"sort"

	"github.com/Prabhat-190/trade/config"
	"github.com/Prabhat-190/trade/models"
)

// FeeTierRates is one tier's maker and taker rates as decimals. Maker
// rebates are expressed as negative maker rates.
type FeeTierRates struct {
	Maker float64 `json:"maker"`
	Taker float64 `json:"taker"`
}

// FeeModel prices the fee legs of an order from a fixed tier table. A tier
// absent from the table is an error, never silently mapped to a default.
type FeeModel struct {
	tiers map[string]FeeTierRates
}

func NewFeeModel(tiers map[string]config.FeeTierConfig) *FeeModel {
	table := make(map[string]FeeTierRates, len(tiers))
	for name, tier := range tiers {
		table[name] = FeeTierRates{Maker: tier.Maker, Taker: tier.Taker}
	}
	return &FeeModel{tiers: table}
}

func (m *FeeModel) Name() string { return "fees" }

// Evaluate splits the order value between the maker and taker legs using the
// ratio the maker/taker model wrote earlier in the pipeline.
func (m *FeeModel) Evaluate(in *Input, out *Result) error {
	rates, ok := m.tiers[in.FeeTier]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFeeTier, in.FeeTier)
	}

	makerValue := in.OrderValue * out.MakerRatio
	takerValue := in.OrderValue * out.TakerRatio

	out.Fees = models.FeeBreakdown{
		MakerRate: rates.Maker,
		TakerRate: rates.Taker,
		MakerFee:  makerValue * rates.Maker,
		TakerFee:  takerValue * rates.Taker,
	}
	out.FeesTotal = out.Fees.MakerFee + out.Fees.TakerFee
	return nil
}

// Rates looks up one tier's rates directly.
func (m *FeeModel) Rates(tier string) (FeeTierRates, error) {
	rates, ok := m.tiers[tier]
	if !ok {
		return FeeTierRates{}, fmt.Errorf("%w: %q", ErrUnknownFeeTier, tier)
	}
	return rates, nil
}

// Tiers lists the configured tier names in sorted order.
func (m *FeeModel) Tiers() []string {
	names := make([]string, 0, len(m.tiers))
	for name := range m.tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
