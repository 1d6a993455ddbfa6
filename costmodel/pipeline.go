// Package costmodel prices hypothetical market orders from live book
// features. Four models run behind one Component abstraction in a fixed
// order; the first failure aborts the evaluation so a caller never sees a
// partially filled result.
package costmodel

import (
	"fmt"

	"github.com/Prabhat-190/trade/config"
	"github.com/Prabhat-190/trade/models"
)

// Input carries the per-request market state every component reads.
// Quantity is in base units, OrderValue in quote units.
type Input struct {
	Quantity     float64
	OrderValue   float64
	MidPrice     float64
	Spread       float64
	Volatility   float64
	Imbalance    float64
	BookDepth    float64
	FeeTier      string
	HorizonHours float64
}

// Result accumulates component outputs during one evaluation. Later
// components may read what earlier ones wrote (fees read the maker ratio).
type Result struct {
	Slippage    float64
	Impact      models.ImpactBreakdown
	ImpactTotal float64
	MakerRatio  float64
	TakerRatio  float64
	Fees        models.FeeBreakdown
	FeesTotal   float64
	NetCost     float64
}

// Component is one cost model evaluated by the pipeline.
type Component interface {
	Name() string
	Evaluate(in *Input, out *Result) error
}

// Pipeline evaluates the cost models in a fixed order: slippage, impact,
// maker/taker, fees. Maker/taker runs before fees because the fee split
// depends on the maker ratio.
type Pipeline struct {
	components []Component
}

// NewPipeline wires the four standard models from configuration.
func NewPipeline(cfg config.ModelsConfig) *Pipeline {
	return &Pipeline{
		components: []Component{
			NewSlippageModel(cfg.Slippage),
			NewAlmgrenChrissModel(cfg.Impact),
			NewMakerTakerModel(cfg.MakerTaker),
			NewFeeModel(cfg.Fees.Tiers),
		},
	}
}

// Components reports the evaluation order by component name.
func (p *Pipeline) Components() []string {
	names := make([]string, len(p.components))
	for i, c := range p.components {
		names[i] = c.Name()
	}
	return names
}

// Evaluate runs every component in order. On the first component error the
// zero Result is returned together with the error wrapped with the component
// name. On success NetCost is exactly Slippage + FeesTotal + ImpactTotal.
func (p *Pipeline) Evaluate(in Input) (Result, error) {
	var out Result
	for _, c := range p.components {
		if err := c.Evaluate(&in, &out); err != nil {
			return Result{}, fmt.Errorf("%s: %w", c.Name(), err)
		}
	}
	out.NetCost = out.Slippage + out.FeesTotal + out.ImpactTotal
	return out, nil
}
