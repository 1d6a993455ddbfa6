package costmodel

import (
	"fmt"
	"math"

	"github.com/Prabhat-190/trade/config"
	"github.com/Prabhat-190/trade/models"
)

// AlmgrenChrissModel estimates market impact split into a temporary
// component that recovers after execution, a permanent component that
// persists, and the execution risk of spreading the order over the horizon.
//
// Temporary impact scales with the trading rate and the order's share of
// daily volume; a shallow book amplifies it through a tanh depth adjustment
// that approaches 2x for orders dwarfing the visible liquidity. Permanent
// impact grows with total quantity and volatility. Execution risk is
// 0.5 * psi * sigma^2 * T * q^2.
type AlmgrenChrissModel struct {
	cfg config.ImpactConfig
}

func NewAlmgrenChrissModel(cfg config.ImpactConfig) *AlmgrenChrissModel {
	if cfg.DailyVolumeMultiple <= 0 {
		cfg.DailyVolumeMultiple = 100
	}
	return &AlmgrenChrissModel{cfg: cfg}
}

func (m *AlmgrenChrissModel) Name() string { return "impact" }

// Evaluate writes the impact breakdown. Quantity and horizon must both be
// positive, otherwise ErrInvalidParameter is returned and the pipeline
// aborts.
func (m *AlmgrenChrissModel) Evaluate(in *Input, out *Result) error {
	if in.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %v", ErrInvalidParameter, in.Quantity)
	}
	if in.HorizonHours <= 0 {
		return fmt.Errorf("%w: horizon must be positive, got %v", ErrInvalidParameter, in.HorizonHours)
	}

	dailyVolume := in.BookDepth * m.cfg.DailyVolumeMultiple
	scaling := 1.0
	if dailyVolume > 0 {
		scaling = math.Sqrt(in.Quantity / dailyVolume)
	}
	tradingRate := in.Quantity / in.HorizonHours

	temporary := m.cfg.Gamma * in.MidPrice * tradingRate * scaling * (1 + m.cfg.VolFactor*in.Volatility)
	if in.BookDepth > 0 {
		temporary *= 1 + math.Tanh(in.Quantity/in.BookDepth)
	}

	permanent := m.cfg.Eta * in.MidPrice * in.Quantity * (1 + m.cfg.VolFactor*in.Volatility)

	risk := 0.5 * m.cfg.RiskAversion * in.Volatility * in.Volatility * in.HorizonHours * in.Quantity * in.Quantity

	out.Impact = models.ImpactBreakdown{
		Temporary:     temporary,
		Permanent:     permanent,
		ExecutionRisk: risk,
	}
	out.ImpactTotal = temporary + permanent + risk
	return nil
}

// Schedule computes the optimal execution trajectory for working quantity
// over horizonHours. With zero risk aversion the trajectory is linear; a
// risk-averse trader front-loads execution following the sinh-decay solution
// of the Almgren-Chriss liquidation problem. Slice quantities always sum to
// the requested quantity.
func (m *AlmgrenChrissModel) Schedule(quantity, horizonHours, volatility float64) ([]models.ScheduleSlice, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %v", ErrInvalidParameter, quantity)
	}
	if horizonHours <= 0 {
		return nil, fmt.Errorf("%w: horizon must be positive, got %v", ErrInvalidParameter, horizonHours)
	}

	// Four intervals per hour, never fewer than two time points.
	points := int(horizonHours * 4)
	if points < 2 {
		points = 2
	}

	times := make([]float64, points)
	step := horizonHours / float64(points-1)
	for i := range times {
		times[i] = float64(i) * step
	}

	slices := make([]models.ScheduleSlice, points-1)
	alpha := m.cfg.RiskAversion * volatility * volatility

	if alpha == 0 {
		per := quantity / float64(points-1)
		for i := range slices {
			slices[i] = models.ScheduleSlice{Start: times[i], End: times[i+1], Quantity: per}
		}
	} else {
		kappa := math.Sqrt(alpha * m.cfg.Gamma)
		sinhT := math.Sinh(kappa * horizonHours)

		remaining := make([]float64, points)
		remaining[0] = quantity
		for i := 1; i < points; i++ {
			remaining[i] = quantity * math.Sinh(kappa*(horizonHours-times[i])) / sinhT
		}

		for i := 0; i < points-1; i++ {
			slices[i] = models.ScheduleSlice{Start: times[i], End: times[i+1], Quantity: remaining[i] - remaining[i+1]}
		}
		// Any terminal inventory executes in the closing slice.
		slices[len(slices)-1].Quantity += remaining[points-1]
	}

	var executed float64
	for _, s := range slices {
		executed += s.Quantity
	}
	if diff := quantity - executed; math.Abs(diff) > 1e-10 {
		slices[len(slices)-1].Quantity += diff
	}

	return slices, nil
}
