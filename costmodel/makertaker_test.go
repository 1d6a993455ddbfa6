package costmodel

import (
	"math"
	"testing"

	"github.com/Prabhat-190/trade/config"
)

func defaultMakerTakerConfig() config.MakerTakerConfig {
	return config.MakerTakerConfig{
		SizeCoef:       -0.04,
		SpreadCoef:     0.4,
		VolatilityCoef: -0.8,
		ImbalanceCoef:  0.4,
	}
}

func TestMakerTakerNeutralInputs(t *testing.T) {
	m := NewMakerTakerModel(defaultMakerTakerConfig())

	in := Input{}
	var out Result
	if err := m.Evaluate(&in, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.MakerRatio != 0.5 {
		t.Fatalf("expected 0.5 maker ratio for neutral inputs, got %v", out.MakerRatio)
	}
	if out.TakerRatio != 0.5 {
		t.Fatalf("expected 0.5 taker ratio for neutral inputs, got %v", out.TakerRatio)
	}
}

func TestMakerTakerComplement(t *testing.T) {
	m := NewMakerTakerModel(defaultMakerTakerConfig())

	inputs := []Input{
		{Quantity: 1, Spread: 1, Volatility: 0.02, Imbalance: 0.3},
		{Quantity: 1e6, Spread: 0.01, Volatility: 0.5, Imbalance: -0.9},
		{Quantity: 0.001, Spread: 50, Volatility: 0, Imbalance: 1},
	}

	for _, in := range inputs {
		var out Result
		if err := m.Evaluate(&in, &out); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.MakerRatio < 0 || out.MakerRatio > 1 {
			t.Fatalf("maker ratio out of range: %v", out.MakerRatio)
		}
		if out.TakerRatio != 1-out.MakerRatio {
			t.Fatalf("taker ratio is not the complement: %v + %v", out.MakerRatio, out.TakerRatio)
		}
		if math.Abs(out.MakerRatio+out.TakerRatio-1) > 1e-15 {
			t.Fatalf("ratios do not sum to one: %v", out.MakerRatio+out.TakerRatio)
		}
	}
}

func TestMakerTakerDirections(t *testing.T) {
	m := NewMakerTakerModel(defaultMakerTakerConfig())

	ratio := func(in Input) float64 {
		var out Result
		if err := m.Evaluate(&in, &out); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return out.MakerRatio
	}

	base := Input{Quantity: 10, Spread: 1, Volatility: 0.02}

	larger := base
	larger.Quantity = 1000
	if ratio(larger) >= ratio(base) {
		t.Fatal("expected larger orders to lean taker")
	}

	volatile := base
	volatile.Volatility = 0.2
	if ratio(volatile) >= ratio(base) {
		t.Fatal("expected higher volatility to lean taker")
	}

	wide := base
	wide.Spread = 5
	if ratio(wide) <= ratio(base) {
		t.Fatal("expected wider spread to lean maker")
	}

	bidHeavy := base
	bidHeavy.Imbalance = 0.8
	if ratio(bidHeavy) <= ratio(base) {
		t.Fatal("expected bid-heavy book to lean maker")
	}
}
