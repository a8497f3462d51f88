package router

import (
	"errors"
	"math"
	"testing"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/signal"
)

func ptr[T any](v T) *T { return &v }

func TestSelect_RegisteredRegimeMergesOverrides(t *testing.T) {
	r := New()
	r.Register(domain.RegimeBull, signal.NewTrendFollowing(), domain.ParamOverrides{
		TargetProfitPct: ptr(0.12),
		SidewaysFilter:  ptr(false),
	})

	base := domain.DefaultStrategyParams()
	sel, err := r.Select(domain.RegimeBull, base)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if sel.Generator.Name() != signal.TypeTrendFollowing {
		t.Errorf("unexpected generator %s", sel.Generator.Name())
	}
	if sel.Params.TargetProfitPct != 0.12 || sel.Params.SidewaysFilter {
		t.Errorf("overrides not applied: %+v", sel.Params)
	}
	if sel.Params.StopLossPct != base.StopLossPct {
		t.Errorf("untouched key changed: %v", sel.Params.StopLossPct)
	}
	if base.TargetProfitPct != 0.07 {
		t.Error("base params mutated")
	}
}

func TestSelect_Fallbacks(t *testing.T) {
	base := domain.DefaultStrategyParams()

	// Default generator wins over the SIDEWAYS route and keeps base params.
	r := New()
	r.Register(domain.RegimeSideways, signal.NewSwing(), domain.ParamOverrides{RSIOversold: ptr(35.0)})
	r.SetDefault(signal.NewTrendFollowing())
	sel, err := r.Select(domain.RegimeBear, base)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if sel.Generator.Name() != signal.TypeTrendFollowing || sel.Params != base || sel.Regime != "" {
		t.Errorf("expected default with base params, got %s %+v", sel.Generator.Name(), sel.Params)
	}

	// Without a default, the SIDEWAYS route serves.
	r = New()
	r.Register(domain.RegimeSideways, signal.NewSwing(), domain.ParamOverrides{RSIOversold: ptr(35.0)})
	sel, err = r.Select(domain.RegimeBear, base)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if sel.Generator.Name() != signal.TypeSwing || sel.Params.RSIOversold != 35 || sel.Regime != domain.RegimeSideways {
		t.Errorf("expected sideways fallback, got %s %+v", sel.Generator.Name(), sel.Params)
	}

	// Nothing at all is a configuration error.
	if _, err := New().Select(domain.RegimeBull, base); !errors.Is(err, ErrNoGenerator) {
		t.Errorf("expected ErrNoGenerator, got %v", err)
	}
}

func TestRegimes(t *testing.T) {
	r := New()
	r.Register(domain.RegimeSideways, signal.NewSwing(), domain.ParamOverrides{})
	r.Register(domain.RegimeBull, signal.NewTrendFollowing(), domain.ParamOverrides{})

	got := r.Regimes()
	if len(got) != 2 || got[0] != domain.RegimeBull || got[1] != domain.RegimeSideways {
		t.Errorf("unexpected regimes: %v", got)
	}
}

func TestAdjuster(t *testing.T) {
	p := domain.DefaultStrategyParams()
	var a Adjuster

	if got := a.Adjust(p, 2, 100); got.TargetProfitPct != p.TargetProfitPct {
		t.Errorf("disabled adjuster changed target: %v", got.TargetProfitPct)
	}

	p.AdaptiveTarget = true
	tests := []struct {
		atr, close, want float64
	}{
		{2, 100, 0.06},
		{0.5, 100, 0.03}, // clamped low
		{10, 100, 0.20},  // clamped high
		{0, 100, 0.07},   // no ATR
		{math.NaN(), 100, 0.07},
	}
	for _, tt := range tests {
		got := a.Adjust(p, tt.atr, tt.close).TargetProfitPct
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Adjust(atr=%v, close=%v): expected %v, got %v", tt.atr, tt.close, tt.want, got)
		}
	}
}
