// Package exitrule applies forced-liquidation rules to an open position.
package exitrule

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Policy errors
var (
	ErrInvalidStopLoss   = errors.New("stop_loss.pct must be negative")
	ErrInvalidTakeProfit = errors.New("take_profit.pct must be positive")
	ErrInvalidTrailing   = errors.New("trailing_stop.pct must be positive and activate_after_pct non-negative")
	ErrInvalidStagnant   = errors.New("stagnant_close.bars must be positive and min_move_pct non-negative")
)

// StopLoss fires when the position return falls to Pct (a negative fraction).
type StopLoss struct {
	Enabled bool
	Pct     float64
}

// TakeProfit fires when the position return reaches Pct.
type TakeProfit struct {
	Enabled bool
	Pct     float64
}

// TrailingStop arms once the peak return reaches ActivateAfterPct, then fires
// when the drawdown from peak reaches Pct.
type TrailingStop struct {
	Enabled          bool
	Pct              float64
	ActivateAfterPct float64
}

// StagnantClose fires after Bars held when the recent range stays below MinMovePct.
type StagnantClose struct {
	Enabled    bool
	Bars       int
	MinMovePct float64
}

// Policy is the full forced-exit configuration. Values are fractions.
type Policy struct {
	StopLoss   StopLoss
	TakeProfit TakeProfit
	Trailing   TrailingStop
	Stagnant   StagnantClose
}

// DefaultPolicy returns the documented default thresholds with every rule disabled.
func DefaultPolicy() Policy {
	return Policy{
		StopLoss:   StopLoss{Pct: -0.05},
		TakeProfit: TakeProfit{Pct: 0.15},
		Trailing:   TrailingStop{Pct: 0.03, ActivateAfterPct: 0.02},
		Stagnant:   StagnantClose{Bars: 10, MinMovePct: 0.01},
	}
}

// Enabled reports whether any rule can fire.
func (p Policy) Enabled() bool {
	return p.StopLoss.Enabled || p.TakeProfit.Enabled || p.Trailing.Enabled || p.Stagnant.Enabled
}

// Validate checks the enabled rules.
func (p Policy) Validate() error {
	if p.StopLoss.Enabled && p.StopLoss.Pct >= 0 {
		return ErrInvalidStopLoss
	}
	if p.TakeProfit.Enabled && p.TakeProfit.Pct <= 0 {
		return ErrInvalidTakeProfit
	}
	if p.Trailing.Enabled && (p.Trailing.Pct <= 0 || p.Trailing.ActivateAfterPct < 0) {
		return ErrInvalidTrailing
	}
	if p.Stagnant.Enabled && (p.Stagnant.Bars <= 0 || p.Stagnant.MinMovePct < 0) {
		return ErrInvalidStagnant
	}
	return nil
}

// Document is the persisted exit policy. Percent units (-5.0 = -5%);
// every field is optional and a missing field takes its default.
type Document struct {
	StopLoss *struct {
		Enabled *bool    `json:"enabled,omitempty"`
		Pct     *float64 `json:"pct,omitempty"`
	} `json:"stop_loss,omitempty"`
	TakeProfit *struct {
		Enabled *bool    `json:"enabled,omitempty"`
		Pct     *float64 `json:"pct,omitempty"`
	} `json:"take_profit,omitempty"`
	TrailingStop *struct {
		Enabled          *bool    `json:"enabled,omitempty"`
		Pct              *float64 `json:"pct,omitempty"`
		ActivateAfterPct *float64 `json:"activate_after_pct,omitempty"`
	} `json:"trailing_stop,omitempty"`
	StagnantClose *struct {
		Enabled    *bool    `json:"enabled,omitempty"`
		Bars       *int     `json:"bars,omitempty"`
		MinMovePct *float64 `json:"min_move_pct,omitempty"`
	} `json:"stagnant_close,omitempty"`
}

// documentView is the fully populated form written back by MarshalJSON.
type documentView struct {
	StopLoss struct {
		Enabled bool    `json:"enabled"`
		Pct     float64 `json:"pct"`
	} `json:"stop_loss"`
	TakeProfit struct {
		Enabled bool    `json:"enabled"`
		Pct     float64 `json:"pct"`
	} `json:"take_profit"`
	TrailingStop struct {
		Enabled          bool    `json:"enabled"`
		Pct              float64 `json:"pct"`
		ActivateAfterPct float64 `json:"activate_after_pct"`
	} `json:"trailing_stop"`
	StagnantClose struct {
		Enabled    bool    `json:"enabled"`
		Bars       int     `json:"bars"`
		MinMovePct float64 `json:"min_move_pct"`
	} `json:"stagnant_close"`
}

// ParsePolicy decodes an exit policy document. A rule fires only when its
// section sets "enabled": true; missing thresholds take their defaults.
// An empty document yields DefaultPolicy.
func ParsePolicy(data []byte) (Policy, error) {
	p := DefaultPolicy()
	if len(data) == 0 {
		return p, nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Policy{}, fmt.Errorf("decode exit policy: %w", err)
	}

	if s := doc.StopLoss; s != nil {
		p.StopLoss.Enabled = boolOr(s.Enabled, false)
		p.StopLoss.Pct = pctOr(s.Pct, p.StopLoss.Pct)
	}
	if s := doc.TakeProfit; s != nil {
		p.TakeProfit.Enabled = boolOr(s.Enabled, false)
		p.TakeProfit.Pct = pctOr(s.Pct, p.TakeProfit.Pct)
	}
	if s := doc.TrailingStop; s != nil {
		p.Trailing.Enabled = boolOr(s.Enabled, false)
		p.Trailing.Pct = pctOr(s.Pct, p.Trailing.Pct)
		p.Trailing.ActivateAfterPct = pctOr(s.ActivateAfterPct, p.Trailing.ActivateAfterPct)
	}
	if s := doc.StagnantClose; s != nil {
		p.Stagnant.Enabled = boolOr(s.Enabled, false)
		if s.Bars != nil {
			p.Stagnant.Bars = *s.Bars
		}
		p.Stagnant.MinMovePct = pctOr(s.MinMovePct, p.Stagnant.MinMovePct)
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// MarshalJSON writes the policy in percent units.
func (p Policy) MarshalJSON() ([]byte, error) {
	var v documentView
	v.StopLoss.Enabled = p.StopLoss.Enabled
	v.StopLoss.Pct = toPct(p.StopLoss.Pct)
	v.TakeProfit.Enabled = p.TakeProfit.Enabled
	v.TakeProfit.Pct = toPct(p.TakeProfit.Pct)
	v.TrailingStop.Enabled = p.Trailing.Enabled
	v.TrailingStop.Pct = toPct(p.Trailing.Pct)
	v.TrailingStop.ActivateAfterPct = toPct(p.Trailing.ActivateAfterPct)
	v.StagnantClose.Enabled = p.Stagnant.Enabled
	v.StagnantClose.Bars = p.Stagnant.Bars
	v.StagnantClose.MinMovePct = toPct(p.Stagnant.MinMovePct)
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler using ParsePolicy.
func (p *Policy) UnmarshalJSON(data []byte) error {
	parsed, err := ParsePolicy(data)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func pctOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v / 100
}

func toPct(v float64) float64 {
	return v * 100
}
