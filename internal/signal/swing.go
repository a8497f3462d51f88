package signal

import (
	"fmt"

	"regime-backtest-lab/internal/domain"
)

// swingBuyBand widens the oversold level for swing entries.
const swingBuyBand = 10

// Swing is the sideways-market generator: buy a JMA upturn near oversold,
// sell on overbought or a JMA downturn.
type Swing struct{}

// NewSwing creates a Swing generator.
func NewSwing() *Swing {
	return &Swing{}
}

// Name implements Generator.
func (g *Swing) Name() string { return TypeSwing }

// Generate implements Generator.
func (g *Swing) Generate(s *domain.Series, p domain.StrategyParams) []domain.Signal {
	f, ok := newFrame(s, domain.ColumnClose, domain.ColumnJMASlope)
	if !ok {
		return nil
	}

	var out []domain.Signal
	for i := 2; i < f.len(); i++ {
		curJMA, prevJMA := f.jmaDir[i], f.jmaDir[i-1]
		rsi := f.rsi[i]

		if !isNaN(rsi) && rsi <= p.RSIOversold+swingBuyBand && curJMA == 1 && prevJMA <= 0 {
			out = append(out, f.signal(s.Instrument, i, domain.DirectionBuy, domain.ReasonSwingBuy, 0.6,
				fmt.Sprintf("rsi=%.0f", rsi)))
			continue
		}

		overbought := !isNaN(rsi) && rsi >= p.RSIOverbought
		turnedDown := curJMA == -1 && prevJMA >= 0
		switch {
		case overbought:
			detail := fmt.Sprintf("rsi=%.0f", rsi)
			if turnedDown {
				detail += " jma_down"
			}
			out = append(out, f.signal(s.Instrument, i, domain.DirectionSell, domain.ReasonSwingSellOverbought, 0.6, detail))
		case turnedDown:
			out = append(out, f.signal(s.Instrument, i, domain.DirectionSell, domain.ReasonSwingSell, 0.6, "jma_down"))
		}
	}
	return out
}
