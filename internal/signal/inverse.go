package signal

import "regime-backtest-lab/internal/domain"

// Inverse is the bear-market generator, meant for inverse instruments:
// it enters when the underlying trend turns down and exits when it turns up.
type Inverse struct{}

// NewInverse creates an Inverse generator.
func NewInverse() *Inverse {
	return &Inverse{}
}

// Name implements Generator.
func (g *Inverse) Name() string { return TypeInverse }

// Generate implements Generator.
func (g *Inverse) Generate(s *domain.Series, _ domain.StrategyParams) []domain.Signal {
	f, ok := newFrame(s, domain.ColumnClose, domain.ColumnSTDir, domain.ColumnJMASlope)
	if !ok {
		return nil
	}

	var out []domain.Signal
	for i := 2; i < f.len(); i++ {
		curST, prevST := f.stDir[i], f.stDir[i-1]
		if isNaN(curST) {
			continue
		}
		curJMA, prevJMA := f.jmaDir[i], f.jmaDir[i-1]

		switch {
		case curST == -1 && curJMA == -1 && prevJMA >= 0:
			out = append(out, f.signal(s.Instrument, i, domain.DirectionBuy, domain.ReasonInverseBuy, 0.7, "trend down, jma turned down"))
		case curST == -1 && prevST != -1 && curJMA == -1:
			out = append(out, f.signal(s.Instrument, i, domain.DirectionBuy, domain.ReasonInverseBuy, 0.8, "trend turned down, jma down"))
		case curST == 1 && prevST == -1:
			out = append(out, f.signal(s.Instrument, i, domain.DirectionSell, domain.ReasonInverseSell, 1.0, "trend reversed up"))
		case curJMA == 1 && prevJMA <= 0 && curST == -1:
			out = append(out, f.signal(s.Instrument, i, domain.DirectionSell, domain.ReasonInverseSell, 0.5, "jma turned up"))
		}
	}
	return out
}
