// Package indicator enriches bar series with indicator columns.
// Indicator formulas themselves (SuperTrend, JMA, RSI, ATR) are supplied by
// providers; this package only orders and joins them.
package indicator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/observability"
)

// Provider adds columns to a series. Implementations must not mutate the
// input series and must return a series with the same bar count and order.
type Provider interface {
	Name() string
	Compute(ctx context.Context, s *domain.Series, params domain.StrategyParams) (*domain.Series, error)
}

// ChainOptions configures a Chain.
type ChainOptions struct {
	Providers []Provider
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// Chain applies providers in order.
type Chain struct {
	providers []Provider
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewChain creates a Chain.
func NewChain(opts ChainOptions) *Chain {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{providers: opts.Providers, logger: logger, metrics: opts.Metrics}
}

// Apply runs every provider. A provider that fails, panics or breaks the
// bar alignment is logged and skipped; the chain continues with the last
// good series. The returned slice lists the skipped providers.
func (c *Chain) Apply(ctx context.Context, s *domain.Series, params domain.StrategyParams) (*domain.Series, []string) {
	var failed []string
	cur := s
	for _, p := range c.providers {
		next, err := compute(ctx, p, cur, params)
		if err == nil && next.Len() != cur.Len() {
			err = fmt.Errorf("returned %d bars, want %d", next.Len(), cur.Len())
		}
		if err != nil {
			c.logger.Warn("indicator provider failed",
				zap.String("provider", p.Name()),
				zap.String("instrument", s.Instrument),
				zap.Error(err),
			)
			c.metrics.RecordIndicatorError(p.Name())
			failed = append(failed, p.Name())
			continue
		}
		cur = next
	}
	return cur, failed
}

// Len returns the number of providers.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.providers)
}

func compute(ctx context.Context, p Provider, s *domain.Series, params domain.StrategyParams) (out *domain.Series, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()
	out, err = p.Compute(ctx, s, params)
	if err == nil && out == nil {
		err = fmt.Errorf("provider returned no series")
	}
	return out, err
}
