// Package router maps a market regime to a signal generator and parameters.
package router

import (
	"errors"
	"fmt"
	"sync"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/signal"
)

// ErrNoGenerator is returned when neither the regime, a default generator,
// nor a SIDEWAYS registration can serve a selection.
var ErrNoGenerator = errors.New("no generator registered")

type route struct {
	gen       signal.Generator
	overrides domain.ParamOverrides
}

// Selection is the outcome of Select.
type Selection struct {
	Generator signal.Generator
	Params    domain.StrategyParams
	Regime    domain.Regime // regime whose route served the selection, empty for the default
}

// Router holds regime routes. Safe for concurrent use.
type Router struct {
	mu     sync.RWMutex
	routes map[domain.Regime]route
	def    signal.Generator
}

// New creates an empty Router.
func New() *Router {
	return &Router{routes: make(map[domain.Regime]route)}
}

// Register binds a generator and parameter overrides to a regime,
// replacing any previous registration.
func (r *Router) Register(regime domain.Regime, gen signal.Generator, overrides domain.ParamOverrides) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[regime] = route{gen: gen, overrides: overrides}
}

// SetDefault sets the generator used for unregistered regimes.
func (r *Router) SetDefault(gen signal.Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.def = gen
}

// Select resolves the generator for a regime. Overrides win key by key
// over base. Unregistered regimes fall back to the default generator with
// unmodified base parameters, then to the SIDEWAYS route.
func (r *Router) Select(regime domain.Regime, base domain.StrategyParams) (Selection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rt, ok := r.routes[regime]; ok {
		return Selection{Generator: rt.gen, Params: rt.overrides.Apply(base), Regime: regime}, nil
	}
	if r.def != nil {
		return Selection{Generator: r.def, Params: base}, nil
	}
	if rt, ok := r.routes[domain.RegimeSideways]; ok {
		return Selection{Generator: rt.gen, Params: rt.overrides.Apply(base), Regime: domain.RegimeSideways}, nil
	}
	return Selection{}, fmt.Errorf("%w for regime %s", ErrNoGenerator, regime)
}

// Regimes lists the registered regimes in BULL, BEAR, SIDEWAYS order.
func (r *Router) Regimes() []domain.Regime {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Regime
	for _, reg := range []domain.Regime{domain.RegimeBull, domain.RegimeBear, domain.RegimeSideways} {
		if _, ok := r.routes[reg]; ok {
			out = append(out, reg)
		}
	}
	return out
}
