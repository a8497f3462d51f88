package condition

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"regime-backtest-lab/internal/domain"
)

// Evaluator turns rule trees into per-bar boolean series.
// Rules that cannot be resolved evaluate False for every bar and are logged;
// they never abort the surrounding expression.
type Evaluator struct {
	logger *zap.Logger
}

// NewEvaluator creates an Evaluator. A nil logger disables diagnostics.
func NewEvaluator(logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{logger: logger}
}

// Evaluate returns one boolean per bar. An empty document admits every bar.
func (e *Evaluator) Evaluate(s *domain.Series, doc *Document) []bool {
	n := s.Len()
	if doc.IsEmpty() {
		return filled(n, true)
	}
	return e.EvaluateExpr(s, doc.Root)
}

// EvaluateExpr evaluates a single node of a rule tree.
func (e *Evaluator) EvaluateExpr(s *domain.Series, expr Expr) []bool {
	switch n := expr.(type) {
	case *Group:
		return e.evalGroup(s, n)
	case *Rule:
		return e.evalRule(s, n)
	}
	e.logger.Warn("condition node type not supported", zap.String("type", fmt.Sprintf("%T", expr)))
	return filled(s.Len(), false)
}

func (e *Evaluator) evalGroup(s *domain.Series, g *Group) []bool {
	n := s.Len()
	if g == nil || len(g.Exprs) == 0 {
		return filled(n, true)
	}

	var out []bool
	for _, child := range g.Exprs {
		res := e.EvaluateExpr(s, child)
		if out == nil {
			out = res
			continue
		}
		for i := range out {
			if g.Logic == LogicOr {
				out[i] = out[i] || res[i]
			} else {
				out[i] = out[i] && res[i]
			}
		}
	}
	return out
}

func (e *Evaluator) evalRule(s *domain.Series, r *Rule) []bool {
	n := s.Len()
	col, ok := s.Column(r.Indicator)
	if !ok {
		e.logger.Warn("condition column not found",
			zap.String("indicator", r.Indicator),
			zap.String("instrument", s.Instrument),
			zap.Strings("available", s.ColumnNames()),
		)
		return filled(n, false)
	}

	var (
		out      []bool
		resolved bool
	)
	if col.IsLabel() {
		out, resolved = e.evalLabel(col, r)
	} else {
		out, resolved = e.evalNumeric(s, col, r)
	}

	// Unresolvable rules stay False even when negated.
	if r.Negated && resolved {
		for i := range out {
			out[i] = !out[i]
		}
	}
	return out
}

func (e *Evaluator) evalNumeric(s *domain.Series, col domain.Column, r *Rule) ([]bool, bool) {
	a := col.Floats
	n := len(a)
	out := make([]bool, n)

	switch r.Op {
	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe:
		b, ok := e.rhsSeries(s, r)
		if !ok {
			return out, false
		}
		for i := range a {
			out[i] = compareFloat(r.Op, a[i], b[i])
		}

	case OpIn:
		set := make(map[float64]struct{})
		for _, it := range r.Value.Items() {
			if v, ok := it.Float(); ok {
				set[v] = struct{}{}
			}
		}
		for i, v := range a {
			if isMissing(v) {
				continue
			}
			_, out[i] = set[v]
		}

	case OpChangeTo:
		target, ok := r.Value.Float()
		if !ok {
			e.logger.Warn("change_to target is not numeric",
				zap.String("indicator", r.Indicator), zap.String("value", r.Value.Text()))
			return out, false
		}
		for i := 1; i < n; i++ {
			if isMissing(a[i]) {
				continue
			}
			out[i] = a[i] == target && a[i-1] != target
		}

	case OpCrossOver, OpCrossUnder:
		b, ok := e.rhsSeries(s, r)
		if !ok {
			return out, false
		}
		for i := 1; i < n; i++ {
			if isMissing(a[i]) || isMissing(a[i-1]) || isMissing(b[i]) || isMissing(b[i-1]) {
				continue
			}
			if r.Op == OpCrossOver {
				out[i] = a[i] > b[i] && a[i-1] <= b[i-1]
			} else {
				out[i] = a[i] < b[i] && a[i-1] >= b[i-1]
			}
		}

	default:
		e.logger.Warn("operator not supported for numeric column",
			zap.String("indicator", r.Indicator), zap.String("op", string(r.Op)))
		return out, false
	}
	return out, true
}

// rhsSeries resolves the comparison value: a constant broadcast to every bar,
// or, for a non-numeric string, another column of the series.
func (e *Evaluator) rhsSeries(s *domain.Series, r *Rule) ([]float64, bool) {
	n := s.Len()
	if v, ok := r.Value.Float(); ok {
		out := make([]float64, n)
		for i := range out {
			out[i] = v
		}
		return out, true
	}
	if r.Value.kind == kindString {
		col, ok := s.Column(r.Value.str)
		if ok && !col.IsLabel() {
			return col.Floats, true
		}
	}
	e.logger.Warn("condition value could not be resolved",
		zap.String("indicator", r.Indicator),
		zap.String("op", string(r.Op)),
		zap.String("value", r.Value.Text()),
	)
	return nil, false
}

func (e *Evaluator) evalLabel(col domain.Column, r *Rule) ([]bool, bool) {
	a := col.Labels
	n := len(a)
	out := make([]bool, n)

	switch r.Op {
	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe:
		target := r.Value.Text()
		for i, v := range a {
			if v == "" {
				continue
			}
			out[i] = compareInt(r.Op, strings.Compare(v, target))
		}

	case OpIn:
		set := make(map[string]struct{})
		for _, it := range r.Value.Items() {
			set[it.Text()] = struct{}{}
		}
		for i, v := range a {
			if v == "" {
				continue
			}
			_, out[i] = set[v]
		}

	case OpChangeTo:
		target := r.Value.Text()
		for i := 1; i < n; i++ {
			if a[i] == "" {
				continue
			}
			out[i] = a[i] == target && a[i-1] != target
		}

	default:
		e.logger.Warn("operator not supported for label column",
			zap.String("indicator", r.Indicator), zap.String("op", string(r.Op)))
		return out, false
	}
	return out, true
}

func compareFloat(op Operator, a, b float64) bool {
	if isMissing(a) || isMissing(b) {
		return false
	}
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	}
	return false
}

func compareInt(op Operator, c int) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	}
	return false
}

func isMissing(v float64) bool {
	return math.IsNaN(v)
}

func filled(n int, v bool) []bool {
	out := make([]bool, n)
	if v {
		for i := range out {
			out[i] = true
		}
	}
	return out
}
