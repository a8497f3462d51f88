// Package condition implements the declarative AND/OR/NOT rule language
// evaluated against bar series.
package condition

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Logic combines the members of a group.
type Logic string

// Group logic
const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Operator is a rule comparison operator.
type Operator string

// Operators
const (
	OpEq         Operator = "=="
	OpNe         Operator = "!="
	OpGt         Operator = ">"
	OpGe         Operator = ">="
	OpLt         Operator = "<"
	OpLe         Operator = "<="
	OpIn         Operator = "in"
	OpChangeTo   Operator = "change_to"
	OpCrossOver  Operator = "CrossOver"
	OpCrossUnder Operator = "CrossUnder"
)

// Parse errors
var (
	ErrUnknownOperator = errors.New("unknown operator")
	ErrUnknownLogic    = errors.New("unknown group logic")
	ErrMissingField    = errors.New("rule is missing a required field")
	ErrInvalidDocument = errors.New("invalid condition document")
)

// ParseOperator maps the document spelling to an Operator.
// The crossing operators and change_to are matched case-insensitively.
func ParseOperator(s string) (Operator, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "==", "=":
		return OpEq, nil
	case "!=":
		return OpNe, nil
	case ">":
		return OpGt, nil
	case ">=":
		return OpGe, nil
	case "<":
		return OpLt, nil
	case "<=":
		return OpLe, nil
	}
	switch strings.ToLower(s) {
	case "in":
		return OpIn, nil
	case "change_to":
		return OpChangeTo, nil
	case "crossover":
		return OpCrossOver, nil
	case "crossunder":
		return OpCrossUnder, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOperator, s)
}

// ParseLogic maps a document logic string; empty returns def.
func ParseLogic(s string, def Logic) (Logic, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "AND":
		return LogicAnd, nil
	case "OR":
		return LogicOr, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLogic, s)
}

type operandKind int

const (
	kindNull operandKind = iota
	kindNumber
	kindString
	kindBool
	kindList
)

// Operand is the right-hand side of a rule: a number, string, bool or list.
type Operand struct {
	kind operandKind
	num  float64
	str  string
	bol  bool
	list []Operand
}

// Number returns a numeric operand.
func Number(v float64) Operand { return Operand{kind: kindNumber, num: v} }

// String returns a string operand. Strings may name a column.
func String(v string) Operand { return Operand{kind: kindString, str: v} }

// Bool returns a boolean operand, compared as 1/0.
func Bool(v bool) Operand { return Operand{kind: kindBool, bol: v} }

// List returns a list operand for the in operator.
func List(items ...Operand) Operand { return Operand{kind: kindList, list: items} }

// IsNull reports whether the operand is absent.
func (o Operand) IsNull() bool { return o.kind == kindNull }

// Float returns the numeric value of the operand, parsing strings when possible.
func (o Operand) Float() (float64, bool) {
	switch o.kind {
	case kindNumber:
		return o.num, true
	case kindBool:
		if o.bol {
			return 1, true
		}
		return 0, true
	case kindString:
		v, err := strconv.ParseFloat(strings.TrimSpace(o.str), 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// Text returns the operand rendered as a label value.
func (o Operand) Text() string {
	switch o.kind {
	case kindNumber:
		return strconv.FormatFloat(o.num, 'f', -1, 64)
	case kindString:
		return o.str
	case kindBool:
		return strconv.FormatBool(o.bol)
	}
	return ""
}

// Items expands the operand into set members: lists as-is, strings split on commas.
func (o Operand) Items() []Operand {
	switch o.kind {
	case kindList:
		return o.list
	case kindString:
		parts := strings.Split(o.str, ",")
		out := make([]Operand, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, String(p))
			}
		}
		return out
	case kindNull:
		return nil
	}
	return []Operand{o}
}

// Expr is a node of a rule tree: either *Rule or *Group.
type Expr interface {
	isExpr()
}

// Rule compares one column against a value.
type Rule struct {
	Indicator string
	Op        Operator
	Value     Operand
	Negated   bool
}

// Group combines child expressions with AND or OR.
type Group struct {
	Logic Logic
	Exprs []Expr
}

func (*Rule) isExpr()  {}
func (*Group) isExpr() {}

// Form records which document shape a tree was parsed from.
type Form int

// Document forms
const (
	FormGroup      Form = iota // {"logic": ..., "rules": [...]}
	FormMultiGroup             // {"logic": ..., "groups": [{...}, ...]}
	FormFlat                   // [rule, rule, ...], implicit AND
)

// Document is a parsed condition document.
type Document struct {
	Form Form
	Root *Group
}

// NewDocument wraps a group as a single-group document.
func NewDocument(root *Group) *Document {
	return &Document{Form: FormGroup, Root: root}
}

// IsEmpty reports whether the document has no rules.
func (d *Document) IsEmpty() bool {
	return d == nil || d.Root == nil || len(d.Root.Exprs) == 0
}

// And builds an AND group.
func And(exprs ...Expr) *Group { return &Group{Logic: LogicAnd, Exprs: exprs} }

// Or builds an OR group.
func Or(exprs ...Expr) *Group { return &Group{Logic: LogicOr, Exprs: exprs} }
