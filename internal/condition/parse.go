package condition

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ruleJSON is the wire shape of a leaf rule. "operator" is accepted as an alias of "op".
type ruleJSON struct {
	Indicator string          `json:"indicator"`
	Op        string          `json:"op,omitempty"`
	Operator  string          `json:"operator,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Negated   bool            `json:"negated,omitempty"`
}

// groupJSON is the wire shape of a group or multi-group document.
type groupJSON struct {
	Logic  string            `json:"logic,omitempty"`
	Rules  []json.RawMessage `json:"rules,omitempty"`
	Groups []json.RawMessage `json:"groups,omitempty"`
}

// Parse decodes a condition document in any of the three accepted forms:
// a single group, a multi-group document, or a legacy flat rule list.
// Inter-group logic defaults to OR; intra-group logic defaults to AND.
func Parse(data []byte) (*Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return &Document{Form: FormGroup, Root: And()}, nil
	}

	if data[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		exprs, err := parseMembers(raws)
		if err != nil {
			return nil, err
		}
		return &Document{Form: FormFlat, Root: And(exprs...)}, nil
	}

	var g groupJSON
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if g.Groups != nil {
		root, err := parseGroup(g, LogicOr)
		if err != nil {
			return nil, err
		}
		return &Document{Form: FormMultiGroup, Root: root}, nil
	}
	root, err := parseGroup(g, LogicAnd)
	if err != nil {
		return nil, err
	}
	return &Document{Form: FormGroup, Root: root}, nil
}

// MustParse is Parse for static documents; it panics on error.
func MustParse(s string) *Document {
	d, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return d
}

func parseGroup(g groupJSON, def Logic) (*Group, error) {
	if g.Groups != nil {
		logic, err := ParseLogic(g.Logic, LogicOr)
		if err != nil {
			return nil, err
		}
		exprs, err := parseMembers(g.Groups)
		if err != nil {
			return nil, err
		}
		return &Group{Logic: logic, Exprs: exprs}, nil
	}
	logic, err := ParseLogic(g.Logic, def)
	if err != nil {
		return nil, err
	}
	exprs, err := parseMembers(g.Rules)
	if err != nil {
		return nil, err
	}
	return &Group{Logic: logic, Exprs: exprs}, nil
}

// parseMembers decodes group members; objects carrying rules/groups nest.
func parseMembers(raws []json.RawMessage) ([]Expr, error) {
	exprs := make([]Expr, 0, len(raws))
	for i, raw := range raws {
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(raw, &keys); err != nil {
			return nil, fmt.Errorf("%w: member %d: %v", ErrInvalidDocument, i, err)
		}
		_, hasRules := keys["rules"]
		_, hasGroups := keys["groups"]
		if hasRules || hasGroups {
			var g groupJSON
			if err := json.Unmarshal(raw, &g); err != nil {
				return nil, fmt.Errorf("%w: member %d: %v", ErrInvalidDocument, i, err)
			}
			child, err := parseGroup(g, LogicAnd)
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, child)
			continue
		}
		r, err := parseRule(raw)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		exprs = append(exprs, r)
	}
	return exprs, nil
}

func parseRule(raw json.RawMessage) (*Rule, error) {
	var rj ruleJSON
	if err := json.Unmarshal(raw, &rj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if rj.Indicator == "" {
		return nil, fmt.Errorf("%w: indicator", ErrMissingField)
	}
	opText := rj.Op
	if opText == "" {
		opText = rj.Operator
	}
	if opText == "" {
		return nil, fmt.Errorf("%w: op", ErrMissingField)
	}
	op, err := ParseOperator(opText)
	if err != nil {
		return nil, err
	}
	val, err := decodeOperand(rj.Value)
	if err != nil {
		return nil, err
	}
	return &Rule{Indicator: rj.Indicator, Op: op, Value: val, Negated: rj.Negated}, nil
}

func decodeOperand(raw json.RawMessage) (Operand, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Operand{}, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Operand{}, fmt.Errorf("%w: value: %v", ErrInvalidDocument, err)
		}
		return String(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Operand{}, fmt.Errorf("%w: value: %v", ErrInvalidDocument, err)
		}
		return Bool(b), nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return Operand{}, fmt.Errorf("%w: value: %v", ErrInvalidDocument, err)
		}
		list := make([]Operand, 0, len(items))
		for _, it := range items {
			o, err := decodeOperand(it)
			if err != nil {
				return Operand{}, err
			}
			list = append(list, o)
		}
		return List(list...), nil
	default:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return Operand{}, fmt.Errorf("%w: value: %v", ErrInvalidDocument, err)
		}
		return Number(f), nil
	}
}

// MarshalJSON implements json.Marshaler for Operand.
func (o Operand) MarshalJSON() ([]byte, error) {
	switch o.kind {
	case kindNumber:
		return json.Marshal(o.num)
	case kindString:
		return json.Marshal(o.str)
	case kindBool:
		return json.Marshal(o.bol)
	case kindList:
		return json.Marshal(o.list)
	}
	return []byte("null"), nil
}

// UnmarshalJSON implements json.Unmarshaler for Operand.
func (o *Operand) UnmarshalJSON(data []byte) error {
	v, err := decodeOperand(data)
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// MarshalJSON writes the document back in the form it was parsed from.
func (d *Document) MarshalJSON() ([]byte, error) {
	if d == nil || d.Root == nil {
		return []byte("[]"), nil
	}
	switch d.Form {
	case FormFlat:
		members, err := encodeMembers(d.Root.Exprs)
		if err != nil {
			return nil, err
		}
		return json.Marshal(members)
	case FormMultiGroup:
		members, err := encodeMembers(d.Root.Exprs)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"logic": string(d.Root.Logic), "groups": members})
	default:
		return encodeGroup(d.Root)
	}
}

// UnmarshalJSON implements json.Unmarshaler for Document.
func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

func encodeGroup(g *Group) ([]byte, error) {
	members, err := encodeMembers(g.Exprs)
	if err != nil {
		return nil, err
	}
	logic := g.Logic
	if logic == "" {
		logic = LogicAnd
	}
	return json.Marshal(map[string]any{"logic": string(logic), "rules": members})
}

func encodeMembers(exprs []Expr) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(exprs))
	for _, e := range exprs {
		var (
			b   []byte
			err error
		)
		switch n := e.(type) {
		case *Rule:
			b, err = json.Marshal(ruleJSON{
				Indicator: n.Indicator,
				Op:        string(n.Op),
				Value:     mustOperand(n.Value),
				Negated:   n.Negated,
			})
		case *Group:
			b, err = encodeGroup(n)
		default:
			err = fmt.Errorf("%w: unsupported node %T", ErrInvalidDocument, e)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func mustOperand(o Operand) json.RawMessage {
	if o.IsNull() {
		return nil
	}
	b, _ := o.MarshalJSON()
	return b
}
