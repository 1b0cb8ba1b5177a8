package rules

import (
	"fmt"
	"regexp"
	"strings"

	"hush/internal/event"
)

type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
	OpIn        Operator = "in"
	OpContains  Operator = "contains"
	OpGT        Operator = "gt"
	OpLT        Operator = "lt"
	OpGTE       Operator = "gte"
	OpLTE       Operator = "lte"
	OpRegex     Operator = "regex"
)

// Condition is the stored JSON form of a rule condition. A node is either
// a combinator (all, any, not) or a comparison (field, op, value).
// Comparisons may name a second field instead of a literal value.
type Condition struct {
	All        []Condition `json:"all,omitempty"`
	Any        []Condition `json:"any,omitempty"`
	Not        *Condition  `json:"not,omitempty"`
	Field      string      `json:"field,omitempty"`
	Op         Operator    `json:"op,omitempty"`
	Value      interface{} `json:"value,omitempty"`
	ValueField string      `json:"value_field,omitempty"`
}

// View is the merged evaluation input: event, payload, metadata,
// classification and context maps keyed by root name.
type View map[string]interface{}

var viewRoots = map[string]bool{
	"event": true, "payload": true, "metadata": true, "classification": true, "context": true,
}

// Resolve looks up a dotted path. Paths without a known root are read
// from the payload.
func (v View) Resolve(path string) (interface{}, bool) {
	root := path
	if i := strings.IndexByte(path, '.'); i >= 0 {
		root = path[:i]
	}
	if !viewRoots[root] {
		path = "payload." + path
	}
	return event.LookupPath(v, path)
}

// Expr is a compiled boolean node.
type Expr interface {
	Eval(v View) (bool, error)
}

// Operand yields a value for a comparison.
type Operand interface {
	Resolve(v View) (interface{}, bool)
}

type Literal struct {
	Value interface{}
}

func (l Literal) Resolve(View) (interface{}, bool) {
	return l.Value, l.Value != nil
}

func (l Literal) Eval(View) (bool, error) {
	return event.ToBool(l.Value), nil
}

type FieldRef struct {
	Path string
}

func (f FieldRef) Resolve(v View) (interface{}, bool) {
	return v.Resolve(f.Path)
}

type And struct {
	Terms []Expr
}

func (a And) Eval(v View) (bool, error) {
	for _, t := range a.Terms {
		ok, err := t.Eval(v)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

type Or struct {
	Terms []Expr
}

func (o Or) Eval(v View) (bool, error) {
	for _, t := range o.Terms {
		ok, err := t.Eval(v)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

type Not struct {
	Term Expr
}

func (n Not) Eval(v View) (bool, error) {
	ok, err := n.Term.Eval(v)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

type Compare struct {
	Op    Operator
	Left  Operand
	Right Operand
	re    *regexp.Regexp
}

// Eval returns false when the left field is absent. Type mismatches on
// ordering operators are errors so the rule is skipped.
func (c Compare) Eval(v View) (bool, error) {
	left, ok := c.Left.Resolve(v)
	if !ok {
		return c.Op == OpNotEquals, nil
	}
	right, rightOK := c.Right.Resolve(v)

	switch c.Op {
	case OpEquals:
		return rightOK && valuesEqual(left, right), nil
	case OpNotEquals:
		return !rightOK || !valuesEqual(left, right), nil
	case OpIn:
		return rightOK && in(left, right), nil
	case OpContains:
		return rightOK && contains(left, right), nil
	case OpGT, OpLT, OpGTE, OpLTE:
		return order(c.Op, left, right)
	case OpRegex:
		return c.re.MatchString(event.ToString(left)), nil
	}
	return false, fmt.Errorf("unsupported operator %q", c.Op)
}

// Compile validates cond and builds its expression tree. A nil or empty
// condition compiles to a literal true.
func Compile(cond *Condition) (Expr, error) {
	if cond == nil {
		return Literal{Value: true}, nil
	}
	return compile(*cond, "condition")
}

func compile(c Condition, at string) (Expr, error) {
	kinds := 0
	if len(c.All) > 0 {
		kinds++
	}
	if len(c.Any) > 0 {
		kinds++
	}
	if c.Not != nil {
		kinds++
	}
	if c.Field != "" || c.Op != "" {
		kinds++
	}
	if kinds > 1 {
		return nil, fmt.Errorf("%s: a node must be exactly one of all, any, not or a comparison", at)
	}

	switch {
	case len(c.All) > 0:
		terms, err := compileTerms(c.All, at+".all")
		return And{Terms: terms}, err
	case len(c.Any) > 0:
		terms, err := compileTerms(c.Any, at+".any")
		return Or{Terms: terms}, err
	case c.Not != nil:
		term, err := compile(*c.Not, at+".not")
		if err != nil {
			return nil, err
		}
		return Not{Term: term}, nil
	case c.Field != "" || c.Op != "":
		return compileCompare(c, at)
	}
	return Literal{Value: true}, nil
}

func compileTerms(conds []Condition, at string) ([]Expr, error) {
	terms := make([]Expr, 0, len(conds))
	for i, c := range conds {
		term, err := compile(c, fmt.Sprintf("%s[%d]", at, i))
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	return terms, nil
}

func compileCompare(c Condition, at string) (Expr, error) {
	if c.Field == "" {
		return nil, fmt.Errorf("%s: field is required", at)
	}

	cmp := Compare{Op: c.Op, Left: FieldRef{Path: c.Field}}
	if c.ValueField != "" {
		cmp.Right = FieldRef{Path: c.ValueField}
	} else {
		cmp.Right = Literal{Value: c.Value}
	}

	switch c.Op {
	case OpEquals, OpNotEquals, OpContains:
	case OpIn:
		if c.ValueField == "" {
			if _, ok := c.Value.([]interface{}); !ok {
				if _, ok := c.Value.([]string); !ok {
					return nil, fmt.Errorf("%s: operator in requires a list value", at)
				}
			}
		}
	case OpGT, OpLT, OpGTE, OpLTE:
		if c.ValueField == "" {
			if _, ok := event.ToFloat(c.Value); !ok {
				return nil, fmt.Errorf("%s: operator %s requires a numeric value", at, c.Op)
			}
		}
	case OpRegex:
		pattern, ok := c.Value.(string)
		if !ok || c.ValueField != "" {
			return nil, fmt.Errorf("%s: operator regex requires a string pattern", at)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid regex: %w", at, err)
		}
		cmp.re = re
	case "":
		return nil, fmt.Errorf("%s: operator is required", at)
	default:
		return nil, fmt.Errorf("%s: unknown operator %q", at, c.Op)
	}

	return cmp, nil
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}

func valuesEqual(a, b interface{}) bool {
	if isNumber(a) && isNumber(b) {
		fa, _ := event.ToFloat(a)
		fb, _ := event.ToFloat(b)
		return fa == fb
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ba == bb
	}
	return event.ToString(a) == event.ToString(b)
}

func asList(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// in reports membership; a list on the left matches on any overlap.
func in(left, right interface{}) bool {
	candidates, ok := asList(right)
	if !ok {
		return false
	}
	lefts, isList := asList(left)
	if !isList {
		lefts = []interface{}{left}
	}
	for _, l := range lefts {
		for _, c := range candidates {
			if valuesEqual(l, c) {
				return true
			}
		}
	}
	return false
}

func contains(left, right interface{}) bool {
	if items, ok := asList(left); ok {
		for _, item := range items {
			if valuesEqual(item, right) {
				return true
			}
		}
		return false
	}
	if s, ok := left.(string); ok {
		return strings.Contains(s, event.ToString(right))
	}
	return false
}

func order(op Operator, left, right interface{}) (bool, error) {
	l, ok := event.ToFloat(left)
	if !ok {
		return false, fmt.Errorf("operator %s: left value %v is not numeric", op, left)
	}
	r, ok := event.ToFloat(right)
	if !ok {
		return false, fmt.Errorf("operator %s: right value %v is not numeric", op, right)
	}
	switch op {
	case OpGT:
		return l > r, nil
	case OpLT:
		return l < r, nil
	case OpGTE:
		return l >= r, nil
	default:
		return l <= r, nil
	}
}
