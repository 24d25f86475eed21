// Package criteria models query conditions as a backend-neutral tree.
//
// A criteria expression is either a leaf condition (field, operator, value)
// or a logic node (AND/OR) holding nested expressions. Store backends
// translate the tree to their native query form; this package never talks
// to a store.
package criteria

import (
	"fmt"
	"sort"
	"strings"
)

// Operator identifies a comparison or logic operation in an expression.
type Operator string

const (
	OpEq   Operator = "eq"
	OpNeq  Operator = "neq"
	OpGt   Operator = "gt"
	OpGte  Operator = "gte"
	OpLt   Operator = "lt"
	OpLte  Operator = "lte"
	OpIn   Operator = "in"
	OpNin  Operator = "nin"
	OpLike Operator = "like"

	OpAnd Operator = "and"
	OpOr  Operator = "or"
)

// comparisonOps maps the operator suffixes accepted in "field:operator"
// keys to their canonical operator. Aliases match the suffixes commonly
// used in loosely-typed condition maps.
var comparisonOps = map[string]Operator{
	"eq":   OpEq,
	"neq":  OpNeq,
	"ne":   OpNeq,
	"gt":   OpGt,
	"gte":  OpGte,
	"lt":   OpLt,
	"lte":  OpLte,
	"in":   OpIn,
	"nin":  OpNin,
	"like": OpLike,
}

// Expression is one node of a criteria tree. Leaf nodes carry Field,
// Op and Value; logic nodes carry Op (OpAnd/OpOr) and Children.
type Expression struct {
	Field    string
	Op       Operator
	Value    any
	Children []*Expression
}

// IsLogic reports whether the node is an AND/OR node.
func (e *Expression) IsLogic() bool {
	return e.Op == OpAnd || e.Op == OpOr
}

// Clone returns a deep copy of the expression tree.
func (e *Expression) Clone() *Expression {
	if e == nil {
		return nil
	}
	out := &Expression{Field: e.Field, Op: e.Op, Value: e.Value}
	if len(e.Children) > 0 {
		out.Children = make([]*Expression, len(e.Children))
		for i, child := range e.Children {
			out.Children[i] = child.Clone()
		}
	}
	return out
}

// WalkLeaves calls fn for every leaf condition in the tree, in order.
func (e *Expression) WalkLeaves(fn func(leaf *Expression)) {
	if e == nil {
		return
	}
	if e.IsLogic() {
		for _, child := range e.Children {
			child.WalkLeaves(fn)
		}
		return
	}
	fn(e)
}

// Leaf builds a single leaf condition.
func Leaf(field string, op Operator, value any) *Expression {
	return &Expression{Field: field, Op: op, Value: value}
}

// Eq builds an equality condition.
func Eq(field string, value any) *Expression {
	return Leaf(field, OpEq, value)
}

// In builds an in-set condition.
func In(field string, values []any) *Expression {
	return Leaf(field, OpIn, values)
}

// And combines expressions into a conjunction. Nil children are dropped;
// a single surviving child is returned as-is.
func And(children ...*Expression) *Expression {
	return logic(OpAnd, children)
}

// Or combines expressions into a disjunction.
func Or(children ...*Expression) *Expression {
	return logic(OpOr, children)
}

func logic(op Operator, children []*Expression) *Expression {
	kept := make([]*Expression, 0, len(children))
	for _, child := range children {
		if child != nil {
			kept = append(kept, child)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &Expression{Op: op, Children: kept}
}

// Order is one ordering clause, passed through to stores untouched.
type Order struct {
	Field      string
	Descending bool
}

// Build converts a loosely-typed condition map into an expression tree.
//
// Each key is either a logic marker ("AND"/"OR", case-insensitive) whose
// value is a nested condition map or a list of such maps, or a field key
// in "name" or "name:operator" form. A missing operator suffix means
// equality; a slice value on a plain key means in-set. An empty map
// yields a nil expression, meaning "match everything".
func Build(conditions map[string]any) (*Expression, error) {
	if len(conditions) == 0 {
		return nil, nil
	}

	children := make([]*Expression, 0, len(conditions))
	for _, key := range sortedKeys(conditions) {
		value := conditions[key]

		if op, ok := logicOp(key); ok {
			node, err := buildLogic(op, value)
			if err != nil {
				return nil, err
			}
			if node != nil {
				children = append(children, node)
			}
			continue
		}

		leaf, err := buildLeaf(key, value)
		if err != nil {
			return nil, err
		}
		children = append(children, leaf)
	}

	return And(children...), nil
}

func logicOp(key string) (Operator, bool) {
	switch strings.ToUpper(key) {
	case "AND":
		return OpAnd, true
	case "OR":
		return OpOr, true
	}
	return "", false
}

// buildLogic builds an AND/OR node from either a nested condition map
// (each entry becomes one branch) or a slice of condition maps.
func buildLogic(op Operator, value any) (*Expression, error) {
	switch v := value.(type) {
	case map[string]any:
		branches := make([]*Expression, 0, len(v))
		for _, key := range sortedKeys(v) {
			branch, err := Build(map[string]any{key: v[key]})
			if err != nil {
				return nil, err
			}
			if branch != nil {
				branches = append(branches, branch)
			}
		}
		return logic(op, branches), nil
	case []map[string]any:
		branches := make([]*Expression, 0, len(v))
		for _, cond := range v {
			branch, err := Build(cond)
			if err != nil {
				return nil, err
			}
			if branch != nil {
				branches = append(branches, branch)
			}
		}
		return logic(op, branches), nil
	case []any:
		branches := make([]*Expression, 0, len(v))
		for _, raw := range v {
			cond, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("criteria: %s branch must be a condition map, got %T", op, raw)
			}
			branch, err := Build(cond)
			if err != nil {
				return nil, err
			}
			if branch != nil {
				branches = append(branches, branch)
			}
		}
		return logic(op, branches), nil
	}
	return nil, fmt.Errorf("criteria: %s value must be a condition map or list, got %T", op, value)
}

func buildLeaf(key string, value any) (*Expression, error) {
	field, suffix, hasOp := strings.Cut(key, ":")
	if field == "" {
		return nil, fmt.Errorf("criteria: empty field name in key %q", key)
	}

	op := OpEq
	if hasOp {
		known, ok := comparisonOps[strings.ToLower(suffix)]
		if !ok {
			return nil, fmt.Errorf("criteria: unknown operator %q in key %q", suffix, key)
		}
		op = known
	}

	// A sequence value on a plain equality key means "in that set".
	if op == OpEq {
		if set, ok := toSet(value); ok {
			return Leaf(field, OpIn, set), nil
		}
	}
	if op == OpIn || op == OpNin {
		set, ok := toSet(value)
		if !ok {
			return nil, fmt.Errorf("criteria: %s on %q requires a sequence value, got %T", op, field, value)
		}
		return Leaf(field, op, set), nil
	}

	// Nested {operator: value} maps are accepted for a plain key,
	// e.g. {"age": {"gte": 18}}.
	if op == OpEq {
		if nested, ok := value.(map[string]any); ok {
			conds := make(map[string]any, len(nested))
			for nestedOp, nestedValue := range nested {
				if _, known := comparisonOps[strings.ToLower(nestedOp)]; !known {
					return nil, fmt.Errorf("criteria: unknown operator %q for field %q", nestedOp, field)
				}
				conds[field+":"+nestedOp] = nestedValue
			}
			return Build(conds)
		}
	}

	return Leaf(field, op, value), nil
}

// toSet normalizes any slice value into []any.
func toSet(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, true
	case []int64:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(v))
		for i, f := range v {
			out[i] = f
		}
		return out, true
	}
	return nil, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	// Map iteration order is random; a stable build order keeps
	// generated queries and tests deterministic.
	sort.Strings(keys)
	return keys
}
