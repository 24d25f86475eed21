// Package matching evaluates criteria expressions against raw records.
// It backs the store implementations that have no native query engine
// (the in-memory and JSON-file stores).
package matching

import (
	"sort"
	"strings"

	"github.com/spf13/cast"

	"repomap/criteria"
)

// Matches reports whether record satisfies expr. A nil expression
// matches every record.
func Matches(record map[string]any, expr *criteria.Expression) bool {
	if expr == nil {
		return true
	}
	switch expr.Op {
	case criteria.OpAnd:
		for _, child := range expr.Children {
			if !Matches(record, child) {
				return false
			}
		}
		return true
	case criteria.OpOr:
		for _, child := range expr.Children {
			if Matches(record, child) {
				return true
			}
		}
		return false
	}
	return matchLeaf(record, expr)
}

func matchLeaf(record map[string]any, leaf *criteria.Expression) bool {
	value, ok := record[leaf.Field]
	if !ok {
		value = nil
	}

	switch leaf.Op {
	case criteria.OpEq:
		return equal(value, leaf.Value)
	case criteria.OpNeq:
		return !equal(value, leaf.Value)
	case criteria.OpGt:
		cmp, ok := compare(value, leaf.Value)
		return ok && cmp > 0
	case criteria.OpGte:
		cmp, ok := compare(value, leaf.Value)
		return ok && cmp >= 0
	case criteria.OpLt:
		cmp, ok := compare(value, leaf.Value)
		return ok && cmp < 0
	case criteria.OpLte:
		cmp, ok := compare(value, leaf.Value)
		return ok && cmp <= 0
	case criteria.OpIn:
		return inSet(value, leaf.Value)
	case criteria.OpNin:
		return !inSet(value, leaf.Value)
	case criteria.OpLike:
		return like(cast.ToString(value), cast.ToString(leaf.Value))
	}
	return false
}

// equal compares loosely: numeric values are compared as floats so that
// int64(3) from one source equals float64(3) or "3" from another.
func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, err := cast.ToFloat64E(a); err == nil {
		if bf, err := cast.ToFloat64E(b); err == nil {
			return af == bf
		}
	}
	return cast.ToString(a) == cast.ToString(b)
}

// compare orders two values: numerically when both sides cast to a
// number, lexically otherwise. The second return is false when either
// side is nil (nil is unordered).
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if af, err := cast.ToFloat64E(a); err == nil {
		if bf, err := cast.ToFloat64E(b); err == nil {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
	}
	return strings.Compare(cast.ToString(a), cast.ToString(b)), true
}

func inSet(value, set any) bool {
	members, ok := set.([]any)
	if !ok {
		return equal(value, set)
	}
	for _, member := range members {
		if equal(value, member) {
			return true
		}
	}
	return false
}

// like implements the contains/LIKE operator: "%" is a multi-character
// wildcard; a pattern without wildcards matches as a substring. Matching
// is case-insensitive.
func like(value, pattern string) bool {
	value = strings.ToLower(value)
	pattern = strings.ToLower(pattern)

	if !strings.Contains(pattern, "%") {
		return strings.Contains(value, pattern)
	}

	parts := strings.Split(pattern, "%")
	if head := parts[0]; head != "" {
		if !strings.HasPrefix(value, head) {
			return false
		}
		value = value[len(head):]
	}
	if tail := parts[len(parts)-1]; tail != "" {
		if !strings.HasSuffix(value, tail) {
			return false
		}
		value = value[:len(value)-len(tail)]
	}
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(value, part)
		if idx < 0 {
			return false
		}
		value = value[idx+len(part):]
	}
	return true
}

// Filter returns the records satisfying expr, preserving input order.
func Filter(records []map[string]any, expr *criteria.Expression) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, record := range records {
		if Matches(record, expr) {
			out = append(out, record)
		}
	}
	return out
}

// Sort orders records by the given clauses, applied in sequence. The
// sort is stable so earlier clauses dominate and store insertion order
// breaks remaining ties.
func Sort(records []map[string]any, orderBy []criteria.Order) {
	if len(orderBy) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, clause := range orderBy {
			cmp, ok := compare(records[i][clause.Field], records[j][clause.Field])
			if !ok || cmp == 0 {
				continue
			}
			if clause.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// Page applies offset and limit to records. Non-positive limit means
// no limit.
func Page(records []map[string]any, limit, offset int) []map[string]any {
	if offset > 0 {
		if offset >= len(records) {
			return nil
		}
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}
