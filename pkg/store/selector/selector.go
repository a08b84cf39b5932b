// Package selector evaluates structured query selectors against documents.
// It supports the commonly used subset of the Mango selector syntax:
// implicit equality, field operators ($eq $ne $gt $gte $lt $lte $in $nin
// $exists $type $size $all $elemMatch $regex $mod) and combinators
// ($and $or $nor $not) over dotted field paths.
package selector

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"eduapp/pkg/models"
	"eduapp/pkg/store/collate"
)

var ErrInvalidSelector = errors.New("invalid selector")

// Matcher reports whether a document's fields satisfy a compiled selector.
type Matcher interface {
	Match(fields map[string]any) bool
}

type matchFunc func(fields map[string]any) bool

func (f matchFunc) Match(fields map[string]any) bool { return f(fields) }

// valuePred tests the value found at a path; found is false when the path is
// absent.
type valuePred func(v any, found bool) bool

// Compile validates sel and returns a reusable matcher. A nil or empty
// selector matches every document.
func Compile(sel map[string]any) (Matcher, error) {
	m, err := compileObject(sel)
	if err != nil {
		return nil, err
	}
	return matchFunc(m), nil
}

// Match compiles and evaluates in one step.
func Match(sel map[string]any, fields map[string]any) (bool, error) {
	m, err := Compile(sel)
	if err != nil {
		return false, err
	}
	return m.Match(fields), nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSelector, fmt.Sprintf(format, args...))
}

func compileObject(sel map[string]any) (matchFunc, error) {
	// deterministic compile order keeps error messages stable
	keys := make([]string, 0, len(sel))
	for k := range sel {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var clauses []matchFunc
	for _, k := range keys {
		v := sel[k]
		var (
			c   matchFunc
			err error
		)
		switch k {
		case "$and", "$or", "$nor":
			c, err = compileCombinator(k, v)
		case "$not":
			sub, ok := v.(map[string]any)
			if !ok {
				return nil, invalid("$not expects an object")
			}
			inner, ierr := compileObject(sub)
			if ierr != nil {
				return nil, ierr
			}
			c = func(f map[string]any) bool { return !inner(f) }
		default:
			if strings.HasPrefix(k, "$") {
				return nil, invalid("unknown top-level operator %s", k)
			}
			c, err = compileField(k, v)
		}
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}
	return func(f map[string]any) bool {
		for _, c := range clauses {
			if !c(f) {
				return false
			}
		}
		return true
	}, nil
}

func compileCombinator(op string, v any) (matchFunc, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, invalid("%s expects an array", op)
	}
	subs := make([]matchFunc, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			return nil, invalid("%s expects an array of objects", op)
		}
		m, err := compileObject(obj)
		if err != nil {
			return nil, err
		}
		subs = append(subs, m)
	}
	switch op {
	case "$and":
		return func(f map[string]any) bool {
			for _, s := range subs {
				if !s(f) {
					return false
				}
			}
			return true
		}, nil
	case "$or":
		if len(subs) == 0 {
			return nil, invalid("$or expects at least one clause")
		}
		return func(f map[string]any) bool {
			for _, s := range subs {
				if s(f) {
					return true
				}
			}
			return false
		}, nil
	default: // $nor
		return func(f map[string]any) bool {
			for _, s := range subs {
				if s(f) {
					return false
				}
			}
			return true
		}, nil
	}
}

func compileField(path string, cond any) (matchFunc, error) {
	pred, err := compileCondition(cond)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", path, err)
	}
	return func(f map[string]any) bool {
		v, found := models.Lookup(f, path)
		return pred(v, found)
	}, nil
}

// compileCondition handles either an operator object or an implicit $eq.
func compileCondition(cond any) (valuePred, error) {
	obj, ok := cond.(map[string]any)
	if !ok || !isOperatorObject(obj) {
		return eq(cond), nil
	}
	ops := make([]string, 0, len(obj))
	for k := range obj {
		ops = append(ops, k)
	}
	sort.Strings(ops)
	preds := make([]valuePred, 0, len(ops))
	for _, op := range ops {
		p, err := compileOperator(op, obj[op])
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return func(v any, found bool) bool {
		for _, p := range preds {
			if !p(v, found) {
				return false
			}
		}
		return true
	}, nil
}

func isOperatorObject(obj map[string]any) bool {
	if len(obj) == 0 {
		return false
	}
	for k := range obj {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func eq(arg any) valuePred {
	return func(v any, found bool) bool { return found && collate.Equal(v, arg) }
}

func compare(arg any, ok func(c int) bool) valuePred {
	return func(v any, found bool) bool { return found && ok(collate.Compare(v, arg)) }
}

func compileOperator(op string, arg any) (valuePred, error) {
	switch op {
	case "$eq":
		return eq(arg), nil
	case "$ne":
		return func(v any, found bool) bool { return found && !collate.Equal(v, arg) }, nil
	case "$gt":
		return compare(arg, func(c int) bool { return c > 0 }), nil
	case "$gte":
		return compare(arg, func(c int) bool { return c >= 0 }), nil
	case "$lt":
		return compare(arg, func(c int) bool { return c < 0 }), nil
	case "$lte":
		return compare(arg, func(c int) bool { return c <= 0 }), nil
	case "$in", "$nin":
		list, ok := arg.([]any)
		if !ok {
			return nil, invalid("%s expects an array", op)
		}
		in := func(v any) bool {
			for _, c := range list {
				if collate.Equal(v, c) {
					return true
				}
			}
			if arr, ok := v.([]any); ok {
				for _, e := range arr {
					for _, c := range list {
						if collate.Equal(e, c) {
							return true
						}
					}
				}
			}
			return false
		}
		if op == "$in" {
			return func(v any, found bool) bool { return found && in(v) }, nil
		}
		return func(v any, found bool) bool { return found && !in(v) }, nil
	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			return nil, invalid("$exists expects a boolean")
		}
		return func(_ any, found bool) bool { return found == want }, nil
	case "$type":
		want, ok := arg.(string)
		if !ok {
			return nil, invalid("$type expects a string")
		}
		return func(v any, found bool) bool { return found && typeName(v) == want }, nil
	case "$size":
		n, ok := collate.ToFloat(arg)
		if !ok || n < 0 || n != math.Trunc(n) {
			return nil, invalid("$size expects a non-negative integer")
		}
		return func(v any, found bool) bool {
			arr, ok := v.([]any)
			return found && ok && len(arr) == int(n)
		}, nil
	case "$all":
		want, ok := arg.([]any)
		if !ok {
			return nil, invalid("$all expects an array")
		}
		return func(v any, found bool) bool {
			arr, ok := v.([]any)
			if !found || !ok {
				return false
			}
			for _, w := range want {
				hit := false
				for _, e := range arr {
					if collate.Equal(e, w) {
						hit = true
						break
					}
				}
				if !hit {
					return false
				}
			}
			return true
		}, nil
	case "$elemMatch":
		sub, ok := arg.(map[string]any)
		if !ok {
			return nil, invalid("$elemMatch expects an object")
		}
		var elem func(e any) bool
		if isOperatorObject(sub) {
			p, err := compileCondition(sub)
			if err != nil {
				return nil, err
			}
			elem = func(e any) bool { return p(e, true) }
		} else {
			m, err := compileObject(sub)
			if err != nil {
				return nil, err
			}
			elem = func(e any) bool {
				obj, ok := e.(map[string]any)
				return ok && m(obj)
			}
		}
		return func(v any, found bool) bool {
			arr, ok := v.([]any)
			if !found || !ok {
				return false
			}
			for _, e := range arr {
				if elem(e) {
					return true
				}
			}
			return false
		}, nil
	case "$regex":
		pattern, ok := arg.(string)
		if !ok {
			return nil, invalid("$regex expects a string")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, invalid("$regex: %v", err)
		}
		return func(v any, found bool) bool {
			s, ok := v.(string)
			return found && ok && re.MatchString(s)
		}, nil
	case "$mod":
		pair, ok := arg.([]any)
		if !ok || len(pair) != 2 {
			return nil, invalid("$mod expects [divisor, remainder]")
		}
		div, ok1 := collate.ToFloat(pair[0])
		rem, ok2 := collate.ToFloat(pair[1])
		if !ok1 || !ok2 || div == 0 || div != math.Trunc(div) || rem != math.Trunc(rem) {
			return nil, invalid("$mod expects integer divisor and remainder")
		}
		return func(v any, found bool) bool {
			f, ok := collate.ToFloat(v)
			if !found || !ok || f != math.Trunc(f) {
				return false
			}
			return int64(f)%int64(div) == int64(rem)
		}, nil
	case "$not":
		p, err := compileCondition(arg)
		if err != nil {
			return nil, err
		}
		return func(v any, found bool) bool { return found && !p(v, found) }, nil
	}
	return nil, invalid("unknown operator %s", op)
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	if _, ok := collate.ToFloat(v); ok {
		return "number"
	}
	return "unknown"
}
