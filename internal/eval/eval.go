package eval

import (
	"fmt"
	"math"
	"strings"
)

// builtin is a whitelisted pure function callable from expressions.
// Nothing else is callable — a name that resolves to any other value is
// rejected at call time.
type builtin struct {
	name string
	fn   func(args []any) (any, error)
}

// Evaluate parses expr and evaluates it against vars. It is pure: vars is
// never mutated and evaluation has no side effects. Constructs outside the
// permitted grammar return *Error.
func Evaluate(expr string, vars map[string]any) (any, error) {
	n, err := parse(expr)
	if err != nil {
		return nil, err
	}
	ev := &evaluator{expr: expr, vars: vars, builtins: defaultBuiltins(vars)}
	return ev.eval(n)
}

type evaluator struct {
	expr     string
	vars     map[string]any
	builtins map[string]any
}

// defaultBuiltins returns the function whitelist and constants. val is
// bound over vars so it can reach the features and context namespaces.
func defaultBuiltins(vars map[string]any) map[string]any {
	return map[string]any{
		"pi":    math.Pi,
		"e":     math.E,
		"min":   &builtin{name: "min", fn: variadicFold("min", math.Min)},
		"max":   &builtin{name: "max", fn: variadicFold("max", math.Max)},
		"abs":   &builtin{name: "abs", fn: numeric1("abs", math.Abs)},
		"sqrt":  &builtin{name: "sqrt", fn: numeric1("sqrt", math.Sqrt)},
		"sin":   &builtin{name: "sin", fn: numeric1("sin", math.Sin)},
		"cos":   &builtin{name: "cos", fn: numeric1("cos", math.Cos)},
		"tan":   &builtin{name: "tan", fn: numeric1("tan", math.Tan)},
		"clamp": &builtin{name: "clamp", fn: clampFn},
		"mean":  &builtin{name: "mean", fn: meanFn},
		"val":   &builtin{name: "val", fn: valAccessor(vars)},
	}
}

func (ev *evaluator) errorf(format string, args ...any) error {
	return &Error{Expr: ev.expr, Msg: fmt.Sprintf(format, args...)}
}

func (ev *evaluator) eval(n node) (any, error) {
	switch n := n.(type) {
	case numberNode:
		return n.val, nil
	case stringNode:
		return n.val, nil
	case boolNode:
		return n.val, nil
	case noneNode:
		return nil, nil

	case nameNode:
		if v, ok := ev.vars[n.name]; ok {
			return v, nil
		}
		if v, ok := ev.builtins[n.name]; ok {
			return v, nil
		}
		// Unknown names degrade to 0.0 so sparse feature maps stay usable.
		return 0.0, nil

	case listNode:
		out := make([]any, len(n.elems))
		for i, e := range n.elems {
			v, err := ev.eval(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case dictNode:
		out := make(map[string]any, len(n.keys))
		for i := range n.keys {
			k, err := ev.eval(n.keys[i])
			if err != nil {
				return nil, err
			}
			v, err := ev.eval(n.vals[i])
			if err != nil {
				return nil, err
			}
			out[stringify(k)] = v
		}
		return out, nil

	case attrNode:
		target, err := ev.eval(n.target)
		if err != nil {
			return nil, err
		}
		m, ok := target.(map[string]any)
		if !ok {
			return nil, ev.errorf("attribute %q on non-map value", n.name)
		}
		return m[n.name], nil

	case indexNode:
		return ev.evalIndex(n)

	case callNode:
		return ev.evalCall(n)

	case unaryNode:
		return ev.evalUnary(n)

	case binaryNode:
		return ev.evalBinary(n)

	case boolOpNode:
		return ev.evalBoolOp(n)

	case compareNode:
		return ev.evalCompare(n)

	case condNode:
		test, err := ev.eval(n.test)
		if err != nil {
			return nil, err
		}
		if truthy(test) {
			return ev.eval(n.body)
		}
		return ev.eval(n.orelse)
	}
	return nil, ev.errorf("unsupported expression element %T", n)
}

func (ev *evaluator) evalIndex(n indexNode) (any, error) {
	target, err := ev.eval(n.target)
	if err != nil {
		return nil, err
	}
	key, err := ev.eval(n.key)
	if err != nil {
		return nil, err
	}
	switch t := target.(type) {
	case map[string]any:
		return t[stringify(key)], nil
	case []any:
		idx, ok := Number(key)
		if !ok {
			return nil, ev.errorf("list index must be numeric")
		}
		i := int(idx)
		if i < 0 || i >= len(t) {
			return nil, nil
		}
		return t[i], nil
	}
	return nil, ev.errorf("subscript on non-indexable value")
}

func (ev *evaluator) evalCall(n callNode) (any, error) {
	target, err := ev.eval(n.target)
	if err != nil {
		return nil, err
	}
	fn, ok := target.(*builtin)
	if !ok {
		return nil, ev.errorf("call to non-callable value")
	}
	args := make([]any, len(n.args))
	for i, a := range n.args {
		v, err := ev.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	out, err := fn.fn(args)
	if err != nil {
		return nil, &Error{Expr: ev.expr, Msg: fmt.Sprintf("%s: %v", fn.name, err)}
	}
	return out, nil
}

func (ev *evaluator) evalUnary(n unaryNode) (any, error) {
	operand, err := ev.eval(n.operand)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "not":
		return !truthy(operand), nil
	case "+", "-":
		v, ok := Number(operand)
		if !ok {
			return nil, ev.errorf("unary %q on non-numeric value", n.op)
		}
		if n.op == "-" {
			return -v, nil
		}
		return v, nil
	}
	return nil, ev.errorf("unsupported unary operator %q", n.op)
}

func (ev *evaluator) evalBinary(n binaryNode) (any, error) {
	left, err := ev.eval(n.left)
	if err != nil {
		return nil, err
	}
	right, err := ev.eval(n.right)
	if err != nil {
		return nil, err
	}

	// String concatenation is the one non-numeric binary form.
	if n.op == "+" {
		ls, lok := left.(string)
		rs, rok := right.(string)
		if lok && rok {
			return ls + rs, nil
		}
	}

	l, lok := Number(left)
	r, rok := Number(right)
	if !lok || !rok {
		return nil, ev.errorf("operator %q needs numeric operands", n.op)
	}
	switch n.op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return nil, ev.errorf("division by zero")
		}
		return l / r, nil
	case "%":
		if r == 0 {
			return nil, ev.errorf("modulo by zero")
		}
		return math.Mod(l, r), nil
	case "**":
		return math.Pow(l, r), nil
	}
	return nil, ev.errorf("unsupported binary operator %q", n.op)
}

func (ev *evaluator) evalBoolOp(n boolOpNode) (any, error) {
	for _, operand := range n.operands {
		v, err := ev.eval(operand)
		if err != nil {
			return nil, err
		}
		if n.op == "and" && !truthy(v) {
			return false, nil
		}
		if n.op == "or" && truthy(v) {
			return true, nil
		}
	}
	return n.op == "and", nil
}

func (ev *evaluator) evalCompare(n compareNode) (any, error) {
	left, err := ev.eval(n.first)
	if err != nil {
		return nil, err
	}
	for i, op := range n.ops {
		right, err := ev.eval(n.rest[i])
		if err != nil {
			return nil, err
		}
		ok, err := ev.compare(op, left, right)
		if err != nil {
			return nil, err
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

func (ev *evaluator) compare(op string, left, right any) (bool, error) {
	switch op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case "in":
		return ev.contains(left, right)
	case "not in":
		ok, err := ev.contains(left, right)
		return !ok, err
	}

	// Ordered comparison: numbers with numbers, strings with strings.
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return orderedCompare(op, strings.Compare(ls, rs)), nil
		}
	}
	l, lok := Number(left)
	r, rok := Number(right)
	if !lok || !rok {
		return false, ev.errorf("operator %q needs comparable operands", op)
	}
	switch op {
	case "<":
		return l < r, nil
	case "<=":
		return l <= r, nil
	case ">":
		return l > r, nil
	case ">=":
		return l >= r, nil
	}
	return false, ev.errorf("unsupported compare operator %q", op)
}

func orderedCompare(op string, cmp int) bool {
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func (ev *evaluator) contains(needle, haystack any) (bool, error) {
	switch h := haystack.(type) {
	case []any:
		for _, v := range h {
			if looseEqual(needle, v) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		_, ok := h[stringify(needle)]
		return ok, nil
	case string:
		s, ok := needle.(string)
		if !ok {
			return false, ev.errorf("\"in\" needs a string on the left of a string")
		}
		return strings.Contains(h, s), nil
	}
	return false, ev.errorf("\"in\" needs a list, map, or string on the right")
}

// --- builtin implementations ---

func numeric1(name string, fn func(float64) float64) func([]any) (any, error) {
	return func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("want 1 argument, got %d", len(args))
		}
		v, ok := Number(args[0])
		if !ok {
			return nil, fmt.Errorf("non-numeric argument")
		}
		return fn(v), nil
	}
}

// variadicFold implements min/max over either a single list argument or
// two-plus scalar arguments, matching the Python forms the rules use.
func variadicFold(name string, fn func(float64, float64) float64) func([]any) (any, error) {
	return func(args []any) (any, error) {
		vals, err := flattenNumeric(args)
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			return nil, fmt.Errorf("no arguments")
		}
		acc := vals[0]
		for _, v := range vals[1:] {
			acc = fn(acc, v)
		}
		return acc, nil
	}
}

// clampFn restricts x to [lo, hi]; lo and hi default to 0 and 1.
func clampFn(args []any) (any, error) {
	if len(args) < 1 || len(args) > 3 {
		return nil, fmt.Errorf("want 1 to 3 arguments, got %d", len(args))
	}
	x, ok := Number(args[0])
	if !ok {
		return 0.0, nil
	}
	lo, hi := 0.0, 1.0
	if len(args) >= 2 {
		if v, ok := Number(args[1]); ok {
			lo = v
		}
	}
	if len(args) == 3 {
		if v, ok := Number(args[2]); ok {
			hi = v
		}
	}
	return math.Max(lo, math.Min(hi, x)), nil
}

func meanFn(args []any) (any, error) {
	vals, err := flattenNumeric(args)
	if err != nil || len(vals) == 0 {
		return 0.0, nil
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals)), nil
}

// valAccessor builds the contextual val(path, default) lookup: a dotted
// path resolved first against the "features" namespace, then "context".
func valAccessor(vars map[string]any) func([]any) (any, error) {
	return func(args []any) (any, error) {
		if len(args) < 1 || len(args) > 2 {
			return nil, fmt.Errorf("want 1 or 2 arguments, got %d", len(args))
		}
		path, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("path must be a string")
		}
		var def any
		if len(args) == 2 {
			def = args[1]
		}
		if features, ok := vars["features"].(map[string]any); ok {
			if v := Lookup(features, path); v != nil {
				return v, nil
			}
		}
		if ctx, ok := vars["context"].(map[string]any); ok {
			if v := Lookup(ctx, path); v != nil {
				return v, nil
			}
		}
		return def, nil
	}
}

// Lookup walks a dotted path through nested maps, e.g. "moon.phase".
// Returns nil when any segment is missing or not a map.
func Lookup(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = mm[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func flattenNumeric(args []any) ([]float64, error) {
	var out []float64
	for _, a := range args {
		if list, ok := a.([]any); ok {
			for _, e := range list {
				if v, ok := Number(e); ok {
					out = append(out, v)
				}
			}
			continue
		}
		v, ok := Number(a)
		if !ok {
			return nil, fmt.Errorf("non-numeric argument")
		}
		out = append(out, v)
	}
	return out, nil
}

// --- value helpers ---

// Number coerces numeric-ish values to float64. Bools count as 0/1 so
// boolean features compose with arithmetic the way the rules expect.
func Number(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}
	if n, ok := Number(v); ok {
		return n != 0
	}
	return true
}

func looseEqual(a, b any) bool {
	if an, ok := Number(a); ok {
		if bn, ok := Number(b); ok {
			return an == bn
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}
	return a == nil && b == nil
}

// stringify renders a value the way YAML keys are written, so map tables
// match both raw and stringified keys.
func stringify(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case nil:
		return ""
	}
	if n, ok := Number(v); ok {
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%g", n)
	}
	return fmt.Sprintf("%v", v)
}
