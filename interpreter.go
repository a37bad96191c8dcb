package safexpr

import (
	"math"
	"reflect"
	"strings"
)

// Interpreter evaluates a validated abstract syntax tree.
type Interpreter interface {
	// Run evaluates the expression against the given variable bindings.
	// One interpreter may be shared by any number of goroutines.
	Run(variables map[string]any) (any, Error)
}

// NewInterpreter returns an interpreter for the given tree. Validation is a
// separate pass; the interpreter itself only reports evaluation errors.
func NewInterpreter(ast *Node, opts ...Option) Interpreter {
	return &interpreter{ast: ast, opts: newOptions(opts)}
}

type interpreter struct {
	ast  *Node
	opts *options
}

func (i *interpreter) Run(variables map[string]any) (any, Error) {
	s := &evalState{vars: variables, maxDepth: i.opts.maxDepth}
	return s.eval(i.ast)
}

// evalState carries the per-run mutable state, which keeps a shared
// interpreter safe for concurrent use.
type evalState struct {
	vars     map[string]any
	depth    int
	maxDepth int
}

func (s *evalState) eval(n *Node) (any, Error) {
	s.depth++
	defer func() { s.depth-- }()
	if s.depth > s.maxDepth {
		return nil, evalErr(n.Offset, n.Length, "expression too deeply nested")
	}
	switch n.Type {
	case NodeLiteral:
		return n.Value, nil
	case NodeIdentifier:
		name := n.Value.(string)
		if v, ok := s.vars[name]; ok {
			return v, nil
		}
		return nil, evalErr(n.Offset, n.Length, "undefined variable: %s", name)
	case NodeSign:
		return s.evalSign(n)
	case NodeNot:
		v, err := s.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	case NodeAdd, NodeSubtract, NodeMultiply, NodeDivide, NodeFloorDivide, NodeModulo, NodePower:
		left, err := s.eval(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := s.eval(n.Right)
		if err != nil {
			return nil, err
		}
		switch n.Type {
		case NodeAdd:
			return addValues(n, left, right)
		case NodeSubtract:
			return subValues(n, left, right)
		case NodeMultiply:
			return mulValues(n, left, right)
		case NodeDivide:
			return divValues(n, left, right)
		case NodeFloorDivide:
			return floorDivValues(n, left, right)
		case NodeModulo:
			return modValues(n, left, right)
		}
		return powerValues(n, left, right)
	case NodeCompare:
		return s.evalCompare(n)
	case NodeAnd:
		// and/or short-circuit and produce a boolean, not the deciding
		// operand.
		left, err := s.eval(n.Left)
		if err != nil {
			return nil, err
		}
		if !truthy(left) {
			return false, nil
		}
		right, err := s.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	case NodeOr:
		left, err := s.eval(n.Left)
		if err != nil {
			return nil, err
		}
		if truthy(left) {
			return true, nil
		}
		right, err := s.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	case NodeConditional:
		cond, err := s.eval(n.List[0])
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return s.eval(n.List[1])
		}
		return s.eval(n.List[2])
	case NodeList:
		out := make([]any, len(n.List))
		for i, e := range n.List {
			v, err := s.eval(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case NodeTuple:
		out := make(Tuple, len(n.List))
		for i, e := range n.List {
			v, err := s.eval(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case NodeSet:
		out := map[any]struct{}{}
		for _, e := range n.List {
			v, err := s.eval(e)
			if err != nil {
				return nil, err
			}
			k, ok := normalizeKey(v)
			if !ok {
				return nil, evalErr(e.Offset, e.Length, "unhashable type: '%s'", typeName(v))
			}
			out[k] = struct{}{}
		}
		return out, nil
	case NodeDict:
		out := map[any]any{}
		for i := 0; i+1 < len(n.List); i += 2 {
			kv, err := s.eval(n.List[i])
			if err != nil {
				return nil, err
			}
			vv, err := s.eval(n.List[i+1])
			if err != nil {
				return nil, err
			}
			key, ok := normalizeKey(kv)
			if !ok {
				return nil, evalErr(n.List[i].Offset, n.List[i].Length, "unhashable type: '%s'", typeName(kv))
			}
			out[key] = vv
		}
		return out, nil
	case NodeIndex:
		target, err := s.eval(n.Left)
		if err != nil {
			return nil, err
		}
		idx, err := s.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return indexValue(n, target, idx)
	case NodeSlice:
		return s.evalSlice(n)
	case NodeAttribute:
		target, err := s.eval(n.Left)
		if err != nil {
			return nil, err
		}
		return getAttribute(n, target, n.Value.(string))
	case NodeCall:
		return s.evalCall(n)
	}
	return nil, evalErr(n.Offset, n.Length, "cannot evaluate %s node", n.Type)
}

func (s *evalState) evalSign(n *Node) (any, Error) {
	v, err := s.eval(n.Right)
	if err != nil {
		return nil, err
	}
	i, f, isInt, ok := numeric(v)
	if !ok {
		return nil, evalErr(n.Offset, n.Length, "bad operand type for unary %s: '%s'", n.Value, typeName(v))
	}
	if n.Value == "+" {
		if isInt {
			return i, nil
		}
		return f, nil
	}
	if isInt {
		if i == math.MinInt64 {
			return maxExactFloat, nil
		}
		return -i, nil
	}
	return -f, nil
}

// evalCompare walks a comparison chain left to right, stopping at the first
// link that fails. Each operand evaluates at most once.
func (s *evalState) evalCompare(n *Node) (any, Error) {
	left, err := s.eval(n.List[0])
	if err != nil {
		return nil, err
	}
	for i, op := range n.Ops {
		right, err := s.eval(n.List[i+1])
		if err != nil {
			return nil, err
		}
		ok, cerr := s.compareOne(n, op, left, right)
		if cerr != nil {
			return nil, cerr
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

func (s *evalState) compareOne(n *Node, op string, a, b any) (bool, Error) {
	switch op {
	case "==":
		return equal(a, b), nil
	case "!=":
		return !equal(a, b), nil
	case "<", "<=", ">", ">=":
		c, ok := orderCompare(a, b)
		if !ok {
			return false, evalErr(n.Offset, n.Length, "'%s' not supported between instances of '%s' and '%s'", op, typeName(a), typeName(b))
		}
		switch op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		}
		return c >= 0, nil
	case "in":
		return containsValue(n, b, a)
	case "not in":
		ok, err := containsValue(n, b, a)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case "is":
		return sameObject(a, b), nil
	case "is not":
		return !sameObject(a, b), nil
	}
	return false, evalErr(n.Offset, n.Length, "unknown comparison operator %s", op)
}

func containsValue(n *Node, container, item any) (bool, Error) {
	if cs, ok := asString(container); ok {
		is, ok := asString(item)
		if !ok {
			return false, evalErr(n.Offset, n.Length, "'in <string>' requires string as left operand, not '%s'", typeName(item))
		}
		return strings.Contains(cs, is), nil
	}
	if set, ok := container.(map[any]struct{}); ok {
		k, ok := normalizeKey(item)
		if !ok {
			return false, evalErr(n.Offset, n.Length, "unhashable type: '%s'", typeName(item))
		}
		_, exists := set[k]
		return exists, nil
	}
	if t, ok := container.(Tuple); ok {
		for _, e := range t {
			if equal(e, item) {
				return true, nil
			}
		}
		return false, nil
	}
	if l, ok := asList(container); ok {
		for _, e := range l {
			if equal(e, item) {
				return true, nil
			}
		}
		return false, nil
	}
	if m, ok := asDict(container); ok {
		k, ok := normalizeKey(item)
		if !ok {
			return false, evalErr(n.Offset, n.Length, "unhashable type: '%s'", typeName(item))
		}
		_, exists := m[k]
		return exists, nil
	}
	return false, evalErr(n.Offset, n.Length, "argument of type '%s' is not iterable", typeName(container))
}

func indexValue(n *Node, target, idx any) (any, Error) {
	if _, ok := target.(map[any]struct{}); ok {
		return nil, evalErr(n.Offset, n.Length, "'set' object is not subscriptable")
	}
	if str, ok := asString(target); ok {
		i64, _, isInt, ok := numeric(idx)
		if !ok || !isInt {
			return nil, evalErr(n.Offset, n.Length, "string indices must be integers, not '%s'", typeName(idx))
		}
		runes := []rune(str)
		i := int(i64)
		if i < 0 {
			i += len(runes)
		}
		if i < 0 || i >= len(runes) {
			return nil, evalErr(n.Offset, n.Length, "string index out of range")
		}
		return string(runes[i]), nil
	}
	if t, ok := target.(Tuple); ok {
		return indexSequence(n, "tuple", t, idx)
	}
	if l, ok := asList(target); ok {
		return indexSequence(n, "list", l, idx)
	}
	if m, ok := asDict(target); ok {
		k, ok := normalizeKey(idx)
		if !ok {
			return nil, evalErr(n.Offset, n.Length, "unhashable type: '%s'", typeName(idx))
		}
		if v, exists := m[k]; exists {
			return v, nil
		}
		return nil, evalErr(n.Offset, n.Length, "key %s not found", stringify(idx, true))
	}
	return nil, evalErr(n.Offset, n.Length, "'%s' object is not subscriptable", typeName(target))
}

func indexSequence(n *Node, kind string, seq []any, idx any) (any, Error) {
	i64, _, isInt, ok := numeric(idx)
	if !ok || !isInt {
		return nil, evalErr(n.Offset, n.Length, "%s indices must be integers, not '%s'", kind, typeName(idx))
	}
	i := int(i64)
	if i < 0 {
		i += len(seq)
	}
	if i < 0 || i >= len(seq) {
		return nil, evalErr(n.Offset, n.Length, "%s index out of range", kind)
	}
	return seq[i], nil
}

func (s *evalState) evalSlice(n *Node) (any, Error) {
	target, err := s.eval(n.Left)
	if err != nil {
		return nil, err
	}
	var low, high any
	hasLow, hasHigh := n.List[0] != nil, n.List[1] != nil
	if hasLow {
		if low, err = s.eval(n.List[0]); err != nil {
			return nil, err
		}
	}
	if hasHigh {
		if high, err = s.eval(n.List[1]); err != nil {
			return nil, err
		}
	}
	if str, ok := asString(target); ok {
		runes := []rune(str)
		lo, hi, err := sliceBounds(n, len(runes), low, high, hasLow, hasHigh)
		if err != nil {
			return nil, err
		}
		return string(runes[lo:hi]), nil
	}
	if t, ok := target.(Tuple); ok {
		lo, hi, err := sliceBounds(n, len(t), low, high, hasLow, hasHigh)
		if err != nil {
			return nil, err
		}
		out := make(Tuple, hi-lo)
		copy(out, t[lo:hi])
		return out, nil
	}
	if l, ok := asList(target); ok {
		lo, hi, err := sliceBounds(n, len(l), low, high, hasLow, hasHigh)
		if err != nil {
			return nil, err
		}
		out := make([]any, hi-lo)
		copy(out, l[lo:hi])
		return out, nil
	}
	return nil, evalErr(n.Offset, n.Length, "'%s' object is not subscriptable", typeName(target))
}

// sliceBounds resolves optional slice indices: negatives count from the
// end, everything clamps into range, and an inverted pair yields empty. An
// explicit null bound means the same as an omitted one.
func sliceBounds(n *Node, length int, low, high any, hasLow, hasHigh bool) (int, int, Error) {
	resolve := func(v any, def int) (int, Error) {
		if v == nil {
			return def, nil
		}
		i64, _, isInt, ok := numeric(v)
		if !ok || !isInt {
			return 0, evalErr(n.Offset, n.Length, "slice indices must be integers or null, not '%s'", typeName(v))
		}
		i := int(i64)
		if i < 0 {
			i += length
		}
		if i < 0 {
			i = 0
		}
		if i > length {
			i = length
		}
		return i, nil
	}
	lo, hi := 0, length
	var err Error
	if hasLow {
		if lo, err = resolve(low, 0); err != nil {
			return 0, 0, err
		}
	}
	if hasHigh {
		if hi, err = resolve(high, length); err != nil {
			return 0, 0, err
		}
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi, nil
}

func (s *evalState) evalCall(n *Node) (any, Error) {
	// The callee resolves before any argument is evaluated.
	callee := n.Left
	name, _ := callee.Value.(string)
	var target any
	isBuiltin := false
	if callee.Type == NodeIdentifier {
		if _, ok := builtins[name]; ok {
			isBuiltin = true
		} else {
			v, ok := s.vars[name]
			if !ok {
				return nil, evalErr(callee.Offset, callee.Length, "undefined variable: %s", name)
			}
			target = v
		}
	} else {
		v, err := s.eval(callee)
		if err != nil {
			return nil, err
		}
		target = v
	}
	args := []any{}
	var kwargs map[string]any
	for _, a := range n.List {
		if a.Type == NodeKeywordArg {
			v, err := s.eval(a.Right)
			if err != nil {
				return nil, err
			}
			if kwargs == nil {
				kwargs = map[string]any{}
			}
			kwargs[a.Value.(string)] = v
		} else {
			v, err := s.eval(a)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
	}
	if isBuiltin {
		return callBuiltin(name, n, args, kwargs)
	}
	return s.invoke(n, name, target, args, kwargs)
}

// invoke dispatches a call to a bound method or a host-provided function.
// Panics from host code surface as evaluation errors instead of crashing
// the caller.
func (s *evalState) invoke(n *Node, name string, v any, args []any, kwargs map[string]any) (result any, err Error) {
	defer func() {
		if r := recover(); r != nil {
			err = evalErr(n.Offset, n.Length, "%s() panicked: %v", name, r)
		}
	}()
	switch fn := v.(type) {
	case boundMethod:
		if err := rejectKwargs(n, name, kwargs); err != nil {
			return nil, err
		}
		return fn.fn(n, fn.recv, args)
	case Function:
		return callHostFunc(n, name, fn, args, kwargs)
	case func(...any) (any, error):
		return callHostFunc(n, name, fn, args, kwargs)
	case FunctionKW:
		return callHostKW(n, name, fn, args, kwargs)
	case func([]any, map[string]any) (any, error):
		return callHostKW(n, name, fn, args, kwargs)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Func {
		if err := rejectKwargs(n, name, kwargs); err != nil {
			return nil, err
		}
		return reflectCall(n, name, rv, args)
	}
	return nil, evalErr(n.Offset, n.Length, "'%s' object is not callable", typeName(v))
}

func rejectKwargs(n *Node, name string, kwargs map[string]any) Error {
	for k := range kwargs {
		return evalErr(n.Offset, n.Length, "%s() got an unexpected keyword argument '%s'", name, k)
	}
	return nil
}

func callHostFunc(n *Node, name string, fn func(...any) (any, error), args []any, kwargs map[string]any) (any, Error) {
	if err := rejectKwargs(n, name, kwargs); err != nil {
		return nil, err
	}
	out, err := fn(args...)
	if err != nil {
		return nil, wrapError(EvaluationError, n.Offset, n.Length, err, "%s", err.Error())
	}
	return out, nil
}

func callHostKW(n *Node, name string, fn func([]any, map[string]any) (any, error), args []any, kwargs map[string]any) (any, Error) {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	out, err := fn(args, kwargs)
	if err != nil {
		return nil, wrapError(EvaluationError, n.Offset, n.Length, err, "%s", err.Error())
	}
	return out, nil
}

func addValues(n *Node, a, b any) (any, Error) {
	if as, ok := asString(a); ok {
		bs, ok := asString(b)
		if !ok {
			return nil, evalErr(n.Offset, n.Length, "can only concatenate str (not \"%s\") to str", typeName(b))
		}
		return as + bs, nil
	}
	ai, af, aInt, aok := numeric(a)
	if aok {
		bi, bf, bInt, bok := numeric(b)
		if !bok {
			return nil, evalErr(n.Offset, n.Length, "unsupported operand type(s) for +: '%s' and '%s'", typeName(a), typeName(b))
		}
		if aInt && bInt {
			sum := ai + bi
			// Overflow promotes to float instead of wrapping.
			if (bi > 0 && sum < ai) || (bi < 0 && sum > ai) {
				return float64(ai) + float64(bi), nil
			}
			return sum, nil
		}
		x, y := af, bf
		if aInt {
			x = float64(ai)
		}
		if bInt {
			y = float64(bi)
		}
		return x + y, nil
	}
	if at, ok := a.(Tuple); ok {
		bt, ok := b.(Tuple)
		if !ok {
			return nil, evalErr(n.Offset, n.Length, "can only concatenate tuple (not \"%s\") to tuple", typeName(b))
		}
		out := make(Tuple, 0, len(at)+len(bt))
		out = append(out, at...)
		out = append(out, bt...)
		return out, nil
	}
	if al, ok := asList(a); ok {
		bl, ok := asList(b)
		if !ok {
			return nil, evalErr(n.Offset, n.Length, "can only concatenate list (not \"%s\") to list", typeName(b))
		}
		out := make([]any, 0, len(al)+len(bl))
		out = append(out, al...)
		out = append(out, bl...)
		return out, nil
	}
	return nil, evalErr(n.Offset, n.Length, "unsupported operand type(s) for +: '%s' and '%s'", typeName(a), typeName(b))
}

func subValues(n *Node, a, b any) (any, Error) {
	ai, af, aInt, aok := numeric(a)
	bi, bf, bInt, bok := numeric(b)
	if !aok || !bok {
		return nil, evalErr(n.Offset, n.Length, "unsupported operand type(s) for -: '%s' and '%s'", typeName(a), typeName(b))
	}
	if aInt && bInt {
		diff := ai - bi
		if (bi < 0 && diff < ai) || (bi > 0 && diff > ai) {
			return float64(ai) - float64(bi), nil
		}
		return diff, nil
	}
	x, y := af, bf
	if aInt {
		x = float64(ai)
	}
	if bInt {
		y = float64(bi)
	}
	return x - y, nil
}

// maxRepeatResult bounds sequence repetition so an expression cannot
// allocate without limit.
const maxRepeatResult = 1 << 24

func intCount(v any) (int64, bool) {
	i, _, isInt, ok := numeric(v)
	if !ok || !isInt {
		return 0, false
	}
	return i, true
}

// repeatValues handles sequence * int repetition for strings, lists, and
// tuples. done is false when neither side is a repeatable sequence.
func repeatValues(n *Node, a, b any) (any, Error, bool) {
	count, countOK := intCount(b)
	seq := a
	if !countOK {
		count, countOK = intCount(a)
		seq = b
	}
	if !countOK {
		return nil, nil, false
	}
	if count < 0 {
		count = 0
	}
	if str, ok := asString(seq); ok {
		if len(str) > 0 && count > maxRepeatResult/int64(len(str)) {
			return nil, evalErr(n.Offset, n.Length, "repeated string is too large"), true
		}
		return strings.Repeat(str, int(count)), nil, true
	}
	if t, ok := seq.(Tuple); ok {
		out, err := repeatSequence(n, t, count)
		if err != nil {
			return nil, err, true
		}
		return Tuple(out), nil, true
	}
	if l, ok := seq.([]any); ok {
		out, err := repeatSequence(n, l, count)
		return out, err, true
	}
	return nil, nil, false
}

func repeatSequence(n *Node, seq []any, count int64) ([]any, Error) {
	if len(seq) == 0 {
		return []any{}, nil
	}
	if count > maxRepeatResult/int64(len(seq)) {
		return nil, evalErr(n.Offset, n.Length, "repeated sequence is too large")
	}
	out := make([]any, 0, int64(len(seq))*count)
	for i := int64(0); i < count; i++ {
		out = append(out, seq...)
	}
	return out, nil
}

func mulValues(n *Node, a, b any) (any, Error) {
	if r, err, done := repeatValues(n, a, b); done {
		return r, err
	}
	ai, af, aInt, aok := numeric(a)
	bi, bf, bInt, bok := numeric(b)
	if !aok || !bok {
		return nil, evalErr(n.Offset, n.Length, "unsupported operand type(s) for *: '%s' and '%s'", typeName(a), typeName(b))
	}
	if aInt && bInt {
		if p, ok := mulInt(ai, bi); ok {
			return p, nil
		}
		return float64(ai) * float64(bi), nil
	}
	x, y := af, bf
	if aInt {
		x = float64(ai)
	}
	if bInt {
		y = float64(bi)
	}
	return x * y, nil
}

func divValues(n *Node, a, b any) (any, Error) {
	x, xok := toFloat(a)
	y, yok := toFloat(b)
	if !xok || !yok {
		return nil, evalErr(n.Offset, n.Length, "unsupported operand type(s) for /: '%s' and '%s'", typeName(a), typeName(b))
	}
	if y == 0 {
		return nil, evalErr(n.Offset, n.Length, "division by zero")
	}
	return x / y, nil
}

func floorDivValues(n *Node, a, b any) (any, Error) {
	ai, af, aInt, aok := numeric(a)
	bi, bf, bInt, bok := numeric(b)
	if !aok || !bok {
		return nil, evalErr(n.Offset, n.Length, "unsupported operand type(s) for //: '%s' and '%s'", typeName(a), typeName(b))
	}
	if aInt && bInt {
		if bi == 0 {
			return nil, evalErr(n.Offset, n.Length, "division by zero")
		}
		if ai == math.MinInt64 && bi == -1 {
			return maxExactFloat, nil
		}
		q := ai / bi
		if ai%bi != 0 && (ai < 0) != (bi < 0) {
			q--
		}
		return q, nil
	}
	x, y := af, bf
	if aInt {
		x = float64(ai)
	}
	if bInt {
		y = float64(bi)
	}
	if y == 0 {
		return nil, evalErr(n.Offset, n.Length, "division by zero")
	}
	return math.Floor(x / y), nil
}

// modValues follows the sign of the divisor, so -7 % 3 is 2.
func modValues(n *Node, a, b any) (any, Error) {
	ai, af, aInt, aok := numeric(a)
	bi, bf, bInt, bok := numeric(b)
	if !aok || !bok {
		return nil, evalErr(n.Offset, n.Length, "unsupported operand type(s) for %%: '%s' and '%s'", typeName(a), typeName(b))
	}
	if aInt && bInt {
		if bi == 0 {
			return nil, evalErr(n.Offset, n.Length, "division by zero")
		}
		r := ai % bi
		if r != 0 && (r < 0) != (bi < 0) {
			r += bi
		}
		return r, nil
	}
	x, y := af, bf
	if aInt {
		x = float64(ai)
	}
	if bInt {
		y = float64(bi)
	}
	if y == 0 {
		return nil, evalErr(n.Offset, n.Length, "division by zero")
	}
	r := math.Mod(x, y)
	if r != 0 && (r < 0) != (y < 0) {
		r += y
	}
	return r, nil
}

func powerValues(n *Node, a, b any) (any, Error) {
	ai, af, aInt, aok := numeric(a)
	bi, bf, bInt, bok := numeric(b)
	if !aok || !bok {
		return nil, evalErr(n.Offset, n.Length, "unsupported operand type(s) for ** or pow(): '%s' and '%s'", typeName(a), typeName(b))
	}
	if aInt && bInt {
		if bi >= 0 {
			if r, ok := intPow(ai, bi); ok {
				return r, nil
			}
			return math.Pow(float64(ai), float64(bi)), nil
		}
		if ai == 0 {
			return nil, evalErr(n.Offset, n.Length, "0 cannot be raised to a negative power")
		}
		return math.Pow(float64(ai), float64(bi)), nil
	}
	x, y := af, bf
	if aInt {
		x = float64(ai)
	}
	if bInt {
		y = float64(bi)
	}
	if x < 0 && y != math.Trunc(y) {
		return nil, evalErr(n.Offset, n.Length, "math domain error")
	}
	if x == 0 && y < 0 {
		return nil, evalErr(n.Offset, n.Length, "0 cannot be raised to a negative power")
	}
	return math.Pow(x, y), nil
}

func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == math.MinInt64 && b == -1) || (b == math.MinInt64 && a == -1) {
		return 0, false
	}
	c := a * b
	if c/a != b {
		return 0, false
	}
	return c, true
}

// intPow is exponentiation by squaring with overflow detection. A result
// that does not fit int64 reports not ok so the caller can promote.
func intPow(base, exp int64) (int64, bool) {
	result := int64(1)
	b := base
	e := exp
	for e > 0 {
		if e&1 == 1 {
			r, ok := mulInt(result, b)
			if !ok {
				return 0, false
			}
			result = r
		}
		e >>= 1
		if e == 0 {
			break
		}
		r, ok := mulInt(b, b)
		if !ok {
			return 0, false
		}
		b = r
	}
	return result, true
}
