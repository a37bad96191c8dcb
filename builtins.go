package safexpr

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type builtinFunc func(n *Node, args []any, kwargs map[string]any) (any, Error)

type builtin struct {
	minArgs  int
	maxArgs  int // -1 means any number
	keywords []string
	fn       builtinFunc
}

// builtins is the closed whitelist of callable functions. The validator
// accepts a call to an identifier only when it appears here or in the
// caller's bindings.
var builtins = map[string]builtin{
	"abs":    {1, 1, nil, builtinAbs},
	"all":    {1, 1, nil, builtinAll},
	"any":    {1, 1, nil, builtinAny},
	"bool":   {0, 1, nil, builtinBool},
	"ceil":   {1, 1, nil, builtinCeil},
	"dict":   {0, 1, nil, builtinDict},
	"float":  {0, 1, nil, builtinFloat},
	"floor":  {1, 1, nil, builtinFloor},
	"int":    {0, 1, nil, builtinInt},
	"len":    {1, 1, nil, builtinLen},
	"list":   {0, 1, nil, builtinList},
	"max":    {1, -1, nil, builtinMax},
	"min":    {1, -1, nil, builtinMin},
	"pow":    {2, 2, nil, builtinPow},
	"round":  {1, 2, []string{"ndigits"}, builtinRound},
	"set":    {0, 1, nil, builtinSet},
	"sorted": {1, 1, []string{"reverse"}, builtinSorted},
	"sqrt":   {1, 1, nil, builtinSqrt},
	"str":    {0, 1, nil, builtinStr},
	"sum":    {1, 2, nil, builtinSum},
	"tuple":  {0, 1, nil, builtinTuple},
}

// callBuiltin dispatches a whitelisted function after checking argument
// counts and keyword names.
func callBuiltin(name string, n *Node, args []any, kwargs map[string]any) (any, Error) {
	b := builtins[name]
	if len(args) < b.minArgs || (b.maxArgs >= 0 && len(args) > b.maxArgs) {
		return nil, arityError(name, n, b, len(args))
	}
	for k := range kwargs {
		allowed := false
		for _, kw := range b.keywords {
			if k == kw {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, evalErr(n.Offset, n.Length, "%s() got an unexpected keyword argument '%s'", name, k)
		}
	}
	return b.fn(n, args, kwargs)
}

func arityError(name string, n *Node, b builtin, got int) Error {
	if b.maxArgs < 0 {
		return evalErr(n.Offset, n.Length, "%s() expected at least %d arguments, got %d", name, b.minArgs, got)
	}
	if b.minArgs == b.maxArgs {
		s := ""
		if b.minArgs != 1 {
			s = "s"
		}
		return evalErr(n.Offset, n.Length, "%s() takes exactly %d argument%s (%d given)", name, b.minArgs, s, got)
	}
	return evalErr(n.Offset, n.Length, "%s() takes from %d to %d arguments (%d given)", name, b.minArgs, b.maxArgs, got)
}

// iterate produces the elements of an iterable value. Strings yield their
// characters, dicts their keys. Set members and dict keys come out in the
// deterministic render order since Go maps have none of their own.
func iterate(n *Node, v any) ([]any, Error) {
	if s, ok := asString(v); ok {
		runes := []rune(s)
		out := make([]any, len(runes))
		for i, r := range runes {
			out[i] = string(r)
		}
		return out, nil
	}
	switch c := v.(type) {
	case Tuple:
		return c, nil
	case map[any]struct{}:
		members := maps.Keys(c)
		sortAnyKeys(members)
		return members, nil
	}
	if l, ok := asList(v); ok {
		return l, nil
	}
	if m, ok := asDict(v); ok {
		return sortedDictKeys(m), nil
	}
	return nil, evalErr(n.Offset, n.Length, "'%s' object is not iterable", typeName(v))
}

// floatToInt narrows an integral float back to int64 when it fits,
// otherwise the float carries the value.
func floatToInt(f float64) any {
	if f >= -maxExactFloat && f < maxExactFloat {
		return int64(f)
	}
	return f
}

func builtinAbs(n *Node, args []any, _ map[string]any) (any, Error) {
	i, f, isInt, ok := numeric(args[0])
	if !ok {
		return nil, evalErr(n.Offset, n.Length, "bad operand type for abs(): '%s'", typeName(args[0]))
	}
	if isInt {
		if i == math.MinInt64 {
			return maxExactFloat, nil
		}
		if i < 0 {
			return -i, nil
		}
		return i, nil
	}
	return math.Abs(f), nil
}

func builtinAll(n *Node, args []any, _ map[string]any) (any, Error) {
	items, err := iterate(n, args[0])
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if !truthy(item) {
			return false, nil
		}
	}
	return true, nil
}

func builtinAny(n *Node, args []any, _ map[string]any) (any, Error) {
	items, err := iterate(n, args[0])
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if truthy(item) {
			return true, nil
		}
	}
	return false, nil
}

func builtinBool(n *Node, args []any, _ map[string]any) (any, Error) {
	if len(args) == 0 {
		return false, nil
	}
	return truthy(args[0]), nil
}

func builtinCeil(n *Node, args []any, _ map[string]any) (any, Error) {
	f, ok := toFloat(args[0])
	if !ok {
		return nil, evalErr(n.Offset, n.Length, "ceil() argument must be a number, not '%s'", typeName(args[0]))
	}
	return floatToInt(math.Ceil(f)), nil
}

func builtinFloor(n *Node, args []any, _ map[string]any) (any, Error) {
	f, ok := toFloat(args[0])
	if !ok {
		return nil, evalErr(n.Offset, n.Length, "floor() argument must be a number, not '%s'", typeName(args[0]))
	}
	return floatToInt(math.Floor(f)), nil
}

func asPair(v any) ([]any, bool) {
	switch p := v.(type) {
	case []any:
		if len(p) == 2 {
			return p, true
		}
	case Tuple:
		if len(p) == 2 {
			return p, true
		}
	}
	return nil, false
}

func builtinDict(n *Node, args []any, _ map[string]any) (any, Error) {
	out := map[any]any{}
	if len(args) == 0 {
		return out, nil
	}
	if m, ok := asDict(args[0]); ok {
		for k, v := range m {
			key, ok := normalizeKey(k)
			if !ok {
				return nil, evalErr(n.Offset, n.Length, "unhashable type: '%s'", typeName(k))
			}
			out[key] = v
		}
		return out, nil
	}
	items, err := iterate(n, args[0])
	if err != nil {
		return nil, evalErr(n.Offset, n.Length, "dict() argument must be a mapping or a sequence of pairs, not '%s'", typeName(args[0]))
	}
	for _, item := range items {
		pair, ok := asPair(item)
		if !ok {
			return nil, evalErr(n.Offset, n.Length, "dict() sequence elements must be pairs")
		}
		key, ok := normalizeKey(pair[0])
		if !ok {
			return nil, evalErr(n.Offset, n.Length, "unhashable type: '%s'", typeName(pair[0]))
		}
		out[key] = pair[1]
	}
	return out, nil
}

func builtinFloat(n *Node, args []any, _ map[string]any) (any, Error) {
	if len(args) == 0 {
		return float64(0), nil
	}
	if s, ok := asString(args[0]); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, evalErr(n.Offset, n.Length, "could not convert string to float: %s", quoteSingle(s))
		}
		return f, nil
	}
	f, ok := toFloat(args[0])
	if !ok {
		return nil, evalErr(n.Offset, n.Length, "float() argument must be a string or a number, not '%s'", typeName(args[0]))
	}
	return f, nil
}

func builtinInt(n *Node, args []any, _ map[string]any) (any, Error) {
	if len(args) == 0 {
		return int64(0), nil
	}
	if s, ok := asString(args[0]); ok {
		i, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(s), "_", ""), 10, 64)
		if err != nil {
			return nil, evalErr(n.Offset, n.Length, "invalid literal for int(): %s", quoteSingle(s))
		}
		return i, nil
	}
	i, f, isInt, ok := numeric(args[0])
	if !ok {
		return nil, evalErr(n.Offset, n.Length, "int() argument must be a string or a number, not '%s'", typeName(args[0]))
	}
	if isInt {
		return i, nil
	}
	if math.IsNaN(f) {
		return nil, evalErr(n.Offset, n.Length, "cannot convert float NaN to integer")
	}
	if math.IsInf(f, 0) {
		return nil, evalErr(n.Offset, n.Length, "cannot convert float infinity to integer")
	}
	t := math.Trunc(f)
	if t < -maxExactFloat || t >= maxExactFloat {
		return nil, evalErr(n.Offset, n.Length, "float too large to convert to int")
	}
	return int64(t), nil
}

func builtinLen(n *Node, args []any, _ map[string]any) (any, Error) {
	l, ok := lenOf(args[0])
	if !ok {
		return nil, evalErr(n.Offset, n.Length, "object of type '%s' has no len()", typeName(args[0]))
	}
	return int64(l), nil
}

func builtinList(n *Node, args []any, _ map[string]any) (any, Error) {
	if len(args) == 0 {
		return []any{}, nil
	}
	items, err := iterate(n, args[0])
	if err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	copy(out, items)
	return out, nil
}

func builtinTuple(n *Node, args []any, _ map[string]any) (any, Error) {
	if len(args) == 0 {
		return Tuple{}, nil
	}
	items, err := iterate(n, args[0])
	if err != nil {
		return nil, err
	}
	out := make(Tuple, len(items))
	copy(out, items)
	return out, nil
}

func builtinMax(n *Node, args []any, _ map[string]any) (any, Error) {
	return pickExtreme(n, "max", args, 1)
}

func builtinMin(n *Node, args []any, _ map[string]any) (any, Error) {
	return pickExtreme(n, "min", args, -1)
}

func pickExtreme(n *Node, name string, args []any, dir int) (any, Error) {
	items := args
	if len(items) == 1 {
		var err Error
		items, err = iterate(n, args[0])
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, evalErr(n.Offset, n.Length, "%s() arg is an empty sequence", name)
		}
	}
	op := ">"
	if dir < 0 {
		op = "<"
	}
	best := items[0]
	for _, item := range items[1:] {
		c, ok := orderCompare(item, best)
		if !ok {
			return nil, evalErr(n.Offset, n.Length, "'%s' not supported between instances of '%s' and '%s'", op, typeName(item), typeName(best))
		}
		if c*dir > 0 {
			best = item
		}
	}
	return best, nil
}

func builtinPow(n *Node, args []any, _ map[string]any) (any, Error) {
	return powerValues(n, args[0], args[1])
}

func builtinRound(n *Node, args []any, kwargs map[string]any) (any, Error) {
	i, f, isInt, ok := numeric(args[0])
	if !ok {
		return nil, evalErr(n.Offset, n.Length, "round() argument must be a number, not '%s'", typeName(args[0]))
	}
	ndigits := any(nil)
	if len(args) > 1 {
		ndigits = args[1]
	}
	if v, present := kwargs["ndigits"]; present {
		if len(args) > 1 {
			return nil, evalErr(n.Offset, n.Length, "round() got multiple values for argument 'ndigits'")
		}
		ndigits = v
	}
	if ndigits == nil {
		if isInt {
			return i, nil
		}
		return floatToInt(math.RoundToEven(f)), nil
	}
	d, _, dInt, ok := numeric(ndigits)
	if !ok || !dInt {
		return nil, evalErr(n.Offset, n.Length, "ndigits must be an integer, not '%s'", typeName(ndigits))
	}
	if isInt {
		if d >= 0 {
			return i, nil
		}
		shift := math.Pow(10, float64(-d))
		return floatToInt(math.RoundToEven(float64(i)/shift) * shift), nil
	}
	shift := math.Pow(10, float64(d))
	if math.IsInf(shift, 0) || shift == 0 {
		return f, nil
	}
	return math.RoundToEven(f*shift) / shift, nil
}

func builtinSet(n *Node, args []any, _ map[string]any) (any, Error) {
	out := map[any]struct{}{}
	if len(args) == 0 {
		return out, nil
	}
	items, err := iterate(n, args[0])
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		k, ok := normalizeKey(item)
		if !ok {
			return nil, evalErr(n.Offset, n.Length, "unhashable type: '%s'", typeName(item))
		}
		out[k] = struct{}{}
	}
	return out, nil
}

func builtinSorted(n *Node, args []any, kwargs map[string]any) (any, Error) {
	items, err := iterate(n, args[0])
	if err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	copy(out, items)
	reverse := false
	if v, ok := kwargs["reverse"]; ok {
		reverse = truthy(v)
	}
	var sortErr Error
	slices.SortStableFunc(out, func(a, b any) bool {
		c, ok := orderCompare(a, b)
		if !ok && sortErr == nil {
			sortErr = evalErr(n.Offset, n.Length, "'<' not supported between instances of '%s' and '%s'", typeName(b), typeName(a))
		}
		if reverse {
			return c > 0
		}
		return c < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return out, nil
}

func builtinSqrt(n *Node, args []any, _ map[string]any) (any, Error) {
	f, ok := toFloat(args[0])
	if !ok {
		return nil, evalErr(n.Offset, n.Length, "sqrt() argument must be a number, not '%s'", typeName(args[0]))
	}
	if f < 0 {
		return nil, evalErr(n.Offset, n.Length, "math domain error")
	}
	return math.Sqrt(f), nil
}

func builtinStr(n *Node, args []any, _ map[string]any) (any, Error) {
	if len(args) == 0 {
		return "", nil
	}
	return stringify(args[0], false), nil
}

func builtinSum(n *Node, args []any, _ map[string]any) (any, Error) {
	items, err := iterate(n, args[0])
	if err != nil {
		return nil, err
	}
	var total any = int64(0)
	if len(args) > 1 {
		total = args[1]
	}
	if _, ok := asString(total); ok {
		return nil, evalErr(n.Offset, n.Length, "sum() can't sum strings")
	}
	for _, item := range items {
		if _, ok := asString(item); ok {
			return nil, evalErr(n.Offset, n.Length, "sum() can't sum strings")
		}
		total, err = addValues(n, total, item)
		if err != nil {
			return nil, err
		}
	}
	return total, nil
}
