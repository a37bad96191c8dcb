package safexpr

import (
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/exp/maps"
)

// methodFunc implements one attribute method. The receiver arrives already
// unwrapped to the table's native type.
type methodFunc func(n *Node, recv any, args []any) (any, Error)

// boundMethod pairs a method with its receiver so a method reference flows
// through a call like any other callable value.
type boundMethod struct {
	name string
	recv any
	fn   methodFunc
}

// getAttribute resolves target.name at runtime. The validator has already
// approved the name, so failures here are evaluation errors, not policy
// ones.
func getAttribute(n *Node, target any, name string) (any, Error) {
	if target == nil {
		return nil, evalErr(n.Offset, n.Length, "'null' object has no attribute '%s'", name)
	}
	if s, ok := asString(target); ok {
		if m, ok := stringMethods[name]; ok {
			return boundMethod{name: name, recv: s, fn: m}, nil
		}
		return nil, evalErr(n.Offset, n.Length, "'str' object has no attribute '%s'", name)
	}
	if t, ok := target.(Tuple); ok {
		if m, ok := listMethods[name]; ok {
			return boundMethod{name: name, recv: []any(t), fn: m}, nil
		}
		return nil, evalErr(n.Offset, n.Length, "'tuple' object has no attribute '%s'", name)
	}
	if _, ok := target.(map[any]struct{}); ok {
		return nil, evalErr(n.Offset, n.Length, "'set' object has no attribute '%s'", name)
	}
	if l, ok := asList(target); ok {
		if m, ok := listMethods[name]; ok {
			return boundMethod{name: name, recv: l, fn: m}, nil
		}
		return nil, evalErr(n.Offset, n.Length, "'list' object has no attribute '%s'", name)
	}
	if d, ok := asDict(target); ok {
		if m, ok := dictMethods[name]; ok {
			return boundMethod{name: name, recv: d, fn: m}, nil
		}
		return nil, evalErr(n.Offset, n.Length, "'dict' object has no attribute '%s'", name)
	}
	if v, err, ok := reflectAttribute(n, target, name); ok {
		return v, err
	}
	return nil, evalErr(n.Offset, n.Length, "'%s' object has no attribute '%s'", typeName(target), name)
}

func upperFirst(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// reflectAttribute looks up exported fields and methods on host structs.
// Lookup tries the literal name first and then the exported spelling, so
// x.age finds the Age field. Unexported members stay invisible.
func reflectAttribute(n *Node, target any, name string) (any, Error, bool) {
	rv := reflect.ValueOf(target)
	if !rv.IsValid() {
		return nil, nil, false
	}
	candidates := []string{name, upperFirst(name)}
	for _, c := range candidates {
		if m := rv.MethodByName(c); m.IsValid() {
			return boundReflect(c, m), nil, true
		}
	}
	sv := rv
	if sv.Kind() == reflect.Ptr {
		if sv.IsNil() {
			return nil, evalErr(n.Offset, n.Length, "'null' object has no attribute '%s'", name), true
		}
		sv = sv.Elem()
	}
	if sv.Kind() != reflect.Struct {
		return nil, nil, false
	}
	for _, c := range candidates {
		f := sv.FieldByName(c)
		if f.IsValid() && f.CanInterface() {
			return f.Interface(), nil, true
		}
	}
	if rv.Kind() != reflect.Ptr {
		// Pointer-receiver methods need an addressable copy.
		pv := reflect.New(sv.Type())
		pv.Elem().Set(sv)
		for _, c := range candidates {
			if m := pv.MethodByName(c); m.IsValid() {
				return boundReflect(c, m), nil, true
			}
		}
	}
	return nil, nil, false
}

func boundReflect(name string, m reflect.Value) boundMethod {
	return boundMethod{name: name, fn: func(n *Node, _ any, args []any) (any, Error) {
		return reflectCall(n, name, m, args)
	}}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// reflectCall invokes a host method, converting arguments to the parameter
// types and mapping panics and error returns into evaluation errors.
func reflectCall(n *Node, name string, fn reflect.Value, args []any) (result any, err Error) {
	defer func() {
		if r := recover(); r != nil {
			err = evalErr(n.Offset, n.Length, "%s() panicked: %v", name, r)
		}
	}()
	t := fn.Type()
	numIn := t.NumIn()
	if t.IsVariadic() {
		if len(args) < numIn-1 {
			return nil, evalErr(n.Offset, n.Length, "%s() expected at least %d arguments, got %d", name, numIn-1, len(args))
		}
	} else if len(args) != numIn {
		s := ""
		if numIn != 1 {
			s = "s"
		}
		return nil, evalErr(n.Offset, n.Length, "%s() takes exactly %d argument%s (%d given)", name, numIn, s, len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var pt reflect.Type
		if t.IsVariadic() && i >= numIn-1 {
			pt = t.In(numIn - 1).Elem()
		} else {
			pt = t.In(i)
		}
		cv, ok := convertArg(a, pt)
		if !ok {
			return nil, evalErr(n.Offset, n.Length, "%s() argument %d: cannot convert '%s' to %s", name, i+1, typeName(a), pt)
		}
		in[i] = cv
	}
	out := fn.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if t.Out(0) == errorType {
			if !out[0].IsNil() {
				e := out[0].Interface().(error)
				return nil, wrapError(EvaluationError, n.Offset, n.Length, e, "%s", e.Error())
			}
			return nil, nil
		}
		return out[0].Interface(), nil
	case 2:
		if t.Out(1) == errorType {
			if !out[1].IsNil() {
				e := out[1].Interface().(error)
				return nil, wrapError(EvaluationError, n.Offset, n.Length, e, "%s", e.Error())
			}
			return out[0].Interface(), nil
		}
	}
	return nil, evalErr(n.Offset, n.Length, "%s() has an unsupported signature", name)
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func convertArg(v any, t reflect.Type) (reflect.Value, bool) {
	if v == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map:
			return reflect.Zero(t), true
		}
		return reflect.Value{}, false
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, true
	}
	if isNumericKind(t.Kind()) && isNumericKind(rv.Kind()) {
		return rv.Convert(t), true
	}
	if tup, ok := v.(Tuple); ok && t == reflect.TypeOf([]any(nil)) {
		return reflect.ValueOf([]any(tup)), true
	}
	return reflect.Value{}, false
}

func wantArgs(n *Node, name string, args []any, min, max int) Error {
	if len(args) >= min && len(args) <= max {
		return nil
	}
	if min == max {
		s := ""
		if min != 1 {
			s = "s"
		}
		return evalErr(n.Offset, n.Length, "%s() takes exactly %d argument%s (%d given)", name, min, s, len(args))
	}
	return evalErr(n.Offset, n.Length, "%s() takes from %d to %d arguments (%d given)", name, min, max, len(args))
}

func stringArg(n *Node, name string, args []any, i int) (string, Error) {
	s, ok := asString(args[i])
	if !ok {
		return "", evalErr(n.Offset, n.Length, "%s() argument must be a string, not '%s'", name, typeName(args[i]))
	}
	return s, nil
}

func intArg(n *Node, name string, args []any, i int) (int64, Error) {
	v, _, isInt, ok := numeric(args[i])
	if !ok || !isInt {
		return 0, evalErr(n.Offset, n.Length, "%s() argument must be an integer, not '%s'", name, typeName(args[i]))
	}
	return v, nil
}

var stringMethods = map[string]methodFunc{
	"upper":      stringUpper,
	"lower":      stringLower,
	"strip":      stringStrip,
	"lstrip":     stringLStrip,
	"rstrip":     stringRStrip,
	"startswith": stringStartsWith,
	"endswith":   stringEndsWith,
	"split":      stringSplit,
	"join":       stringJoin,
	"replace":    stringReplace,
	"find":       stringFind,
	"count":      stringCount,
	"title":      stringTitle,
	"capitalize": stringCapitalize,
}

func stringUpper(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "upper", args, 0, 0); err != nil {
		return nil, err
	}
	s, _ := asString(recv)
	return strings.ToUpper(s), nil
}

func stringLower(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "lower", args, 0, 0); err != nil {
		return nil, err
	}
	s, _ := asString(recv)
	return strings.ToLower(s), nil
}

func stringStrip(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "strip", args, 0, 1); err != nil {
		return nil, err
	}
	s, _ := asString(recv)
	if len(args) == 0 {
		return strings.TrimSpace(s), nil
	}
	cut, err := stringArg(n, "strip", args, 0)
	if err != nil {
		return nil, err
	}
	return strings.Trim(s, cut), nil
}

func stringLStrip(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "lstrip", args, 0, 1); err != nil {
		return nil, err
	}
	s, _ := asString(recv)
	if len(args) == 0 {
		return strings.TrimLeftFunc(s, unicode.IsSpace), nil
	}
	cut, err := stringArg(n, "lstrip", args, 0)
	if err != nil {
		return nil, err
	}
	return strings.TrimLeft(s, cut), nil
}

func stringRStrip(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "rstrip", args, 0, 1); err != nil {
		return nil, err
	}
	s, _ := asString(recv)
	if len(args) == 0 {
		return strings.TrimRightFunc(s, unicode.IsSpace), nil
	}
	cut, err := stringArg(n, "rstrip", args, 0)
	if err != nil {
		return nil, err
	}
	return strings.TrimRight(s, cut), nil
}

// matchesAffix handles startswith and endswith, which accept either a
// single string or a tuple of alternatives.
func matchesAffix(n *Node, name, s string, arg any, match func(string, string) bool) (any, Error) {
	if t, ok := arg.(Tuple); ok {
		for _, e := range t {
			es, ok := asString(e)
			if !ok {
				return nil, evalErr(n.Offset, n.Length, "%s() tuple elements must be strings, not '%s'", name, typeName(e))
			}
			if match(s, es) {
				return true, nil
			}
		}
		return false, nil
	}
	es, ok := asString(arg)
	if !ok {
		return nil, evalErr(n.Offset, n.Length, "%s() argument must be a string or a tuple of strings, not '%s'", name, typeName(arg))
	}
	return match(s, es), nil
}

func stringStartsWith(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "startswith", args, 1, 1); err != nil {
		return nil, err
	}
	s, _ := asString(recv)
	return matchesAffix(n, "startswith", s, args[0], strings.HasPrefix)
}

func stringEndsWith(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "endswith", args, 1, 1); err != nil {
		return nil, err
	}
	s, _ := asString(recv)
	return matchesAffix(n, "endswith", s, args[0], strings.HasSuffix)
}

func stringSplit(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "split", args, 0, 2); err != nil {
		return nil, err
	}
	s, _ := asString(recv)
	if len(args) == 0 {
		fields := strings.Fields(s)
		out := make([]any, len(fields))
		for i, f := range fields {
			out[i] = f
		}
		return out, nil
	}
	sep, err := stringArg(n, "split", args, 0)
	if err != nil {
		return nil, err
	}
	if sep == "" {
		return nil, evalErr(n.Offset, n.Length, "empty separator")
	}
	limit := -1
	if len(args) > 1 {
		maxSplit, err := intArg(n, "split", args, 1)
		if err != nil {
			return nil, err
		}
		if maxSplit >= 0 {
			limit = int(maxSplit) + 1
		}
	}
	parts := strings.SplitN(s, sep, limit)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func stringJoin(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "join", args, 1, 1); err != nil {
		return nil, err
	}
	sep, _ := asString(recv)
	items, err := iterate(n, args[0])
	if err != nil {
		return nil, err
	}
	parts := make([]string, len(items))
	for i, item := range items {
		s, ok := asString(item)
		if !ok {
			return nil, evalErr(n.Offset, n.Length, "sequence item %d: expected str instance, '%s' found", i, typeName(item))
		}
		parts[i] = s
	}
	return strings.Join(parts, sep), nil
}

func stringReplace(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "replace", args, 2, 3); err != nil {
		return nil, err
	}
	s, _ := asString(recv)
	old, err := stringArg(n, "replace", args, 0)
	if err != nil {
		return nil, err
	}
	repl, err := stringArg(n, "replace", args, 1)
	if err != nil {
		return nil, err
	}
	count := -1
	if len(args) > 2 {
		c, err := intArg(n, "replace", args, 2)
		if err != nil {
			return nil, err
		}
		count = int(c)
	}
	return strings.Replace(s, old, repl, count), nil
}

func stringFind(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "find", args, 1, 1); err != nil {
		return nil, err
	}
	s, _ := asString(recv)
	sub, err := stringArg(n, "find", args, 0)
	if err != nil {
		return nil, err
	}
	idx := strings.Index(s, sub)
	if idx < 0 {
		return int64(-1), nil
	}
	return int64(utf8.RuneCountInString(s[:idx])), nil
}

func stringCount(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "count", args, 1, 1); err != nil {
		return nil, err
	}
	s, _ := asString(recv)
	sub, err := stringArg(n, "count", args, 0)
	if err != nil {
		return nil, err
	}
	if sub == "" {
		return int64(utf8.RuneCountInString(s) + 1), nil
	}
	return int64(strings.Count(s, sub)), nil
}

func stringTitle(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "title", args, 0, 0); err != nil {
		return nil, err
	}
	s, _ := asString(recv)
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
		} else {
			b.WriteRune(r)
			prevLetter = false
		}
	}
	return b.String(), nil
}

func stringCapitalize(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "capitalize", args, 0, 0); err != nil {
		return nil, err
	}
	s, _ := asString(recv)
	r := []rune(s)
	if len(r) == 0 {
		return s, nil
	}
	return string(unicode.ToUpper(r[0])) + strings.ToLower(string(r[1:])), nil
}

var listMethods = map[string]methodFunc{
	"index": listIndex,
	"count": listCount,
}

func listIndex(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "index", args, 1, 1); err != nil {
		return nil, err
	}
	l := recv.([]any)
	for i, e := range l {
		if equal(e, args[0]) {
			return int64(i), nil
		}
	}
	return nil, evalErr(n.Offset, n.Length, "%s is not in list", stringify(args[0], true))
}

func listCount(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "count", args, 1, 1); err != nil {
		return nil, err
	}
	l := recv.([]any)
	count := int64(0)
	for _, e := range l {
		if equal(e, args[0]) {
			count++
		}
	}
	return count, nil
}

var dictMethods = map[string]methodFunc{
	"get":    dictGet,
	"keys":   dictKeys,
	"values": dictValues,
	"items":  dictItems,
}

func sortedDictKeys(m map[any]any) []any {
	keys := maps.Keys(m)
	sortAnyKeys(keys)
	return keys
}

func dictGet(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "get", args, 1, 2); err != nil {
		return nil, err
	}
	m := recv.(map[any]any)
	key, ok := normalizeKey(args[0])
	if !ok {
		return nil, evalErr(n.Offset, n.Length, "unhashable type: '%s'", typeName(args[0]))
	}
	if v, exists := m[key]; exists {
		return v, nil
	}
	if len(args) > 1 {
		return args[1], nil
	}
	return nil, nil
}

func dictKeys(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "keys", args, 0, 0); err != nil {
		return nil, err
	}
	return sortedDictKeys(recv.(map[any]any)), nil
}

func dictValues(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "values", args, 0, 0); err != nil {
		return nil, err
	}
	m := recv.(map[any]any)
	keys := sortedDictKeys(m)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out, nil
}

func dictItems(n *Node, recv any, args []any) (any, Error) {
	if err := wantArgs(n, "items", args, 0, 0); err != nil {
		return nil, err
	}
	m := recv.(map[any]any)
	keys := sortedDictKeys(m)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = Tuple{k, m[k]}
	}
	return out, nil
}
