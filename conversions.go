package safexpr

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/exp/maps"
)

// maxExactFloat is 2^63 as a float64. Floats in [-maxExactFloat,
// maxExactFloat) convert to int64 without overflow.
const maxExactFloat = float64(1 << 63)

// numeric converts a native Go value into the evaluator's number model,
// returning either an int64 or a float64. Booleans count as 1 and 0 so they
// participate in arithmetic.
func numeric(v any) (i int64, f float64, isInt bool, ok bool) {
	switch n := v.(type) {
	case int64:
		return n, 0, true, true
	case float64:
		return 0, n, false, true
	case int:
		return int64(n), 0, true, true
	case int8:
		return int64(n), 0, true, true
	case int16:
		return int64(n), 0, true, true
	case int32:
		return int64(n), 0, true, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, float64(n), false, true
		}
		return int64(n), 0, true, true
	case uint8:
		return int64(n), 0, true, true
	case uint16:
		return int64(n), 0, true, true
	case uint32:
		return int64(n), 0, true, true
	case uint64:
		if n > math.MaxInt64 {
			return 0, float64(n), false, true
		}
		return int64(n), 0, true, true
	case float32:
		return 0, float64(n), false, true
	case bool:
		if n {
			return 1, 0, true, true
		}
		return 0, 0, true, true
	}
	return 0, 0, false, false
}

func isNumber(v any) bool {
	_, _, _, ok := numeric(v)
	return ok
}

func toFloat(v any) (float64, bool) {
	i, f, isInt, ok := numeric(v)
	if !ok {
		return 0, false
	}
	if isInt {
		return float64(i), true
	}
	return f, true
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

// asList converts any slice or array into []any. Tuples, strings, and byte
// slices are excluded so they keep their own semantics.
func asList(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case Tuple, string, []byte, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
	return nil, false
}

// asDict converts any map with string-convertible keys into the canonical
// map[any]any form.
func asDict(v any) (map[any]any, bool) {
	switch m := v.(type) {
	case map[any]any:
		return m, true
	case map[string]any:
		out := make(map[any]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		out := make(map[any]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, true
	}
	return nil, false
}

// truthy reports whether a value counts as true: null, false, zero, and
// empty strings and collections are false, everything else is true.
func truthy(v any) bool {
	switch n := v.(type) {
	case nil:
		return false
	case bool:
		return n
	case string:
		return len(n) > 0
	case []byte:
		return len(n) > 0
	case []any:
		return len(n) > 0
	case Tuple:
		return len(n) > 0
	case map[any]any:
		return len(n) > 0
	case map[string]any:
		return len(n) > 0
	case map[any]struct{}:
		return len(n) > 0
	}
	if i, f, isInt, ok := numeric(v); ok {
		if isInt {
			return i != 0
		}
		return f != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// equal implements the == operator: numbers compare across int and float,
// sequences and dicts compare element-wise, and mismatched types are never
// equal. Tuples never equal lists.
func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ai, af, aInt, aok := numeric(a); aok {
		bi, bf, bInt, bok := numeric(b)
		if !bok {
			return false
		}
		if aInt && bInt {
			return ai == bi
		}
		x, y := af, bf
		if aInt {
			x = float64(ai)
		}
		if bInt {
			y = float64(bi)
		}
		return x == y
	}
	if as, ok := asString(a); ok {
		bs, ok := asString(b)
		return ok && as == bs
	}
	if at, ok := a.(Tuple); ok {
		bt, ok := b.(Tuple)
		return ok && equalSequences(at, bt)
	}
	if al, ok := asList(a); ok {
		bl, ok := asList(b)
		return ok && equalSequences(al, bl)
	}
	if as, ok := a.(map[any]struct{}); ok {
		bs, ok := b.(map[any]struct{})
		if !ok || len(as) != len(bs) {
			return false
		}
		for k := range as {
			if _, exists := bs[k]; !exists {
				return false
			}
		}
		return true
	}
	if am, ok := asDict(a); ok {
		bm, ok := asDict(b)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, v := range am {
			w, exists := bm[k]
			if !exists || !equal(v, w) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func equalSequences(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// sameObject implements the identity test. Scalars compare by value within
// their own type, like Python's interned singletons; collections compare by
// backing storage.
func sameObject(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ab, aIsBool := a.(bool)
	bb, bIsBool := b.(bool)
	if aIsBool || bIsBool {
		return aIsBool && bIsBool && ab == bb
	}
	ai, af, aInt, aNum := numeric(a)
	bi, bf, bInt, bNum := numeric(b)
	if aNum || bNum {
		if !aNum || !bNum || aInt != bInt {
			return false
		}
		if aInt {
			return ai == bi
		}
		return af == bf
	}
	if as, ok := asString(a); ok {
		bs, ok := asString(b)
		return ok && as == bs
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Type() != rb.Type() {
		return false
	}
	switch ra.Kind() {
	case reflect.Slice:
		return ra.Len() == rb.Len() && ra.Pointer() == rb.Pointer()
	case reflect.Map, reflect.Ptr, reflect.Chan, reflect.Func:
		return ra.Pointer() == rb.Pointer()
	}
	return equal(a, b)
}

// orderCompare returns -1, 0, or 1 for the ordered comparison operators.
// Numbers, strings, and same-kind sequences are ordered; anything else
// reports not ok.
func orderCompare(a, b any) (int, bool) {
	ai, af, aInt, aok := numeric(a)
	bi, bf, bInt, bok := numeric(b)
	if aok && bok {
		if aInt && bInt {
			switch {
			case ai < bi:
				return -1, true
			case ai > bi:
				return 1, true
			}
			return 0, true
		}
		x, y := af, bf
		if aInt {
			x = float64(ai)
		}
		if bInt {
			y = float64(bi)
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	if aok || bok {
		return 0, false
	}
	if as, ok := asString(a); ok {
		bs, ok := asString(b)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	if at, ok := a.(Tuple); ok {
		bt, ok := b.(Tuple)
		if !ok {
			return 0, false
		}
		return compareSequences(at, bt)
	}
	al, aok := asList(a)
	bl, bok := asList(b)
	if aok && bok {
		return compareSequences(al, bl)
	}
	return 0, false
}

func compareSequences(a, b []any) (int, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		c, ok := orderCompare(a[i], b[i])
		if !ok {
			return 0, false
		}
		if c != 0 {
			return c, true
		}
	}
	switch {
	case len(a) < len(b):
		return -1, true
	case len(a) > len(b):
		return 1, true
	}
	return 0, true
}

// normalizeKey canonicalizes a dict key or set member so equal values share
// one entry: booleans and integral floats fold into int64, which makes 1,
// 1.0, and true collide the way Python hashes them. Collections are not
// hashable.
func normalizeKey(v any) (any, bool) {
	switch k := v.(type) {
	case nil:
		return nil, true
	case string:
		return k, true
	case []byte:
		return string(k), true
	}
	if b, ok := v.(bool); ok {
		if b {
			return int64(1), true
		}
		return int64(0), true
	}
	i, f, isInt, ok := numeric(v)
	if !ok {
		return nil, false
	}
	if isInt {
		return i, true
	}
	if f == math.Trunc(f) && f >= -maxExactFloat && f < maxExactFloat {
		return int64(f), true
	}
	return f, true
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case string, []byte:
		return "str"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "int"
	case float32, float64:
		return "float"
	case Tuple:
		return "tuple"
	case []any:
		return "list"
	case map[any]struct{}:
		return "set"
	case map[any]any, map[string]any:
		return "dict"
	case Function, FunctionKW:
		return "function"
	case boundMethod:
		return "method"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return "list"
	case reflect.Map:
		return "dict"
	case reflect.Func:
		return "function"
	case reflect.Ptr:
		if rv.Type().Elem().Kind() == reflect.Struct {
			return rv.Type().Elem().Name()
		}
	case reflect.Struct:
		return rv.Type().Name()
	}
	return "object"
}

func lenOf(v any) (int, bool) {
	switch n := v.(type) {
	case string:
		return utf8.RuneCountInString(n), true
	case []byte:
		return utf8.RuneCount(n), true
	case []any:
		return len(n), true
	case Tuple:
		return len(n), true
	case map[any]any:
		return len(n), true
	case map[string]any:
		return len(n), true
	case map[any]struct{}:
		return len(n), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), true
	}
	return 0, false
}

func formatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	if math.IsNaN(f) {
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func quoteSingle(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			b.WriteString(`\'`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// keyLess is the deterministic ordering used when rendering dicts and sets.
// Unorderable key mixes fall back to type name, then to rendered form.
func keyLess(a, b any) bool {
	if c, ok := orderCompare(a, b); ok {
		return c < 0
	}
	at, bt := typeName(a), typeName(b)
	if at != bt {
		return at < bt
	}
	return stringify(a, true) < stringify(b, true)
}

func sortAnyKeys(keys []any) {
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
}

// stringify renders a value in expression syntax. Nested strings are
// quoted, a bare top-level string is not, mirroring the str versus repr
// split.
func stringify(v any, nested bool) string {
	switch n := v.(type) {
	case nil:
		return "null"
	case bool:
		if n {
			return "true"
		}
		return "false"
	case string:
		if nested {
			return quoteSingle(n)
		}
		return n
	case []byte:
		if nested {
			return quoteSingle(string(n))
		}
		return string(n)
	case Tuple:
		parts := make([]string, len(n))
		for i, e := range n {
			parts[i] = stringify(e, true)
		}
		if len(parts) == 1 {
			return "(" + parts[0] + ",)"
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case []any:
		parts := make([]string, len(n))
		for i, e := range n {
			parts[i] = stringify(e, true)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[any]struct{}:
		if len(n) == 0 {
			return "set()"
		}
		members := maps.Keys(n)
		sortAnyKeys(members)
		parts := make([]string, len(members))
		for i, m := range members {
			parts[i] = stringify(m, true)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case boundMethod:
		return "<bound method " + n.name + ">"
	}
	if m, ok := asDict(v); ok {
		keys := maps.Keys(m)
		sortAnyKeys(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = stringify(k, true) + ": " + stringify(m[k], true)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	if i, f, isInt, ok := numeric(v); ok {
		if isInt {
			return strconv.FormatInt(i, 10)
		}
		return formatFloat(f)
	}
	if l, ok := asList(v); ok {
		return stringify(l, nested)
	}
	return fmt.Sprintf("%v", v)
}
