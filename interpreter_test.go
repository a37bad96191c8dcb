package safexpr

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestInterpreter(t *testing.T) {
	type test struct {
		expr   string
		input  string
		opts   []Option
		err    string
		output any
	}
	cases := []test{
		// Add/sub
		{expr: "2 + 2", output: int64(4)},
		{expr: "1 + 2 - 3", output: int64(0)},
		{expr: "-1 + +3", output: int64(2)},
		{expr: "0.5 + 0.2", output: 0.7},
		{expr: ".5 + .2", output: 0.7},
		{expr: "1_000_000 + 1", output: int64(1000001)},
		{expr: "1 + 2.0", output: 3.0},
		{expr: "true + true", output: int64(2)},
		{expr: "9223372036854775807 + 1", output: 9.223372036854776e18},
		{expr: `"foo" + "bar"`, output: "foobar"},
		{expr: "[1] + [2]", output: []any{int64(1), int64(2)}},
		{expr: "(1,) + (2,)", output: Tuple{int64(1), int64(2)}},
		// Mul/div
		{expr: "4 * 5 / 10", output: 2.0},
		{expr: "7 / 2", output: 3.5},
		{expr: "8 / 2", output: 4.0},
		{expr: "7 // 2", output: int64(3)},
		{expr: "-7 // 2", output: int64(-4)},
		{expr: "7.5 // 2", output: 3.0},
		{expr: "7 % 3", output: int64(1)},
		{expr: "-7 % 3", output: int64(2)},
		{expr: "7 % -3", output: int64(-2)},
		{expr: "7.5 % 2", output: 1.5},
		{expr: `"ab" * 3`, output: "ababab"},
		{expr: "[0] * 3", output: []any{int64(0), int64(0), int64(0)}},
		{expr: "3 * (1, 2)", output: Tuple{int64(1), int64(2), int64(1), int64(2), int64(1), int64(2)}},
		{expr: "[] * 100_000_000_000", output: []any{}},
		{expr: `"ab" * 100_000_000_000`, err: "repeated string is too large"},
		{expr: "[1, 2] * 100_000_000_000", err: "repeated sequence is too large"},
		// Power
		{expr: "2 ** 10", output: int64(1024)},
		{expr: "2 ** 3 ** 2", output: int64(512)},
		{expr: "2 ** -1", output: 0.5},
		{expr: "-2 ** 2", output: int64(-4)},
		{expr: "(-2) ** 2", output: int64(4)},
		{expr: "16 ** 0.5", output: 4.0},
		// Numbers
		{expr: "1e3", output: 1000.0},
		{expr: "2.5e-1", output: 0.25},
		// Parentheses
		{expr: "((1 + (2)) * 3)", output: int64(9)},
		{expr: "1 + 2 * 3", output: int64(7)},
		{expr: "(1 + 2) * 3", output: int64(9)},
		// Comparison
		{expr: "1 < 2", output: true},
		{expr: "1 > 2", output: false},
		{expr: "1 >= 1", output: true},
		{expr: "1 <= 1", output: true},
		{expr: "1 == 1.0", output: true},
		{expr: "1 != 2", output: true},
		{expr: `"abc" < "abd"`, output: true},
		{expr: "[1, 2] == [1, 2]", output: true},
		{expr: "(1, 2) == [1, 2]", output: false},
		{expr: "[1, 2] < [1, 3]", output: true},
		// Chained comparison
		{expr: "1 < 2 < 3", output: true},
		{expr: "1 < 2 < 2", output: false},
		{expr: "3 > 2 > 1", output: true},
		{expr: "1 <= 1 <= 1.0", output: true},
		{expr: "1 < 3 < 2", output: false},
		{expr: "1 < 2 < 0", output: false},
		// The chain stops at the first failing link, so the unbound name is
		// never evaluated.
		{expr: "1 > 2 < missing", output: false},
		{expr: "(1 < 3) < 2", output: true},
		// Membership
		{expr: `"a" in "cat"`, output: true},
		{expr: `"z" in "cat"`, output: false},
		{expr: "2 in [1, 2]", output: true},
		{expr: "3 not in [1, 2]", output: true},
		{expr: `"k" in {"k": 1}`, output: true},
		{expr: "2 in {1, 2}", output: true},
		{expr: "2 in (1, 2)", output: true},
		{expr: `"foo" in xs`, input: `{"xs": ["foo", "bar"]}`, output: true},
		// Identity
		{expr: "null is null", output: true},
		{expr: "1 is 1", output: true},
		{expr: "1 is 1.0", output: false},
		{expr: "1 is not 2", output: true},
		{expr: "true is true", output: true},
		// Boolean logic
		{expr: "true and false", output: false},
		{expr: "true or false", output: true},
		{expr: "1 and 2", output: true},
		{expr: "0 or 3", output: true},
		{expr: "0 or 0", output: false},
		{expr: "not 0", output: true},
		{expr: "not [1]", output: false},
		{expr: "not (1 < 2)", output: false},
		{expr: "false and missing", output: false},
		{expr: "true or missing", output: true},
		// Conditional
		{expr: `"yes" if 1 < 2 else "no"`, output: "yes"},
		{expr: `"yes" if 1 > 2 else "no"`, output: "no"},
		{expr: "1 if false else 2 if false else 3", output: int64(3)},
		{expr: "1 if true else missing", output: int64(1)},
		{expr: `"adult" if age >= 18 else "minor"`, input: `{"age": 21}`, output: "adult"},
		// Collections
		{expr: "[1, 2, 3][1]", output: int64(2)},
		{expr: "[1, 2, 3][-1]", output: int64(3)},
		{expr: "[1, [2]][1][0]", output: int64(2)},
		{expr: "(1, 2)", output: Tuple{int64(1), int64(2)}},
		{expr: "()", output: Tuple{}},
		{expr: "(1,)", output: Tuple{int64(1)}},
		{expr: "{}", output: map[any]any{}},
		{expr: `{"a": 1}["a"]`, output: int64(1)},
		{expr: "{1: 2, 1.0: 3}", output: map[any]any{int64(1): int64(3)}},
		{expr: "{k: 1}", input: `{"k": "a"}`, output: map[any]any{"a": int64(1)}},
		{expr: "{1, 2, 2}", output: map[any]struct{}{int64(1): {}, int64(2): {}}},
		// Slices
		{expr: "[1, 2, 3, 4][1:3]", output: []any{int64(2), int64(3)}},
		{expr: "[1, 2, 3][:2]", output: []any{int64(1), int64(2)}},
		{expr: "[1, 2, 3][2:]", output: []any{int64(3)}},
		{expr: "[1, 2, 3][:]", output: []any{int64(1), int64(2), int64(3)}},
		{expr: "[1, 2, 3][-2:]", output: []any{int64(2), int64(3)}},
		{expr: "[1, 2, 3][2:1]", output: []any{}},
		{expr: "[1, 2, 3][null:2]", output: []any{int64(1), int64(2)}},
		{expr: "(1, 2, 3)[1:]", output: Tuple{int64(2), int64(3)}},
		// Strings
		{expr: `'hi'`, output: "hi"},
		{expr: `"a\nb"`, output: "a\nb"},
		{expr: `"hello"[1]`, output: "e"},
		{expr: `"hello"[-1]`, output: "o"},
		{expr: `"hello"[1:3]`, output: "el"},
		{expr: `"héllo"[1]`, output: "é"},
		{expr: `len("héllo")`, output: int64(5)},
		// Host data
		{expr: "x * 2", input: `{"x": 5}`, output: 10.0},
		{expr: "x[0]", input: `{"x": [5]}`, output: 5.0},
		{expr: `d["a"]["b"]`, input: `{"d": {"a": {"b": 7}}}`, output: 7.0},
		// Builtins
		{expr: "abs(-3)", output: int64(3)},
		{expr: "abs(-3.5)", output: 3.5},
		{expr: "all([1, 2])", output: true},
		{expr: "all([1, 0])", output: false},
		{expr: "all([])", output: true},
		{expr: "any([0, 1])", output: true},
		{expr: "any([])", output: false},
		{expr: "bool(0)", output: false},
		{expr: `bool("x")`, output: true},
		{expr: "ceil(1.2)", output: int64(2)},
		{expr: "floor(1.8)", output: int64(1)},
		{expr: "floor(-1.2)", output: int64(-2)},
		{expr: `dict([["a", 1], ["b", 2]])["b"]`, output: int64(2)},
		{expr: `float("2.5")`, output: 2.5},
		{expr: "float(2)", output: 2.0},
		{expr: `int("42")`, output: int64(42)},
		{expr: "int(2.9)", output: int64(2)},
		{expr: "int(-2.9)", output: int64(-2)},
		{expr: `len("abc")`, output: int64(3)},
		{expr: "len([1, 2])", output: int64(2)},
		{expr: `len({"a": 1})`, output: int64(1)},
		{expr: `list("ab")`, output: []any{"a", "b"}},
		{expr: "list((1, 2))", output: []any{int64(1), int64(2)}},
		{expr: "max(1, 2, 3)", output: int64(3)},
		{expr: "max([1, 5, 2])", output: int64(5)},
		{expr: "min(4, 2)", output: int64(2)},
		{expr: "pow(2, 8)", output: int64(256)},
		{expr: "round(2.5)", output: int64(2)},
		{expr: "round(3.5)", output: int64(4)},
		{expr: "round(2.567, ndigits=2)", output: 2.57},
		{expr: "round(2.5, ndigits=0)", output: 2.0},
		{expr: "set([1, 2, 2])", output: map[any]struct{}{int64(1): {}, int64(2): {}}},
		{expr: "sorted([3, 1, 2])", output: []any{int64(1), int64(2), int64(3)}},
		{expr: "sorted([3, 1, 2], reverse=true)", output: []any{int64(3), int64(2), int64(1)}},
		{expr: "sqrt(16)", output: 4.0},
		{expr: "str(42)", output: "42"},
		{expr: "str(2.5)", output: "2.5"},
		{expr: "str(true)", output: "true"},
		{expr: "str(null)", output: "null"},
		{expr: `str([1, 'a'])`, output: "[1, 'a']"},
		{expr: `str({"b": 2, "a": 1})`, output: "{'a': 1, 'b': 2}"},
		{expr: "sum([1, 2, 3])", output: int64(6)},
		{expr: "sum([1, 2.5])", output: 3.5},
		{expr: "tuple([1, 2])", output: Tuple{int64(1), int64(2)}},
		{expr: "min(sorted([3, 1]))", output: int64(1)},
		// String methods
		{expr: `"hello".upper()`, opts: []Option{WithAttributeAccess("upper")}, output: "HELLO"},
		{expr: `"HELLO".lower()`, opts: []Option{WithAttributeAccess("lower")}, output: "hello"},
		{expr: `" x ".strip()`, opts: []Option{WithAttributeAccess("strip")}, output: "x"},
		{expr: `"xxa".lstrip("x")`, opts: []Option{WithAttributeAccess("lstrip")}, output: "a"},
		{expr: `"a,b".split(",")`, opts: []Option{WithAttributeAccess("split")}, output: []any{"a", "b"}},
		{expr: `"a b  c".split()`, opts: []Option{WithAttributeAccess("split")}, output: []any{"a", "b", "c"}},
		{expr: `"-".join(["a", "b"])`, opts: []Option{WithAttributeAccess("join")}, output: "a-b"},
		{expr: `"hello world".title()`, opts: []Option{WithAttributeAccess("title")}, output: "Hello World"},
		{expr: `"hI".capitalize()`, opts: []Option{WithAttributeAccess("capitalize")}, output: "Hi"},
		{expr: `"abc".startswith("ab")`, opts: []Option{WithAttributeAccess("startswith")}, output: true},
		{expr: `"abc".endswith(("c", "d"))`, opts: []Option{WithAttributeAccess("endswith")}, output: true},
		{expr: `"abcabc".count("bc")`, opts: []Option{WithAttributeAccess("count")}, output: int64(2)},
		{expr: `"abcdef".find("cd")`, opts: []Option{WithAttributeAccess("find")}, output: int64(2)},
		{expr: `"abc".find("z")`, opts: []Option{WithAttributeAccess("find")}, output: int64(-1)},
		{expr: `"aXbXc".replace("X", "-")`, opts: []Option{WithAttributeAccess("replace")}, output: "a-b-c"},
		// List and dict methods
		{expr: "[1, 2, 1].count(1)", opts: []Option{WithAttributeAccess("count")}, output: int64(2)},
		{expr: "[4, 5].index(5)", opts: []Option{WithAttributeAccess("index")}, output: int64(1)},
		{expr: `{"a": 1}.get("a")`, opts: []Option{WithAttributeAccess("get")}, output: int64(1)},
		{expr: `{"a": 1}.get("b", 0)`, opts: []Option{WithAttributeAccess("get")}, output: int64(0)},
		{expr: `{"b": 2, "a": 1}.keys()`, opts: []Option{WithAttributeAccess("keys")}, output: []any{"a", "b"}},
		{expr: `{"b": 2, "a": 1}.values()`, opts: []Option{WithAttributeAccess("values")}, output: []any{int64(1), int64(2)}},
		{expr: `{"a": 1}.items()`, opts: []Option{WithAttributeAccess("items")}, output: []any{Tuple{"a", int64(1)}}},
		// Failure modes
		{expr: "6 -", err: "incomplete expression"},
		{expr: "1 ]", err: "expected eof but found right-bracket"},
		{expr: `"unterminated`, err: "unterminated string"},
		{expr: "1 / 0", err: "division by zero"},
		{expr: "7 // 0", err: "division by zero"},
		{expr: "7 % 0", err: "division by zero"},
		{expr: "1.0 / (x * 1)", input: `{"x": 0}`, err: "division by zero"},
		{expr: "x + 1", err: "undefined variable: x"},
		{expr: "[1][5]", err: "list index out of range"},
		{expr: `"abc"[10]`, err: "string index out of range"},
		{expr: `{"a": 1}["b"]`, err: "key 'b' not found"},
		{expr: `"a" + 1`, err: "can only concatenate str"},
		{expr: `1 + "a"`, err: "unsupported operand type(s) for +"},
		{expr: `1 < "a"`, err: "'<' not supported between instances of 'int' and 'str'"},
		{expr: `-"a"`, err: "bad operand type for unary -"},
		{expr: "len(1)", err: "has no len"},
		{expr: "len()", err: "len() takes exactly 1 argument (0 given)"},
		{expr: "sqrt(-1)", err: "math domain error"},
		{expr: `int("abc")`, err: "invalid literal for int()"},
		{expr: `sorted([1, "a"])`, err: "not supported between instances"},
		{expr: "max([])", err: "max() arg is an empty sequence"},
		{expr: "sorted([1], wrong=true)", err: "unexpected keyword argument"},
		{expr: "{[1]: 2}", err: "unhashable type: 'list'"},
		{expr: "{1, [2]}", err: "unhashable type: 'list'"},
		{expr: "0 ** -1", err: "cannot be raised to a negative power"},
		{expr: "f(a=1, a=2)", err: "keyword argument repeated"},
		{expr: "f(a=1, 2)", err: "positional argument after keyword argument"},
		{expr: "(1, 2)(3)", err: "call target must be a named function or method"},
		{expr: "{1}[0]", err: "'set' object is not subscriptable"},
		{expr: "1 in 2", err: "argument of type 'int' is not iterable"},
	}

	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			var vars map[string]any
			if tc.input != "" {
				if err := json.Unmarshal([]byte(tc.input), &vars); err != nil {
					t.Fatal(err)
				}
			}
			ast, err := Parse(tc.expr)
			if err != nil {
				if tc.err != "" && strings.Contains(err.Error(), tc.err) {
					return
				}
				t.Fatal(err.Pretty(tc.expr))
			}
			t.Log("graph G {\n" + ast.Dot("") + "\n}")
			result, err := Run(ast, vars, tc.opts...)
			if tc.err != "" {
				if err == nil {
					t.Fatalf("expected error but got %v", result)
				}
				if !strings.Contains(err.Error(), tc.err) {
					t.Fatal(err.Pretty(tc.expr))
				}
				return
			}
			if err != nil {
				t.Fatal(err.Pretty(tc.expr))
			}
			assert.Equal(t, tc.output, result)
		})
	}
}

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		expr string
		kind ErrorKind
	}{
		{"1 +", SyntaxError},
		{"1 ~ 2", SyntaxError},
		{"x.__class__", SecurityError},
		{"open('/etc/passwd')", SecurityError},
		{"1 / 0", EvaluationError},
		{"missing + 1", EvaluationError},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			_, err := Eval(tc.expr, nil)
			if assert.Error(t, err) {
				assert.Equal(t, tc.kind, err.Kind())
			}
		})
	}
}

func TestPretty(t *testing.T) {
	src := `1 / 0`
	_, err := Eval(src, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	pretty := err.Pretty(src)
	assert.Contains(t, pretty, "evaluation error: division by zero")
	assert.Contains(t, pretty, src)
	assert.Contains(t, pretty, "^")
}

func TestMaxDepth(t *testing.T) {
	_, err := Eval("[[[[[[1]]]]]]", nil, WithMaxDepth(5))
	if assert.Error(t, err) {
		assert.Equal(t, EvaluationError, err.Kind())
		assert.Contains(t, err.Error(), "expression too deeply nested")
	}

	// A flat chain parses iteratively but evaluates as a deep left-leaning
	// tree, so the default bound still applies.
	long := strings.Repeat("1+", 99) + "1"
	_, err = Eval(long, nil)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "expression too deeply nested")
	}

	_, err = Eval(strings.Repeat("(", 600)+"1"+strings.Repeat(")", 600), nil)
	if assert.Error(t, err) {
		assert.Equal(t, SyntaxError, err.Kind())
		assert.Contains(t, err.Error(), "expression nesting too deep")
	}
}

func TestRunIdempotence(t *testing.T) {
	ast, err := Parse("sorted([b, a]) + [a * 2]")
	if err != nil {
		t.Fatal(err.Pretty("sorted([b, a]) + [a * 2]"))
	}
	vars := map[string]any{"a": 3, "b": 1}
	first, err := Run(ast, vars)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Run(ast, vars)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, first, second)
	assert.Equal(t, []any{int64(1), int64(3), int64(6)}, second)
}

// Caller-supplied collections must come back untouched, even from builtins
// that produce reordered output.
func TestInputsUnmutated(t *testing.T) {
	xs := []any{int64(3), int64(1), int64(2)}
	out, err := Eval("sorted(xs)", map[string]any{"xs": xs})
	if err != nil {
		t.Fatal(err.Pretty("sorted(xs)"))
	}
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, out)
	assert.Equal(t, []any{int64(3), int64(1), int64(2)}, xs)
}

// Only the selected branch of a conditional runs.
func TestConditionalLaziness(t *testing.T) {
	var taken, skipped int
	vars := map[string]any{
		"a": Function(func(args ...any) (any, error) { taken++; return "a", nil }),
		"b": Function(func(args ...any) (any, error) { skipped++; return "b", nil }),
	}
	out, err := Eval("a() if true else b()", vars)
	if err != nil {
		t.Fatal(err.Pretty("a() if true else b()"))
	}
	assert.Equal(t, "a", out)
	assert.Equal(t, 1, taken)
	assert.Zero(t, skipped)
}

// The call target resolves before any argument runs, on the success path
// and on the failure path.
func TestCallResolutionOrder(t *testing.T) {
	var order []string
	vars := map[string]any{
		"g": Function(func(args ...any) (any, error) {
			order = append(order, "target")
			return "aba", nil
		}),
		"h": Function(func(args ...any) (any, error) {
			order = append(order, "arg")
			return "a", nil
		}),
	}
	out, err := Eval("g().count(h())", vars, WithAttributeAccess("count"))
	if err != nil {
		t.Fatal(err.Pretty("g().count(h())"))
	}
	assert.Equal(t, int64(2), out)
	assert.Equal(t, []string{"target", "arg"}, order)

	ran := 0
	vars["f"] = Function(func(args ...any) (any, error) {
		ran++
		return nil, nil
	})
	_, err = Eval("missing.upper(f())", vars, WithAttributeAccess("upper"))
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "undefined variable: missing")
	}
	assert.Zero(t, ran)
}

// One parsed tree, one validator, and one interpreter shared by all
// goroutines; each Run carries its own bindings and depth counter.
func TestConcurrentRuns(t *testing.T) {
	defer goleak.VerifyNone(t)
	ast, err := Parse("x * 2 + len(s)")
	if err != nil {
		t.Fatal(err)
	}
	val := NewValidator(ast)
	interp := NewInterpreter(ast)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				vars := map[string]any{"x": g, "s": "ab"}
				if err := val.Run(vars); err != nil {
					t.Error(err)
					return
				}
				out, err := interp.Run(vars)
				if err != nil {
					t.Error(err)
					return
				}
				if out != int64(g*2+2) {
					t.Errorf("goroutine %d got %v", g, out)
					return
				}
			}
		}(g)
	}
	wg.Wait()
}

// Host integers of any width fold into the number model; unsigned values
// past the int64 range promote to float instead of wrapping negative.
func TestNumericWidths(t *testing.T) {
	vars := map[string]any{
		"u":   uint(math.MaxUint),
		"u64": uint64(math.MaxUint64),
		"u32": uint32(math.MaxUint32),
		"i8":  int8(-5),
		"f32": float32(0.5),
	}
	for _, tc := range []struct {
		expr   string
		output any
	}{
		{"u > 0", true},
		{"u64 > 0", true},
		{"u64 > 9223372036854775807", true},
		{"u32 + 1", int64(4294967296)},
		{"i8 + 5", int64(0)},
		{"f32 * 2", 1.0},
	} {
		out, err := Eval(tc.expr, vars)
		if err != nil {
			t.Fatal(err.Pretty(tc.expr))
		}
		assert.Equal(t, tc.output, out, tc.expr)
	}
}

func TestHostFunctions(t *testing.T) {
	vars := map[string]any{
		"double": Function(func(args ...any) (any, error) {
			i, _, _, ok := numeric(args[0])
			if !ok {
				return nil, fmt.Errorf("double wants a number")
			}
			return i * 2, nil
		}),
		"greet": FunctionKW(func(args []any, kwargs map[string]any) (any, error) {
			name, _ := kwargs["name"].(string)
			if name == "" {
				name = "world"
			}
			return "hello " + name, nil
		}),
		"concat": func(args ...any) (any, error) {
			var b strings.Builder
			for _, a := range args {
				b.WriteString(stringify(a, false))
			}
			return b.String(), nil
		},
		"boom": Function(func(args ...any) (any, error) {
			panic("kaboom")
		}),
		"notfn": 5,
	}

	out, err := Eval("double(21)", vars)
	if err != nil {
		t.Fatal(err.Pretty("double(21)"))
	}
	assert.Equal(t, int64(42), out)

	out, err = Eval(`greet(name="ada")`, vars)
	if err != nil {
		t.Fatal(err.Pretty(`greet(name="ada")`))
	}
	assert.Equal(t, "hello ada", out)

	out, err = Eval("greet()", vars)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "hello world", out)

	out, err = Eval(`concat("a", 1, true)`, vars)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "a1true", out)

	_, err = Eval(`double("x")`, vars)
	if assert.Error(t, err) {
		assert.Equal(t, EvaluationError, err.Kind())
		assert.Contains(t, err.Error(), "double wants a number")
	}

	_, err = Eval("boom()", vars)
	if assert.Error(t, err) {
		assert.Equal(t, EvaluationError, err.Kind())
		assert.Contains(t, err.Error(), "panicked")
	}

	_, err = Eval("notfn()", vars)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "'int' object is not callable")
	}

	_, err = Eval(`double(1, extra=2)`, vars)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "unexpected keyword argument")
	}
}

type account struct {
	Name    string
	Balance float64
	tags    []string
}

func (a account) Display() string {
	return strings.ToUpper(a.Name)
}

func (a *account) Doubled() float64 {
	return a.Balance * 2
}

func TestHostStructs(t *testing.T) {
	vars := map[string]any{
		"acct": account{Name: "alice", Balance: 125, tags: []string{"vip"}},
	}
	opts := []Option{WithAttributeAccess("name", "balance", "display", "doubled", "tags")}

	out, err := Eval("acct.name", vars, opts...)
	if err != nil {
		t.Fatal(err.Pretty("acct.name"))
	}
	assert.Equal(t, "alice", out)

	out, err = Eval("acct.balance * 2", vars, opts...)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 250.0, out)

	out, err = Eval("acct.display()", vars, opts...)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "ALICE", out)

	out, err = Eval("acct.doubled()", vars, opts...)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 250.0, out)

	// Unexported fields stay invisible even when the allowlist names them.
	_, err = Eval("acct.tags", vars, opts...)
	if assert.Error(t, err) {
		assert.Equal(t, EvaluationError, err.Kind())
		assert.Contains(t, err.Error(), "has no attribute 'tags'")
	}
}

func FuzzEval(f *testing.F) {
	seeds := []string{
		"2 + 2",
		"2 ** 10",
		`"hello".upper()`,
		"[1, 2, 3][1:]",
		`{"a": 1}.get("a")`,
		"1 < 2 < 3",
		"x if b else y",
		"f(a=1)",
		"{1: 'a', 2: 'b'}",
		"not (true and false)",
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, s string) {
		Eval(s, nil)
		Eval(s, map[string]any{
			"b": false,
			"i": 7,
			"f": 2.5,
			"s": "word",
			"a": []any{true, 2, "z"},
			"o": map[string]any{
				"field": 42,
			},
		}, WithAttributeAccess("upper", "get", "keys"), WithMaxDepth(50))
	})
}
