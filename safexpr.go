// Package safexpr evaluates a restricted, Python-shaped expression language
// on behalf of untrusted callers. Every expression is parsed into a tree,
// statically checked against a safety policy (a closed operator set, a call
// whitelist, and an attribute allowlist), and only then evaluated with
// bounded recursion. Expressions cannot mutate the values they are given.
//
// The boolean operators and/or short-circuit left to right and always
// return a boolean, not the deciding operand.
package safexpr

// Tuple is the expression language's immutable sequence type. It renders
// with parentheses and never compares equal to a list.
type Tuple []any

// Function is a host callback that expressions may call once it is bound to
// a name in the variables map.
type Function func(args ...any) (any, error)

// FunctionKW is a host callback that also receives keyword arguments.
type FunctionKW func(args []any, kwargs map[string]any) (any, error)

// DefaultMaxDepth bounds evaluation recursion when WithMaxDepth is not
// given. Expressions with unusually deep nesting need a raised bound.
const DefaultMaxDepth = 50

type options struct {
	allowedAttrs map[string]bool
	maxDepth     int
}

// Option adjusts the safety policy for validation and evaluation.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{
		allowedAttrs: map[string]bool{},
		maxDepth:     DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithAttributeAccess adds names to the attribute allowlist. Attribute
// access is off entirely until at least one name is allowed, and names on
// the deny list stay blocked no matter what.
func WithAttributeAccess(names ...string) Option {
	return func(o *options) {
		for _, n := range names {
			o.allowedAttrs[n] = true
		}
	}
}

// WithMaxDepth overrides the evaluation recursion bound. Values below one
// are ignored.
func WithMaxDepth(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxDepth = n
		}
	}
}

// Parse an expression and return the abstract syntax tree. Parsing alone
// applies no safety policy; Run and Eval do that before evaluating.
func Parse(expression string) (*Node, Error) {
	l := NewLexer(expression)
	p := NewParser(l)
	return p.Parse()
}

// Run validates and then evaluates a parsed expression with the given
// variable bindings. Validation repeats on every run because the policy
// outcome depends on which names the bindings provide.
func Run(ast *Node, variables map[string]any, opts ...Option) (any, Error) {
	if err := NewValidator(ast, opts...).Run(variables); err != nil {
		return nil, err
	}
	return NewInterpreter(ast, opts...).Run(variables)
}

// Eval lexes, parses, validates, and evaluates an expression in one call.
// If the same expression runs many times, cache the output of Parse(...)
// and use Run for a significant speedup.
func Eval(expression string, variables map[string]any, opts ...Option) (any, Error) {
	ast, err := Parse(expression)
	if err != nil {
		return nil, err
	}
	return Run(ast, variables, opts...)
}

// Render returns a result value in expression syntax, the same form the
// str builtin produces. Dict and set contents render in sorted key order.
func Render(v any) string {
	return stringify(v, false)
}
