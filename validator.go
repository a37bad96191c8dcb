package safexpr

import "strings"

// deniedAttributes are the introspection and import hooks that stay
// unreachable even when an allowlist names them. The deny check runs before
// the allowlist check.
var deniedAttributes = map[string]bool{
	"__class__":        true,
	"__bases__":        true,
	"__subclasses__":   true,
	"__mro__":          true,
	"__globals__":      true,
	"__dict__":         true,
	"__code__":         true,
	"__closure__":      true,
	"__self__":         true,
	"__func__":         true,
	"__init__":         true,
	"__new__":          true,
	"__getattr__":      true,
	"__getattribute__": true,
	"__import__":       true,
	"__builtins__":     true,
	"__module__":       true,
	"__reduce__":       true,
	"__reduce_ex__":    true,
}

// Validator statically checks an abstract syntax tree against the safety
// policy before anything is evaluated. It never executes any part of the
// expression.
type Validator interface {
	// Run walks the whole tree and returns the first policy violation. The
	// caller's variable bindings are consulted to resolve call targets but
	// no values are read.
	Run(variables map[string]any) Error
}

// NewValidator creates a validator for the given tree using the same
// options the interpreter runs with.
func NewValidator(ast *Node, opts ...Option) Validator {
	return &validator{ast: ast, opts: newOptions(opts)}
}

type validator struct {
	ast  *Node
	opts *options
}

func (v *validator) Run(variables map[string]any) Error {
	s := &checkState{opts: v.opts, vars: variables}
	return s.check(v.ast)
}

// checkState carries one run's bindings, which keeps a shared validator
// safe for concurrent use.
type checkState struct {
	opts *options
	vars map[string]any
}

func (s *checkState) check(n *Node) Error {
	if n == nil {
		return nil
	}
	switch n.Type {
	case NodeLiteral, NodeIdentifier:
		return nil
	case NodeSign, NodeNot, NodeKeywordArg:
		return s.check(n.Right)
	case NodeAdd, NodeSubtract, NodeMultiply, NodeDivide, NodeFloorDivide,
		NodeModulo, NodePower, NodeAnd, NodeOr, NodeIndex:
		if err := s.check(n.Left); err != nil {
			return err
		}
		return s.check(n.Right)
	case NodeCompare, NodeConditional, NodeList, NodeTuple, NodeSet, NodeDict:
		return s.checkAll(n.List)
	case NodeSlice:
		if err := s.check(n.Left); err != nil {
			return err
		}
		return s.checkAll(n.List)
	case NodeAttribute:
		if err := s.checkAttribute(n); err != nil {
			return err
		}
		return s.check(n.Left)
	case NodeCall:
		return s.checkCall(n)
	}
	return securityErr(n.Offset, n.Length, "unsupported expression construct %s", n.Type)
}

func (s *checkState) checkAll(nodes []*Node) Error {
	for _, n := range nodes {
		if err := s.check(n); err != nil {
			return err
		}
	}
	return nil
}

func (s *checkState) checkAttribute(n *Node) Error {
	name, _ := n.Value.(string)
	if deniedAttributes[name] {
		return securityErr(n.Offset, n.Length, "attribute %s is always denied", name)
	}
	if strings.HasPrefix(name, "_") {
		return securityErr(n.Offset, n.Length, "access to private attribute %s is not allowed", name)
	}
	if !s.opts.allowedAttrs[name] {
		return securityErr(n.Offset, n.Length, "attribute %s is not allowed", name)
	}
	return nil
}

// checkCall restricts call targets to two shapes: an identifier naming a
// builtin or a caller-bound function, or an attribute that passes the
// attribute policy. Calling anything else, including the result of another
// call, is a policy violation.
func (s *checkState) checkCall(n *Node) Error {
	callee := n.Left
	switch callee.Type {
	case NodeIdentifier:
		name := callee.Value.(string)
		if _, ok := builtins[name]; !ok {
			if _, bound := s.vars[name]; !bound {
				return securityErr(callee.Offset, callee.Length, "%s is not an allowed function", name)
			}
		}
	case NodeAttribute:
		if err := s.checkAttribute(callee); err != nil {
			return err
		}
		if err := s.check(callee.Left); err != nil {
			return err
		}
	default:
		return securityErr(callee.Offset, callee.Length, "call target must be a named function or method")
	}
	return s.checkAll(n.List)
}
