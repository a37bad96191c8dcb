package safexpr

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeType identifies what an abstract syntax tree node represents.
type NodeType int

const (
	NodeUnknown NodeType = iota
	NodeLiteral
	NodeIdentifier
	NodeSign
	NodeNot
	NodeAdd
	NodeSubtract
	NodeMultiply
	NodeDivide
	NodeFloorDivide
	NodeModulo
	NodePower
	NodeCompare
	NodeAnd
	NodeOr
	NodeConditional
	NodeList
	NodeTuple
	NodeSet
	NodeDict
	NodeIndex
	NodeSlice
	NodeAttribute
	NodeCall
	NodeKeywordArg
)

func (t NodeType) String() string {
	switch t {
	case NodeLiteral:
		return "literal"
	case NodeIdentifier:
		return "identifier"
	case NodeSign:
		return "sign"
	case NodeNot:
		return "not"
	case NodeAdd:
		return "add"
	case NodeSubtract:
		return "subtract"
	case NodeMultiply:
		return "multiply"
	case NodeDivide:
		return "divide"
	case NodeFloorDivide:
		return "floor-divide"
	case NodeModulo:
		return "modulo"
	case NodePower:
		return "power"
	case NodeCompare:
		return "compare"
	case NodeAnd:
		return "and"
	case NodeOr:
		return "or"
	case NodeConditional:
		return "conditional"
	case NodeList:
		return "list"
	case NodeTuple:
		return "tuple"
	case NodeSet:
		return "set"
	case NodeDict:
		return "dict"
	case NodeIndex:
		return "index"
	case NodeSlice:
		return "slice"
	case NodeAttribute:
		return "attribute"
	case NodeCall:
		return "call"
	case NodeKeywordArg:
		return "keyword-argument"
	}
	return "unknown"
}

// Node is a unit of the tree that makes up the abstract syntax tree. The
// children in use depend on the node type:
//
//   - literal: Value holds the native value
//   - identifier: Value holds the name
//   - sign: Value holds "+" or "-", Right the operand
//   - not: Right the operand
//   - arithmetic, and, or: Left and Right operands
//   - compare: List holds the chain operands, Ops the operator spellings
//     between them (len(Ops) == len(List)-1)
//   - conditional: List holds condition, then-branch, else-branch
//   - list, tuple, set: List holds the elements
//   - dict: List holds alternating keys and values
//   - index: Left the target, Right the index
//   - slice: Left the target, List the two bounds (nil when omitted)
//   - attribute: Left the target, Value the attribute name
//   - call: Left the target, List the arguments with keyword arguments last
//   - keyword-argument: Value the name, Right the value
type Node struct {
	Type   NodeType
	Value  any
	Left   *Node
	Right  *Node
	List   []*Node
	Ops    []string
	Offset int
	Length int

	// grouped marks a parenthesized node so an enclosing comparison does
	// not extend its chain through the grouping.
	grouped bool
}

// children returns the non-nil child nodes in evaluation order.
func (n *Node) children() []*Node {
	out := make([]*Node, 0, 2+len(n.List))
	if n.Left != nil {
		out = append(out, n.Left)
	}
	if n.Right != nil {
		out = append(out, n.Right)
	}
	for _, c := range n.List {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

func (n *Node) label() string {
	switch n.Type {
	case NodeLiteral:
		if s, ok := n.Value.(string); ok {
			return strconv.Quote(s)
		}
		if n.Value == nil {
			return "null"
		}
		return fmt.Sprintf("%v", n.Value)
	case NodeIdentifier, NodeSign, NodeAttribute, NodeKeywordArg:
		return fmt.Sprintf("%s %v", n.Type, n.Value)
	case NodeCompare:
		return "compare " + strings.Join(n.Ops, " ")
	}
	return n.Type.String()
}

// Dot returns the tree in graphviz dot format for debugging. Wrap the output
// in `graph G { ... }` to render it.
func (n *Node) Dot(id string) string {
	if id == "" {
		id = "n0"
	}
	lines := []string{fmt.Sprintf("%q [label=%q]", id, n.label())}
	for i, c := range n.children() {
		cid := fmt.Sprintf("%s_%d", id, i)
		lines = append(lines, c.Dot(cid))
		lines = append(lines, fmt.Sprintf("%q -- %q", id, cid))
	}
	return strings.Join(lines, "\n")
}

// bindingPowers per token type; unlisted tokens bind at zero. Higher numbers
// bind tighter. Comparison operators share one level and collect into
// chains; `not` is listed at the comparison level for its infix role in
// `not in`, while its unary binding power sits below comparisons so
// `not a == b` negates the comparison.
var bindingPowers = map[TokenType]int{
	TokenIf:          2,
	TokenOr:          4,
	TokenAnd:         6,
	TokenComparison:  10,
	TokenIn:          10,
	TokenIs:          10,
	TokenNot:         10,
	TokenAddSub:      20,
	TokenMulDiv:      30,
	TokenPower:       50,
	TokenDot:         60,
	TokenLeftBracket: 60,
	TokenLeftParen:   60,
}

// Unary operators bind tighter than their surrounding infix level but looser
// than power, matching `-2 ** 2 == -(2 ** 2)` and `(-7) % 3` grouping.
const (
	bindingPowerNot  = 8
	bindingPowerSign = 40
)

// maxNesting caps the parser's own recursion independently of the
// evaluation depth bound, so a pathological input fails with a syntax error
// instead of exhausting the stack.
const maxNesting = 500

// Parser turns a token stream into an abstract syntax tree.
type Parser interface {
	// Parse consumes the whole expression and returns the root node.
	Parse() (*Node, Error)
}

// NewParser creates a parser reading tokens from the given lexer.
func NewParser(lexer Lexer) Parser {
	return &parser{
		lexer: lexer,
	}
}

// parser is a Pratt (top-down operator precedence) parser.
type parser struct {
	lexer Lexer
	token Token
	depth int
}

func (p *parser) advance() Error {
	t, err := p.lexer.Next()
	if err != nil {
		return err
	}
	p.token = *t
	return nil
}

func (p *parser) parse(bindingPower int) (*Node, Error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxNesting {
		return nil, syntaxErr(p.token.Offset, 1, "expression nesting too deep")
	}

	leftToken := p.token
	if err := p.advance(); err != nil {
		return nil, err
	}
	leftNode, err := p.nud(leftToken)
	if err != nil {
		return nil, err
	}
	for bindingPower < bindingPowers[p.token.Type] {
		currentToken := p.token
		if err := p.advance(); err != nil {
			return nil, err
		}
		leftNode, err = p.led(currentToken, leftNode)
		if err != nil {
			return nil, err
		}
	}
	return leftNode, nil
}

// ensure checks that the current token is `typ` and advances past it,
// passing `result` through. A set `err` short-circuits so call sites can
// chain it after a parse step.
func (p *parser) ensure(result *Node, err Error, typ TokenType) (*Node, Error) {
	if err != nil {
		return nil, err
	}
	if p.token.Type == typ {
		if err := p.advance(); err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, syntaxErr(p.token.Offset, len(p.token.Value), "expected %s but found %s", typ, p.token.Type)
}

func literalNumber(t Token) (*Node, Error) {
	raw := strings.ReplaceAll(t.Value, "_", "")
	if !strings.ContainsAny(raw, ".eE") {
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return &Node{Type: NodeLiteral, Value: i, Offset: t.Offset, Length: len(t.Value)}, nil
		}
		// Out of int64 range: fall through to the float path.
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, syntaxErr(t.Offset, len(t.Value), "invalid number %s", t.Value)
	}
	return &Node{Type: NodeLiteral, Value: f, Offset: t.Offset, Length: len(t.Value)}, nil
}

// nud: null denotation. These nodes have no left context and only consume to
// the right. Examples: identifiers, literals, unary operators, and the
// opening brackets of collection literals.
func (p *parser) nud(t Token) (*Node, Error) {
	switch t.Type {
	case TokenIdentifier:
		return &Node{Type: NodeIdentifier, Value: t.Value, Offset: t.Offset, Length: len(t.Value)}, nil
	case TokenNumber:
		return literalNumber(t)
	case TokenString:
		return &Node{Type: NodeLiteral, Value: t.Value, Offset: t.Offset, Length: len(t.Value)}, nil
	case TokenTrue:
		return &Node{Type: NodeLiteral, Value: true, Offset: t.Offset, Length: len(t.Value)}, nil
	case TokenFalse:
		return &Node{Type: NodeLiteral, Value: false, Offset: t.Offset, Length: len(t.Value)}, nil
	case TokenNull:
		return &Node{Type: NodeLiteral, Value: nil, Offset: t.Offset, Length: len(t.Value)}, nil
	case TokenNot:
		right, err := p.parse(bindingPowerNot)
		if err != nil {
			return nil, err
		}
		return &Node{Type: NodeNot, Right: right, Offset: t.Offset, Length: spanEnd(right) - t.Offset}, nil
	case TokenAddSub:
		right, err := p.parse(bindingPowerSign)
		if err != nil {
			return nil, err
		}
		return &Node{Type: NodeSign, Value: t.Value, Right: right, Offset: t.Offset, Length: spanEnd(right) - t.Offset}, nil
	case TokenLeftParen:
		return p.parenGroup(t)
	case TokenLeftBracket:
		elements, err := p.elementList(TokenRightBracket)
		if err != nil {
			return nil, err
		}
		return &Node{Type: NodeList, List: elements, Offset: t.Offset, Length: p.token.Offset - t.Offset}, nil
	case TokenLeftBrace:
		return p.braceLiteral(t)
	case TokenEOF:
		return nil, syntaxErr(t.Offset, 1, "incomplete expression, EOF found")
	}
	return nil, syntaxErr(t.Offset, len(t.Value), "unexpected %s", t.Type)
}

// parenGroup parses `(...)` as either a grouped expression, an empty tuple,
// or a tuple of comma-separated elements.
func (p *parser) parenGroup(t Token) (*Node, Error) {
	if p.token.Type == TokenRightParen {
		end := p.token.Offset + 1
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Node{Type: NodeTuple, Offset: t.Offset, Length: end - t.Offset}, nil
	}
	first, err := p.parse(0)
	if err != nil {
		return nil, err
	}
	if p.token.Type != TokenComma {
		first.grouped = true
		return p.ensure(first, nil, TokenRightParen)
	}
	elements := []*Node{first}
	for p.token.Type == TokenComma {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.token.Type == TokenRightParen {
			break
		}
		element, err := p.parse(0)
		if err != nil {
			return nil, err
		}
		elements = append(elements, element)
	}
	node := &Node{Type: NodeTuple, List: elements, Offset: t.Offset}
	end := p.token.Offset + 1
	if _, err := p.ensure(nil, nil, TokenRightParen); err != nil {
		return nil, err
	}
	node.Length = end - t.Offset
	return node, nil
}

// elementList parses comma-separated expressions up to and including the
// terminator. A trailing comma is allowed.
func (p *parser) elementList(terminator TokenType) ([]*Node, Error) {
	elements := []*Node{}
	for p.token.Type != terminator {
		element, err := p.parse(0)
		if err != nil {
			return nil, err
		}
		elements = append(elements, element)
		if p.token.Type != TokenComma {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if _, err := p.ensure(nil, nil, terminator); err != nil {
		return nil, err
	}
	return elements, nil
}

// braceLiteral parses `{...}` as a dict (key: value pairs), a set, or the
// empty dict.
func (p *parser) braceLiteral(t Token) (*Node, Error) {
	if p.token.Type == TokenRightBrace {
		end := p.token.Offset + 1
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Node{Type: NodeDict, Offset: t.Offset, Length: end - t.Offset}, nil
	}
	first, err := p.parse(0)
	if err != nil {
		return nil, err
	}
	isDict := p.token.Type == TokenColon
	elements := []*Node{first}
	if isDict {
		if err := p.advance(); err != nil {
			return nil, err
		}
		value, err := p.parse(0)
		if err != nil {
			return nil, err
		}
		elements = append(elements, value)
	}
	for p.token.Type == TokenComma {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.token.Type == TokenRightBrace {
			break
		}
		key, err := p.parse(0)
		if err != nil {
			return nil, err
		}
		elements = append(elements, key)
		if isDict {
			if _, err := p.ensure(nil, nil, TokenColon); err != nil {
				return nil, err
			}
			value, err := p.parse(0)
			if err != nil {
				return nil, err
			}
			elements = append(elements, value)
		}
	}
	typ := NodeSet
	if isDict {
		typ = NodeDict
	}
	node := &Node{Type: typ, List: elements, Offset: t.Offset}
	end := p.token.Offset + 1
	if _, err := p.ensure(nil, nil, TokenRightBrace); err != nil {
		return nil, err
	}
	node.Length = end - t.Offset
	return node, nil
}

var arithmeticNodes = map[string]NodeType{
	"+":  NodeAdd,
	"-":  NodeSubtract,
	"*":  NodeMultiply,
	"/":  NodeDivide,
	"//": NodeFloorDivide,
	"%":  NodeModulo,
}

// newNodeParseRight builds an infix node whose right subtree comes from
// parsing ahead until a lower binding power stops the recursion.
func (p *parser) newNodeParseRight(left *Node, t Token, typ NodeType, bindingPower int) (*Node, Error) {
	right, err := p.parse(bindingPower)
	if err != nil {
		return nil, err
	}
	return &Node{Type: typ, Value: t.Value, Left: left, Right: right, Offset: left.Offset, Length: spanEnd(right) - left.Offset}, nil
}

// led: left denotation. These tokens produce nodes that operate on a left
// context and consume to the right: infix operators, calls, subscripts,
// attribute selection, and the ternary conditional.
func (p *parser) led(t Token, n *Node) (*Node, Error) {
	switch t.Type {
	case TokenAddSub, TokenMulDiv:
		return p.newNodeParseRight(n, t, arithmeticNodes[t.Value], bindingPowers[t.Type])
	case TokenPower:
		return p.newNodeParseRight(n, t, NodePower, bindingPowers[t.Type]-1)
	case TokenAnd:
		return p.newNodeParseRight(n, t, NodeAnd, bindingPowers[t.Type])
	case TokenOr:
		return p.newNodeParseRight(n, t, NodeOr, bindingPowers[t.Type])
	case TokenComparison:
		return p.ledCompare(n, t.Value)
	case TokenIn:
		return p.ledCompare(n, "in")
	case TokenIs:
		op := "is"
		if p.token.Type == TokenNot {
			if err := p.advance(); err != nil {
				return nil, err
			}
			op = "is not"
		}
		return p.ledCompare(n, op)
	case TokenNot:
		// Infix `not` is only valid as the start of `not in`.
		if p.token.Type != TokenIn {
			return nil, syntaxErr(t.Offset, len(t.Value), "expected in after not")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.ledCompare(n, "not in")
	case TokenIf:
		return p.ledConditional(n)
	case TokenDot:
		if p.token.Type != TokenIdentifier {
			return nil, syntaxErr(p.token.Offset, len(p.token.Value), "expected attribute name but found %s", p.token.Type)
		}
		name := p.token.Value
		end := p.token.Offset + len(name)
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Node{Type: NodeAttribute, Value: name, Left: n, Offset: n.Offset, Length: end - n.Offset}, nil
	case TokenLeftBracket:
		return p.ledSubscript(n, t)
	case TokenLeftParen:
		return p.ledCall(n, t)
	}
	return nil, syntaxErr(t.Offset, len(t.Value), "unexpected %s", t.Type)
}

// ledCompare extends an open comparison chain with one more operand, or
// starts a new chain. Grouped nodes never extend an enclosing chain, so
// `(1 < 2) < 3` compares a boolean rather than chaining.
func (p *parser) ledCompare(left *Node, op string) (*Node, Error) {
	right, err := p.parse(bindingPowers[TokenComparison])
	if err != nil {
		return nil, err
	}
	if left.Type == NodeCompare && !left.grouped {
		left.List = append(left.List, right)
		left.Ops = append(left.Ops, op)
		left.Length = spanEnd(right) - left.Offset
		return left, nil
	}
	return &Node{
		Type:   NodeCompare,
		List:   []*Node{left, right},
		Ops:    []string{op},
		Offset: left.Offset,
		Length: spanEnd(right) - left.Offset,
	}, nil
}

// ledConditional parses the `then if condition else otherwise` form. The
// condition parses above the ternary level and the else branch parses at the
// ternary level minus one so the operator is right-associative.
func (p *parser) ledConditional(then *Node) (*Node, Error) {
	condition, err := p.parse(bindingPowers[TokenIf])
	if err != nil {
		return nil, err
	}
	if _, err := p.ensure(nil, nil, TokenElse); err != nil {
		return nil, err
	}
	otherwise, err := p.parse(bindingPowers[TokenIf] - 1)
	if err != nil {
		return nil, err
	}
	return &Node{
		Type:   NodeConditional,
		List:   []*Node{condition, then, otherwise},
		Offset: then.Offset,
		Length: spanEnd(otherwise) - then.Offset,
	}, nil
}

// ledSubscript parses `target[...]` as either an index or a two-bound slice
// with optional bounds.
func (p *parser) ledSubscript(target *Node, t Token) (*Node, Error) {
	var low, high *Node
	var err Error
	if p.token.Type != TokenColon {
		low, err = p.parse(0)
		if err != nil {
			return nil, err
		}
		if p.token.Type == TokenRightBracket {
			end := p.token.Offset + 1
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &Node{Type: NodeIndex, Left: target, Right: low, Offset: target.Offset, Length: end - target.Offset}, nil
		}
	}
	if _, err := p.ensure(nil, nil, TokenColon); err != nil {
		return nil, err
	}
	if p.token.Type != TokenRightBracket {
		high, err = p.parse(0)
		if err != nil {
			return nil, err
		}
	}
	node := &Node{Type: NodeSlice, Left: target, List: []*Node{low, high}, Offset: target.Offset}
	end := p.token.Offset + 1
	if _, err := p.ensure(nil, nil, TokenRightBracket); err != nil {
		return nil, err
	}
	node.Length = end - target.Offset
	return node, nil
}

// ledCall parses `target(...)` with positional arguments first and keyword
// arguments after. Duplicate keywords and positionals after a keyword are
// rejected.
func (p *parser) ledCall(target *Node, t Token) (*Node, Error) {
	args := []*Node{}
	seen := map[string]bool{}
	sawKeyword := false
	for p.token.Type != TokenRightParen {
		arg, err := p.parse(0)
		if err != nil {
			return nil, err
		}
		if p.token.Type == TokenAssign {
			if arg.Type != NodeIdentifier {
				return nil, syntaxErr(arg.Offset, arg.Length, "keyword argument name must be an identifier")
			}
			name := arg.Value.(string)
			if seen[name] {
				return nil, syntaxErr(arg.Offset, arg.Length, "keyword argument repeated: %s", name)
			}
			seen[name] = true
			if err := p.advance(); err != nil {
				return nil, err
			}
			value, err := p.parse(0)
			if err != nil {
				return nil, err
			}
			args = append(args, &Node{
				Type:   NodeKeywordArg,
				Value:  name,
				Right:  value,
				Offset: arg.Offset,
				Length: spanEnd(value) - arg.Offset,
			})
			sawKeyword = true
		} else {
			if sawKeyword {
				return nil, syntaxErr(arg.Offset, arg.Length, "positional argument after keyword argument")
			}
			args = append(args, arg)
		}
		if p.token.Type != TokenComma {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	node := &Node{Type: NodeCall, Left: target, List: args, Offset: target.Offset}
	end := p.token.Offset + 1
	if _, err := p.ensure(nil, nil, TokenRightParen); err != nil {
		return nil, err
	}
	node.Length = end - target.Offset
	return node, nil
}

func spanEnd(n *Node) int {
	return n.Offset + n.Length
}

func (p *parser) Parse() (*Node, Error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	root, err := p.parse(0)
	if err != nil {
		return nil, err
	}
	if p.token.Type != TokenEOF {
		return nil, syntaxErr(p.token.Offset, len(p.token.Value), "expected eof but found %s", p.token.Type)
	}
	return root, nil
}
