package safexpr

import (
	"bytes"
	"fmt"
	"unicode"
	"unicode/utf8"
)

// TokenType names a kind of token. The spellings double as the words error
// messages use, so they read like prose: "expected right-paren but found
// eof".
type TokenType string

// Token types
const (
	TokenUnknown      TokenType = ""
	TokenIdentifier   TokenType = "identifier"
	TokenNumber       TokenType = "number"
	TokenString       TokenType = "string"
	TokenLeftParen    TokenType = "left-paren"
	TokenRightParen   TokenType = "right-paren"
	TokenLeftBracket  TokenType = "left-bracket"
	TokenRightBracket TokenType = "right-bracket"
	TokenLeftBrace    TokenType = "left-brace"
	TokenRightBrace   TokenType = "right-brace"
	TokenComma        TokenType = "comma"
	TokenColon        TokenType = "colon"
	TokenDot          TokenType = "dot"
	TokenAssign       TokenType = "assign"
	TokenAddSub       TokenType = "add-sub"
	TokenMulDiv       TokenType = "mul-div"
	TokenPower        TokenType = "power"
	TokenComparison   TokenType = "comparison"
	TokenAnd          TokenType = "and"
	TokenOr           TokenType = "or"
	TokenNot          TokenType = "not"
	TokenIn           TokenType = "in"
	TokenIs           TokenType = "is"
	TokenIf           TokenType = "if"
	TokenElse         TokenType = "else"
	TokenTrue         TokenType = "true"
	TokenFalse        TokenType = "false"
	TokenNull         TokenType = "null"
	TokenEOF          TokenType = "eof"
)

var basic = map[rune]TokenType{
	'(': TokenLeftParen,
	')': TokenRightParen,
	'[': TokenLeftBracket,
	']': TokenRightBracket,
	'{': TokenLeftBrace,
	'}': TokenRightBrace,
	',': TokenComma,
	':': TokenColon,
	'.': TokenDot,
	'+': TokenAddSub,
	'-': TokenAddSub,
	'%': TokenMulDiv,
}

var keywords = map[string]TokenType{
	"and":   TokenAnd,
	"or":    TokenOr,
	"not":   TokenNot,
	"in":    TokenIn,
	"is":    TokenIs,
	"if":    TokenIf,
	"else":  TokenElse,
	"true":  TokenTrue,
	"false": TokenFalse,
	"null":  TokenNull,
}

// Token describes a single token produced by the lexer. String tokens carry
// the decoded value with escape sequences already resolved.
type Token struct {
	Type   TokenType
	Value  string
	Offset int
}

func (t *Token) String() string {
	return fmt.Sprintf("%d (%s) %s", t.Offset, t.Type, t.Value)
}

// Lexer splits an input expression into tokens.
type Lexer interface {
	// Next returns the next token. Each call overwrites the token it hands
	// out, so callers must copy anything they want to keep.
	Next() (*Token, Error)
}

// NewLexer creates a lexer over the given expression.
func NewLexer(expression string) Lexer {
	return &lexer{
		expression: expression,
		pos:        0,
		lastWidth:  0,
		token:      &Token{},
	}
}

type lexer struct {
	expression string
	pos        int
	lastWidth  int

	// token is handed out by every Next call so lexing allocates nothing
	// per token.
	token *Token
}

// next consumes and returns the rune at the current position, or -1 at the
// end of the input.
func (l *lexer) next() rune {
	if l.pos >= len(l.expression) {
		l.lastWidth = 0
		return -1
	}
	r, w := utf8.DecodeRuneInString(l.expression[l.pos:])
	l.pos += w
	l.lastWidth = w
	return r
}

// back un-consumes the most recent rune.
func (l *lexer) back() {
	l.pos -= l.lastWidth
}

// peek returns the upcoming rune without consuming it.
func (l *lexer) peek() rune {
	r := l.next()
	if r != -1 {
		l.back()
	}
	return r
}

func (l *lexer) newToken(typ TokenType, value string, offset int) *Token {
	l.token.Type = typ
	l.token.Value = value
	l.token.Offset = offset
	return l.token
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// consumeNumber reads bytes from the expression until the number ends.
// Underscore digit separators and exponents are included; validation of the
// final text happens when the parser converts it to a value.
func (l *lexer) consumeNumber() *Token {
	start := l.pos - l.lastWidth
	for l.pos < len(l.expression) {
		c := l.expression[l.pos]
		if c >= '0' && c <= '9' || c == '.' || c == '_' {
			l.pos++
			continue
		}
		if c == 'e' || c == 'E' {
			// Exponent only when followed by a digit or a signed digit,
			// otherwise the letter belongs to whatever comes next.
			rest := l.expression[l.pos+1:]
			if len(rest) > 0 && rest[0] >= '0' && rest[0] <= '9' {
				l.pos += 2
				continue
			}
			if len(rest) > 1 && (rest[0] == '+' || rest[0] == '-') && rest[1] >= '0' && rest[1] <= '9' {
				l.pos += 3
				continue
			}
		}
		break
	}
	return l.newToken(TokenNumber, l.expression[start:l.pos], start)
}

// consumeIdentifier reads an identifier and maps keywords to their own
// token types.
func (l *lexer) consumeIdentifier() *Token {
	start := l.pos - l.lastWidth
	for {
		r := l.next()
		if !isIdentPart(r) {
			if r != -1 {
				l.back()
			}
			break
		}
	}
	value := l.expression[start:l.pos]
	if kw, ok := keywords[value]; ok {
		return l.newToken(kw, value, start)
	}
	return l.newToken(TokenIdentifier, value, start)
}

// consumeString reads runes until the closing quote, resolving escape
// sequences. Both single and double quotes are supported; the opening quote
// decides which must close the literal.
func (l *lexer) consumeString(quote rune) (*Token, Error) {
	start := l.pos - l.lastWidth
	buf := bytes.NewBuffer(make([]byte, 0, 8))
	for {
		r := l.next()
		if r == -1 {
			return nil, syntaxErr(start, l.pos-start, "unterminated string")
		}
		if r == quote {
			break
		}
		if r == '\\' {
			e := l.next()
			switch e {
			case '\\', '\'', '"':
				buf.WriteRune(e)
			case 'n':
				buf.WriteByte('\n')
			case 't':
				buf.WriteByte('\t')
			case 'r':
				buf.WriteByte('\r')
			case -1:
				return nil, syntaxErr(start, l.pos-start, "unterminated string")
			default:
				// Unknown escape keeps the backslash verbatim.
				buf.WriteByte('\\')
				buf.WriteRune(e)
			}
			continue
		}
		buf.WriteRune(r)
	}
	return l.newToken(TokenString, buf.String(), start), nil
}

func (l *lexer) Next() (*Token, Error) {
	r := l.next()
	for r == ' ' || r == '\t' || r == '\r' || r == '\n' {
		r = l.next()
	}
	start := l.pos - l.lastWidth
	switch {
	case r == -1:
		return l.newToken(TokenEOF, "", len(l.expression)), nil
	case basic[r] != TokenUnknown:
		if r == '.' {
			if isDigit(l.peek()) {
				return l.consumeNumber(), nil
			}
		}
		return l.newToken(basic[r], l.expression[start:l.pos], start), nil
	case isDigit(r):
		return l.consumeNumber(), nil
	case r == '*':
		if l.peek() == '*' {
			l.next()
			return l.newToken(TokenPower, "**", start), nil
		}
		return l.newToken(TokenMulDiv, "*", start), nil
	case r == '/':
		if l.peek() == '/' {
			l.next()
			return l.newToken(TokenMulDiv, "//", start), nil
		}
		return l.newToken(TokenMulDiv, "/", start), nil
	case r == '<', r == '>':
		if l.peek() == '=' {
			l.next()
			return l.newToken(TokenComparison, string(r)+"=", start), nil
		}
		return l.newToken(TokenComparison, string(r), start), nil
	case r == '!':
		if l.peek() == '=' {
			l.next()
			return l.newToken(TokenComparison, "!=", start), nil
		}
		return nil, syntaxErr(start, 1, "! should be !=")
	case r == '=':
		if l.peek() == '=' {
			l.next()
			return l.newToken(TokenComparison, "==", start), nil
		}
		return l.newToken(TokenAssign, "=", start), nil
	case r == '"', r == '\'':
		return l.consumeString(r)
	case isIdentStart(r):
		return l.consumeIdentifier(), nil
	}

	return nil, syntaxErr(start, 1, "unexpected character %q", string(r))
}
