package safexpr

import (
	"fmt"
	"strings"
)

// ErrorKind partitions failures into the three disjoint categories callers
// can act on: a syntax error means the expression never parsed, a security
// error means it parsed but contains a construct forbidden by policy and
// must be rewritten, and an evaluation error means a safe expression failed
// at runtime.
type ErrorKind string

const (
	// SyntaxError: the expression string could not be parsed into a tree.
	SyntaxError ErrorKind = "syntax"

	// SecurityError: the tree parsed but was rejected by the safety policy
	// before any evaluation took place.
	SecurityError ErrorKind = "security"

	// EvaluationError: the tree passed validation but failed during
	// evaluation (undefined variable, type mismatch, callable failure,
	// depth exceeded).
	EvaluationError ErrorKind = "evaluation"
)

// Error represents a failure at a specific location in the expression.
type Error interface {
	error

	// Kind returns which of the three failure categories this error is.
	Kind() ErrorKind

	// Offset returns the character offset of the error within the
	// expression.
	Offset() int

	// Pretty prints out a message with a pointer to the source location of
	// the error.
	Pretty(source string) string

	// Unwrap returns the underlying cause, if any.
	Unwrap() error
}

type exprErr struct {
	kind    ErrorKind
	offset  int
	length  int
	message string
	cause   error
}

func (e *exprErr) Error() string {
	return e.message
}

func (e *exprErr) Kind() ErrorKind {
	return e.kind
}

func (e *exprErr) Offset() int {
	return e.offset
}

func (e *exprErr) Unwrap() error {
	return e.cause
}

func (e *exprErr) Pretty(source string) string {
	var sb strings.Builder
	sb.WriteString(string(e.kind))
	sb.WriteString(" error: ")
	sb.WriteString(e.message)
	sb.WriteByte('\n')
	sb.WriteString(source)
	sb.WriteByte('\n')
	offset := e.offset
	if offset > len(source) {
		offset = len(source)
	}
	for i := 0; i < offset; i++ {
		sb.WriteByte('.')
	}
	carets := e.length
	if carets < 1 {
		carets = 1
	}
	if offset+carets > len(source)+1 {
		carets = len(source) + 1 - offset
		if carets < 1 {
			carets = 1
		}
	}
	for i := 0; i < carets; i++ {
		sb.WriteByte('^')
	}
	return sb.String()
}

// NewError creates a new error of the given kind at a specific location.
func NewError(kind ErrorKind, offset, length int, format string, a ...any) Error {
	return &exprErr{
		kind:    kind,
		offset:  offset,
		length:  length,
		message: fmt.Sprintf(format, a...),
	}
}

// wrapError attaches a cause so callers can reach the original failure
// through errors.Unwrap.
func wrapError(kind ErrorKind, offset, length int, cause error, format string, a ...any) Error {
	return &exprErr{
		kind:    kind,
		offset:  offset,
		length:  length,
		message: fmt.Sprintf(format, a...),
		cause:   cause,
	}
}

func syntaxErr(offset, length int, format string, a ...any) Error {
	return NewError(SyntaxError, offset, length, format, a...)
}

func securityErr(offset, length int, format string, a ...any) Error {
	return NewError(SecurityError, offset, length, format, a...)
}

func evalErr(offset, length int, format string, a ...any) Error {
	return NewError(EvaluationError, offset, length, format, a...)
}
