package vm

import (
	"errors"
	"fmt"

	"github.com/funvibe/exprvm/internal/ast"
)

// ErrorKind distinguishes expected fallbacks from compiler defects.
type ErrorKind uint8

const (
	// Unsupported means no emission rule covers the tree. Callers fall back
	// to another execution strategy.
	Unsupported ErrorKind = iota + 1
	// Internal means the compiler's own bookkeeping broke. It is a bug.
	Internal
)

func (k ErrorKind) String() string {
	switch k {
	case Unsupported:
		return "unsupported"
	case Internal:
		return "internal error"
	default:
		return fmt.Sprintf("ErrorKind(%d)", k)
	}
}

// CompileError is the only error Compile returns.
type CompileError struct {
	Kind     ErrorKind
	NodeKind ast.Kind
	Reason   string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.NodeKind, e.Reason)
}

func unsupported(kind ast.Kind, format string, args ...any) *CompileError {
	return &CompileError{Kind: Unsupported, NodeKind: kind, Reason: fmt.Sprintf(format, args...)}
}

// IsUnsupported reports whether err is an Unsupported compile failure.
func IsUnsupported(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce) && ce.Kind == Unsupported
}

// IsInternal reports whether err is a compiler defect.
func IsInternal(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce) && ce.Kind == Internal
}

// internalFault is raised with panic by bookkeeping code and converted to an
// Internal CompileError at the Compile boundary.
type internalFault struct {
	what   string
	detail string
}

func (f internalFault) String() string { return f.what + ": " + f.detail }

func fault(what, format string, args ...any) {
	panic(internalFault{what: what, detail: fmt.Sprintf(format, args...)})
}

// limitExceeded is raised with panic when a function outgrows the encoding
// (locals, constants, jump distance). It surfaces as Unsupported.
type limitExceeded string

const (
	faultStackUnderflow = "stack underflow"
	faultScopeViolation = "scope violation"
	faultStackEffect    = "stack effect mismatch"
	faultBinding        = "bad variable binding"
)
