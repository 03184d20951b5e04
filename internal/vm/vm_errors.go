package vm

import (
	"errors"
	"fmt"

	"github.com/funvibe/exprvm/internal/typesystem"
)

// Runtime failures of compiled code. RuntimeError wraps one of these.
var (
	ErrInvalidCast     = typesystem.ErrInvalidCast
	ErrNullReference   = typesystem.ErrNullReference
	ErrDivideByZero    = typesystem.ErrDivideByZero
	ErrIndexOutOfRange = typesystem.ErrIndexOutOfRange
	ErrStackMismatch   = errors.New("stack depth differs from compiled depth")
	ErrArity           = typesystem.ErrArity
	ErrCallDepth       = typesystem.ErrCallDepth
)

// RuntimeError locates a failure inside compiled code.
type RuntimeError struct {
	Function string
	IP       int
	Op       Opcode
	Err      error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s+%04d %s: %v", e.Function, e.IP, e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }
