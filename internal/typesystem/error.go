package typesystem

import (
	"errors"
	"fmt"
)

// ErrArgument is returned by builtin methods given an argument of the wrong type.
var ErrArgument = errors.New("invalid argument")

// Faults shared by every executor of expression trees.
var (
	ErrInvalidCast     = errors.New("invalid cast")
	ErrNullReference   = errors.New("null reference")
	ErrDivideByZero    = errors.New("division by zero")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrArity           = errors.New("wrong number of arguments")
	ErrCallDepth       = errors.New("call depth exceeded")
)

// MemberNotFoundError indicates a field, property or method lookup failed
type MemberNotFoundError struct {
	Type  *Type
	Name  string
	Arity int // -1 for fields and properties
}

func (e *MemberNotFoundError) Error() string {
	if e.Arity >= 0 {
		return fmt.Sprintf("%s has no method %s/%d", e.Type, e.Name, e.Arity)
	}
	return fmt.Sprintf("%s has no member %s", e.Type, e.Name)
}

func NewMemberNotFoundError(t *Type, name string, arity int) *MemberNotFoundError {
	return &MemberNotFoundError{Type: t, Name: name, Arity: arity}
}
