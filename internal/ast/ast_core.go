// Package ast defines the expression trees accepted by the compiler.
//
// The node set is closed: every node is one of the pointer types in this
// package, and Kind reports which. Trees are built once by a front end with
// the constructors below and must not be modified afterwards. Constructors
// compute the static result type and panic on ill-typed input, the same way
// reflect panics on misuse, since a front end that produces such a tree is
// broken.
package ast

import (
	"fmt"

	"github.com/funvibe/exprvm/internal/typesystem"
)

// Kind enumerates the node kinds.
type Kind uint8

const (
	KindConstant Kind = iota
	KindParameter
	KindMemberAccess
	KindMethodCall
	KindNew
	KindMemberInit
	KindConvert
	KindLambda
	KindClosureCapture
	KindConditional
	KindBinary
	KindUnary
	KindAssign
	KindBlock
	KindInvoke
	KindDefault
	KindNewArray
	KindArrayIndex
	KindArrayLength

	kindCount
)

var kindNames = [...]string{
	KindConstant:       "Constant",
	KindParameter:      "Parameter",
	KindMemberAccess:   "MemberAccess",
	KindMethodCall:     "MethodCall",
	KindNew:            "New",
	KindMemberInit:     "MemberInit",
	KindConvert:        "Convert",
	KindLambda:         "Lambda",
	KindClosureCapture: "ClosureCapture",
	KindConditional:    "Conditional",
	KindBinary:         "Binary",
	KindUnary:          "Unary",
	KindAssign:         "Assign",
	KindBlock:          "Block",
	KindInvoke:         "Invoke",
	KindDefault:        "Default",
	KindNewArray:       "NewArray",
	KindArrayIndex:     "ArrayIndex",
	KindArrayLength:    "ArrayLength",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Kinds lists every node kind.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Node is an expression tree node.
type Node interface {
	Kind() Kind
	// Type is the static result type; nil means void.
	Type() *typesystem.Type
	exprNode()
}

// BuildError is the panic value of constructors given ill-typed input.
type BuildError struct {
	Kind   Kind
	Reason string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("ast: invalid %s: %s", e.Kind, e.Reason)
}

func invalid(kind Kind, format string, args ...any) {
	panic(&BuildError{Kind: kind, Reason: fmt.Sprintf(format, args...)})
}

// Build runs fn and turns a constructor panic into an error.
func Build[N Node](fn func() N) (n N, err error) {
	defer func() {
		if r := recover(); r != nil {
			be, ok := r.(*BuildError)
			if !ok {
				panic(r)
			}
			err = be
		}
	}()
	return fn(), nil
}
