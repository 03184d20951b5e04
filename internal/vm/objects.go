package vm

import (
	"fmt"
	"strings"

	"github.com/funvibe/exprvm/internal/typesystem"
	"github.com/google/uuid"
)

// CaptureFrom says where a closure finds a captured variable at creation time.
type CaptureFrom uint8

const (
	FromLocal     CaptureFrom = iota // enclosing frame slot holding the value
	FromLocalCell                    // enclosing frame slot holding the variable's cell
	FromFree                         // enclosing closure's by-value capture
	FromFreeCell                     // enclosing closure's by-reference capture
)

func (f CaptureFrom) String() string {
	switch f {
	case FromLocal:
		return "local"
	case FromLocalCell:
		return "local-cell"
	case FromFree:
		return "free"
	default:
		return "free-cell"
	}
}

// Capture describes one free variable of a compiled function
type Capture struct {
	Name  string
	Type  *typesystem.Type
	From  CaptureFrom
	Index int  // slot or free index in the enclosing function
	ByRef bool // shares a cell instead of copying the value
}

// CompiledFunction represents a function compiled to bytecode
type CompiledFunction struct {
	Name       string
	Chunk      *Chunk
	Arity      int                // number of parameters
	Params     []*typesystem.Type // parameter types after the prologue
	Result     *typesystem.Type   // nil for void
	LocalCount int                // number of frame slots including params
	MaxStack   int                // highest modeled operand stack depth
	Captures   []Capture          // free variables, in LOAD_FREE index order
	Type       *typesystem.Type   // delegate type
}

func (f *CompiledFunction) String() string { return fmt.Sprintf("<fn %s>", f.Name) }

// Closure binds a compiled function to its captured values and cells.
// A Closure is a typesystem.Callable; each Call from the host runs on a
// fresh machine.
type Closure struct {
	Function *CompiledFunction
	Free     []typesystem.Value
	verify   bool
}

func (c *Closure) Call(args ...typesystem.Value) (typesystem.Value, error) {
	in := make([]typesystem.Value, len(args))
	for i, v := range args {
		in[i] = v.Clone()
	}
	return newMachine(c.verify).invoke(c, in)
}

func (c *Closure) String() string { return fmt.Sprintf("<closure %s>", c.Function.Name) }

// Shape is the invocation signature an artifact is compiled for.
type Shape struct {
	Params []*typesystem.Type
	Result *typesystem.Type // nil for void
}

func (s Shape) String() string {
	var sb strings.Builder
	sb.WriteString("(")
	for i, p := range s.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.String())
	}
	sb.WriteString(") ")
	sb.WriteString(s.Result.String())
	return sb.String()
}

// Artifact is the result of a successful compilation. It is immutable and
// may be called concurrently.
//
// Call fails with an error wrapping ErrInvalidCast when a checked downcast or
// unbox in the compiled code meets a value of the wrong dynamic type, and with
// ErrNullReference, ErrDivideByZero or ErrIndexOutOfRange for the usual
// runtime faults. Host cells reachable through ClosureCapture nodes are shared
// by every call.
type Artifact struct {
	ID        uuid.UUID
	Shape     Shape
	Main      *CompiledFunction
	HostCells []*typesystem.Cell
	verify    bool
}

// Call invokes the entry point. Aggregate arguments are copied, so the
// caller's storage is never modified.
func (a *Artifact) Call(args ...typesystem.Value) (typesystem.Value, error) {
	if len(args) != len(a.Shape.Params) {
		return typesystem.Nil(), fmt.Errorf("%w: %s takes %d arguments, got %d", ErrArity, a.Main.Name, len(a.Shape.Params), len(args))
	}
	in := make([]typesystem.Value, len(args))
	for i, v := range args {
		if err := typesystem.CheckValue(v, a.Shape.Params[i]); err != nil {
			return typesystem.Nil(), fmt.Errorf("argument %d: %w", i, err)
		}
		in[i] = v.Clone()
	}
	return newMachine(a.verify).invoke(&Closure{Function: a.Main, verify: a.verify}, in)
}

// Disassemble lists the code of the entry point and every nested function.
func (a *Artifact) Disassemble() string {
	return DisassembleFunction(a.Main)
}
