package vm

import (
	"errors"
	"fmt"

	"github.com/funvibe/exprvm/internal/config"
	"github.com/funvibe/exprvm/internal/typesystem"
	"github.com/tliron/commonlog"
)

var vmLog = commonlog.GetLogger(config.LogVM)

var errStackUnderflow = errors.New("stack underflow")
var errTruncatedBytecode = errors.New("truncated bytecode")
var errInvalidConstant = errors.New("invalid constant")

// callFrame represents a single ongoing function call
type callFrame struct {
	closure *Closure
	chunk   *Chunk
	ip      int
	base    int // operand stack depth when the frame started
	locals  []typesystem.Value
}

// machine executes compiled functions. One machine serves one top-level
// call; nested delegate calls of compiled closures reuse it.
type machine struct {
	stack []typesystem.Value
	sp    int // Stack pointer (points to next free slot)

	frame  *callFrame
	depth  int
	verify bool
}

func newMachine(verify bool) *machine {
	return &machine{
		stack:  make([]typesystem.Value, config.InitialStackSize),
		verify: verify,
	}
}

// invoke is the host entry point: it turns stack faults into errors.
func (m *machine) invoke(cl *Closure, args []typesystem.Value) (result typesystem.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(error)
			if !ok {
				e = fmt.Errorf("%v", r)
			}
			result, err = typesystem.Nil(), &RuntimeError{Function: cl.Function.Name, IP: -1, Err: e}
		}
		if err != nil {
			vmLog.Debugf("%s failed: %s", cl.Function.Name, err)
		}
	}()
	return m.callClosure(cl, args)
}

// callClosure runs cl in a new frame on this machine.
func (m *machine) callClosure(cl *Closure, args []typesystem.Value) (typesystem.Value, error) {
	fn := cl.Function
	if len(args) != fn.Arity {
		return typesystem.Nil(), fmt.Errorf("%w: %s takes %d arguments, got %d", ErrArity, fn.Name, fn.Arity, len(args))
	}
	if m.depth >= config.MaxCallDepth {
		return typesystem.Nil(), &RuntimeError{Function: fn.Name, Err: ErrCallDepth}
	}
	m.depth++
	defer func() { m.depth-- }()

	fr := &callFrame{
		closure: cl,
		chunk:   fn.Chunk,
		base:    m.sp,
		locals:  make([]typesystem.Value, fn.LocalCount),
	}
	copy(fr.locals, args)

	caller := m.frame
	m.frame = fr
	result, err := m.run()
	m.frame = caller
	m.sp = fr.base
	return result, err
}

// run executes the current frame until it returns.
func (m *machine) run() (typesystem.Value, error) {
	fr := m.frame
	code := fr.chunk.Code
	for fr.ip < len(code) {
		start := fr.ip
		op := Opcode(code[fr.ip])
		if m.verify && fr.chunk.Depths != nil {
			if want, got := fr.chunk.Depths[start], m.sp-fr.base; want != got {
				return typesystem.Nil(), m.runtimeError(start, op,
					fmt.Errorf("%w: compiled %d, actual %d", ErrStackMismatch, want, got))
			}
		}
		fr.ip++

		switch op {
		case OP_RETURN:
			return m.pop(), nil
		case OP_RETURN_VOID:
			return typesystem.Nil(), nil
		}
		if err := m.executeOneOp(op); err != nil {
			return typesystem.Nil(), m.runtimeError(start, op, err)
		}
	}
	return typesystem.Nil(), m.runtimeError(fr.ip, OP_RETURN, errTruncatedBytecode)
}

// runtimeError locates err in the current frame. Errors raised by nested
// compiled calls keep their own location.
func (m *machine) runtimeError(ip int, op Opcode, err error) error {
	var re *RuntimeError
	if errors.As(err, &re) {
		return err
	}
	return &RuntimeError{Function: m.frame.closure.Function.Name, IP: ip, Op: op, Err: err}
}

// Stack operations
func (m *machine) push(v typesystem.Value) {
	if m.sp >= len(m.stack) {
		grown := make([]typesystem.Value, 2*len(m.stack)+1)
		copy(grown, m.stack[:m.sp])
		m.stack = grown
	}
	m.stack[m.sp] = v
	m.sp++
}

func (m *machine) pop() typesystem.Value {
	if m.sp <= m.frame.base {
		panic(errStackUnderflow)
	}
	m.sp--
	v := m.stack[m.sp]
	m.stack[m.sp] = typesystem.Value{}
	return v
}

func (m *machine) peek(distance int) typesystem.Value {
	idx := m.sp - 1 - distance
	if idx < m.frame.base {
		panic(errStackUnderflow)
	}
	return m.stack[idx]
}

// popN removes the top n values and returns them bottom first.
func (m *machine) popN(n int) []typesystem.Value {
	if m.sp-n < m.frame.base {
		panic(errStackUnderflow)
	}
	out := make([]typesystem.Value, n)
	copy(out, m.stack[m.sp-n:m.sp])
	for i := m.sp - n; i < m.sp; i++ {
		m.stack[i] = typesystem.Value{}
	}
	m.sp -= n
	return out
}

// Read helpers
func (m *machine) readByte() int {
	fr := m.frame
	if fr.ip >= len(fr.chunk.Code) {
		panic(errTruncatedBytecode)
	}
	b := fr.chunk.Code[fr.ip]
	fr.ip++
	return int(b)
}

func (m *machine) readU16() int {
	high := m.readByte()
	low := m.readByte()
	return high<<8 | low
}

func (m *machine) readConstant() any {
	idx := m.readU16()
	if idx >= len(m.frame.chunk.Constants) {
		panic(errInvalidConstant)
	}
	return m.frame.chunk.Constants[idx]
}

func (m *machine) readType() *typesystem.Type {
	t, ok := m.readConstant().(*typesystem.Type)
	if !ok {
		panic(errInvalidConstant)
	}
	return t
}

func (m *machine) readMethod() *typesystem.Method {
	meth, ok := m.readConstant().(*typesystem.Method)
	if !ok {
		panic(errInvalidConstant)
	}
	return meth
}

func (m *machine) readCell() *typesystem.Cell {
	cell, ok := m.readConstant().(*typesystem.Cell)
	if !ok {
		panic(errInvalidConstant)
	}
	return cell
}
