package vm

import (
	"fmt"

	"github.com/funvibe/exprvm/internal/config"
	"github.com/funvibe/exprvm/internal/typesystem"
)

// StackSlot models one operand stack entry during compilation.
type StackSlot struct {
	Kind typesystem.ValueKind
	Type *typesystem.Type
	// Addressable means the runtime value aliases existing storage (a local,
	// field, element, cell or constant). Otherwise the instruction sequence
	// owns it.
	Addressable bool
}

func (s StackSlot) String() string {
	if s.Addressable {
		return fmt.Sprintf("&%s", s.Type)
	}
	return s.Type.String()
}

func owned(t *typesystem.Type) StackSlot {
	return StackSlot{Kind: t.Kind(), Type: t}
}

func aliased(t *typesystem.Type) StackSlot {
	return StackSlot{Kind: t.Kind(), Type: t, Addressable: true}
}

// stackTracker is the compile-time image of the operand stack.
type stackTracker struct {
	slots []StackSlot
	max   int
}

func (s *stackTracker) push(slot StackSlot) {
	s.slots = append(s.slots, slot)
	if len(s.slots) > s.max {
		s.max = len(s.slots)
	}
}

func (s *stackTracker) pop() StackSlot {
	if len(s.slots) == 0 {
		fault(faultStackUnderflow, "pop from an empty stack")
	}
	top := s.slots[len(s.slots)-1]
	s.slots = s.slots[:len(s.slots)-1]
	return top
}

func (s *stackTracker) peek() StackSlot {
	return s.peekAt(0)
}

// peekAt looks n entries below the top.
func (s *stackTracker) peekAt(n int) StackSlot {
	if n >= len(s.slots) {
		fault(faultStackUnderflow, "peek %d below a stack of depth %d", n, len(s.slots))
	}
	return s.slots[len(s.slots)-1-n]
}

func (s *stackTracker) duplicateTop() {
	s.push(s.peek())
}

// replaceTop changes the model of the top entry without emitting code.
func (s *stackTracker) replaceTop(slot StackSlot) {
	s.pop()
	s.push(slot)
}

func (s *stackTracker) depth() int { return len(s.slots) }

func (s *stackTracker) snapshot() []StackSlot {
	return append([]StackSlot(nil), s.slots...)
}

func (s *stackTracker) restore(snap []StackSlot) {
	s.slots = append(s.slots[:0], snap...)
}

// emit writes one instruction and applies its declared stack effect to the
// tracker. results describe the pushed values, bottom first.
func (c *fnCompiler) emit(op Opcode, operands []int, results ...StackSlot) int {
	info := op.Info()
	if len(operands) != len(info.Operands) {
		fault(faultStackEffect, "%s takes %d operands, got %d", op, len(info.Operands), len(operands))
	}
	pop, push, err := StackEffect(op, operands, c.chunk.Constants)
	if err != nil {
		fault(faultStackEffect, "%v", err)
	}
	if len(results) != push {
		fault(faultStackEffect, "%s pushes %d values, %d described", op, push, len(results))
	}

	offset := c.chunk.Len()
	c.chunk.write(byte(op), c.stack.depth())
	for i, w := range info.Operands {
		v := operands[i]
		if v < 0 || v >= 1<<(8*w) {
			panic(limitExceeded(fmt.Sprintf("%s operand %d out of range", op, v)))
		}
		if w == 2 {
			c.chunk.write(byte(v>>8), -1)
			c.chunk.write(byte(v), -1)
		} else {
			c.chunk.write(byte(v), -1)
		}
	}

	for i := 0; i < pop; i++ {
		c.stack.pop()
	}
	for _, r := range results {
		c.stack.push(r)
	}
	return offset
}

// emitJump writes a forward jump with a placeholder and returns the operand offset.
func (c *fnCompiler) emitJump(op Opcode) int {
	return c.emit(op, []int{0xffff}) + 1
}

func (c *fnCompiler) patchJump(offset int) {
	jump := c.chunk.Len() - offset - 2

	if jump > config.MaxJump {
		panic(limitExceeded("jump too far"))
	}

	c.chunk.Code[offset] = byte(jump >> 8)
	c.chunk.Code[offset+1] = byte(jump)
}
