package vm

import (
	"fmt"
	"strings"

	"github.com/funvibe/exprvm/internal/typesystem"
)

// Disassemble returns a human-readable representation of the bytecode
func Disassemble(chunk *Chunk, name string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("== %s ==\n", name))

	offset := 0
	for offset < len(chunk.Code) {
		offset = disassembleInstruction(&sb, chunk, offset)
	}

	return sb.String()
}

// DisassembleFunction lists fn and, indented below each CLOSURE, the
// functions it creates.
func DisassembleFunction(fn *CompiledFunction) string {
	var sb strings.Builder
	sb.WriteString(Disassemble(fn.Chunk, functionHeader(fn)))
	for _, k := range fn.Captures {
		sb.WriteString(fmt.Sprintf("     capture %-8s %s %d", k.Name, k.From, k.Index))
		if k.ByRef {
			sb.WriteString(" byref")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func functionHeader(fn *CompiledFunction) string {
	return fmt.Sprintf("%s %s locals=%d stack=%d", fn.Name, fn.Type, fn.LocalCount, fn.MaxStack)
}

// disassembleInstruction disassembles a single instruction
func disassembleInstruction(sb *strings.Builder, chunk *Chunk, offset int) int {
	sb.WriteString(fmt.Sprintf("%04d ", offset))

	// Modeled stack depth, when recorded
	if chunk.Depths != nil {
		sb.WriteString(fmt.Sprintf("[%2d] ", chunk.Depths[offset]))
	}

	op := Opcode(chunk.Code[offset])
	if op >= opcodeCount {
		sb.WriteString(fmt.Sprintf("Unknown opcode %d\n", op))
		return offset + 1
	}
	if offset+op.Size() > len(chunk.Code) {
		sb.WriteString(fmt.Sprintf("%-16s (truncated)\n", op))
		return len(chunk.Code)
	}

	switch op {
	case OP_CONST, OP_NEW_AGG, OP_NEW_OBJ, OP_BOX, OP_UNBOX, OP_CAST, OP_RETAG,
		OP_NEW_ARRAY, OP_LOAD_HOST, OP_STORE_HOST, OP_CALL, OP_CALL_VIRT, OP_CALL_IFACE:
		return constantInstruction(sb, op, chunk, offset)
	case OP_LOAD_LOCAL, OP_STORE_LOCAL, OP_MAKE_CELL, OP_LOAD_CELL, OP_STORE_CELL,
		OP_LOAD_FREE, OP_LOAD_FREE_CELL, OP_STORE_FREE_CELL, OP_GET_FIELD, OP_SET_FIELD:
		return byteInstruction(sb, op, chunk, offset)
	case OP_WIDEN, OP_NARROW:
		target := typesystem.Primitive(chunk.Code[offset+1])
		sb.WriteString(fmt.Sprintf("%-16s %4d '%s'\n", op, target, target))
		return offset + 2
	case OP_INVOKE:
		sb.WriteString(fmt.Sprintf("%-16s %4d (results: %d)\n", op, chunk.Code[offset+1], chunk.Code[offset+2]))
		return offset + 3
	case OP_ARRAY_INIT:
		idx := chunk.ReadU16(offset + 1)
		count := chunk.ReadU16(offset + 3)
		sb.WriteString(fmt.Sprintf("%-16s %4d '%s' (items: %d)\n", op, idx, constantString(chunk, idx), count))
		return offset + 5
	case OP_JUMP, OP_JUMP_IF_FALSE:
		return jumpInstruction(sb, op, chunk, offset)
	case OP_CLOSURE:
		return closureInstruction(sb, chunk, offset)
	default:
		return simpleInstruction(sb, op, offset)
	}
}

func simpleInstruction(sb *strings.Builder, op Opcode, offset int) int {
	sb.WriteString(fmt.Sprintf("%s\n", op))
	return offset + 1
}

func constantInstruction(sb *strings.Builder, op Opcode, chunk *Chunk, offset int) int {
	idx := chunk.ReadU16(offset + 1)
	sb.WriteString(fmt.Sprintf("%-16s %4d '%s'\n", op, idx, constantString(chunk, idx)))
	return offset + 3
}

func byteInstruction(sb *strings.Builder, op Opcode, chunk *Chunk, offset int) int {
	slot := chunk.Code[offset+1]
	sb.WriteString(fmt.Sprintf("%-16s %4d\n", op, slot))
	return offset + 2
}

func jumpInstruction(sb *strings.Builder, op Opcode, chunk *Chunk, offset int) int {
	jump := chunk.ReadU16(offset + 1)
	target := offset + 3 + jump
	sb.WriteString(fmt.Sprintf("%-16s %4d -> %d\n", op, jump, target))
	return offset + 3
}

func closureInstruction(sb *strings.Builder, chunk *Chunk, offset int) int {
	idx := chunk.ReadU16(offset + 1)
	offset += 3

	fn, ok := constantAt(chunk, idx).(*CompiledFunction)
	if !ok {
		sb.WriteString(fmt.Sprintf("%-16s %4d (not a function)\n", OP_CLOSURE, idx))
		return offset
	}
	sb.WriteString(fmt.Sprintf("%-16s %4d '%s'\n", OP_CLOSURE, idx, fn.Name))

	// Nested function, indented
	nested := strings.TrimSuffix(DisassembleFunction(fn), "\n")
	sb.WriteString("    | " + strings.ReplaceAll(nested, "\n", "\n    | ") + "\n")
	return offset
}

func constantAt(chunk *Chunk, idx int) any {
	if idx < len(chunk.Constants) {
		return chunk.Constants[idx]
	}
	return nil
}

func constantString(chunk *Chunk, idx int) string {
	switch c := constantAt(chunk, idx).(type) {
	case nil:
		return "(invalid)"
	case typesystem.Value:
		return c.GoString()
	case *typesystem.Method:
		return c.String()
	case *typesystem.Type:
		return c.String()
	case *typesystem.Cell:
		return "cell " + c.Type().String()
	case *CompiledFunction:
		return c.Name
	default:
		return fmt.Sprintf("%v", c)
	}
}
