// Package vm compiles expression trees to bytecode and executes it.
package vm

import (
	"fmt"

	"github.com/funvibe/exprvm/internal/typesystem"
)

// Opcode represents a single VM instruction
type Opcode byte

const (
	// Stack manipulation
	OP_NOP    Opcode = iota
	OP_POP           // Discard top of stack
	OP_DUP           // Duplicate top of stack
	OP_DUP_X1        // [a, b] -> [b, a, b]
	OP_DUP_X2        // [a, b, c] -> [c, a, b, c]

	// Constants
	OP_CONST // Push constant from pool
	OP_NIL
	OP_TRUE
	OP_FALSE

	// Frame slots
	OP_LOAD_LOCAL
	OP_STORE_LOCAL
	OP_MAKE_CELL  // Move a slot's value into a fresh cell stored in the same slot
	OP_LOAD_CELL  // Load through the cell held by a slot
	OP_STORE_CELL // Store through the cell held by a slot

	// Closure environment
	OP_LOAD_FREE       // Load a by-value capture
	OP_LOAD_FREE_CELL  // Load through a by-reference capture
	OP_STORE_FREE_CELL // Store through a by-reference capture
	OP_LOAD_HOST       // Load a host-owned cell from the constant pool
	OP_STORE_HOST      // Store into a host-owned cell

	// Value types
	OP_COPY    // Replace the aggregate on top with a fresh copy
	OP_NEW_AGG // Push a zeroed aggregate
	OP_NEW_OBJ // Push a fresh reference instance
	OP_GET_FIELD
	OP_SET_FIELD

	// Calls
	OP_CALL       // Direct call of a method constant
	OP_CALL_VIRT  // Call through the receiver's vtable
	OP_CALL_IFACE // Call through the receiver's interface table
	OP_INVOKE     // Call a delegate value
	OP_CLOSURE    // Create a closure over a compiled function

	// Conversions
	OP_BOX    // Heap copy of a value, dispatching as its own type
	OP_UNBOX  // Checked unbox, pushes the payload
	OP_CAST   // Checked reference cast
	OP_RETAG  // Reinterpret a scalar as another scalar type of the same width
	OP_WIDEN  // Lossless numeric conversion
	OP_NARROW // Truncating numeric conversion

	// Arithmetic
	OP_ADD
	OP_SUB
	OP_MUL
	OP_DIV
	OP_MOD
	OP_NEG
	OP_CONCAT

	// Comparison
	OP_EQ
	OP_NE
	OP_REF_EQ
	OP_REF_NE
	OP_LT
	OP_LE
	OP_GT
	OP_GE
	OP_NOT

	// Arrays
	OP_NEW_ARRAY  // Zeroed array of the popped length
	OP_ARRAY_INIT // Array from the top n values
	OP_GET_ELEM
	OP_SET_ELEM
	OP_ARRAY_LEN

	// Control flow
	OP_JUMP
	OP_JUMP_IF_FALSE
	OP_RETURN
	OP_RETURN_VOID

	opcodeCount
)

// Variable stack effect marker
const variableEffect = -1

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string // human-readable name
	Operands []int  // width in bytes of each operand
	Pop      int    // values consumed, or variable
	Push     int    // values produced, or variable
}

var opcodeTable = [opcodeCount]OpcodeInfo{
	OP_NOP:    {"NOP", nil, 0, 0},
	OP_POP:    {"POP", nil, 1, 0},
	OP_DUP:    {"DUP", nil, 1, 2},
	OP_DUP_X1: {"DUP_X1", nil, 2, 3},
	OP_DUP_X2: {"DUP_X2", nil, 3, 4},

	OP_CONST: {"CONST", []int{2}, 0, 1},
	OP_NIL:   {"NIL", nil, 0, 1},
	OP_TRUE:  {"TRUE", nil, 0, 1},
	OP_FALSE: {"FALSE", nil, 0, 1},

	OP_LOAD_LOCAL:  {"LOAD_LOCAL", []int{1}, 0, 1},
	OP_STORE_LOCAL: {"STORE_LOCAL", []int{1}, 1, 0},
	OP_MAKE_CELL:   {"MAKE_CELL", []int{1}, 0, 0},
	OP_LOAD_CELL:   {"LOAD_CELL", []int{1}, 0, 1},
	OP_STORE_CELL:  {"STORE_CELL", []int{1}, 1, 0},

	OP_LOAD_FREE:       {"LOAD_FREE", []int{1}, 0, 1},
	OP_LOAD_FREE_CELL:  {"LOAD_FREE_CELL", []int{1}, 0, 1},
	OP_STORE_FREE_CELL: {"STORE_FREE_CELL", []int{1}, 1, 0},
	OP_LOAD_HOST:       {"LOAD_HOST", []int{2}, 0, 1},
	OP_STORE_HOST:      {"STORE_HOST", []int{2}, 1, 0},

	OP_COPY:      {"COPY", nil, 1, 1},
	OP_NEW_AGG:   {"NEW_AGG", []int{2}, 0, 1},
	OP_NEW_OBJ:   {"NEW_OBJ", []int{2}, 0, 1},
	OP_GET_FIELD: {"GET_FIELD", []int{1}, 1, 1},
	OP_SET_FIELD: {"SET_FIELD", []int{1}, 2, 0},

	OP_CALL:       {"CALL", []int{2}, variableEffect, variableEffect},
	OP_CALL_VIRT:  {"CALL_VIRT", []int{2}, variableEffect, variableEffect},
	OP_CALL_IFACE: {"CALL_IFACE", []int{2}, variableEffect, variableEffect},
	OP_INVOKE:     {"INVOKE", []int{1, 1}, variableEffect, variableEffect},
	OP_CLOSURE:    {"CLOSURE", []int{2}, 0, 1},

	OP_BOX:    {"BOX", []int{2}, 1, 1},
	OP_UNBOX:  {"UNBOX", []int{2}, 1, 1},
	OP_CAST:   {"CAST", []int{2}, 1, 1},
	OP_RETAG:  {"RETAG", []int{2}, 1, 1},
	OP_WIDEN:  {"WIDEN", []int{1}, 1, 1},
	OP_NARROW: {"NARROW", []int{1}, 1, 1},

	OP_ADD:    {"ADD", nil, 2, 1},
	OP_SUB:    {"SUB", nil, 2, 1},
	OP_MUL:    {"MUL", nil, 2, 1},
	OP_DIV:    {"DIV", nil, 2, 1},
	OP_MOD:    {"MOD", nil, 2, 1},
	OP_NEG:    {"NEG", nil, 1, 1},
	OP_CONCAT: {"CONCAT", nil, 2, 1},

	OP_EQ:     {"EQ", nil, 2, 1},
	OP_NE:     {"NE", nil, 2, 1},
	OP_REF_EQ: {"REF_EQ", nil, 2, 1},
	OP_REF_NE: {"REF_NE", nil, 2, 1},
	OP_LT:     {"LT", nil, 2, 1},
	OP_LE:     {"LE", nil, 2, 1},
	OP_GT:     {"GT", nil, 2, 1},
	OP_GE:     {"GE", nil, 2, 1},
	OP_NOT:    {"NOT", nil, 1, 1},

	OP_NEW_ARRAY:  {"NEW_ARRAY", []int{2}, 1, 1},
	OP_ARRAY_INIT: {"ARRAY_INIT", []int{2, 2}, variableEffect, 1},
	OP_GET_ELEM:   {"GET_ELEM", nil, 2, 1},
	OP_SET_ELEM:   {"SET_ELEM", nil, 3, 0},
	OP_ARRAY_LEN:  {"ARRAY_LEN", nil, 1, 1},

	OP_JUMP:          {"JUMP", []int{2}, 0, 0},
	OP_JUMP_IF_FALSE: {"JUMP_IF_FALSE", []int{2}, 1, 0},
	OP_RETURN:        {"RETURN", nil, 1, 0},
	OP_RETURN_VOID:   {"RETURN_VOID", nil, 0, 0},
}

// Info returns the metadata of an opcode.
func (op Opcode) Info() OpcodeInfo {
	if op < opcodeCount {
		return opcodeTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

func (op Opcode) String() string { return op.Info().Name }

// Size is the encoded length of the instruction including operands.
func (op Opcode) Size() int {
	n := 1
	for _, w := range op.Info().Operands {
		n += w
	}
	return n
}

// StackEffect returns how many values an instruction pops and pushes.
// Calls depend on the method constant they reference.
func StackEffect(op Opcode, operands []int, constants []any) (pop, push int, err error) {
	info := op.Info()
	pop, push = info.Pop, info.Push
	switch op {
	case OP_CALL, OP_CALL_VIRT, OP_CALL_IFACE:
		if operands[0] >= len(constants) {
			return 0, 0, fmt.Errorf("%s: constant %d out of range", op, operands[0])
		}
		m, ok := constants[operands[0]].(*typesystem.Method)
		if !ok {
			return 0, 0, fmt.Errorf("%s: constant %d is not a method", op, operands[0])
		}
		pop, push = len(m.Params), 0
		if !m.Static {
			pop++
		}
		if m.Result != nil {
			push = 1
		}
	case OP_INVOKE:
		pop, push = operands[0]+1, operands[1]
	case OP_ARRAY_INIT:
		pop = operands[1]
	}
	return pop, push, nil
}

// Primitive operands of WIDEN and NARROW map back to builtin types.
func primitiveType(p typesystem.Primitive) *typesystem.Type {
	switch p {
	case typesystem.PrimInt32:
		return typesystem.Int32Type
	case typesystem.PrimInt64:
		return typesystem.Int64Type
	case typesystem.PrimFloat64:
		return typesystem.Float64Type
	case typesystem.PrimBool:
		return typesystem.BoolType
	}
	return nil
}
