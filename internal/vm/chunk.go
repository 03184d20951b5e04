package vm

import (
	"github.com/funvibe/exprvm/internal/typesystem"
)

// Chunk represents a sequence of bytecode instructions
type Chunk struct {
	// Code is the bytecode instructions
	Code []byte

	// Constants pool: typesystem.Value literals, *typesystem.Type,
	// *typesystem.Method, *typesystem.Cell and *CompiledFunction
	Constants []any

	// Depths holds the modeled stack depth before each instruction, -1 for
	// operand bytes. Nil unless depth recording is enabled.
	Depths []int
}

// NewChunk creates a new empty chunk
func NewChunk(recordDepths bool) *Chunk {
	c := &Chunk{
		Code:      make([]byte, 0, 64),
		Constants: make([]any, 0, 8),
	}
	if recordDepths {
		c.Depths = make([]int, 0, 64)
	}
	return c
}

// write appends one byte with its recorded depth
func (c *Chunk) write(b byte, depth int) {
	c.Code = append(c.Code, b)
	if c.Depths != nil {
		c.Depths = append(c.Depths, depth)
	}
}

// AddConstant adds a constant to the pool and returns its index.
// Identical types, methods, cells, functions and scalar literals share an entry.
func (c *Chunk) AddConstant(value any) int {
	if shareable(value) {
		for i, existing := range c.Constants {
			if shareable(existing) && existing == value {
				return i
			}
		}
	}
	c.Constants = append(c.Constants, value)
	return len(c.Constants) - 1
}

func shareable(v any) bool {
	switch v := v.(type) {
	case *typesystem.Type, *typesystem.Method, *typesystem.Cell, *CompiledFunction:
		return true
	case typesystem.Value:
		return v.Ref == nil
	}
	return false
}

// ReadU16 reads a 2-byte big-endian operand at offset
func (c *Chunk) ReadU16(offset int) int {
	return int(c.Code[offset])<<8 | int(c.Code[offset+1])
}

// Operands decodes the operands of the instruction at offset.
func (c *Chunk) Operands(offset int) []int {
	op := Opcode(c.Code[offset])
	widths := op.Info().Operands
	if len(widths) == 0 {
		return nil
	}
	out := make([]int, len(widths))
	pos := offset + 1
	for i, w := range widths {
		if w == 2 {
			out[i] = c.ReadU16(pos)
		} else {
			out[i] = int(c.Code[pos])
		}
		pos += w
	}
	return out
}

// Len returns the number of bytes in the chunk
func (c *Chunk) Len() int {
	return len(c.Code)
}
