package vm

import (
	"fmt"
	"math"

	"github.com/funvibe/exprvm/internal/typesystem"
)

// makeInt wraps n to the width of t.
func makeInt(t *typesystem.Type, n int64) typesystem.Value {
	if t.Primitive() == typesystem.PrimInt32 {
		n = int64(int32(n))
	}
	return typesystem.Value{Tag: typesystem.TagInt, Type: t, Bits: uint64(n)}
}

func (m *machine) binaryOp(op Opcode) error {
	b, a := m.pop(), m.pop()
	if a.Tag == typesystem.TagFloat {
		x, y := a.AsFloat(), b.AsFloat()
		var r float64
		switch op {
		case OP_ADD:
			r = x + y
		case OP_SUB:
			r = x - y
		case OP_MUL:
			r = x * y
		case OP_DIV:
			r = x / y
		case OP_MOD:
			r = math.Mod(x, y)
		}
		m.push(typesystem.Float64(r))
		return nil
	}
	if a.Tag != typesystem.TagInt || b.Tag != typesystem.TagInt {
		return fmt.Errorf("%s on %s and %s", op, a.Tag, b.Tag)
	}

	x, y := a.AsInt(), b.AsInt()
	var r int64
	switch op {
	case OP_ADD:
		r = x + y
	case OP_SUB:
		r = x - y
	case OP_MUL:
		r = x * y
	case OP_DIV, OP_MOD:
		if y == 0 {
			return ErrDivideByZero
		}
		if op == OP_DIV {
			r = x / y
		} else {
			r = x % y
		}
	}
	m.push(makeInt(a.Type, r))
	return nil
}

func compareOp(op Opcode, a, b typesystem.Value) bool {
	if a.Tag == typesystem.TagFloat {
		x, y := a.AsFloat(), b.AsFloat()
		switch op {
		case OP_LT:
			return x < y
		case OP_LE:
			return x <= y
		case OP_GT:
			return x > y
		default:
			return x >= y
		}
	}
	x, y := a.AsInt(), b.AsInt()
	switch op {
	case OP_LT:
		return x < y
	case OP_LE:
		return x <= y
	case OP_GT:
		return x > y
	default:
		return x >= y
	}
}

// convertNumeric converts between numeric primitives, truncating toward
// zero and wrapping when narrowing.
func convertNumeric(v typesystem.Value, to typesystem.Primitive) typesystem.Value {
	switch to {
	case typesystem.PrimFloat64:
		if v.Tag == typesystem.TagFloat {
			return typesystem.Float64(v.AsFloat())
		}
		return typesystem.Float64(float64(v.AsInt()))
	case typesystem.PrimInt64:
		if v.Tag == typesystem.TagFloat {
			return typesystem.Int64(int64(v.AsFloat()))
		}
		return typesystem.Int64(v.AsInt())
	default:
		if v.Tag == typesystem.TagFloat {
			return typesystem.Int32(int32(int64(v.AsFloat())))
		}
		return typesystem.Int32(int32(v.AsInt()))
	}
}
