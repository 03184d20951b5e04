package vm

import (
	"fmt"

	"github.com/funvibe/exprvm/internal/typesystem"
)

func (m *machine) executeOneOp(op Opcode) error {
	fr := m.frame
	switch op {
	case OP_NOP:

	case OP_POP:
		m.pop()

	case OP_DUP:
		m.push(m.peek(0))

	case OP_DUP_X1:
		b, a := m.pop(), m.pop()
		m.push(b)
		m.push(a)
		m.push(b)

	case OP_DUP_X2:
		c, b, a := m.pop(), m.pop(), m.pop()
		m.push(c)
		m.push(a)
		m.push(b)
		m.push(c)

	case OP_CONST:
		v, ok := m.readConstant().(typesystem.Value)
		if !ok {
			return errInvalidConstant
		}
		m.push(v)

	case OP_NIL:
		m.push(typesystem.Nil())

	case OP_TRUE:
		m.push(typesystem.Bool(true))

	case OP_FALSE:
		m.push(typesystem.Bool(false))

	case OP_LOAD_LOCAL:
		m.push(fr.locals[m.readByte()])

	case OP_STORE_LOCAL:
		fr.locals[m.readByte()] = m.pop()

	case OP_MAKE_CELL:
		slot := m.readByte()
		v := fr.locals[slot]
		fr.locals[slot] = typesystem.CellValue(typesystem.NewCell(v.Type, v))

	case OP_LOAD_CELL:
		m.push(fr.locals[m.readByte()].Cell().Load())

	case OP_STORE_CELL:
		fr.locals[m.readByte()].Cell().Store(m.pop())

	case OP_LOAD_FREE:
		m.push(fr.closure.Free[m.readByte()])

	case OP_LOAD_FREE_CELL:
		m.push(fr.closure.Free[m.readByte()].Cell().Load())

	case OP_STORE_FREE_CELL:
		fr.closure.Free[m.readByte()].Cell().Store(m.pop())

	case OP_LOAD_HOST:
		m.push(m.readCell().Load())

	case OP_STORE_HOST:
		m.readCell().Store(m.pop())

	case OP_COPY:
		m.push(m.pop().Clone())

	case OP_NEW_AGG:
		m.push(typesystem.AggregateValue(typesystem.NewAggregate(m.readType())))

	case OP_NEW_OBJ:
		m.push(typesystem.ObjectValue(typesystem.NewInstance(m.readType())))

	case OP_GET_FIELD:
		idx := m.readByte()
		fields, err := fieldsOf(m.pop(), idx)
		if err != nil {
			return err
		}
		m.push(fields[idx])

	case OP_SET_FIELD:
		idx := m.readByte()
		v := m.pop()
		fields, err := fieldsOf(m.pop(), idx)
		if err != nil {
			return err
		}
		fields[idx] = v

	case OP_CALL:
		meth := m.readMethod()
		return m.callMethod(meth, meth)

	case OP_CALL_VIRT, OP_CALL_IFACE:
		meth := m.readMethod()
		recv := m.peek(len(meth.Params))
		if recv.IsNil() {
			return fmt.Errorf("%w: receiver of %s", ErrNullReference, meth)
		}
		impl := recv.DynamicType().Resolve(meth)
		if impl == nil {
			return fmt.Errorf("%w: %s does not implement %s", ErrInvalidCast, recv.DynamicType(), meth)
		}
		return m.callMethod(meth, impl)

	case OP_INVOKE:
		return m.invokeDelegate(m.readByte(), m.readByte())

	case OP_CLOSURE:
		fn, ok := m.readConstant().(*CompiledFunction)
		if !ok {
			return errInvalidConstant
		}
		m.push(m.makeClosure(fn))

	case OP_BOX:
		m.readType()
		m.push(typesystem.WrapBox(m.pop()))

	case OP_UNBOX:
		t := m.readType()
		v := m.pop()
		if v.IsNil() {
			return fmt.Errorf("%w: unbox of null to %s", ErrNullReference, t)
		}
		b := v.Box()
		if b == nil || b.Type != t {
			return fmt.Errorf("%w: %s is not a boxed %s", ErrInvalidCast, v.DynamicType(), t)
		}
		m.push(b.Payload)

	case OP_CAST:
		t := m.readType()
		if v := m.peek(0); !v.IsNil() && !typesystem.IsInstanceOf(v, t) {
			return fmt.Errorf("%w: %s is not a %s", ErrInvalidCast, v.DynamicType(), t)
		}

	case OP_RETAG:
		t := m.readType()
		v := m.pop()
		v.Type = t
		m.push(v)

	case OP_WIDEN, OP_NARROW:
		p := typesystem.Primitive(m.readByte())
		m.push(convertNumeric(m.pop(), p))

	case OP_ADD, OP_SUB, OP_MUL, OP_DIV, OP_MOD:
		return m.binaryOp(op)

	case OP_NEG:
		v := m.pop()
		if v.Tag == typesystem.TagFloat {
			m.push(typesystem.Float64(-v.AsFloat()))
		} else {
			m.push(makeInt(v.Type, -v.AsInt()))
		}

	case OP_CONCAT:
		b, a := m.pop(), m.pop()
		m.push(typesystem.String(a.Str + b.Str))

	case OP_EQ, OP_NE:
		b, a := m.pop(), m.pop()
		m.push(typesystem.Bool(typesystem.Equal(a, b) == (op == OP_EQ)))

	case OP_REF_EQ, OP_REF_NE:
		b, a := m.pop(), m.pop()
		m.push(typesystem.Bool(typesystem.ReferenceEquals(a, b) == (op == OP_REF_EQ)))

	case OP_LT, OP_LE, OP_GT, OP_GE:
		b, a := m.pop(), m.pop()
		m.push(typesystem.Bool(compareOp(op, a, b)))

	case OP_NOT:
		m.push(typesystem.Bool(!m.pop().AsBool()))

	case OP_NEW_ARRAY:
		elem := m.readType()
		n := m.pop().AsInt()
		if n < 0 {
			return fmt.Errorf("%w: negative array length %d", ErrIndexOutOfRange, n)
		}
		m.push(typesystem.ArrayValue(typesystem.NewArray(elem, int(n))))

	case OP_ARRAY_INIT:
		elem := m.readType()
		items := m.popN(m.readU16())
		m.push(typesystem.ArrayValue(&typesystem.Array{Elem: elem, Items: items}))

	case OP_GET_ELEM:
		idx := m.pop()
		items, i, err := elementOf(m.pop(), idx)
		if err != nil {
			return err
		}
		m.push(items[i])

	case OP_SET_ELEM:
		v, idx := m.pop(), m.pop()
		items, i, err := elementOf(m.pop(), idx)
		if err != nil {
			return err
		}
		items[i] = v

	case OP_ARRAY_LEN:
		arr := m.pop()
		if arr.IsNil() {
			return fmt.Errorf("%w: length of null array", ErrNullReference)
		}
		m.push(typesystem.Int32(int32(len(arr.Array().Items))))

	case OP_JUMP:
		offset := m.readU16()
		fr.ip += offset

	case OP_JUMP_IF_FALSE:
		offset := m.readU16()
		if !m.pop().AsBool() {
			fr.ip += offset
		}

	default:
		return fmt.Errorf("unknown opcode %d", op)
	}
	return nil
}

func fieldsOf(obj typesystem.Value, idx int) ([]typesystem.Value, error) {
	if obj.IsNil() {
		return nil, fmt.Errorf("%w: field access on null", ErrNullReference)
	}
	fields := obj.Fields()
	if idx >= len(fields) {
		return nil, fmt.Errorf("%w: field %d of %s", ErrIndexOutOfRange, idx, obj.DynamicType())
	}
	return fields, nil
}

func elementOf(arr, idx typesystem.Value) ([]typesystem.Value, int, error) {
	if arr.IsNil() {
		return nil, 0, fmt.Errorf("%w: element of null array", ErrNullReference)
	}
	items := arr.Array().Items
	i := idx.AsInt()
	if i < 0 || i >= int64(len(items)) {
		return nil, 0, fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, i, len(items))
	}
	return items, int(i), nil
}
