package evaluator

import (
	"fmt"
	"math"

	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/typesystem"
)

func (r *run) evalBinary(n *ast.Binary, env *Environment) (typesystem.Value, error) {
	if n.Method != nil {
		args, err := r.args(n.Method.Params, []ast.Node{n.Left, n.Right}, env)
		if err != nil {
			return typesystem.Nil(), r.fail(n, err)
		}
		v, err := invoke(nil, typesystem.Nil(), n.Method, args)
		if err != nil {
			return typesystem.Nil(), r.fail(n, err)
		}
		return v, nil
	}

	left, err := r.eval(n.Left, env)
	if err != nil {
		return typesystem.Nil(), err
	}
	if n.Op.IsLogical() {
		if left.AsBool() == (n.Op == ast.OpOrElse) {
			return left, nil
		}
		return r.eval(n.Right, env)
	}
	right, err := r.eval(n.Right, env)
	if err != nil {
		return typesystem.Nil(), err
	}

	lt, rt := n.Left.Type(), n.Right.Type()
	switch {
	case n.Op == ast.OpAdd && lt == typesystem.StringType:
		return typesystem.String(left.Str + right.Str), nil
	case n.Op.IsArithmetic():
		v, err := arithmetic(n.Op, left, right)
		if err != nil {
			return typesystem.Nil(), r.fail(n, err)
		}
		return v, nil
	case n.Op.IsOrdering():
		return typesystem.Bool(compare(n.Op, left, right)), nil
	}

	var eq bool
	if lt.Kind().IsValue() || rt.Kind().IsValue() || lt == typesystem.StringType && rt == typesystem.StringType {
		eq = typesystem.Equal(left, right)
	} else {
		eq = typesystem.ReferenceEquals(left, right)
	}
	return typesystem.Bool(eq == (n.Op == ast.OpEqual)), nil
}

// makeInt wraps n to the width of t.
func makeInt(t *typesystem.Type, n int64) typesystem.Value {
	if t.Primitive() == typesystem.PrimInt32 {
		n = int64(int32(n))
	}
	return typesystem.Value{Tag: typesystem.TagInt, Type: t, Bits: uint64(n)}
}

func arithmetic(op ast.BinaryOp, a, b typesystem.Value) (typesystem.Value, error) {
	if a.Tag == typesystem.TagFloat {
		x, y := a.AsFloat(), b.AsFloat()
		switch op {
		case ast.OpAdd:
			return typesystem.Float64(x + y), nil
		case ast.OpSub:
			return typesystem.Float64(x - y), nil
		case ast.OpMul:
			return typesystem.Float64(x * y), nil
		case ast.OpDiv:
			return typesystem.Float64(x / y), nil
		default:
			return typesystem.Float64(math.Mod(x, y)), nil
		}
	}
	if a.Tag != typesystem.TagInt || b.Tag != typesystem.TagInt {
		return typesystem.Nil(), fmt.Errorf("%w: %s on %s and %s", ErrIllTyped, op, a.Tag, b.Tag)
	}
	x, y := a.AsInt(), b.AsInt()
	switch op {
	case ast.OpAdd:
		return makeInt(a.Type, x+y), nil
	case ast.OpSub:
		return makeInt(a.Type, x-y), nil
	case ast.OpMul:
		return makeInt(a.Type, x*y), nil
	}
	if y == 0 {
		return typesystem.Nil(), typesystem.ErrDivideByZero
	}
	if op == ast.OpDiv {
		return makeInt(a.Type, x/y), nil
	}
	return makeInt(a.Type, x%y), nil
}

func compare(op ast.BinaryOp, a, b typesystem.Value) bool {
	if a.Tag == typesystem.TagFloat {
		x, y := a.AsFloat(), b.AsFloat()
		switch op {
		case ast.OpLess:
			return x < y
		case ast.OpLessEqual:
			return x <= y
		case ast.OpGreater:
			return x > y
		default:
			return x >= y
		}
	}
	x, y := a.AsInt(), b.AsInt()
	switch op {
	case ast.OpLess:
		return x < y
	case ast.OpLessEqual:
		return x <= y
	case ast.OpGreater:
		return x > y
	default:
		return x >= y
	}
}

func (r *run) evalUnary(n *ast.Unary, env *Environment) (typesystem.Value, error) {
	v, err := r.eval(n.Operand, env)
	if err != nil {
		return typesystem.Nil(), err
	}
	switch {
	case n.Op == ast.OpNot:
		return typesystem.Bool(!v.AsBool()), nil
	case v.Tag == typesystem.TagFloat:
		return typesystem.Float64(-v.AsFloat()), nil
	default:
		return makeInt(v.Type, -v.AsInt()), nil
	}
}

func (r *run) evalConvert(n *ast.Convert, env *Environment) (typesystem.Value, error) {
	if n.Method != nil {
		args, err := r.args(n.Method.Params, []ast.Node{n.Operand}, env)
		if err != nil {
			return typesystem.Nil(), r.fail(n, err)
		}
		v, err := invoke(nil, typesystem.Nil(), n.Method, args)
		if err != nil {
			return typesystem.Nil(), r.fail(n, err)
		}
		return v, nil
	}
	v, err := r.eval(n.Operand, env)
	if err != nil {
		return typesystem.Nil(), err
	}
	if v, err = convert(v, n.Operand.Type(), n.Type(), true); err != nil {
		return typesystem.Nil(), r.fail(n, err)
	}
	return v, nil
}

func primitiveType(p typesystem.Primitive) *typesystem.Type {
	switch p {
	case typesystem.PrimInt64:
		return typesystem.Int64Type
	case typesystem.PrimFloat64:
		return typesystem.Float64Type
	default:
		return typesystem.Int32Type
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

// convert turns v, of static type from, into a to. Implicit conversions
// cover widening, boxing and reference upcasts; explicit ones add
// narrowing, enum reinterpretation, checked casts and unboxing. Boxing
// copies the payload; an unboxed aggregate aliases the box.
func convert(v typesystem.Value, from, to *typesystem.Type, explicit bool) (typesystem.Value, error) {
	switch {
	case from == to:
		return v, nil

	case from == nil || to == nil:
		return v, fmt.Errorf("%w: no conversion between %s and %s", ErrIllTyped, from, to)

	case from.Kind() == typesystem.PrimitiveScalar && to.Kind() == typesystem.PrimitiveScalar:
		return convertScalar(v, from, to, explicit)

	case from.Kind().IsValue():
		if !typesystem.IsBoxingTarget(from, to) {
			return v, fmt.Errorf("%w: %s does not box to %s", ErrIllTyped, from, to)
		}
		return typesystem.BoxValue(v), nil

	case to.Kind().IsValue():
		if !explicit || !typesystem.IsBoxingTarget(to, from) {
			return v, fmt.Errorf("%w: cannot unbox %s to %s", ErrIllTyped, from, to)
		}
		if v.IsNil() {
			return v, fmt.Errorf("%w: unbox of null to %s", typesystem.ErrNullReference, to)
		}
		b := v.Box()
		if b == nil || b.Type != to {
			return v, fmt.Errorf("%w: %s is not a boxed %s", typesystem.ErrInvalidCast, v.DynamicType(), to)
		}
		return b.Payload, nil

	case from.AssignableTo(to):
		return v, nil

	case explicit && typesystem.ExplicitlyConvertible(from, to):
		if !v.IsNil() && !typesystem.IsInstanceOf(v, to) {
			return v, fmt.Errorf("%w: %s is not a %s", typesystem.ErrInvalidCast, v.DynamicType(), to)
		}
		return v, nil
	}
	return v, fmt.Errorf("%w: no conversion from %s to %s", ErrIllTyped, from, to)
}

func convertScalar(v typesystem.Value, from, to *typesystem.Type, explicit bool) (typesystem.Value, error) {
	if from.Primitive() == typesystem.PrimBool || to.Primitive() == typesystem.PrimBool {
		return v, fmt.Errorf("%w: no conversion from %s to %s", ErrIllTyped, from, to)
	}
	if from.IsEnum() || to.IsEnum() {
		if !explicit {
			return v, fmt.Errorf("%w: %s to %s requires an explicit conversion", ErrIllTyped, from, to)
		}
		v.Type = primitiveType(from.Primitive())
		v = convertNumeric(v, to.Primitive())
		if to.IsEnum() {
			v.Type = to
		}
		return v, nil
	}
	if !explicit && !typesystem.IsWidening(from, to) {
		return v, fmt.Errorf("%w: narrowing %s to %s requires an explicit conversion", ErrIllTyped, from, to)
	}
	return convertNumeric(v, to.Primitive()), nil
}
