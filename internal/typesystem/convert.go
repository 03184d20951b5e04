package typesystem

import "fmt"

// IsWidening reports a lossless numeric conversion between distinct primitives.
func IsWidening(from, to *Type) bool {
	return from.IsNumeric() && to.IsNumeric() && from.prim.Rank() < to.prim.Rank()
}

// IsBoxingTarget reports whether a value of type from can be boxed to to:
// object, ValueType, Enum for enums, or an interface the type implements.
func IsBoxingTarget(from, to *Type) bool {
	if from == nil || to == nil || !from.kind.IsValue() {
		return false
	}
	switch {
	case to == Object, to == ValueType:
		return true
	case to == EnumBase:
		return from.enum
	case to.kind == InterfaceType:
		return from.Implements(to)
	}
	return false
}

// ImplicitlyConvertible reports whether from converts to to at an assignment,
// argument or return boundary without an explicit Convert.
func ImplicitlyConvertible(from, to *Type) bool {
	if from == to {
		return true
	}
	if from == nil || to == nil {
		return false
	}
	if from.kind.IsValue() {
		return IsWidening(from, to) || IsBoxingTarget(from, to)
	}
	return from.AssignableTo(to)
}

// ExplicitlyConvertible additionally allows narrowing, enum reinterpretation,
// checked reference casts and unboxing.
func ExplicitlyConvertible(from, to *Type) bool {
	if ImplicitlyConvertible(from, to) {
		return true
	}
	if from == nil || to == nil {
		return false
	}
	switch {
	case from.kind == PrimitiveScalar && to.kind == PrimitiveScalar:
		return from.prim.IsNumeric() && to.prim.IsNumeric()
	case to.kind.IsValue():
		// unboxing: from must be something the value could have been boxed to
		return IsBoxingTarget(to, from)
	case from.kind.IsValue():
		return false
	case from.kind == InterfaceType && to.kind == InterfaceType:
		return true
	case from.kind == InterfaceType:
		return !to.IsSealed() || to.Implements(from)
	case to.kind == InterfaceType:
		return !from.IsSealed() || from.Implements(to)
	default:
		return to.AssignableTo(from)
	}
}

// IsInstanceOf reports whether a non-null reference value may be viewed as t.
func IsInstanceOf(v Value, t *Type) bool {
	dyn := v.DynamicType()
	if dyn == t || t == Object {
		return true
	}
	switch v.Tag {
	case TagBox:
		return IsBoxingTarget(dyn, t)
	case TagFunc:
		return t.IsDelegate() && dyn.result == t.result && sameTypes(dyn.params, t.params)
	}
	return dyn.AssignableTo(t)
}

// CheckValue rejects values whose representation cannot belong to t.
func CheckValue(v Value, t *Type) error {
	var ok bool
	switch t.Kind() {
	case PrimitiveScalar:
		switch t.prim {
		case PrimBool:
			ok = v.Tag == TagBool
		case PrimFloat64:
			ok = v.Tag == TagFloat
		default:
			ok = v.Tag == TagInt
		}
		ok = ok && v.Type == t
	case ValueAggregate:
		ok = v.Tag == TagAggregate && v.Aggregate().Type == t
	default:
		ok = v.IsNil() || IsInstanceOf(v, t)
	}
	if !ok {
		return fmt.Errorf("%w: %s is not a %s", ErrInvalidCast, v.DynamicType(), t)
	}
	return nil
}
