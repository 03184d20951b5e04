package typesystem

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// Builtin universe. Assigned once in init and never modified afterwards.
var (
	Object    *Type // root of every reference type
	ValueType *Type // base of aggregates and scalars, a boxing target
	EnumBase  *Type // base of enums, a boxing target
	Null      *Type // static type of the null constant

	BoolType    *Type
	Int32Type   *Type
	Int64Type   *Type
	Float64Type *Type
	StringType  *Type

	IComparable *Type // CompareTo(object) int32
	IDisposable *Type // Dispose()
)

// Slots of the virtual methods declared by object.
const (
	SlotToString = iota
	SlotEquals
	SlotGetHashCode
)

func newScalar(name string, prim Primitive) *Type {
	t := newType(name, PrimitiveScalar)
	t.prim = prim
	return t
}

func init() {
	Object = newType("object", ReferenceType)
	ValueType = newType("ValueType", ReferenceType)
	ValueType.base = Object
	EnumBase = newType("Enum", ReferenceType)
	EnumBase.base = ValueType
	Null = newType("null", ReferenceType)
	Null.base = Object

	BoolType = newScalar("bool", PrimBool)
	Int32Type = newScalar("int32", PrimInt32)
	Int64Type = newScalar("int64", PrimInt64)
	Float64Type = newScalar("float64", PrimFloat64)
	for _, t := range []*Type{BoolType, Int32Type, Int64Type, Float64Type} {
		t.base = ValueType
	}
	StringType = newType("string", ReferenceType)
	StringType.base = Object
	StringType.sealed = true

	IComparable = NewInterface("IComparable").
		Method("CompareTo", []*Type{Object}, Int32Type, nil).
		MustBuild()
	IDisposable = NewInterface("IDisposable").
		Method("Dispose", nil, nil, nil).
		MustBuild()

	extend(Object).
		Virtual("ToString", nil, StringType, objectToString).
		Virtual("Equals", []*Type{Object}, BoolType, objectEquals).
		Virtual("GetHashCode", nil, Int32Type, objectHashCode).
		MustBuild()

	extend(ValueType).
		Override("ToString", nil, objectToString).
		Override("Equals", []*Type{Object}, valueEquals).
		Override("GetHashCode", nil, valueHashCode).
		MustBuild()
	extend(EnumBase).
		Implements(IComparable).
		Method("CompareTo", []*Type{Object}, Int32Type, scalarCompareTo).
		MustBuild()
	extend(Null).MustBuild()

	for _, t := range []*Type{BoolType, Int32Type, Int64Type, Float64Type} {
		extend(t).
			Implements(IComparable).
			Method("CompareTo", []*Type{Object}, Int32Type, scalarCompareTo).
			MustBuild()
	}

	extend(StringType).
		Implements(IComparable).
		Override("Equals", []*Type{Object}, valueEquals).
		Override("GetHashCode", nil, valueHashCode).
		Property("Length", Int32Type, stringLength, nil).
		Method("ToUpper", nil, StringType, stringToUpper).
		Method("Contains", []*Type{StringType}, BoolType, stringContains).
		Method("CompareTo", []*Type{Object}, Int32Type, stringCompareTo).
		MustBuild()
}

func objectToString(recv Value, _ []Value) (Value, error) {
	return String(recv.String()), nil
}

func objectEquals(recv Value, args []Value) (Value, error) {
	return Bool(ReferenceEquals(recv, args[0])), nil
}

func objectHashCode(recv Value, _ []Value) (Value, error) {
	h := fnv.New32a()
	fmt.Fprintf(h, "%p", recv.Ref)
	return Int32(int32(h.Sum32())), nil
}

func valueEquals(recv Value, args []Value) (Value, error) {
	return Bool(Equal(recv, args[0])), nil
}

func valueHashCode(recv Value, _ []Value) (Value, error) {
	return Int32(int32(Hash(recv))), nil
}

func scalarCompareTo(recv Value, args []Value) (Value, error) {
	a := recv.Unboxed()
	b := args[0].Unboxed()
	if b.IsNil() {
		return Int32(1), nil
	}
	if b.Type != a.Type {
		return Nil(), fmt.Errorf("%w: object must be of type %s", ErrArgument, a.Type)
	}
	return Int32(int32(compareScalars(a, b))), nil
}

func compareScalars(a, b Value) int {
	switch a.Tag {
	case TagFloat:
		x, y := a.AsFloat(), b.AsFloat()
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		case x == y:
			return 0
		case math.IsNaN(x) && math.IsNaN(y):
			return 0
		case math.IsNaN(x):
			return -1
		default:
			return 1
		}
	case TagBool:
		return int(a.Bits) - int(b.Bits)
	default:
		x, y := a.AsInt(), b.AsInt()
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
}

func stringLength(recv Value, _ []Value) (Value, error) {
	return Int32(int32(len([]rune(recv.Str)))), nil
}

func stringToUpper(recv Value, _ []Value) (Value, error) {
	return String(strings.ToUpper(recv.Str)), nil
}

func stringContains(recv Value, args []Value) (Value, error) {
	return Bool(strings.Contains(recv.Str, args[0].Str)), nil
}

func stringCompareTo(recv Value, args []Value) (Value, error) {
	if args[0].IsNil() {
		return Int32(1), nil
	}
	if args[0].Tag != TagString {
		return Nil(), fmt.Errorf("%w: object must be of type string", ErrArgument)
	}
	return Int32(int32(strings.Compare(recv.Str, args[0].Str))), nil
}
