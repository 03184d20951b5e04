// Package scenarios holds the host types and expression trees shared by the
// compiler, interpreter and backend tests.
package scenarios

import (
	"github.com/funvibe/exprvm/internal/typesystem"
)

type Type = typesystem.Type

// Host types. Built once; types are immutable after construction.
var (
	// StructA has a field and an auto property of each of int32 and string,
	// and overrides ToString to print N.
	StructA = typesystem.NewStruct("StructA").
		Field("N", typesystem.Int32Type).
		AutoProperty("M", typesystem.Int32Type).
		Field("Sf", typesystem.StringType).
		AutoProperty("Sp", typesystem.StringType).
		Override("ToString", nil, func(recv typesystem.Value, _ []typesystem.Value) (typesystem.Value, error) {
			return typesystem.String(recv.Aggregate().Get("N").String()), nil
		}).
		MustBuild()

	// SS is a disposable struct with a mutating setter.
	SS = typesystem.NewStruct("SS").
		Field("Value", typesystem.StringType).
		Implements(typesystem.IDisposable).
		Method("SetValue", []*Type{typesystem.StringType}, nil, func(recv typesystem.Value, args []typesystem.Value) (typesystem.Value, error) {
			recv.Aggregate().Set("Value", args[0])
			return typesystem.Nil(), nil
		}).
		Method("Dispose", nil, nil, func(recv typesystem.Value, _ []typesystem.Value) (typesystem.Value, error) {
			recv.Aggregate().Set("Value", typesystem.String("disposed"))
			return typesystem.Nil(), nil
		}).
		MustBuild()

	DateTimeKind = mustEnum("DateTimeKind", typesystem.Int32Type, map[string]int64{
		"Unspecified": 0,
		"Utc":         1,
		"Local":       2,
	})

	// Point has a method that moves it in place.
	Point = typesystem.NewStruct("Point").
		Field("X", typesystem.Int32Type).
		Field("Y", typesystem.Int32Type).
		Method("Offset", []*Type{typesystem.Int32Type}, nil, func(recv typesystem.Value, args []typesystem.Value) (typesystem.Value, error) {
			a := recv.Aggregate()
			a.Set("X", typesystem.Int32(int32(a.Get("X").AsInt()+args[0].AsInt())))
			a.Set("Y", typesystem.Int32(int32(a.Get("Y").AsInt()+args[0].AsInt())))
			return typesystem.Nil(), nil
		}).
		MustBuild()

	Animal = typesystem.NewClass("Animal", nil).
		Field("Name", typesystem.StringType).
		Constructor([]*Type{typesystem.StringType}, func(recv typesystem.Value, args []typesystem.Value) (typesystem.Value, error) {
			recv.Instance().Set("Name", args[0])
			return typesystem.Nil(), nil
		}).
		Virtual("Speak", nil, typesystem.StringType, func(recv typesystem.Value, _ []typesystem.Value) (typesystem.Value, error) {
			return typesystem.String("..."), nil
		}).
		MustBuild()

	Dog = typesystem.NewClass("Dog", Animal).
		Constructor([]*Type{typesystem.StringType}, func(recv typesystem.Value, args []typesystem.Value) (typesystem.Value, error) {
			recv.Instance().Set("Name", args[0])
			return typesystem.Nil(), nil
		}).
		Override("Speak", nil, func(recv typesystem.Value, _ []typesystem.Value) (typesystem.Value, error) {
			return typesystem.String(recv.Instance().Get("Name").Str + ": woof"), nil
		}).
		MustBuild()

	Money = typesystem.NewStruct("Money").
		Field("Cents", typesystem.Int64Type).
		MustBuild()
)

// MoneyOps carries the user-defined operators over Money.
var MoneyOps = typesystem.NewClass("MoneyOps", nil).
	StaticMethod("Add", []*Type{Money, Money}, Money, func(_ typesystem.Value, args []typesystem.Value) (typesystem.Value, error) {
		return money(args[0].Aggregate().Get("Cents").AsInt() + args[1].Aggregate().Get("Cents").AsInt()), nil
	}).
	StaticMethod("FromCents", []*Type{typesystem.Int64Type}, Money, func(_ typesystem.Value, args []typesystem.Value) (typesystem.Value, error) {
		return money(args[0].AsInt()), nil
	}).
	MustBuild()

func mustEnum(name string, underlying *Type, values map[string]int64) *Type {
	t, err := typesystem.NewEnum(name, underlying, values)
	if err != nil {
		panic(err)
	}
	return t
}

// NewStructA makes a StructA value with the given field and property values.
func NewStructA(n, m int32, sf, sp string) typesystem.Value {
	a := typesystem.NewAggregate(StructA)
	a.Set("N", typesystem.Int32(n))
	a.Fields[StructA.Field("<M>").Index] = typesystem.Int32(m)
	a.Set("Sf", typesystem.String(sf))
	a.Fields[StructA.Field("<Sp>").Index] = typesystem.String(sp)
	return typesystem.AggregateValue(a)
}

// NewSS makes an SS value holding s.
func NewSS(s string) typesystem.Value {
	a := typesystem.NewAggregate(SS)
	a.Set("Value", typesystem.String(s))
	return typesystem.AggregateValue(a)
}

// NewPoint makes a Point value.
func NewPoint(x, y int32) typesystem.Value {
	a := typesystem.NewAggregate(Point)
	a.Set("X", typesystem.Int32(x))
	a.Set("Y", typesystem.Int32(y))
	return typesystem.AggregateValue(a)
}

func money(cents int64) typesystem.Value {
	a := typesystem.NewAggregate(Money)
	a.Set("Cents", typesystem.Int64(cents))
	return typesystem.AggregateValue(a)
}
