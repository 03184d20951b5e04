package typesystem

import (
	"errors"
	"sync"
	"testing"
)

var shapeOnce = sync.OnceValue(func() *Type {
	return NewInterface("IShape").
		Method("Area", nil, Int32Type, nil).
		AbstractProperty("Name", StringType, false).
		MustBuild()
})

func buildRect(t *testing.T) *Type {
	t.Helper()
	rect, err := NewStruct("Rect").
		Field("W", Int32Type).
		Field("H", Int32Type).
		Implements(shapeOnce()).
		Method("Area", nil, Int32Type, func(recv Value, _ []Value) (Value, error) {
			f := recv.Fields()
			return Int32(int32(f[0].AsInt() * f[1].AsInt())), nil
		}).
		Property("Name", StringType, func(Value, []Value) (Value, error) { return String("rect"), nil }, nil).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return rect
}

func TestValueKinds(t *testing.T) {
	rect := buildRect(t)
	tests := []struct {
		typ  *Type
		kind ValueKind
	}{
		{Int32Type, PrimitiveScalar},
		{BoolType, PrimitiveScalar},
		{rect, ValueAggregate},
		{StringType, ReferenceType},
		{Object, ReferenceType},
		{ArrayOf(Int32Type), ReferenceType},
		{FuncOf([]*Type{Int32Type}, nil), ReferenceType},
		{shapeOnce(), InterfaceType},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			if got := tt.typ.Kind(); got != tt.kind {
				t.Errorf("Kind() = %s, want %s", got, tt.kind)
			}
		})
	}
}

func TestStructLayout(t *testing.T) {
	rect := buildRect(t)
	if rect.Base() != ValueType {
		t.Errorf("base = %s, want ValueType", rect.Base())
	}
	if f := rect.Field("H"); f == nil || f.Index != 1 {
		t.Fatalf("field H = %+v", f)
	}
	if !rect.Implements(shapeOnce()) {
		t.Fatal("Rect should implement IShape")
	}
	if rect.Method("ToString", 0) == nil {
		t.Error("inherited ToString not found")
	}

	// Interface methods resolve through the table of the dynamic type.
	area := shapeOnce().Method("Area", 0)
	impl := rect.Resolve(area)
	if impl == nil || impl.Owner != rect {
		t.Fatalf("Resolve(Area) = %v", impl)
	}
	agg := NewAggregate(rect)
	agg.Fields[0] = Int32(3)
	agg.Fields[1] = Int32(4)
	got, err := impl.Invoke(AggregateValue(agg), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.AsInt() != 12 {
		t.Errorf("Area = %d, want 12", got.AsInt())
	}
}

func TestMissingInterfaceMethod(t *testing.T) {
	_, err := NewStruct("Broken").Implements(shapeOnce()).Build()
	if err == nil {
		t.Fatal("expected error for missing Area")
	}
}

func TestVirtualOverride(t *testing.T) {
	animal := NewClass("Animal", nil).
		Virtual("Speak", nil, StringType, func(Value, []Value) (Value, error) { return String("..."), nil }).
		MustBuild()
	dog := NewClass("Dog", animal).
		Override("Speak", nil, func(Value, []Value) (Value, error) { return String("woof"), nil }).
		MustBuild()

	speak := animal.Method("Speak", 0)
	if speak.Slot < 0 {
		t.Fatal("Speak should occupy a vtable slot")
	}
	if got := dog.Resolve(speak); got.Owner != dog {
		t.Errorf("Dog resolves Speak to %s", got)
	}
	if got := animal.Resolve(speak); got != speak {
		t.Errorf("Animal resolves Speak to %s", got)
	}
	if !dog.AssignableTo(animal) || animal.AssignableTo(dog) {
		t.Error("reference upcast relation is wrong")
	}
	if !Null.AssignableTo(dog) || Null.AssignableTo(Int32Type) {
		t.Error("null assignability is wrong")
	}

	_, err := NewClass("Cat", animal).
		Override("Purr", nil, func(Value, []Value) (Value, error) { return Nil(), nil }).
		Build()
	if err == nil {
		t.Error("override without a base virtual should fail")
	}
	_, err = NewStruct("S").
		Virtual("V", nil, nil, func(Value, []Value) (Value, error) { return Nil(), nil }).
		Build()
	if err == nil {
		t.Error("virtual on a value type should fail")
	}
}

func TestEnum(t *testing.T) {
	color, err := NewEnum("Color", Int32Type, map[string]int64{"Red": 0, "Green": 1})
	if err != nil {
		t.Fatal(err)
	}
	if color.Kind() != PrimitiveScalar || !color.IsEnum() || color.IsNumeric() {
		t.Error("enum classification is wrong")
	}
	if got := EnumValue(color, 1).String(); got != "Green" {
		t.Errorf("String() = %q, want Green", got)
	}
	if _, err := NewEnum("Bad", StringType, nil); err == nil {
		t.Error("string-backed enum should fail")
	}
	if _, err := NewEnum("Dup", Int32Type, map[string]int64{"A": 1, "B": 1}); err == nil {
		t.Error("duplicate enum values should fail")
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	rect := buildRect(t)
	outer := NewStruct("Outer").Field("R", rect).MustBuild()

	v := Zero(outer)
	c := v.Clone()
	c.Fields()[0].Fields()[0] = Int32(9)
	if got := v.Fields()[0].Fields()[0].AsInt(); got != 0 {
		t.Errorf("original mutated through clone: W = %d", got)
	}

	boxed := BoxValue(v)
	v.Fields()[0].Fields()[1] = Int32(5)
	if got := boxed.Box().Payload.Fields()[0].Fields()[1].AsInt(); got != 0 {
		t.Errorf("box aliases its source: H = %d", got)
	}
}

func TestEqual(t *testing.T) {
	rect := buildRect(t)
	a, b := Zero(rect), Zero(rect)
	if !Equal(a, b) {
		t.Error("zero aggregates should be equal")
	}
	b.Fields()[0] = Int32(1)
	if Equal(a, b) {
		t.Error("aggregates with different fields compare equal")
	}
	if !Equal(BoxValue(Int32(3)), Int32(3)) {
		t.Error("box should compare by payload")
	}
	if Equal(Int32(3), Int64(3)) {
		t.Error("values of different types compare equal")
	}
	x, y := BoxValue(Int32(1)), BoxValue(Int32(1))
	if ReferenceEquals(x, y) || !ReferenceEquals(x, x) {
		t.Error("boxes should compare by identity")
	}
	if Hash(a) != Hash(Zero(rect)) {
		t.Error("equal aggregates hash differently")
	}
}

func TestBuiltinMethods(t *testing.T) {
	cmp := Int32Type.Method("CompareTo", 1)
	got, err := cmp.Invoke(Int32(2), []Value{BoxValue(Int32(5))})
	if err != nil || got.AsInt() != -1 {
		t.Errorf("CompareTo = %v, %v", got, err)
	}
	_, err = cmp.Invoke(Int32(2), []Value{String("x")})
	if !errors.Is(err, ErrArgument) {
		t.Errorf("CompareTo(string) err = %v, want ErrArgument", err)
	}

	toString := Object.Method("ToString", 0)
	if toString.Slot != SlotToString {
		t.Fatalf("ToString slot = %d", toString.Slot)
	}
	impl := Int32Type.Resolve(toString)
	s, _ := impl.Invoke(Int32(42), nil)
	if s.Str != "42" {
		t.Errorf("ToString = %q, want 42", s.Str)
	}

	length := StringType.Property("Length")
	n, _ := length.Getter.Invoke(String("héllo"), nil)
	if n.AsInt() != 5 {
		t.Errorf("Length = %d, want 5", n.AsInt())
	}
}

func TestCell(t *testing.T) {
	rect := buildRect(t)
	src := Zero(rect)
	c := NewCell(rect, src)
	c.Load().Fields()[0] = Int32(7)
	if src.Fields()[0].AsInt() != 0 {
		t.Error("cell shares storage with its initial value")
	}
	if c.Load().Fields()[0].AsInt() != 7 {
		t.Error("write through loaded cell value was lost")
	}
	if z := NewCell(Int32Type, Nil()); z.Load().Tag != TagInt {
		t.Errorf("nil initial value should become zero, got %s", z.Load().Tag)
	}
}
