package ast

import (
	"errors"
	"testing"

	"github.com/funvibe/exprvm/internal/typesystem"
)

func pointType() *Type {
	return typesystem.NewStruct("Point").
		Field("X", typesystem.Int32Type).
		AutoProperty("Label", typesystem.StringType).
		MustBuild()
}

func TestConstructorTypes(t *testing.T) {
	point := pointType()
	p := Param("p", point)
	n := Param("n", typesystem.Int32Type)

	tests := []struct {
		name string
		node Node
		want *Type
	}{
		{"constant", Const(typesystem.Int32(1)), typesystem.Int32Type},
		{"null", Const(typesystem.Nil()), typesystem.Null},
		{"member", Member(p, "X"), typesystem.Int32Type},
		{"property", Member(p, "Label"), typesystem.StringType},
		{"add", Bin(OpAdd, n, Const(typesystem.Int32(2))), typesystem.Int32Type},
		{"concat", Bin(OpAdd, Const(typesystem.String("a")), Const(typesystem.String("b"))), typesystem.StringType},
		{"less", Bin(OpLess, n, n), typesystem.BoolType},
		{"call", Call(p, "ToString"), typesystem.StringType},
		{"box", ConvertTo(p, typesystem.Object), typesystem.Object},
		{"widen", ConvertTo(n, typesystem.Int64Type), typesystem.Int64Type},
		{"lambda", Func(n, n), typesystem.FuncOf([]*Type{typesystem.Int32Type}, typesystem.Int32Type)},
		{"init", Init(NewObject(point), Bind(point, "X", Const(typesystem.Int32(3)))), point},
		{"block", Seq([]*Parameter{n}, Set(n, Const(typesystem.Int32(1))), Bin(OpMul, n, n)), typesystem.Int32Type},
		{"array", NewArrayInit(typesystem.Int32Type, n, n), typesystem.ArrayOf(typesystem.Int32Type)},
		{"length", Len(NewArrayBounds(point, n)), typesystem.Int32Type},
		{"default", DefaultOf(point), point},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.node.Type(); got != tt.want {
				t.Errorf("Type() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestConstructorErrors(t *testing.T) {
	point := pointType()
	n := Param("n", typesystem.Int32Type)

	cases := map[string]func() Node{
		"mixed arithmetic": func() Node { return Bin(OpAdd, n, Const(typesystem.Int64(1))) },
		"missing member":   func() Node { return Member(Param("p", point), "Nope") },
		"bad test":         func() Node { return Cond(n, n, n) },
		"narrow arg":       func() Node { return Call(Param("p", point), "Equals", Const(typesystem.Int32(1))).Args[0] },
		"assign constant":  func() Node { return Set(Const(typesystem.Int32(1)), n) },
		"null value type":  func() Node { return TypedConst(typesystem.Nil(), typesystem.Int32Type) },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Build(fn)
			if name == "narrow arg" {
				// int32 boxes to object, so this one is fine
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var be *BuildError
			if !errors.As(err, &be) {
				t.Fatalf("expected BuildError, got %v", err)
			}
		})
	}
}

func TestChildrenOrder(t *testing.T) {
	point := pointType()
	p := Param("p", point)
	a := Const(typesystem.Int32(1))
	call := Call(p, "Equals", ConvertTo(a, typesystem.Object))
	kids := Children(call)
	if len(kids) != 2 || kids[0] != p {
		t.Fatalf("receiver must come first, got %v", kids)
	}
	if Count(Func(call, p)) != 5 {
		t.Errorf("Count = %d, want 5", Count(Func(call, p)))
	}
}

func TestFormat(t *testing.T) {
	n := Param("n", typesystem.Int32Type)
	one := Const(typesystem.Int32(1))
	expr := Func(Bin(OpMul, Bin(OpAdd, n, one), n), n)
	if got, want := Format(expr), "(int32 n) => (n + 1) * n"; got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
	s := Param("s", typesystem.StringType)
	if got, want := Format(Member(s, "Length")), "s.Length"; got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
}

func TestFingerprint(t *testing.T) {
	build := func() *Lambda {
		n := Param("n", typesystem.Int32Type)
		return Func(Bin(OpAdd, n, Const(typesystem.Int32(1))), n)
	}
	params := []*Type{typesystem.Int32Type}
	a := FingerprintOf(build(), params, typesystem.Int32Type)
	b := FingerprintOf(build(), params, typesystem.Int32Type)
	if a != b {
		t.Error("structurally equal trees should share a fingerprint")
	}

	n := Param("n", typesystem.Int32Type)
	other := Func(Bin(OpAdd, n, Const(typesystem.Int32(2))), n)
	if FingerprintOf(other, params, typesystem.Int32Type) == a {
		t.Error("different constants should change the fingerprint")
	}
	if FingerprintOf(build(), params, typesystem.Int64Type) == a {
		t.Error("different shapes should change the fingerprint")
	}

	c1 := typesystem.NewCell(typesystem.Int32Type, typesystem.Int32(0))
	c2 := typesystem.NewCell(typesystem.Int32Type, typesystem.Int32(0))
	f1 := FingerprintOf(Func(Capture("x", c1)), nil, typesystem.Int32Type)
	f2 := FingerprintOf(Func(Capture("x", c2)), nil, typesystem.Int32Type)
	if f1 == f2 {
		t.Error("distinct host cells should change the fingerprint")
	}
	if f1 != FingerprintOf(Func(Capture("y", c1)), nil, typesystem.Int32Type) {
		t.Error("capture names should not change the fingerprint")
	}
}
