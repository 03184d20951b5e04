package scenarios

import (
	"fmt"

	"github.com/funvibe/exprvm/internal/ast"
	tsys "github.com/funvibe/exprvm/internal/typesystem"
)

// Case is one runnable instance of a scenario: a fresh tree, the call shape,
// the arguments and the expected result.
type Case struct {
	Lambda *ast.Lambda
	Params []*Type
	Result *Type // nil for void
	Args   []tsys.Value
	Want   tsys.Value
	// Check replaces the comparison with Want. It may also inspect host
	// state the tree captured.
	Check func(got tsys.Value) error
}

// Verify compares a result against the case's expectation.
func (c Case) Verify(got tsys.Value) error {
	if c.Check != nil {
		return c.Check(got)
	}
	if !tsys.Equal(got, c.Want) {
		return fmt.Errorf("got=%#v, want=%#v", got, c.Want)
	}
	return nil
}

// Scenario builds a Case. Make returns new trees and host state on every call.
type Scenario struct {
	Name string
	// Unsupported marks trees the compiler declines; the interpreter still runs them.
	Unsupported bool
	Make        func() Case
}

// Find returns the scenario with the given name.
func Find(name string) (Scenario, bool) {
	for _, s := range All() {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}

func i32(n int32) ast.Node  { return ast.Const(tsys.Int32(n)) }
func i64(n int64) ast.Node  { return ast.Const(tsys.Int64(n)) }
func str(s string) ast.Node { return ast.Const(tsys.String(s)) }

// run calls l with its own signature.
func run(l *ast.Lambda, want tsys.Value, args ...tsys.Value) Case {
	params := make([]*Type, len(l.Params))
	for i, p := range l.Params {
		params[i] = p.Type()
	}
	return Case{Lambda: l, Params: params, Result: l.Result, Args: args, Want: want}
}

func checked(c Case, check func(got tsys.Value) error) Case {
	c.Check = check
	return c
}

func boxOf(t *Type, want tsys.Value) func(tsys.Value) error {
	return func(got tsys.Value) error {
		if got.Tag != tsys.TagBox || got.DynamicType() != t {
			return fmt.Errorf("got=%#v, want a boxed %s", got, t)
		}
		if !tsys.Equal(got, want) {
			return fmt.Errorf("payload=%#v, want=%#v", got.Unboxed(), want)
		}
		return nil
	}
}

func structA() ast.Node {
	return ast.Init(ast.NewObject(StructA),
		ast.Bind(StructA, "N", i32(43)),
		ast.Bind(StructA, "M", i32(34)),
		ast.Bind(StructA, "Sf", str("sf")),
		ast.Bind(StructA, "Sp", str("sp")),
	)
}

func newDog(name string) tsys.Value {
	inst := tsys.NewInstance(Dog)
	inst.Set("Name", tsys.String(name))
	return tsys.ObjectValue(inst)
}

// All lists every scenario in a stable order.
func All() []Scenario {
	return []Scenario{
		{Name: "struct field read", Make: func() Case {
			a := ast.Param("a", StructA)
			return run(ast.Func(ast.Member(a, "N"), a), tsys.Int32(42), NewStructA(42, 0, "", ""))
		}},
		{Name: "struct ToString override", Make: func() Case {
			a := ast.Param("a", StructA)
			return run(ast.Func(ast.Call(a, "ToString"), a), tsys.String("42"), NewStructA(42, 0, "", ""))
		}},
		{Name: "struct Equals boxed default", Make: func() Case {
			a := ast.Param("a", StructA)
			body := ast.Call(a, "Equals", ast.ConvertTo(ast.DefaultOf(StructA), tsys.Object))
			return run(ast.Func(body, a), tsys.Bool(false), NewStructA(42, 0, "", ""))
		}},
		{Name: "default constructed struct", Make: func() Case {
			return run(ast.Func(ast.Member(ast.NewObject(StructA), "N")), tsys.Int32(0))
		}},
		{Name: "member init field", Make: func() Case {
			return run(ast.Func(ast.Member(structA(), "N")), tsys.Int32(43))
		}},
		{Name: "member init auto property", Make: func() Case {
			return run(ast.Func(ast.Member(structA(), "M")), tsys.Int32(34))
		}},
		{Name: "member init string field", Make: func() Case {
			return run(ast.Func(ast.Member(structA(), "Sf")), tsys.String("sf"))
		}},
		{Name: "member init string auto property", Make: func() Case {
			return run(ast.Func(ast.Member(structA(), "Sp")), tsys.String("sp"))
		}},
		{Name: "member init value", Make: func() Case {
			return run(ast.Func(structA()), NewStructA(43, 34, "sf", "sp"))
		}},
		{Name: "mutating call on host capture", Make: func() Case {
			cell := tsys.NewCell(SS, NewSS(""))
			a := ast.Param("a", tsys.StringType)
			l := ast.FuncOf(nil, ast.Call(ast.Capture("s", cell), "SetValue", a), a)
			return checked(run(l, tsys.Nil(), tsys.String("a")), func(tsys.Value) error {
				if got := cell.Load().Aggregate().Get("Value").Str; got != "a" {
					return fmt.Errorf("host s.Value=%q, want=%q", got, "a")
				}
				return nil
			})
		}},
		{Name: "int to interface", Make: func() Case {
			c := run(ast.Func(ast.ConvertTo(i32(12), tsys.IComparable)), tsys.Int32(12))
			return checked(c, boxOf(tsys.Int32Type, tsys.Int32(12)))
		}},
		{Name: "enum to interface", Make: func() Case {
			local := tsys.EnumValue(DateTimeKind, 2)
			c := run(ast.Func(ast.ConvertTo(ast.Const(local), tsys.IComparable)), local)
			return checked(c, boxOf(DateTimeKind, local))
		}},
		{Name: "struct to interface", Make: func() Case {
			init := ast.Init(ast.NewObject(SS), ast.Bind(SS, "Value", str("a")))
			c := run(ast.Func(ast.ConvertTo(init, tsys.IDisposable)), NewSS("a"))
			return checked(c, boxOf(SS, NewSS("a")))
		}},
		{Name: "dispose through interface copy", Make: func() Case {
			s := ast.Param("s", SS)
			d := ast.Param("d", tsys.IDisposable)
			body := ast.Seq([]*ast.Parameter{s, d},
				ast.Set(ast.Member(s, "Value"), str("live")),
				ast.Set(d, ast.ConvertTo(s, tsys.IDisposable)),
				ast.Call(d, "Dispose"),
				ast.Member(s, "Value"),
			)
			return run(ast.Func(body), tsys.String("live"))
		}},
		{Name: "unbox after interface call", Make: func() Case {
			d := ast.Param("d", tsys.IDisposable)
			body := ast.Seq([]*ast.Parameter{d},
				ast.Set(d, ast.ConvertTo(ast.NewObject(SS), tsys.IDisposable)),
				ast.Call(d, "Dispose"),
				ast.Member(ast.ConvertTo(d, SS), "Value"),
			)
			return run(ast.Func(body), tsys.String("disposed"))
		}},
		{Name: "copy on assignment", Make: func() Case {
			p := ast.Param("p", Point)
			q := ast.Param("q", Point)
			body := ast.Seq([]*ast.Parameter{p, q},
				ast.Set(ast.Member(p, "X"), i32(1)),
				ast.Set(q, p),
				ast.Set(ast.Member(q, "X"), i32(2)),
				ast.Member(p, "X"),
			)
			return run(ast.Func(body), tsys.Int32(1))
		}},
		{Name: "struct argument is copied", Make: func() Case {
			p := ast.Param("p", Point)
			v := ast.Param("v", Point)
			f := ast.Param("f", tsys.FuncOf([]*Type{Point}, tsys.Int32Type))
			inner := ast.Func(ast.Seq(nil, ast.Set(ast.Member(v, "X"), i32(9)), ast.Member(v, "X")), v)
			body := ast.Seq([]*ast.Parameter{f},
				ast.Set(f, inner),
				ast.Apply(f, p),
				ast.Member(p, "X"),
			)
			return run(ast.Func(body, p), tsys.Int32(1), NewPoint(1, 2))
		}},
		{Name: "caller argument untouched", Make: func() Case {
			p := ast.Param("p", Point)
			arg := NewPoint(1, 2)
			body := ast.Seq(nil, ast.Set(ast.Member(p, "X"), i32(7)), ast.Member(p, "X"))
			return checked(run(ast.Func(body, p), tsys.Int32(7), arg), func(got tsys.Value) error {
				if !tsys.Equal(got, tsys.Int32(7)) {
					return fmt.Errorf("got=%#v, want=7", got)
				}
				if x := arg.Aggregate().Get("X").AsInt(); x != 1 {
					return fmt.Errorf("caller's point changed: X=%d", x)
				}
				return nil
			})
		}},
		{Name: "in-place method call", Make: func() Case {
			p := ast.Param("p", Point)
			body := ast.Seq(nil, ast.Call(p, "Offset", i32(5)), ast.Member(p, "X"))
			return run(ast.Func(body, p), tsys.Int32(6), NewPoint(1, 2))
		}},
		{Name: "method call on a copy", Make: func() Case {
			p := ast.Param("p", Point)
			q := ast.Param("q", Point)
			body := ast.Seq([]*ast.Parameter{q}, ast.Set(q, p), ast.Call(q, "Offset", i32(5)), ast.Member(p, "X"))
			return run(ast.Func(body, p), tsys.Int32(1), NewPoint(1, 2))
		}},
		{Name: "array element in place", Make: func() Case {
			arr := ast.Param("arr", tsys.ArrayOf(Point))
			body := ast.Seq([]*ast.Parameter{arr},
				ast.Set(arr, ast.NewArrayBounds(Point, i32(2))),
				ast.Set(ast.Member(ast.Index(arr, i32(0)), "X"), i32(4)),
				ast.Member(ast.Index(arr, i32(0)), "X"),
			)
			return run(ast.Func(body), tsys.Int32(4))
		}},
		{Name: "array init and length", Make: func() Case {
			n := ast.Param("n", tsys.Int32Type)
			arr := ast.Param("arr", tsys.ArrayOf(tsys.Int32Type))
			body := ast.Seq([]*ast.Parameter{arr},
				ast.Set(arr, ast.NewArrayInit(tsys.Int32Type, n, ast.Bin(ast.OpAdd, n, i32(1)), i32(7))),
				ast.Bin(ast.OpAdd, ast.Index(arr, i32(1)), ast.Len(arr)),
			)
			return run(ast.Func(body, n), tsys.Int32(8), tsys.Int32(4))
		}},
		{Name: "virtual dispatch", Make: func() Case {
			a := ast.Param("a", Animal)
			return run(ast.Func(ast.Call(a, "Speak"), a), tsys.String("rex: woof"), newDog("rex"))
		}},
		{Name: "constructor and virtual call", Make: func() Case {
			return run(ast.Func(ast.Call(ast.NewObject(Dog, str("rex")), "Speak")), tsys.String("rex: woof"))
		}},
		{Name: "reference equality", Make: func() Case {
			a := ast.Param("a", Animal)
			b := ast.Param("b", Animal)
			body := ast.Seq([]*ast.Parameter{a, b},
				ast.Set(a, ast.NewObject(Dog, str("r"))),
				ast.Set(b, a),
				ast.Bin(ast.OpEqual, a, b),
			)
			return run(ast.Func(body), tsys.Bool(true))
		}},
		{Name: "conditional", Make: func() Case {
			n := ast.Param("n", tsys.Int32Type)
			body := ast.Cond(ast.Bin(ast.OpLess, n, i32(0)), ast.Un(ast.OpNegate, n), n)
			return run(ast.Func(body, n), tsys.Int32(5), tsys.Int32(-5))
		}},
		{Name: "short circuit", Make: func() Case {
			n := ast.Param("n", tsys.Int32Type)
			body := ast.Bin(ast.OpAndAlso,
				ast.Bin(ast.OpNotEqual, n, i32(0)),
				ast.Bin(ast.OpGreater, ast.Bin(ast.OpDiv, i32(10), n), i32(2)))
			return run(ast.Func(body, n), tsys.Bool(false), tsys.Int32(0))
		}},
		{Name: "modulo and negation", Make: func() Case {
			n := ast.Param("n", tsys.Int32Type)
			body := ast.Un(ast.OpNegate, ast.Bin(ast.OpMod, n, i32(4)))
			return run(ast.Func(body, n), tsys.Int32(-3), tsys.Int32(7))
		}},
		{Name: "widening", Make: func() Case {
			n := ast.Param("n", tsys.Int32Type)
			body := ast.Bin(ast.OpMul, ast.ConvertTo(n, tsys.Int64Type), i64(3))
			return run(ast.Func(body, n), tsys.Int64(21), tsys.Int32(7))
		}},
		{Name: "narrowing", Make: func() Case {
			d := ast.Param("d", tsys.Float64Type)
			return run(ast.Func(ast.ConvertTo(d, tsys.Int32Type), d), tsys.Int32(3), tsys.Float64(3.7))
		}},
		{Name: "enum to underlying", Make: func() Case {
			local := ast.Const(tsys.EnumValue(DateTimeKind, 2))
			return run(ast.Func(ast.ConvertTo(local, tsys.Int32Type)), tsys.Int32(2))
		}},
		{Name: "string concat length", Make: func() Case {
			s := ast.Param("s", tsys.StringType)
			body := ast.Member(ast.Bin(ast.OpAdd, s, str("!")), "Length")
			return run(ast.Func(body, s), tsys.Int32(4), tsys.String("abc"))
		}},
		{Name: "string equality", Make: func() Case {
			s := ast.Param("s", tsys.StringType)
			return run(ast.Func(ast.Bin(ast.OpEqual, s, str("x")), s), tsys.Bool(true), tsys.String("x"))
		}},
		{Name: "default of struct", Make: func() Case {
			return run(ast.Func(ast.DefaultOf(Point)), NewPoint(0, 0))
		}},
		{Name: "closure captures by value", Make: func() Case {
			x := ast.Param("x", tsys.Int32Type)
			f := ast.Param("f", tsys.FuncOf(nil, tsys.Int32Type))
			body := ast.Seq([]*ast.Parameter{x, f},
				ast.Set(x, i32(5)),
				ast.Set(f, ast.Func(ast.Bin(ast.OpAdd, x, i32(1)))),
				ast.Apply(f),
			)
			return run(ast.Func(body), tsys.Int32(6))
		}},
		{Name: "closure sees later write", Make: func() Case {
			x := ast.Param("x", tsys.Int32Type)
			f := ast.Param("f", tsys.FuncOf(nil, tsys.Int32Type))
			body := ast.Seq([]*ast.Parameter{x, f},
				ast.Set(x, i32(1)),
				ast.Set(f, ast.Func(x)),
				ast.Set(x, i32(2)),
				ast.Apply(f),
			)
			return run(ast.Func(body), tsys.Int32(2))
		}},
		{Name: "closure writes outer variable", Make: func() Case {
			x := ast.Param("x", tsys.Int32Type)
			g := ast.Param("g", tsys.FuncOf(nil, tsys.Int32Type))
			body := ast.Seq([]*ast.Parameter{x, g},
				ast.Set(x, i32(1)),
				ast.Set(g, ast.Func(ast.Set(x, ast.Bin(ast.OpAdd, x, i32(10))))),
				ast.Apply(g),
				x,
			)
			return run(ast.Func(body), tsys.Int32(11))
		}},
		{Name: "recursive delegate", Make: func() Case {
			n := ast.Param("n", tsys.Int32Type)
			f := ast.Param("fact", tsys.FuncOf([]*Type{tsys.Int32Type}, tsys.Int32Type))
			fact := ast.Func(ast.Cond(
				ast.Bin(ast.OpLessEqual, n, i32(1)),
				i32(1),
				ast.Bin(ast.OpMul, n, ast.Apply(f, ast.Bin(ast.OpSub, n, i32(1))))), n)
			body := ast.Seq([]*ast.Parameter{f}, ast.Set(f, fact), ast.Apply(f, i32(5)))
			return run(ast.Func(body), tsys.Int32(120))
		}},
		{Name: "nested closures", Make: func() Case {
			a := ast.Param("a", tsys.Int32Type)
			b := ast.Param("b", tsys.Int32Type)
			c := ast.Param("c", tsys.Int32Type)
			inner := ast.Func(ast.Bin(ast.OpAdd, ast.Bin(ast.OpAdd, a, b), c), c)
			outer := ast.Func(inner, b)
			body := ast.Apply(ast.Apply(outer, i32(2)), i32(3))
			return run(ast.Func(body, a), tsys.Int32(6), tsys.Int32(1))
		}},
		{Name: "captured struct read", Make: func() Case {
			p := ast.Param("p", Point)
			f := ast.Param("f", tsys.FuncOf(nil, tsys.Int32Type))
			body := ast.Seq([]*ast.Parameter{f}, ast.Set(f, ast.Func(ast.Member(p, "X"))), ast.Apply(f))
			return run(ast.Func(body, p), tsys.Int32(1), NewPoint(1, 2))
		}},
		{Name: "captured struct mutated in closure", Make: func() Case {
			p := ast.Param("p", Point)
			g := ast.Param("g", tsys.FuncOf(nil, nil))
			body := ast.Seq([]*ast.Parameter{g},
				ast.Set(g, ast.FuncOf(nil, ast.Set(ast.Member(p, "X"), i32(9)))),
				ast.Apply(g),
				ast.Member(p, "X"),
			)
			return run(ast.Func(body, p), tsys.Int32(9), NewPoint(1, 2))
		}},
		{Name: "shape boxes argument", Make: func() Case {
			o := ast.Param("o", tsys.Object)
			c := run(ast.Func(ast.Call(o, "ToString"), o), tsys.String("12"), tsys.Int32(12))
			c.Params = []*Type{tsys.Int32Type}
			return c
		}},
		{Name: "shape discards result", Make: func() Case {
			n := ast.Param("n", tsys.Int32Type)
			c := run(ast.Func(ast.Bin(ast.OpAdd, n, i32(1)), n), tsys.Nil(), tsys.Int32(1))
			c.Result = nil
			return c
		}},
		{Name: "user-defined operator", Unsupported: true, Make: func() Case {
			a := ast.Param("a", Money)
			b := ast.Param("b", Money)
			body := ast.BinWith(ast.OpAdd, a, b, MoneyOps.Method("Add", 2))
			return run(ast.Func(body, a, b), money(5), money(2), money(3))
		}},
		{Name: "user-defined conversion", Unsupported: true, Make: func() Case {
			c := ast.Param("c", tsys.Int64Type)
			body := ast.ConvertWith(c, Money, MoneyOps.Method("FromCents", 1))
			return run(ast.Func(body, c), money(250), tsys.Int64(250))
		}},
		{Name: "struct equality", Unsupported: true, Make: func() Case {
			a := ast.Param("a", Point)
			b := ast.Param("b", Point)
			return run(ast.Func(ast.Bin(ast.OpEqual, a, b), a, b), tsys.Bool(true), NewPoint(1, 2), NewPoint(1, 2))
		}},
	}
}
