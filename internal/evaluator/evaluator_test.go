package evaluator

import (
	"errors"
	"testing"

	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/scenarios"
	"github.com/funvibe/exprvm/internal/typesystem"
)

func bindCase(t *testing.T, c scenarios.Case) *Program {
	t.Helper()
	p, err := Bind(c.Lambda, c.Params, c.Result)
	if err != nil {
		t.Fatalf("bind error: %s\n%s", err, ast.Format(c.Lambda))
	}
	return p
}

func bindOwn(t *testing.T, root *ast.Lambda) *Program {
	t.Helper()
	params := make([]*typesystem.Type, len(root.Params))
	for i, p := range root.Params {
		params[i] = p.Type()
	}
	p, err := Bind(root, params, root.Result)
	if err != nil {
		t.Fatalf("bind error: %s", err)
	}
	return p
}

func testIntegerValue(t *testing.T, v typesystem.Value, expected int64) {
	t.Helper()
	if v.Tag != typesystem.TagInt {
		t.Fatalf("value is not an integer. got=%#v", v)
	}
	if v.AsInt() != expected {
		t.Errorf("value has wrong value. got=%d, want=%d", v.AsInt(), expected)
	}
}

func TestScenarios(t *testing.T) {
	for _, s := range scenarios.All() {
		t.Run(s.Name, func(t *testing.T) {
			c := s.Make()
			got, err := bindCase(t, c).Call(c.Args...)
			if err != nil {
				t.Fatalf("runtime error: %s\n%s", err, ast.Format(c.Lambda))
			}
			if err := c.Verify(got); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestRuntimeErrors(t *testing.T) {
	obj := ast.Param("o", typesystem.Object)
	n := ast.Param("n", typesystem.Int32Type)
	a := ast.Param("a", scenarios.Animal)
	arr := ast.Param("arr", typesystem.ArrayOf(typesystem.Int32Type))

	tests := []struct {
		name string
		root *ast.Lambda
		args []typesystem.Value
		want error
	}{
		{"downcast", ast.Func(ast.ConvertTo(obj, typesystem.StringType), obj),
			[]typesystem.Value{typesystem.BoxValue(typesystem.Int32(1))}, typesystem.ErrInvalidCast},
		{"unbox", ast.Func(ast.ConvertTo(obj, typesystem.Int32Type), obj),
			[]typesystem.Value{typesystem.String("x")}, typesystem.ErrInvalidCast},
		{"unbox other scalar", ast.Func(ast.ConvertTo(obj, typesystem.Int32Type), obj),
			[]typesystem.Value{typesystem.BoxValue(typesystem.Int64(1))}, typesystem.ErrInvalidCast},
		{"unbox null", ast.Func(ast.ConvertTo(obj, typesystem.Int32Type), obj),
			[]typesystem.Value{typesystem.NilOf(typesystem.Object)}, typesystem.ErrNullReference},
		{"divide", ast.Func(ast.Bin(ast.OpDiv, ast.Const(typesystem.Int32(10)), n), n),
			[]typesystem.Value{typesystem.Int32(0)}, typesystem.ErrDivideByZero},
		{"modulo", ast.Func(ast.Bin(ast.OpMod, ast.Const(typesystem.Int32(10)), n), n),
			[]typesystem.Value{typesystem.Int32(0)}, typesystem.ErrDivideByZero},
		{"null receiver", ast.Func(ast.Call(a, "Speak"), a),
			[]typesystem.Value{typesystem.NilOf(scenarios.Animal)}, typesystem.ErrNullReference},
		{"null field", ast.Func(ast.Member(a, "Name"), a),
			[]typesystem.Value{typesystem.NilOf(scenarios.Animal)}, typesystem.ErrNullReference},
		{"index", ast.Func(ast.Index(arr, ast.Const(typesystem.Int32(3))), arr),
			[]typesystem.Value{typesystem.ArrayValue(typesystem.NewArray(typesystem.Int32Type, 2))}, typesystem.ErrIndexOutOfRange},
		{"negative length", ast.Func(ast.Len(ast.NewArrayBounds(typesystem.Int32Type, n)), n),
			[]typesystem.Value{typesystem.Int32(-1)}, typesystem.ErrIndexOutOfRange},
		{"unbound variable", ast.Func(ast.Param("ghost", typesystem.Int32Type)), nil, ErrUnbound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bindOwn(t, tt.root).Call(tt.args...)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var re *RuntimeError
			if !errors.As(err, &re) {
				t.Fatalf("expected RuntimeError, got %T", err)
			}
			if re.Function != "main" {
				t.Errorf("error not located: %s", re)
			}
		})
	}
}

func TestCallErrors(t *testing.T) {
	n := ast.Param("n", typesystem.Int32Type)
	p := bindOwn(t, ast.Func(n, n))
	if _, err := p.Call(); !errors.Is(err, typesystem.ErrArity) {
		t.Errorf("expected ErrArity, got %v", err)
	}
	if _, err := p.Call(typesystem.Int64(1)); !errors.Is(err, typesystem.ErrInvalidCast) {
		t.Errorf("expected ErrInvalidCast, got %v", err)
	}
}

func TestBindShapes(t *testing.T) {
	n := ast.Param("n", typesystem.Int32Type)
	s := ast.Param("s", scenarios.SS)
	tests := []struct {
		name   string
		root   *ast.Lambda
		params []*typesystem.Type
		result *typesystem.Type
		ok     bool
	}{
		{"own shape", ast.Func(n, n), []*typesystem.Type{typesystem.Int32Type}, typesystem.Int32Type, true},
		{"widened result", ast.Func(n, n), []*typesystem.Type{typesystem.Int32Type}, typesystem.Int64Type, true},
		{"boxed result", ast.Func(n, n), []*typesystem.Type{typesystem.Int32Type}, typesystem.Object, true},
		{"discarded result", ast.Func(n, n), []*typesystem.Type{typesystem.Int32Type}, nil, true},
		{"wrong arity", ast.Func(n, n), nil, typesystem.Int32Type, false},
		{"narrowed parameter", ast.Func(n, n), []*typesystem.Type{typesystem.Int64Type}, typesystem.Int32Type, false},
		{"void lambda for a result", ast.FuncOf(nil, ast.Call(s, "Dispose"), s), []*typesystem.Type{scenarios.SS}, typesystem.Int32Type, false},
		{"no lambda", nil, nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Bind(tt.root, tt.params, tt.result)
			if tt.ok && err != nil {
				t.Fatalf("bind error: %s", err)
			}
			if !tt.ok && !errors.Is(err, ErrShape) {
				t.Fatalf("expected ErrShape, got %v", err)
			}
		})
	}
}

func TestWidenedResult(t *testing.T) {
	n := ast.Param("n", typesystem.Int32Type)
	p, err := Bind(ast.Func(n, n), []*typesystem.Type{typesystem.Int32Type}, typesystem.Int64Type)
	if err != nil {
		t.Fatalf("bind error: %s", err)
	}
	got, err := p.Call(typesystem.Int32(-7))
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	if got.Type != typesystem.Int64Type {
		t.Fatalf("result type = %s, want int64", got.Type)
	}
	testIntegerValue(t, got, -7)
}

func TestProgramCallsDoNotShareStorage(t *testing.T) {
	s, _ := scenarios.Find("member init value")
	c := s.Make()
	p := bindCase(t, c)
	first, err := p.Call()
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	first.Aggregate().Set("N", typesystem.Int32(-1))
	second, err := p.Call()
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	testIntegerValue(t, second.Aggregate().Get("N"), 43)
}

func TestCallerArgumentUntouched(t *testing.T) {
	// p => { p.Offset(5); p.X }
	pt := ast.Param("p", scenarios.Point)
	root := ast.Func(ast.Seq(nil, ast.Call(pt, "Offset", ast.Const(typesystem.Int32(5))), ast.Member(pt, "X")), pt)
	arg := scenarios.NewPoint(1, 1)
	got, err := bindOwn(t, root).Call(arg)
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	testIntegerValue(t, got, 6)
	testIntegerValue(t, arg.Aggregate().Get("X"), 1)
}

func TestHostCellIsShared(t *testing.T) {
	cell := typesystem.NewCell(typesystem.Int32Type, typesystem.Int32(0))
	counter := ast.Capture("counter", cell)
	p := bindOwn(t, ast.Func(ast.Set(counter, ast.Bin(ast.OpAdd, counter, ast.Const(typesystem.Int32(1))))))
	for i := 1; i <= 3; i++ {
		got, err := p.Call()
		if err != nil {
			t.Fatalf("runtime error: %s", err)
		}
		testIntegerValue(t, got, int64(i))
	}
	testIntegerValue(t, cell.Load(), 3)
}

func TestReturnedClosureKeepsCell(t *testing.T) {
	x := ast.Param("x", typesystem.Int32Type)
	inc := ast.Param("inc", typesystem.FuncOf(nil, typesystem.Int32Type))
	body := ast.Seq([]*ast.Parameter{x, inc},
		ast.Set(inc, ast.Func(ast.Set(x, ast.Bin(ast.OpAdd, x, ast.Const(typesystem.Int32(1)))))),
		inc,
	)
	got, err := bindOwn(t, ast.Func(body)).Call()
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	fn := got.Callable()
	if fn == nil {
		t.Fatalf("result is not callable. got=%#v", got)
	}
	for i := 1; i <= 2; i++ {
		v, err := fn.Call()
		if err != nil {
			t.Fatalf("closure call failed: %s", err)
		}
		testIntegerValue(t, v, int64(i))
	}
}

func TestCallDepthLimit(t *testing.T) {
	n := ast.Param("n", typesystem.Int32Type)
	f := ast.Param("f", typesystem.FuncOf([]*typesystem.Type{typesystem.Int32Type}, typesystem.Int32Type))
	loop := ast.Func(ast.Apply(f, n), n)
	root := ast.Func(ast.Seq([]*ast.Parameter{f}, ast.Set(f, loop), ast.Apply(f, ast.Const(typesystem.Int32(1)))))

	ev := New()
	ev.MaxDepth = 64
	p, err := ev.Bind(root, nil, root.Result)
	if err != nil {
		t.Fatalf("bind error: %s", err)
	}
	_, err = p.Call()
	if !errors.Is(err, typesystem.ErrCallDepth) {
		t.Fatalf("expected ErrCallDepth, got %v", err)
	}
	var re *RuntimeError
	if !errors.As(err, &re) || re.Function == "main" {
		t.Errorf("expected the fault inside the nested closure, got %v", err)
	}
}

func TestHostCallableInvoked(t *testing.T) {
	ft := typesystem.FuncOf([]*typesystem.Type{typesystem.Int32Type}, typesystem.Int32Type)
	double := &hostFunc{fn: func(args []typesystem.Value) typesystem.Value {
		return typesystem.Int32(int32(args[0].AsInt() * 2))
	}}
	f := ast.Param("f", ft)
	root := ast.Func(ast.Apply(f, ast.Const(typesystem.Int32(21))), f)
	got, err := bindOwn(t, root).Call(typesystem.FuncValue(ft, double))
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	testIntegerValue(t, got, 42)
	if double.calls != 1 {
		t.Errorf("host function called %d times, want 1", double.calls)
	}
}

type hostFunc struct {
	fn    func([]typesystem.Value) typesystem.Value
	calls int
}

func (h *hostFunc) Call(args ...typesystem.Value) (typesystem.Value, error) {
	h.calls++
	return h.fn(args), nil
}

func TestEnvironmentScopes(t *testing.T) {
	x := ast.Param("x", typesystem.Int32Type)
	y := ast.Param("y", typesystem.Int32Type)
	outer := NewEnvironment()
	outer.Declare(x, typesystem.Int32(1))
	inner := NewEnclosedEnvironment(outer)
	inner.Declare(y, typesystem.Int32(2))

	if cell, ok := inner.Get(x); !ok {
		t.Fatal("x not visible from the inner scope")
	} else {
		testIntegerValue(t, cell.Load(), 1)
	}
	if _, ok := outer.Get(y); ok {
		t.Error("y leaked into the outer scope")
	}
	if inner.Len() != 1 || outer.Len() != 1 {
		t.Errorf("scope sizes = %d, %d, want 1, 1", inner.Len(), outer.Len())
	}

	// a redeclaration shadows without touching the outer cell
	inner.Declare(x, typesystem.Int32(3))
	cell, _ := inner.Get(x)
	testIntegerValue(t, cell.Load(), 3)
	cell, _ = outer.Get(x)
	testIntegerValue(t, cell.Load(), 1)
}
