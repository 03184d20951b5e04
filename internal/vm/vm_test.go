package vm

import (
	"errors"
	"strings"
	"testing"

	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/config"
	"github.com/funvibe/exprvm/internal/scenarios"
	"github.com/funvibe/exprvm/internal/typesystem"
)

func compileCase(t *testing.T, opts config.Options, c scenarios.Case) *Artifact {
	t.Helper()
	art, err := NewCompiler(opts).Compile(c.Lambda, Shape{Params: c.Params, Result: c.Result})
	if err != nil {
		t.Fatalf("compilation error: %s\n%s", err, ast.Format(c.Lambda))
	}
	return art
}

func runCase(t *testing.T, opts config.Options, c scenarios.Case) typesystem.Value {
	t.Helper()
	art := compileCase(t, opts, c)
	result, err := art.Call(c.Args...)
	if err != nil {
		t.Fatalf("runtime error: %s\n%s", err, art.Disassemble())
	}
	return result
}

func mustScenario(t *testing.T, name string) scenarios.Case {
	t.Helper()
	s, ok := scenarios.Find(name)
	if !ok {
		t.Fatalf("no scenario %q", name)
	}
	return s.Make()
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
	variants := []struct {
		name string
		opts func() config.Options
	}{
		{"default", config.Debug},
		{"cells for every capture", func() config.Options {
			o := config.Debug()
			o.InlineReadOnlyCaptures = false
			return o
		}},
		{"no slot reuse", func() config.Options {
			o := config.Debug()
			o.ReuseSlots = false
			return o
		}},
	}
	for _, s := range scenarios.All() {
		if s.Unsupported {
			continue
		}
		for _, v := range variants {
			t.Run(s.Name+"/"+v.name, func(t *testing.T) {
				c := s.Make()
				got := runCase(t, v.opts(), c)
				if err := c.Verify(got); err != nil {
					t.Error(err)
				}
			})
		}
	}
}

func TestUnsupportedScenarios(t *testing.T) {
	for _, s := range scenarios.All() {
		if !s.Unsupported {
			continue
		}
		t.Run(s.Name, func(t *testing.T) {
			c := s.Make()
			art, err := Compile(c.Lambda, Shape{Params: c.Params, Result: c.Result})
			if art != nil {
				t.Fatal("expected no artifact")
			}
			if !IsUnsupported(err) || IsInternal(err) {
				t.Fatalf("expected Unsupported, got %v", err)
			}
		})
	}
}

func TestUnsupportedTrees(t *testing.T) {
	point := scenarios.Point
	tests := []struct {
		name   string
		build  func() *ast.Lambda
		kind   ast.Kind
		reason string
	}{
		{
			name: "member of a temporary",
			build: func() *ast.Lambda {
				return ast.Func(ast.Set(ast.Member(ast.DefaultOf(point), "X"), ast.Const(typesystem.Int32(1))))
			},
			kind:   ast.KindAssign,
			reason: "non-addressable",
		},
		{
			name: "too many locals",
			build: func() *ast.Lambda {
				vars := make([]*ast.Parameter, config.MaxLocals+1)
				for i := range vars {
					vars[i] = ast.Param("v", typesystem.Int32Type)
				}
				return ast.Func(ast.Seq(vars, ast.Const(typesystem.Int32(0))))
			},
			kind:   ast.KindBlock,
			reason: "too many locals",
		},
		{
			name: "unbound variable",
			build: func() *ast.Lambda {
				return ast.Func(ast.Param("ghost", typesystem.Int32Type))
			},
			kind:   ast.KindParameter,
			reason: "unbound",
		},
		{
			name: "void lambda for a result shape",
			build: func() *ast.Lambda {
				s := ast.Param("s", scenarios.SS)
				return ast.FuncOf(nil, ast.Call(s, "Dispose"), s)
			},
			kind:   ast.KindLambda,
			reason: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := tt.build()
			shape := ShapeOf(root)
			if shape.Result == nil {
				shape.Result = typesystem.Int32Type
			}
			_, err := Compile(root, shape)
			var ce *CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("expected CompileError, got %v", err)
			}
			if ce.Kind != Unsupported {
				t.Fatalf("expected Unsupported, got %s", ce)
			}
			if ce.NodeKind != tt.kind {
				t.Errorf("node kind = %s, want %s", ce.NodeKind, tt.kind)
			}
			if !strings.Contains(ce.Reason, tt.reason) {
				t.Errorf("reason %q does not mention %q", ce.Reason, tt.reason)
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
			[]typesystem.Value{typesystem.BoxValue(typesystem.Int32(1))}, ErrInvalidCast},
		{"unbox", ast.Func(ast.ConvertTo(obj, typesystem.Int32Type), obj),
			[]typesystem.Value{typesystem.String("x")}, ErrInvalidCast},
		{"unbox other scalar", ast.Func(ast.ConvertTo(obj, typesystem.Int32Type), obj),
			[]typesystem.Value{typesystem.BoxValue(typesystem.Int64(1))}, ErrInvalidCast},
		{"divide", ast.Func(ast.Bin(ast.OpDiv, ast.Const(typesystem.Int32(10)), n), n),
			[]typesystem.Value{typesystem.Int32(0)}, ErrDivideByZero},
		{"null receiver", ast.Func(ast.Call(a, "Speak"), a),
			[]typesystem.Value{typesystem.NilOf(scenarios.Animal)}, ErrNullReference},
		{"index", ast.Func(ast.Index(arr, ast.Const(typesystem.Int32(3))), arr),
			[]typesystem.Value{typesystem.ArrayValue(typesystem.NewArray(typesystem.Int32Type, 2))}, ErrIndexOutOfRange},
		{"arity", ast.Func(n, n), nil, ErrArity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			art, err := NewCompiler(config.Debug()).Compile(tt.root, ShapeOf(tt.root))
			if err != nil {
				t.Fatalf("compilation error: %s", err)
			}
			_, err = art.Call(tt.args...)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if tt.want == ErrArity {
				return
			}
			var re *RuntimeError
			if !errors.As(err, &re) {
				t.Fatalf("expected RuntimeError, got %T", err)
			}
			if re.Function != "main" || re.IP < 0 {
				t.Errorf("error not located: %s", re)
			}
		})
	}
}

func TestArgumentTypeChecked(t *testing.T) {
	n := ast.Param("n", typesystem.Int32Type)
	root := ast.Func(n, n)
	art, err := Compile(root, ShapeOf(root))
	if err != nil {
		t.Fatalf("compilation error: %s", err)
	}
	if _, err := art.Call(typesystem.Int64(1)); !errors.Is(err, ErrInvalidCast) {
		t.Errorf("expected ErrInvalidCast, got %v", err)
	}
}

func TestArtifactCallsDoNotShareStorage(t *testing.T) {
	c := mustScenario(t, "member init value")
	art := compileCase(t, config.Debug(), c)
	first, err := art.Call()
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	first.Aggregate().Set("N", typesystem.Int32(-1))
	second, err := art.Call()
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	testIntegerValue(t, second.Aggregate().Get("N"), 43)
}

func TestHostCellIsShared(t *testing.T) {
	cell := typesystem.NewCell(typesystem.Int32Type, typesystem.Int32(0))
	counter := ast.Capture("counter", cell)
	root := ast.Func(ast.Set(counter, ast.Bin(ast.OpAdd, counter, ast.Const(typesystem.Int32(1)))))
	art, err := NewCompiler(config.Debug()).Compile(root, ShapeOf(root))
	if err != nil {
		t.Fatalf("compilation error: %s", err)
	}
	if len(art.HostCells) != 1 || art.HostCells[0] != cell {
		t.Fatalf("host cells = %v", art.HostCells)
	}
	for i := 1; i <= 3; i++ {
		got, err := art.Call()
		if err != nil {
			t.Fatalf("runtime error: %s", err)
		}
		testIntegerValue(t, got, int64(i))
	}
	testIntegerValue(t, cell.Load(), 3)
}

func TestReturnedClosureKeepsCell(t *testing.T) {
	// () => { x = 0; inc = () => x = x + 1; inc }
	x := ast.Param("x", typesystem.Int32Type)
	fnType := typesystem.FuncOf(nil, typesystem.Int32Type)
	inc := ast.Param("inc", fnType)
	body := ast.Seq([]*ast.Parameter{x, inc},
		ast.Set(inc, ast.Func(ast.Set(x, ast.Bin(ast.OpAdd, x, ast.Const(typesystem.Int32(1)))))),
		inc,
	)
	root := ast.Func(body)
	art, err := NewCompiler(config.Debug()).Compile(root, ShapeOf(root))
	if err != nil {
		t.Fatalf("compilation error: %s", err)
	}
	got, err := art.Call()
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	fn := got.Callable()
	for i := 1; i <= 2; i++ {
		v, err := fn.Call()
		if err != nil {
			t.Fatalf("closure call failed: %s", err)
		}
		testIntegerValue(t, v, int64(i))
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	for _, name := range []string{"recursive delegate", "member init value", "dispose through interface copy"} {
		t.Run(name, func(t *testing.T) {
			c := mustScenario(t, name)
			a := compileCase(t, config.Debug(), c)
			b := compileCase(t, config.Debug(), c)
			if a.Disassemble() != b.Disassemble() {
				t.Errorf("disassembly differs:\n%s\n---\n%s", a.Disassemble(), b.Disassemble())
			}
			if a.ID == b.ID {
				t.Error("artifacts should have distinct IDs")
			}
		})
	}
}

func TestCallDepthLimit(t *testing.T) {
	// fact without a base case recurses until the machine gives up
	n := ast.Param("n", typesystem.Int32Type)
	f := ast.Param("f", typesystem.FuncOf([]*typesystem.Type{typesystem.Int32Type}, typesystem.Int32Type))
	loop := ast.Func(ast.Apply(f, n), n)
	root := ast.Func(ast.Seq([]*ast.Parameter{f}, ast.Set(f, loop), ast.Apply(f, ast.Const(typesystem.Int32(1)))))
	art, err := Compile(root, ShapeOf(root))
	if err != nil {
		t.Fatalf("compilation error: %s", err)
	}
	if _, err := art.Call(); !errors.Is(err, ErrCallDepth) {
		t.Errorf("expected ErrCallDepth, got %v", err)
	}
}
