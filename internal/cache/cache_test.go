package cache

import (
	"testing"

	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/config"
	"github.com/funvibe/exprvm/internal/scenarios"
	"github.com/funvibe/exprvm/internal/typesystem"
	"github.com/funvibe/exprvm/internal/vm"
	"golang.org/x/sync/errgroup"
)

func scenario(t *testing.T, name string) scenarios.Case {
	t.Helper()
	s, ok := scenarios.Find(name)
	if !ok {
		t.Fatalf("no scenario %q", name)
	}
	return s.Make()
}

func shapeOf(c scenarios.Case) vm.Shape {
	return vm.Shape{Params: c.Params, Result: c.Result}
}

func TestCompileOnce(t *testing.T) {
	c := New(vm.NewCompiler(config.Debug()))
	sc := scenario(t, "recursive delegate")

	first, err := c.Compile(sc.Lambda, shapeOf(sc))
	if err != nil {
		t.Fatalf("compilation error: %s", err)
	}
	second, err := c.Compile(sc.Lambda, shapeOf(sc))
	if err != nil {
		t.Fatalf("compilation error: %s", err)
	}
	if first != second {
		t.Error("expected the memoized artifact")
	}
	want := Stats{Hits: 1, Misses: 1, Compiles: 1}
	if got := c.Stats(); got != want {
		t.Errorf("stats = %+v, want %+v", got, want)
	}
	got, err := second.Call(sc.Args...)
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	if err := sc.Verify(got); err != nil {
		t.Error(err)
	}
}

func TestStructurallyEqualTreesShareEntry(t *testing.T) {
	c := New(nil)
	build := func() *ast.Lambda {
		n := ast.Param("n", typesystem.Int32Type)
		return ast.Func(ast.Bin(ast.OpMul, n, ast.Const(typesystem.Int32(3))), n)
	}
	a, b := build(), build()
	artA, err := c.Compile(a, vm.ShapeOf(a))
	if err != nil {
		t.Fatalf("compilation error: %s", err)
	}
	artB, err := c.Compile(b, vm.ShapeOf(b))
	if err != nil {
		t.Fatalf("compilation error: %s", err)
	}
	if artA != artB || c.Len() != 1 {
		t.Errorf("equal trees compiled separately, %d entries", c.Len())
	}
}

func TestShapeIsPartOfKey(t *testing.T) {
	c := New(nil)
	n := ast.Param("n", typesystem.Int32Type)
	root := ast.Func(n, n)
	shapes := []vm.Shape{
		{Params: []*typesystem.Type{typesystem.Int32Type}, Result: typesystem.Int32Type},
		{Params: []*typesystem.Type{typesystem.Int32Type}, Result: typesystem.Int64Type},
		{Params: []*typesystem.Type{typesystem.Int32Type}},
	}
	for _, s := range shapes {
		if _, err := c.Compile(root, s); err != nil {
			t.Fatalf("compilation error for %s: %s", s, err)
		}
	}
	if c.Len() != len(shapes) {
		t.Errorf("entries = %d, want %d", c.Len(), len(shapes))
	}
}

func TestUnsupportedIsMemoized(t *testing.T) {
	c := New(nil)
	sc := scenario(t, "user-defined operator")
	for i := 0; i < 3; i++ {
		art, err := c.Compile(sc.Lambda, shapeOf(sc))
		if art != nil || !vm.IsUnsupported(err) {
			t.Fatalf("expected Unsupported, got %v, %v", art, err)
		}
	}
	if got := c.Stats().Compiles; got != 1 {
		t.Errorf("compiles = %d, want 1", got)
	}
}

func TestConcurrentCompileIsSingleFlight(t *testing.T) {
	c := New(nil)
	sc := scenario(t, "nested closures")
	shape := shapeOf(sc)

	var g errgroup.Group
	arts := make([]*vm.Artifact, 32)
	for i := range arts {
		i := i
		g.Go(func() error {
			art, err := c.Compile(sc.Lambda, shape)
			arts[i] = art
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("compilation error: %s", err)
	}
	for i, art := range arts {
		if art != arts[0] {
			t.Fatalf("caller %d got a different artifact", i)
		}
	}
	if got := c.Stats().Compiles; got != 1 {
		t.Errorf("compiles = %d, want 1", got)
	}
}

func TestPurge(t *testing.T) {
	c := New(nil)
	sc := scenario(t, "conditional")
	if _, err := c.Compile(sc.Lambda, shapeOf(sc)); err != nil {
		t.Fatalf("compilation error: %s", err)
	}
	c.Purge()
	if c.Len() != 0 || c.Stats() != (Stats{}) {
		t.Errorf("purge left %d entries, stats %+v", c.Len(), c.Stats())
	}
	if _, err := c.Compile(sc.Lambda, shapeOf(sc)); err != nil {
		t.Fatalf("compilation error: %s", err)
	}
	if got := c.Stats().Compiles; got != 1 {
		t.Errorf("compiles after purge = %d, want 1", got)
	}
}
