package backend

import (
	"errors"
	"testing"

	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/cache"
	"github.com/funvibe/exprvm/internal/config"
	"github.com/funvibe/exprvm/internal/evaluator"
	"github.com/funvibe/exprvm/internal/scenarios"
	"github.com/funvibe/exprvm/internal/typesystem"
	"github.com/funvibe/exprvm/internal/vm"
)

func shapeOf(c scenarios.Case) vm.Shape {
	return vm.Shape{Params: c.Params, Result: c.Result}
}

func TestBackendsAgree(t *testing.T) {
	backends := []Backend{
		NewVM(config.Debug(), nil),
		NewVM(config.Default(), cache.New(nil)),
		NewTreeWalk(),
		NewFast(config.Debug(), nil),
	}
	for _, s := range scenarios.All() {
		for _, b := range backends {
			t.Run(s.Name+"/"+b.Name(), func(t *testing.T) {
				c := s.Make()
				fn, err := b.Prepare(c.Lambda, shapeOf(c))
				if _, compiles := b.(*VMBackend); compiles && s.Unsupported {
					if !vm.IsUnsupported(err) {
						t.Fatalf("expected Unsupported, got %v", err)
					}
					return
				}
				if err != nil {
					t.Fatalf("prepare error: %s", err)
				}
				got, err := fn.Call(c.Args...)
				if err != nil {
					t.Fatalf("runtime error: %s", err)
				}
				if err := c.Verify(got); err != nil {
					t.Error(err)
				}
			})
		}
	}
}

func TestCompileFast(t *testing.T) {
	for _, s := range scenarios.All() {
		t.Run(s.Name, func(t *testing.T) {
			c := s.Make()
			fn, err := CompileFast(c.Lambda, shapeOf(c))
			if err != nil {
				t.Fatalf("CompileFast error: %s", err)
			}
			switch fn.(type) {
			case *vm.Artifact:
				if s.Unsupported {
					t.Error("declined tree was compiled")
				}
			case *evaluator.Program:
				if !s.Unsupported {
					t.Error("supported tree fell back to the interpreter")
				}
			default:
				t.Fatalf("unexpected callable %T", fn)
			}
		})
	}
}

func TestCompileFastReturnNil(t *testing.T) {
	s, _ := scenarios.Find("user-defined conversion")
	c := s.Make()
	fn, err := CompileFast(c.Lambda, shapeOf(c), IfFastFailedReturnNil())
	if err != nil || fn != nil {
		t.Fatalf("expected nil, nil. got=%v, %v", fn, err)
	}

	s, _ = scenarios.Find("conditional")
	c = s.Make()
	fn, err = CompileFast(c.Lambda, shapeOf(c), IfFastFailedReturnNil())
	if err != nil || fn == nil {
		t.Fatalf("expected an artifact. got=%v, %v", fn, err)
	}
}

func TestCompileFastThroughCache(t *testing.T) {
	cc := cache.New(vm.NewCompiler(config.Debug()))
	s, _ := scenarios.Find("struct equality")
	for i := 0; i < 2; i++ {
		c := s.Make()
		fn, err := CompileFast(c.Lambda, shapeOf(c), WithCache(cc))
		if err != nil {
			t.Fatalf("CompileFast error: %s", err)
		}
		got, err := fn.Call(c.Args...)
		if err != nil {
			t.Fatalf("runtime error: %s", err)
		}
		if err := c.Verify(got); err != nil {
			t.Error(err)
		}
	}
	// the declined tree is remembered as declined
	if st := cc.Stats(); st.Compiles != 1 || st.Hits != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestFallbackKeepsShapeErrors(t *testing.T) {
	// the compiler declines the shape; the interpreter rejects it too
	n := ast.Param("n", typesystem.Int32Type)
	root := ast.Func(n, n)
	shape := vm.Shape{Params: []*typesystem.Type{typesystem.Int32Type, typesystem.Int32Type}, Result: typesystem.Int32Type}
	fn, err := CompileFast(root, shape)
	if fn != nil || !errors.Is(err, evaluator.ErrShape) {
		t.Fatalf("expected ErrShape, got %v, %v", fn, err)
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"vm", "treewalk", "fast"} {
		b, err := ByName(name, config.Default())
		if err != nil {
			t.Fatalf("ByName(%q): %s", name, err)
		}
		if b.Name() != name {
			t.Errorf("ByName(%q).Name() = %q", name, b.Name())
		}
	}
	if _, err := ByName("jit", config.Default()); err == nil {
		t.Error("expected an error for an unknown backend")
	}
}
