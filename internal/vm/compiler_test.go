package vm

import (
	"strings"
	"testing"

	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/config"
	"github.com/funvibe/exprvm/internal/scenarios"
	"github.com/funvibe/exprvm/internal/typesystem"
)

func expectFault(t *testing.T, what string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		f, ok := r.(internalFault)
		if !ok {
			t.Fatalf("expected %s fault, got %v", what, r)
		}
		if f.what != what {
			t.Errorf("fault = %s, want %s", f.what, what)
		}
	}()
	fn()
}

// opcodesOf lists the instructions of fn and of every function it creates.
func opcodesOf(fn *CompiledFunction) []Opcode {
	var ops []Opcode
	code := fn.Chunk.Code
	for offset := 0; offset < len(code); {
		op := Opcode(code[offset])
		ops = append(ops, op)
		if op == OP_CLOSURE {
			if nested, ok := fn.Chunk.Constants[fn.Chunk.ReadU16(offset+1)].(*CompiledFunction); ok {
				ops = append(ops, opcodesOf(nested)...)
			}
		}
		offset += op.Size()
	}
	return ops
}

func hasOp(ops []Opcode, op Opcode) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

func TestFrameAllocatorReuse(t *testing.T) {
	f := newFrameAllocator(true)
	param := f.allocate(typesystem.Int32Type, "p", CaptureNone, 0)

	first := f.openScope()
	a := f.allocate(typesystem.Int32Type, "a", CaptureNone, first)
	f.release(first)

	second := f.openScope()
	b := f.allocate(typesystem.Int32Type, "b", CaptureNone, second)
	s := f.allocate(typesystem.StringType, "s", CaptureNone, second)
	cell := f.allocate(typesystem.Int32Type, "c", CaptureByReference, second)

	if param.Index != 0 {
		t.Errorf("param index = %d, want 0", param.Index)
	}
	if b.Index != a.Index {
		t.Errorf("sibling scope got slot %d, want reused slot %d", b.Index, a.Index)
	}
	if s.Index == a.Index || cell.Index == a.Index {
		t.Error("slots of a different type or capture state must not be shared")
	}
	if got := f.count(); got != 4 {
		t.Errorf("count = %d, want 4", got)
	}
}

func TestFrameAllocatorWithoutReuse(t *testing.T) {
	f := newFrameAllocator(false)
	for i := 0; i < 3; i++ {
		scope := f.openScope()
		f.allocate(typesystem.Int32Type, "v", CaptureNone, scope)
		f.release(scope)
	}
	if got := f.count(); got != 3 {
		t.Errorf("count = %d, want 3", got)
	}
}

func TestScopeViolation(t *testing.T) {
	f := newFrameAllocator(true)
	outer := f.openScope()
	f.openScope()
	expectFault(t, faultScopeViolation, func() { f.release(outer) })

	g := newFrameAllocator(true)
	expectFault(t, faultScopeViolation, func() { g.release(0) })

	h := newFrameAllocator(true)
	closed := h.openScope()
	h.release(closed)
	expectFault(t, faultScopeViolation, func() {
		h.allocate(typesystem.Int32Type, "late", CaptureNone, closed)
	})
}

func TestStackTrackerUnderflow(t *testing.T) {
	var s stackTracker
	s.push(owned(typesystem.Int32Type))
	s.duplicateTop()
	if s.depth() != 2 || s.max != 2 {
		t.Fatalf("depth=%d max=%d, want 2 and 2", s.depth(), s.max)
	}
	s.pop()
	s.pop()
	expectFault(t, faultStackUnderflow, func() { s.pop() })
}

func TestLocalCountReusesSiblingScopes(t *testing.T) {
	build := func() *ast.Lambda {
		a := ast.Param("a", typesystem.Int32Type)
		b := ast.Param("b", typesystem.Int32Type)
		return ast.Func(ast.Seq(nil,
			ast.Seq([]*ast.Parameter{a}, ast.Set(a, ast.Const(typesystem.Int32(1))), a),
			ast.Seq([]*ast.Parameter{b}, ast.Set(b, ast.Const(typesystem.Int32(2))), b),
		))
	}
	tests := []struct {
		reuse bool
		want  int
	}{
		{true, 1},
		{false, 2},
	}
	for _, tt := range tests {
		opts := config.Debug()
		opts.ReuseSlots = tt.reuse
		root := build()
		art, err := NewCompiler(opts).Compile(root, ShapeOf(root))
		if err != nil {
			t.Fatalf("compilation error: %s", err)
		}
		if got := art.Main.LocalCount; got != tt.want {
			t.Errorf("reuse=%v: LocalCount = %d, want %d", tt.reuse, got, tt.want)
		}
		result, err := art.Call()
		if err != nil {
			t.Fatalf("runtime error: %s", err)
		}
		testIntegerValue(t, result, 2)
	}
}

func TestCaptureModes(t *testing.T) {
	tests := []struct {
		scenario string
		variable string
		inline   bool
		want     CaptureState
		hoisted  bool
	}{
		{"closure captures by value", "x", true, CaptureByValue, false},
		{"closure captures by value", "x", false, CaptureByReference, false},
		{"closure sees later write", "x", true, CaptureByReference, false},
		{"closure writes outer variable", "x", true, CaptureByReference, false},
		{"recursive delegate", "fact", true, CaptureByReference, false},
		{"captured struct read", "p", true, CaptureByValue, false},
		{"captured struct mutated in closure", "p", true, CaptureByReference, true},
		{"copy on assignment", "p", true, CaptureNone, false},
		{"nested closures", "a", true, CaptureByValue, false},
	}
	for _, tt := range tests {
		t.Run(tt.scenario+"/"+tt.variable, func(t *testing.T) {
			c := mustScenario(t, tt.scenario)
			analysis := analyzeCaptures(c.Lambda, tt.inline)
			var found *variable
			for _, v := range analysis.decls {
				if v.param.Name == tt.variable {
					found = v
				}
			}
			if found == nil {
				t.Fatalf("variable %s not declared", tt.variable)
			}
			if found.mode != tt.want {
				t.Errorf("mode = %s, want %s", found.mode, tt.want)
			}
			if found.Hoisted() != tt.hoisted {
				t.Errorf("Hoisted() = %v, want %v", found.Hoisted(), tt.hoisted)
			}
		})
	}
}

func TestTransitiveCaptures(t *testing.T) {
	c := mustScenario(t, "nested closures")
	analysis := analyzeCaptures(c.Lambda, true)
	outer := c.Lambda.Body.(*ast.Invoke).Func.(*ast.Invoke).Func.(*ast.Lambda)
	inner := outer.Body.(*ast.Lambda)
	if got := len(analysis.captures[outer]); got != 1 {
		t.Errorf("outer closure captures %d variables, want 1 (a)", got)
	}
	if got := len(analysis.captures[inner]); got != 2 {
		t.Errorf("inner closure captures %d variables, want 2 (a, b)", got)
	}
}

func TestEmittedInstructions(t *testing.T) {
	tests := []struct {
		scenario string
		want     []Opcode
		absent   []Opcode
	}{
		{"struct field read", []Opcode{OP_LOAD_LOCAL, OP_GET_FIELD}, []Opcode{OP_STORE_LOCAL, OP_COPY}},
		{"default constructed struct", []Opcode{OP_NEW_AGG, OP_STORE_LOCAL, OP_LOAD_LOCAL, OP_GET_FIELD}, nil},
		{"member init auto property", []Opcode{OP_NEW_AGG, OP_STORE_LOCAL, OP_CALL}, []Opcode{OP_CALL_VIRT}},
		{"struct ToString override", []Opcode{OP_CALL}, []Opcode{OP_CALL_VIRT, OP_BOX}},
		{"struct Equals boxed default", []Opcode{OP_NEW_AGG, OP_BOX, OP_CALL}, []Opcode{OP_CALL_VIRT}},
		{"virtual dispatch", []Opcode{OP_CALL_VIRT}, nil},
		{"dispose through interface copy", []Opcode{OP_COPY, OP_BOX, OP_CALL_IFACE}, nil},
		{"unbox after interface call", []Opcode{OP_BOX, OP_CALL_IFACE, OP_UNBOX, OP_GET_FIELD}, nil},
		{"int to interface", []Opcode{OP_BOX}, nil},
		{"enum to underlying", []Opcode{OP_RETAG}, []Opcode{OP_BOX}},
		{"widening", []Opcode{OP_WIDEN, OP_MUL}, nil},
		{"narrowing", []Opcode{OP_NARROW}, nil},
		{"copy on assignment", []Opcode{OP_COPY, OP_SET_FIELD}, nil},
		{"closure captures by value", []Opcode{OP_CLOSURE, OP_LOAD_FREE, OP_INVOKE}, []Opcode{OP_MAKE_CELL}},
		{"closure sees later write", []Opcode{OP_MAKE_CELL, OP_STORE_CELL, OP_LOAD_FREE_CELL}, nil},
		{"closure writes outer variable", []Opcode{OP_STORE_FREE_CELL}, nil},
		{"mutating call on host capture", []Opcode{OP_LOAD_HOST, OP_CALL, OP_RETURN_VOID}, []Opcode{OP_COPY}},
		{"short circuit", []Opcode{OP_JUMP_IF_FALSE, OP_JUMP}, nil},
		{"array element in place", []Opcode{OP_NEW_ARRAY, OP_GET_ELEM, OP_SET_FIELD}, nil},
		{"shape boxes argument", []Opcode{OP_BOX, OP_CALL_VIRT}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			art := compileCase(t, config.Debug(), mustScenario(t, tt.scenario))
			ops := opcodesOf(art.Main)
			for _, op := range tt.want {
				if !hasOp(ops, op) {
					t.Errorf("missing %s in\n%s", op, art.Disassemble())
				}
			}
			for _, op := range tt.absent {
				if hasOp(ops, op) {
					t.Errorf("unexpected %s in\n%s", op, art.Disassemble())
				}
			}
		})
	}
}

func TestRecordedDepths(t *testing.T) {
	for _, s := range scenarios.All() {
		if s.Unsupported {
			continue
		}
		art := compileCase(t, config.Debug(), s.Make())
		var check func(fn *CompiledFunction)
		check = func(fn *CompiledFunction) {
			chunk := fn.Chunk
			if len(chunk.Depths) != len(chunk.Code) {
				t.Fatalf("%s/%s: %d depths for %d bytes", s.Name, fn.Name, len(chunk.Depths), len(chunk.Code))
			}
			for offset := 0; offset < len(chunk.Code); {
				op := Opcode(chunk.Code[offset])
				d := chunk.Depths[offset]
				if d < 0 || d > fn.MaxStack {
					t.Errorf("%s/%s+%04d %s: depth %d outside [0, %d]", s.Name, fn.Name, offset, op, d, fn.MaxStack)
				}
				for i := 1; i < op.Size(); i++ {
					if chunk.Depths[offset+i] != -1 {
						t.Errorf("%s/%s+%04d: operand byte has depth %d", s.Name, fn.Name, offset+i, chunk.Depths[offset+i])
					}
				}
				if op == OP_CLOSURE {
					check(chunk.Constants[chunk.ReadU16(offset+1)].(*CompiledFunction))
				}
				offset += op.Size()
			}
		}
		check(art.Main)
	}
}

func TestNoDepthsByDefault(t *testing.T) {
	art := compileCase(t, config.Default(), mustScenario(t, "struct field read"))
	if art.Main.Chunk.Depths != nil {
		t.Error("depths should only be recorded on request")
	}
}

func TestDisassemble(t *testing.T) {
	art := compileCase(t, config.Debug(), mustScenario(t, "closure sees later write"))
	out := art.Disassemble()
	for _, want := range []string{
		"== main func() int32 locals=",
		"MAKE_CELL",
		"CLOSURE",
		"    | == main$1 func() int32",
		"capture x",
		"byref",
		"LOAD_FREE_CELL",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly lacks %q:\n%s", want, out)
		}
	}
}

func TestPlanConversion(t *testing.T) {
	tests := []struct {
		name     string
		from, to *typesystem.Type
		explicit bool
		want     []Opcode
		wantErr  bool
	}{
		{"identity", typesystem.Int32Type, typesystem.Int32Type, false, nil, false},
		{"widen", typesystem.Int32Type, typesystem.Float64Type, false, []Opcode{OP_WIDEN}, false},
		{"implicit narrow", typesystem.Int64Type, typesystem.Int32Type, false, nil, true},
		{"explicit narrow", typesystem.Int64Type, typesystem.Int32Type, true, []Opcode{OP_NARROW}, false},
		{"enum to underlying", scenarios.DateTimeKind, typesystem.Int32Type, true, []Opcode{OP_RETAG}, false},
		{"enum widened", scenarios.DateTimeKind, typesystem.Int64Type, true, []Opcode{OP_RETAG, OP_WIDEN}, false},
		{"implicit enum", scenarios.DateTimeKind, typesystem.Int32Type, false, nil, true},
		{"bool to int", typesystem.BoolType, typesystem.Int32Type, true, nil, true},
		{"box struct", scenarios.SS, typesystem.IDisposable, false, []Opcode{OP_BOX}, false},
		{"box enum", scenarios.DateTimeKind, typesystem.EnumBase, false, []Opcode{OP_BOX}, false},
		{"implicit unbox", typesystem.Object, typesystem.Int32Type, false, nil, true},
		{"unbox", typesystem.IDisposable, scenarios.SS, true, []Opcode{OP_UNBOX}, false},
		{"upcast", scenarios.Dog, scenarios.Animal, false, nil, false},
		{"downcast", scenarios.Animal, scenarios.Dog, true, []Opcode{OP_CAST}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cv, err := planConversion(tt.from, tt.to, tt.explicit)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got %v", cv.steps)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(cv.steps) != len(tt.want) {
				t.Fatalf("steps = %v, want %v", cv.steps, tt.want)
			}
			for i, step := range cv.steps {
				if step.op != tt.want[i] {
					t.Errorf("step %d = %s, want %s", i, step.op, tt.want[i])
				}
			}
		})
	}
}
