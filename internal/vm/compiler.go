package vm

import (
	"fmt"

	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/config"
	"github.com/funvibe/exprvm/internal/typesystem"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger(config.LogCompiler)

// Compiler turns expression trees into artifacts. It holds no per-compile
// state and may be shared between goroutines.
type Compiler struct {
	opts config.Options
}

// NewCompiler creates a compiler with the given options
func NewCompiler(opts config.Options) *Compiler {
	return &Compiler{opts: opts}
}

// Compile compiles root with the default options.
func Compile(root *ast.Lambda, shape Shape) (*Artifact, error) {
	return NewCompiler(config.Default()).Compile(root, shape)
}

// ShapeOf is the call shape matching the lambda's own signature.
func ShapeOf(root *ast.Lambda) Shape {
	params := make([]*typesystem.Type, len(root.Params))
	for i, p := range root.Params {
		params[i] = p.Type()
	}
	return Shape{Params: params, Result: root.Result}
}

// unit is the state shared by all functions of one compile.
type unit struct {
	opts      config.Options
	analysis  *captureAnalysis
	hostCells []*typesystem.Cell
	names     int
	current   ast.Kind // node being compiled, for limit errors
}

func (u *unit) addHostCell(cell *typesystem.Cell) {
	for _, c := range u.hostCells {
		if c == cell {
			return
		}
	}
	u.hostCells = append(u.hostCells, cell)
}

type bindKind uint8

const (
	bindLocal bindKind = iota
	bindLocalCell
	bindFree
	bindFreeCell
)

// binding says where a variable lives in the function being compiled.
type binding struct {
	kind  bindKind
	index int
	v     *variable
}

// fnCompiler compiles one lambda to one CompiledFunction.
type fnCompiler struct {
	unit      *unit
	enclosing *fnCompiler
	lambda    *ast.Lambda

	function *CompiledFunction
	chunk    *Chunk
	stack    stackTracker
	frame    *frameAllocator
	env      map[*ast.Parameter]binding
}

func (u *unit) newFunction(lambda *ast.Lambda, enclosing *fnCompiler) *fnCompiler {
	name := lambda.Name
	if name == "" {
		if enclosing == nil {
			name = "main"
		} else {
			u.names++
			name = fmt.Sprintf("%s$%d", enclosing.function.Name, u.names)
		}
	}
	chunk := NewChunk(u.opts.RecordStackDepths)
	return &fnCompiler{
		unit:      u,
		enclosing: enclosing,
		lambda:    lambda,
		function: &CompiledFunction{
			Name:  name,
			Chunk: chunk,
			Type:  lambda.Type(),
		},
		chunk: chunk,
		frame: newFrameAllocator(u.opts.ReuseSlots),
		env:   map[*ast.Parameter]binding{},
	}
}

// Compile compiles root for invocation with the given shape. The returned
// error is always a *CompileError; no artifact is returned with it.
func (c *Compiler) Compile(root *ast.Lambda, shape Shape) (art *Artifact, err error) {
	u := &unit{opts: c.opts, current: ast.KindLambda}

	defer func() {
		if r := recover(); r != nil {
			art = nil
			switch e := r.(type) {
			case *CompileError:
				err = e
			case limitExceeded:
				err = unsupported(u.current, "%s", string(e))
			case internalFault:
				err = &CompileError{Kind: Internal, NodeKind: u.current, Reason: e.String()}
			default:
				err = &CompileError{Kind: Internal, NodeKind: u.current, Reason: fmt.Sprint(r)}
			}
		}
		switch {
		case err == nil:
			log.Debugf("compiled %s %s: %d bytes, %d locals", art.Main.Name, shape, art.Main.Chunk.Len(), art.Main.LocalCount)
		case IsInternal(err):
			log.Errorf("compiling %s: %s", ast.Format(root), err)
		default:
			log.Debugf("not compiling %s: %s", ast.Format(root), err)
		}
	}()

	if root == nil {
		return nil, unsupported(ast.KindLambda, "no root lambda")
	}
	if len(shape.Params) != len(root.Params) {
		return nil, unsupported(ast.KindLambda, "shape takes %d parameters, lambda takes %d", len(shape.Params), len(root.Params))
	}
	if len(root.Params) > config.MaxArgs {
		return nil, unsupported(ast.KindLambda, "too many parameters")
	}

	u.analysis = analyzeCaptures(root, c.opts.InlineReadOnlyCaptures)
	if reason, bad := u.analysis.problems[root]; bad {
		return nil, unsupported(ast.KindLambda, "%s", reason)
	}
	fc := u.newFunction(root, nil)
	if err := fc.compileFunction(shape); err != nil {
		return nil, err
	}

	return &Artifact{
		ID:        uuid.New(),
		Shape:     shape,
		Main:      fc.function,
		HostCells: u.hostCells,
		verify:    c.opts.Verify,
	}, nil
}

// compileFunction emits the prologue, the body and the return. shape is the
// signature the function is called with; nested lambdas use their own.
func (c *fnCompiler) compileFunction(shape Shape) error {
	l := c.lambda
	for i, p := range l.Params {
		capture := CaptureNone
		if v := c.unit.analysis.lookup(l, p); v != nil && shape.Params[i] == p.Type() {
			capture = v.mode
		}
		c.frame.allocate(shape.Params[i], p.Name, capture, 0)
	}

	// captured variables are reached through the closure
	for i, v := range c.unit.analysis.captures[l] {
		if i >= config.MaxCaptures {
			panic(limitExceeded("too many captured variables"))
		}
		kind := bindFree
		if v.mode == CaptureByReference {
			kind = bindFreeCell
		}
		c.env[v.param] = binding{kind: kind, index: i, v: v}
		if err := c.captureFromEnclosing(v); err != nil {
			return err
		}
	}

	// prologue: shape conversions, then cells for by-reference parameters
	for i, p := range l.Params {
		v := c.unit.analysis.lookup(l, p)
		slot := i
		if shape.Params[i] != p.Type() {
			cv, err := planConversion(shape.Params[i], p.Type(), false)
			if err != nil {
				return unsupported(ast.KindLambda, "parameter %s: %v", p.Name, err)
			}
			c.emit(OP_LOAD_LOCAL, []int{i}, aliased(shape.Params[i]))
			c.convert(cv)
			c.own()
			capture := CaptureNone
			if v != nil {
				capture = v.mode
			}
			slot = c.frame.allocate(p.Type(), p.Name, capture, 0).Index
			c.emit(OP_STORE_LOCAL, []int{slot})
		}
		c.bindVariable(p, v, slot)
	}

	body := l.Body
	if err := c.compile(body); err != nil {
		return err
	}

	result := shape.Result
	if l.Result == nil {
		if result != nil {
			return unsupported(ast.KindLambda, "void lambda for a %s result", result)
		}
		if body.Type() != nil {
			c.emit(OP_POP, nil)
		}
		c.emit(OP_RETURN_VOID, nil)
	} else {
		if err := c.coerce(l.Result); err != nil {
			return unsupported(ast.KindLambda, "result: %v", err)
		}
		if result == nil {
			c.emit(OP_POP, nil)
			c.emit(OP_RETURN_VOID, nil)
		} else {
			if err := c.coerce(result); err != nil {
				return unsupported(ast.KindLambda, "result: %v", err)
			}
			c.own()
			c.emit(OP_RETURN, nil)
		}
	}
	if c.stack.depth() != 0 {
		fault(faultStackEffect, "%d values left on the stack at return", c.stack.depth())
	}

	f := c.function
	f.Arity = len(l.Params)
	f.Params = append([]*typesystem.Type(nil), shape.Params...)
	f.Result = result
	f.LocalCount = c.frame.count()
	f.MaxStack = c.stack.max
	return nil
}

// bindVariable makes a declared variable visible, emitting MAKE_CELL when
// closures share it. The slot must already hold the initial value.
func (c *fnCompiler) bindVariable(p *ast.Parameter, v *variable, slot int) {
	if v != nil && v.mode == CaptureByReference {
		c.emit(OP_MAKE_CELL, []int{slot})
		c.env[p] = binding{kind: bindLocalCell, index: slot, v: v}
		return
	}
	c.env[p] = binding{kind: bindLocal, index: slot, v: v}
}

// captureFromEnclosing records where the enclosing function finds v when it
// creates this function's closure.
func (c *fnCompiler) captureFromEnclosing(v *variable) error {
	outer := c.enclosing
	if outer == nil {
		fault(faultBinding, "root lambda captures %s", v.param.Name)
	}
	b, ok := outer.env[v.param]
	if !ok || b.v != v {
		return unsupported(ast.KindLambda, "variable %s is not in scope where the closure is created", v.param.Name)
	}
	k := Capture{Name: v.param.Name, Type: v.param.Type(), Index: b.index, ByRef: v.mode == CaptureByReference}
	switch b.kind {
	case bindLocal:
		k.From = FromLocal
	case bindLocalCell:
		k.From = FromLocalCell
	case bindFree:
		k.From = FromFree
	case bindFreeCell:
		k.From = FromFreeCell
	}
	if k.ByRef != (b.kind == bindLocalCell || b.kind == bindFreeCell) {
		fault(faultBinding, "capture of %s disagrees with its binding", v.param.Name)
	}
	c.function.Captures = append(c.function.Captures, k)
	return nil
}

// constant adds a pool entry and returns its index.
func (c *fnCompiler) constant(v any) int {
	idx := c.chunk.AddConstant(v)
	if idx >= config.MaxConstants {
		panic(limitExceeded("too many constants"))
	}
	return idx
}

// withTemp runs fn with a temporary slot of type t that is released afterwards.
func (c *fnCompiler) withTemp(t *typesystem.Type, fn func(slot int) error) error {
	scope := c.frame.openScope()
	slot := c.frame.allocate(t, "", CaptureNone, scope)
	if err := fn(slot.Index); err != nil {
		return err
	}
	c.frame.release(scope)
	return nil
}
