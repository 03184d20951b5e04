// Package evaluator runs expression trees directly, without compiling them.
//
// It accepts every tree the ast constructors build, including the ones the
// compiler declines (user-defined operators and conversions, aggregate
// equality), and follows the same value semantics as compiled code:
// aggregates are copied when stored, passed, boxed or returned, and are
// changed in place through variables, fields and array elements.
package evaluator

import (
	"errors"
	"fmt"

	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/config"
	"github.com/funvibe/exprvm/internal/typesystem"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger(config.LogEval)

var (
	// ErrIllTyped reports a tree whose static types do not permit an operation.
	ErrIllTyped = errors.New("ill-typed tree")
	// ErrUnbound reports a variable read or written outside its scope.
	ErrUnbound = errors.New("unbound variable")
	// ErrShape reports a call shape the lambda cannot be bound to.
	ErrShape = errors.New("shape mismatch")
)

// RuntimeError locates a fault inside an evaluated tree.
type RuntimeError struct {
	Function string
	Node     ast.Kind
	Err      error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error in %s at %s: %s", e.Function, e.Node, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Evaluator binds trees to call shapes. It holds no per-call state and may
// be shared between goroutines.
type Evaluator struct {
	// MaxDepth bounds nested delegate invocations inside one call
	MaxDepth int
}

func New() *Evaluator {
	return &Evaluator{MaxDepth: config.MaxCallDepth}
}

// Bind checks that root can be called with params and returns a value of
// result (nil for void), and returns the callable that evaluates it.
func (e *Evaluator) Bind(root *ast.Lambda, params []*typesystem.Type, result *typesystem.Type) (*Program, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: no root lambda", ErrShape)
	}
	if len(params) != len(root.Params) {
		return nil, fmt.Errorf("%w: shape takes %d parameters, lambda takes %d", ErrShape, len(params), len(root.Params))
	}
	for i, p := range root.Params {
		if !typesystem.ImplicitlyConvertible(params[i], p.Type()) {
			return nil, fmt.Errorf("%w: parameter %s: %s does not convert to %s", ErrShape, p.Name, params[i], p.Type())
		}
	}
	if result != nil {
		if root.Result == nil {
			return nil, fmt.Errorf("%w: void lambda for a %s result", ErrShape, result)
		}
		if !typesystem.ImplicitlyConvertible(root.Result, result) {
			return nil, fmt.Errorf("%w: result %s does not convert to %s", ErrShape, root.Result, result)
		}
	}
	name := root.Name
	if name == "" {
		name = "main"
	}
	log.Debugf("bound %s to %d parameters, %d nodes", name, len(params), ast.Count(root))
	return &Program{
		Name:   name,
		Params: append([]*typesystem.Type(nil), params...),
		Result: result,
		root:   root,
		ev:     e,
	}, nil
}

// Bind binds root with a default evaluator.
func Bind(root *ast.Lambda, params []*typesystem.Type, result *typesystem.Type) (*Program, error) {
	return New().Bind(root, params, result)
}

// Program is a tree bound to a call shape. It is a typesystem.Callable and
// may be called concurrently; host cells the tree captures are shared by
// every call.
type Program struct {
	Name   string
	Params []*typesystem.Type
	Result *typesystem.Type // nil for void
	root   *ast.Lambda
	ev     *Evaluator
}

// Call evaluates the tree. Aggregate arguments are copied, so the caller's
// storage is never modified.
func (p *Program) Call(args ...typesystem.Value) (typesystem.Value, error) {
	if len(args) != len(p.Params) {
		return typesystem.Nil(), fmt.Errorf("%w: %s takes %d arguments, got %d", typesystem.ErrArity, p.Name, len(p.Params), len(args))
	}
	in := make([]typesystem.Value, len(args))
	for i, v := range args {
		if err := typesystem.CheckValue(v, p.Params[i]); err != nil {
			return typesystem.Nil(), fmt.Errorf("argument %d: %w", i, err)
		}
		cv, err := convert(v, p.Params[i], p.root.Params[i].Type(), false)
		if err != nil {
			return typesystem.Nil(), fmt.Errorf("argument %d: %w", i, err)
		}
		in[i] = cv.Clone()
	}

	r := &run{ev: p.ev, fn: p.Name}
	cl := &closure{lambda: p.root, name: p.Name, env: NewEnvironment(), ev: p.ev}
	v, err := r.callClosure(cl, in)
	if err != nil {
		log.Debugf("%s failed: %s", p.Name, err)
		return typesystem.Nil(), err
	}
	if p.Result == nil {
		return typesystem.Nil(), nil
	}
	out, err := convert(v, p.root.Result, p.Result, false)
	if err != nil {
		return typesystem.Nil(), err
	}
	return out.Clone(), nil
}

func (p *Program) String() string { return fmt.Sprintf("<program %s>", p.Name) }

// closure is a lambda bound to the environment it was created in.
type closure struct {
	lambda *ast.Lambda
	name   string
	env    *Environment
	ev     *Evaluator
}

// Call runs the closure from outside an evaluation, with a fresh call depth.
func (c *closure) Call(args ...typesystem.Value) (typesystem.Value, error) {
	in := make([]typesystem.Value, len(args))
	for i, v := range args {
		in[i] = v.Clone()
	}
	r := &run{ev: c.ev, fn: c.name}
	return r.callClosure(c, in)
}

func (c *closure) String() string { return fmt.Sprintf("<closure %s>", c.name) }

// run is the state of one call chain.
type run struct {
	ev     *Evaluator
	fn     string
	depth  int
	nested int // closures created so far, for naming
}

// callClosure binds args to the closure's parameters in a new scope and
// evaluates its body. args must already be converted and owned.
func (r *run) callClosure(c *closure, args []typesystem.Value) (typesystem.Value, error) {
	l := c.lambda
	if len(args) != len(l.Params) {
		return typesystem.Nil(), fmt.Errorf("%w: %s takes %d arguments, got %d", typesystem.ErrArity, c.name, len(l.Params), len(args))
	}
	if r.depth >= r.ev.MaxDepth {
		return typesystem.Nil(), r.fail(l, fmt.Errorf("%w: %d nested calls", typesystem.ErrCallDepth, r.depth))
	}
	r.depth++
	caller := r.fn
	r.fn = c.name
	defer func() {
		r.depth--
		r.fn = caller
	}()

	env := NewEnclosedEnvironment(c.env)
	for i, p := range l.Params {
		env.Declare(p, args[i])
	}
	v, err := r.eval(l.Body, env)
	if err != nil {
		return typesystem.Nil(), err
	}
	if l.Result == nil {
		return typesystem.Nil(), nil
	}
	if v, err = convert(v, l.Body.Type(), l.Result, false); err != nil {
		return typesystem.Nil(), r.fail(l, err)
	}
	return v.Clone(), nil
}

// fail locates err at n unless an inner call already did.
func (r *run) fail(n ast.Node, err error) error {
	var re *RuntimeError
	if errors.As(err, &re) {
		return err
	}
	return &RuntimeError{Function: r.fn, Node: n.Kind(), Err: err}
}
