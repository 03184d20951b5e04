package evaluator

import (
	"fmt"
	"strconv"

	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/typesystem"
)

// eval evaluates n. Aggregate results may alias storage reachable from env;
// callers copy them before storing, passing or returning.
func (r *run) eval(n ast.Node, env *Environment) (typesystem.Value, error) {
	switch n := n.(type) {
	case *ast.Constant:
		// the node keeps its own copy
		return n.Value.Clone(), nil

	case *ast.Parameter:
		cell, ok := env.Get(n)
		if !ok {
			return typesystem.Nil(), r.fail(n, fmt.Errorf("%w: %s", ErrUnbound, n.Name))
		}
		return cell.Load(), nil

	case *ast.ClosureCapture:
		return n.Cell.Load(), nil

	case *ast.Default:
		return typesystem.Zero(n.Type()), nil

	case *ast.MemberAccess:
		return r.evalMemberAccess(n, env)

	case *ast.MethodCall:
		return r.evalMethodCall(n, env)

	case *ast.New:
		return r.evalNew(n, env)

	case *ast.MemberInit:
		return r.evalMemberInit(n, env)

	case *ast.Convert:
		return r.evalConvert(n, env)

	case *ast.Lambda:
		return r.evalLambda(n, env), nil

	case *ast.Conditional:
		test, err := r.eval(n.Test, env)
		if err != nil {
			return typesystem.Nil(), err
		}
		if test.AsBool() {
			return r.eval(n.IfTrue, env)
		}
		return r.eval(n.IfFalse, env)

	case *ast.Binary:
		return r.evalBinary(n, env)

	case *ast.Unary:
		return r.evalUnary(n, env)

	case *ast.Assign:
		return r.evalAssign(n, env)

	case *ast.Block:
		return r.evalBlock(n, env)

	case *ast.Invoke:
		return r.evalInvoke(n, env)

	case *ast.NewArray:
		return r.evalNewArray(n, env)

	case *ast.ArrayIndex:
		items, i, err := r.element(n, env)
		if err != nil {
			return typesystem.Nil(), err
		}
		return items[i], nil

	case *ast.ArrayLength:
		arr, err := r.eval(n.Array, env)
		if err != nil {
			return typesystem.Nil(), err
		}
		if arr.IsNil() {
			return typesystem.Nil(), r.fail(n, fmt.Errorf("%w: length of null array", typesystem.ErrNullReference))
		}
		return typesystem.Int32(int32(len(arr.Array().Items))), nil
	}
	return typesystem.Nil(), r.fail(n, fmt.Errorf("%w: no evaluation rule for %s", ErrIllTyped, n.Kind()))
}

// owned evaluates n and converts the result to t, copying aggregates so the
// value no longer aliases any storage.
func (r *run) owned(n ast.Node, t *typesystem.Type, env *Environment) (typesystem.Value, error) {
	v, err := r.eval(n, env)
	if err != nil {
		return typesystem.Nil(), err
	}
	if v, err = convert(v, n.Type(), t, false); err != nil {
		return typesystem.Nil(), r.fail(n, err)
	}
	return v.Clone(), nil
}

// args evaluates call arguments left to right.
func (r *run) args(params []*typesystem.Type, args []ast.Node, env *Environment) ([]typesystem.Value, error) {
	if len(params) != len(args) {
		return nil, fmt.Errorf("%w: %d arguments for %d parameters", ErrIllTyped, len(args), len(params))
	}
	out := make([]typesystem.Value, len(args))
	for i, a := range args {
		v, err := r.owned(a, params[i], env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (r *run) evalLambda(n *ast.Lambda, env *Environment) typesystem.Value {
	name := n.Name
	if name == "" {
		r.nested++
		name = r.fn + "$" + strconv.Itoa(r.nested)
	}
	return typesystem.FuncValue(n.Type(), &closure{lambda: n, name: name, env: env, ev: r.ev})
}

func (r *run) evalBlock(n *ast.Block, env *Environment) (typesystem.Value, error) {
	scope := NewEnclosedEnvironment(env)
	for _, p := range n.Variables {
		scope.Declare(p, typesystem.Zero(p.Type()))
	}
	var last typesystem.Value
	for _, e := range n.Exprs {
		v, err := r.eval(e, scope)
		if err != nil {
			return typesystem.Nil(), err
		}
		last = v
	}
	if n.Type() == nil {
		return typesystem.Nil(), nil
	}
	return last, nil
}

func (r *run) evalInvoke(n *ast.Invoke, env *Environment) (typesystem.Value, error) {
	ft := n.Func.Type()
	fn, err := r.eval(n.Func, env)
	if err != nil {
		return typesystem.Nil(), err
	}
	args, err := r.args(ft.Params(), n.Args, env)
	if err != nil {
		return typesystem.Nil(), r.fail(n, err)
	}
	if fn.IsNil() {
		return typesystem.Nil(), r.fail(n, fmt.Errorf("%w: invoke of a null delegate", typesystem.ErrNullReference))
	}

	var result typesystem.Value
	switch callee := fn.Callable().(type) {
	case nil:
		return typesystem.Nil(), r.fail(n, fmt.Errorf("%w: %s is not callable", typesystem.ErrInvalidCast, fn.DynamicType()))
	case *closure:
		result, err = r.callClosure(callee, args)
	default:
		result, err = callee.Call(args...)
		result = result.Clone()
	}
	if err != nil {
		return typesystem.Nil(), r.fail(n, err)
	}
	if ft.Result() == nil {
		return typesystem.Nil(), nil
	}
	return result, nil
}

func (r *run) evalNewArray(n *ast.NewArray, env *Environment) (typesystem.Value, error) {
	if n.Length != nil {
		length, err := r.eval(n.Length, env)
		if err != nil {
			return typesystem.Nil(), err
		}
		if length.AsInt() < 0 {
			return typesystem.Nil(), r.fail(n, fmt.Errorf("%w: negative array length %d", typesystem.ErrIndexOutOfRange, length.AsInt()))
		}
		return typesystem.ArrayValue(typesystem.NewArray(n.Elem, int(length.AsInt()))), nil
	}
	items := make([]typesystem.Value, len(n.Items))
	for i, it := range n.Items {
		v, err := r.owned(it, n.Elem, env)
		if err != nil {
			return typesystem.Nil(), err
		}
		items[i] = v
	}
	return typesystem.ArrayValue(&typesystem.Array{Elem: n.Elem, Items: items}), nil
}

// element evaluates the array and index of n and checks the bounds. The
// element is items[i].
func (r *run) element(n *ast.ArrayIndex, env *Environment) ([]typesystem.Value, int, error) {
	arr, err := r.eval(n.Array, env)
	if err != nil {
		return nil, 0, err
	}
	idx, err := r.eval(n.Index, env)
	if err != nil {
		return nil, 0, err
	}
	if arr.IsNil() {
		return nil, 0, r.fail(n, fmt.Errorf("%w: index of null array", typesystem.ErrNullReference))
	}
	items := arr.Array().Items
	i := idx.AsInt()
	if i < 0 || i >= int64(len(items)) {
		return nil, 0, r.fail(n, fmt.Errorf("%w: index %d, length %d", typesystem.ErrIndexOutOfRange, i, len(items)))
	}
	return items, int(i), nil
}
