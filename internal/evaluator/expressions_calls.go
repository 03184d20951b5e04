package evaluator

import (
	"fmt"

	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/typesystem"
)

// isStorage reports whether n denotes storage that member writes and
// mutating calls change in place.
func isStorage(n ast.Node) bool {
	switch n := n.(type) {
	case *ast.Parameter, *ast.ClosureCapture, *ast.ArrayIndex:
		return true
	case *ast.MemberAccess:
		if _, ok := n.Member.(*typesystem.Field); !ok {
			return false
		}
		if n.Object.Type().Kind() == typesystem.ValueAggregate {
			return isStorage(n.Object)
		}
		return n.Object.Type().Kind() == typesystem.ReferenceType
	}
	return false
}

// receiver evaluates the object of a member access or call. An aggregate
// that is not storage is copied so the callee works on a temporary.
func (r *run) receiver(n ast.Node, env *Environment) (typesystem.Value, error) {
	v, err := r.eval(n, env)
	if err != nil {
		return typesystem.Nil(), err
	}
	if n.Type().Kind() == typesystem.ValueAggregate && !isStorage(n) {
		v = v.Clone()
	}
	return v, nil
}

func fieldsOf(recv typesystem.Value, f *typesystem.Field) ([]typesystem.Value, error) {
	if recv.IsNil() {
		return nil, fmt.Errorf("%w: field %s of null", typesystem.ErrNullReference, f.Name)
	}
	fields := recv.Fields()
	if f.Index >= len(fields) {
		return nil, fmt.Errorf("%w: %s has no field %s", typesystem.ErrInvalidCast, recv.DynamicType(), f.Name)
	}
	return fields, nil
}

func (r *run) evalMemberAccess(n *ast.MemberAccess, env *Environment) (typesystem.Value, error) {
	switch m := n.Member.(type) {
	case *typesystem.Field:
		recv, err := r.eval(n.Object, env)
		if err != nil {
			return typesystem.Nil(), err
		}
		fields, err := fieldsOf(recv, m)
		if err != nil {
			return typesystem.Nil(), r.fail(n, err)
		}
		return fields[m.Index], nil
	case *typesystem.Property:
		if m.Getter == nil {
			return typesystem.Nil(), r.fail(n, fmt.Errorf("%w: property %s has no getter", ErrIllTyped, m.Name))
		}
		recv, err := r.receiver(n.Object, env)
		if err != nil {
			return typesystem.Nil(), err
		}
		v, err := invoke(n.Object.Type(), recv, m.Getter, nil)
		if err != nil {
			return typesystem.Nil(), r.fail(n, err)
		}
		return v, nil
	}
	return typesystem.Nil(), r.fail(n, fmt.Errorf("%w: member %s", ErrIllTyped, n.Member.MemberName()))
}

// invoke calls m on recv, whose static type is recvType. Value receivers
// call the implementation of their own type; reference receivers dispatch on
// their dynamic type. The result is copied so natives cannot leak aliases of
// their own storage.
func invoke(recvType *typesystem.Type, recv typesystem.Value, m *typesystem.Method, args []typesystem.Value) (typesystem.Value, error) {
	impl := m
	if !m.Static {
		if recv.IsNil() {
			return typesystem.Nil(), fmt.Errorf("%w: receiver of %s", typesystem.ErrNullReference, m)
		}
		if recvType.Kind().IsValue() {
			impl = recvType.Resolve(m)
		} else {
			impl = recv.DynamicType().Resolve(m)
		}
		if impl == nil {
			return typesystem.Nil(), fmt.Errorf("%w: %s does not implement %s", typesystem.ErrInvalidCast, recv.DynamicType(), m)
		}
		if impl.Owner != nil && impl.Owner.Kind().IsValue() {
			recv = recv.Unboxed()
		}
	}
	result, err := impl.Invoke(recv, args)
	if err != nil {
		return typesystem.Nil(), fmt.Errorf("%s: %w", impl, err)
	}
	if m.Result == nil {
		return typesystem.Nil(), nil
	}
	return result.Clone(), nil
}

// evalMethodCall evaluates the receiver before the arguments.
func (r *run) evalMethodCall(n *ast.MethodCall, env *Environment) (typesystem.Value, error) {
	var recv typesystem.Value
	var recvType *typesystem.Type
	if n.Object != nil {
		var err error
		if recv, err = r.receiver(n.Object, env); err != nil {
			return typesystem.Nil(), err
		}
		recvType = n.Object.Type()
	}
	args, err := r.args(n.Method.Params, n.Args, env)
	if err != nil {
		return typesystem.Nil(), r.fail(n, err)
	}
	v, err := invoke(recvType, recv, n.Method, args)
	if err != nil {
		return typesystem.Nil(), r.fail(n, err)
	}
	return v, nil
}

func (r *run) evalNew(n *ast.New, env *Environment) (typesystem.Value, error) {
	t := n.Type()
	var obj typesystem.Value
	switch {
	case t == typesystem.StringType || t == typesystem.Null:
		return typesystem.Nil(), r.fail(n, fmt.Errorf("%w: cannot construct %s", ErrIllTyped, t))
	case t.Kind() == typesystem.ValueAggregate:
		obj = typesystem.AggregateValue(typesystem.NewAggregate(t))
	case t.Kind() == typesystem.ReferenceType:
		obj = typesystem.ObjectValue(typesystem.NewInstance(t))
	default:
		return typesystem.Nil(), r.fail(n, fmt.Errorf("%w: cannot construct %s value %s", ErrIllTyped, t.Kind(), t))
	}
	if n.Ctor == nil {
		return obj, nil
	}
	args, err := r.args(n.Ctor.Params, n.Args, env)
	if err != nil {
		return typesystem.Nil(), r.fail(n, err)
	}
	if _, err := n.Ctor.Invoke(obj, args); err != nil {
		return typesystem.Nil(), r.fail(n, fmt.Errorf("%s: %w", n.Ctor, err))
	}
	return obj, nil
}

func (r *run) evalMemberInit(n *ast.MemberInit, env *Environment) (typesystem.Value, error) {
	obj, err := r.evalNew(n.New, env)
	if err != nil {
		return typesystem.Nil(), err
	}
	for _, b := range n.Bindings {
		if _, err := r.storeMember(n, n.Type(), obj, b.Member, b.Value, env); err != nil {
			return typesystem.Nil(), err
		}
	}
	return obj, nil
}

// storeMember evaluates value and writes it into member of recv. It returns
// the stored value.
func (r *run) storeMember(at ast.Node, recvType *typesystem.Type, recv typesystem.Value, member typesystem.Member, value ast.Node, env *Environment) (typesystem.Value, error) {
	v, err := r.owned(value, member.MemberType(), env)
	if err != nil {
		return typesystem.Nil(), err
	}
	switch m := member.(type) {
	case *typesystem.Field:
		fields, err := fieldsOf(recv, m)
		if err != nil {
			return typesystem.Nil(), r.fail(at, err)
		}
		fields[m.Index] = v
		return v, nil
	case *typesystem.Property:
		if m.Setter == nil {
			return typesystem.Nil(), r.fail(at, fmt.Errorf("%w: property %s is read-only", ErrIllTyped, m.Name))
		}
		if _, err := invoke(recvType, recv, m.Setter, []typesystem.Value{v}); err != nil {
			return typesystem.Nil(), r.fail(at, err)
		}
		return v, nil
	}
	return typesystem.Nil(), r.fail(at, fmt.Errorf("%w: member %s", ErrIllTyped, member.MemberName()))
}

func (r *run) evalAssign(n *ast.Assign, env *Environment) (typesystem.Value, error) {
	tt := n.Target.Type()
	switch t := n.Target.(type) {
	case *ast.Parameter:
		cell, ok := env.Get(t)
		if !ok {
			return typesystem.Nil(), r.fail(n, fmt.Errorf("%w: %s", ErrUnbound, t.Name))
		}
		v, err := r.owned(n.Value, tt, env)
		if err != nil {
			return typesystem.Nil(), err
		}
		cell.Store(v)
		return v, nil

	case *ast.ClosureCapture:
		v, err := r.owned(n.Value, tt, env)
		if err != nil {
			return typesystem.Nil(), err
		}
		t.Cell.Store(v)
		return v, nil

	case *ast.MemberAccess:
		if t.Object.Type().Kind() == typesystem.PrimitiveScalar {
			return typesystem.Nil(), r.fail(n, fmt.Errorf("%w: assignment to a member of scalar %s", ErrIllTyped, t.Object.Type()))
		}
		recv, err := r.receiver(t.Object, env)
		if err != nil {
			return typesystem.Nil(), err
		}
		return r.storeMember(n, t.Object.Type(), recv, t.Member, n.Value, env)

	case *ast.ArrayIndex:
		arr, err := r.eval(t.Array, env)
		if err != nil {
			return typesystem.Nil(), err
		}
		idx, err := r.eval(t.Index, env)
		if err != nil {
			return typesystem.Nil(), err
		}
		v, err := r.owned(n.Value, tt, env)
		if err != nil {
			return typesystem.Nil(), err
		}
		if arr.IsNil() {
			return typesystem.Nil(), r.fail(n, fmt.Errorf("%w: index of null array", typesystem.ErrNullReference))
		}
		items := arr.Array().Items
		i := idx.AsInt()
		if i < 0 || i >= int64(len(items)) {
			return typesystem.Nil(), r.fail(n, fmt.Errorf("%w: index %d, length %d", typesystem.ErrIndexOutOfRange, i, len(items)))
		}
		items[i] = v
		return v, nil
	}
	return typesystem.Nil(), r.fail(n, fmt.Errorf("%w: %s is not assignable", ErrIllTyped, n.Target.Kind()))
}
