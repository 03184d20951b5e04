package vm

import (
	"fmt"

	"github.com/funvibe/exprvm/internal/typesystem"
)

// callMethod pops the receiver and arguments of meth and runs impl, its
// implementation for the receiver. Results are copied so natives cannot
// leak aliases of their own storage.
func (m *machine) callMethod(meth, impl *typesystem.Method) error {
	args := m.popN(len(meth.Params))
	var recv typesystem.Value
	if !meth.Static {
		recv = m.pop()
		if recv.IsNil() {
			return fmt.Errorf("%w: receiver of %s", ErrNullReference, meth)
		}
		if impl.Owner != nil && impl.Owner.Kind().IsValue() {
			recv = recv.Unboxed()
		}
	}
	result, err := impl.Invoke(recv, args)
	if err != nil {
		return fmt.Errorf("%s: %w", impl, err)
	}
	if meth.Result != nil {
		m.push(result.Clone())
	}
	return nil
}

// invokeDelegate calls the delegate below argc arguments. Compiled closures
// run on this machine; other callables are called directly.
func (m *machine) invokeDelegate(argc, nret int) error {
	args := m.popN(argc)
	fn := m.pop()
	if fn.IsNil() {
		return fmt.Errorf("%w: invoke of a null delegate", ErrNullReference)
	}

	var result typesystem.Value
	var err error
	switch callee := fn.Callable().(type) {
	case nil:
		return fmt.Errorf("%w: %s is not callable", ErrInvalidCast, fn.DynamicType())
	case *Closure:
		result, err = m.callClosure(callee, args)
	default:
		result, err = callee.Call(args...)
		result = result.Clone()
	}
	if err != nil {
		return err
	}
	if nret > 0 {
		m.push(result)
	}
	return nil
}

// makeClosure binds fn to the current frame: by-value captures are copied
// now, by-reference captures share the cell.
func (m *machine) makeClosure(fn *CompiledFunction) typesystem.Value {
	fr := m.frame
	free := make([]typesystem.Value, len(fn.Captures))
	for i, k := range fn.Captures {
		switch k.From {
		case FromLocal:
			free[i] = fr.locals[k.Index].Clone()
		case FromLocalCell:
			free[i] = fr.locals[k.Index]
		case FromFree:
			free[i] = fr.closure.Free[k.Index].Clone()
		case FromFreeCell:
			free[i] = fr.closure.Free[k.Index]
		}
	}
	return typesystem.FuncValue(fn.Type, &Closure{Function: fn, Free: free, verify: m.verify})
}
