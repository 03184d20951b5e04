package vm

import (
	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/config"
	"github.com/funvibe/exprvm/internal/typesystem"
)

// compile emits code that leaves the value of n on the stack (nothing for
// void nodes). Unsupported shapes are returned as errors before the node's
// own instructions are emitted.
func (c *fnCompiler) compile(n ast.Node) error {
	prev := c.unit.current
	c.unit.current = n.Kind()
	if reason, bad := c.unit.analysis.problems[n]; bad {
		return unsupported(n.Kind(), "%s", reason)
	}

	var err error
	switch n := n.(type) {
	case *ast.Constant:
		c.compileConstant(n)
	case *ast.Parameter:
		err = c.compileVariable(n)
	case *ast.ClosureCapture:
		c.unit.addHostCell(n.Cell)
		c.emit(OP_LOAD_HOST, []int{c.constant(n.Cell)}, aliased(n.Type()))
	case *ast.MemberAccess:
		err = c.compileMemberAccess(n)
	case *ast.MethodCall:
		err = c.callOn(n.Object, n.Method, n.Args)
	case *ast.New:
		err = c.compileNew(n)
	case *ast.MemberInit:
		err = c.compileMemberInit(n)
	case *ast.Convert:
		err = c.compileConvert(n)
	case *ast.Lambda:
		err = c.compileLambda(n)
	case *ast.Conditional:
		err = c.compileConditional(n)
	case *ast.Binary:
		err = c.compileBinary(n)
	case *ast.Unary:
		err = c.compileUnary(n)
	case *ast.Assign:
		err = c.compileAssign(n)
	case *ast.Block:
		err = c.compileBlock(n)
	case *ast.Invoke:
		err = c.compileInvoke(n)
	case *ast.Default:
		c.pushDefault(n.Type())
	case *ast.NewArray:
		err = c.compileNewArray(n)
	case *ast.ArrayIndex:
		err = c.compileArrayIndex(n)
	case *ast.ArrayLength:
		if err = c.compile(n.Array); err == nil {
			c.emit(OP_ARRAY_LEN, nil, owned(typesystem.Int32Type))
		}
	default:
		err = unsupported(n.Kind(), "no emission rule")
	}
	if err == nil {
		c.unit.current = prev
	}
	return err
}

func (c *fnCompiler) compileConstant(n *ast.Constant) {
	v, t := n.Value, n.Type()
	switch v.Tag {
	case typesystem.TagNil:
		c.emit(OP_NIL, nil, owned(t))
	case typesystem.TagBool:
		if v.AsBool() {
			c.emit(OP_TRUE, nil, owned(t))
		} else {
			c.emit(OP_FALSE, nil, owned(t))
		}
	default:
		slot := owned(t)
		// aggregate constants live in the pool and must not be mutated
		slot.Addressable = v.Tag == typesystem.TagAggregate
		c.emit(OP_CONST, []int{c.constant(v)}, slot)
	}
}

func (c *fnCompiler) compileVariable(n *ast.Parameter) error {
	b, ok := c.env[n]
	if !ok {
		return unsupported(ast.KindParameter, "variable %s is not in scope", n.Name)
	}
	var op Opcode
	switch b.kind {
	case bindLocal:
		op = OP_LOAD_LOCAL
	case bindLocalCell:
		op = OP_LOAD_CELL
	case bindFree:
		op = OP_LOAD_FREE
	default:
		op = OP_LOAD_FREE_CELL
	}
	c.emit(op, []int{b.index}, aliased(n.Type()))
	return nil
}

func (c *fnCompiler) pushDefault(t *typesystem.Type) {
	switch t.Kind() {
	case typesystem.PrimitiveScalar:
		c.emit(OP_CONST, []int{c.constant(typesystem.Zero(t))}, owned(t))
	case typesystem.ValueAggregate:
		c.emit(OP_NEW_AGG, []int{c.constant(t)}, owned(t))
	default:
		c.emit(OP_NIL, nil, owned(t))
	}
}

// isLValuePath reports whether n denotes storage that member writes and
// mutating calls may change in place.
func isLValuePath(n ast.Node) bool {
	switch n := n.(type) {
	case *ast.Parameter, *ast.ClosureCapture, *ast.ArrayIndex:
		return true
	case *ast.MemberAccess:
		if _, ok := n.Member.(*typesystem.Field); !ok {
			return false
		}
		if n.Object.Type().Kind() == typesystem.ValueAggregate {
			return isLValuePath(n.Object)
		}
		return n.Object.Type().Kind() == typesystem.ReferenceType
	}
	return false
}

// materialize stores the owned aggregate on top of the stack in a temporary
// slot and reloads it, so fn sees an addressable receiver.
func (c *fnCompiler) materialize(t *typesystem.Type, fn func() error) error {
	return c.withTemp(t, func(slot int) error {
		c.emit(OP_STORE_LOCAL, []int{slot})
		c.emit(OP_LOAD_LOCAL, []int{slot}, aliased(t))
		return fn()
	})
}

// withReceiver pushes an aggregate receiver whose storage a call may change.
// Storage paths are used in place; any other value is copied into a
// temporary first.
func (c *fnCompiler) withReceiver(recv ast.Node, fn func() error) error {
	if err := c.compile(recv); err != nil {
		return err
	}
	if isLValuePath(recv) {
		return fn()
	}
	c.own()
	return c.materialize(recv.Type(), fn)
}

func (c *fnCompiler) compileMemberAccess(n *ast.MemberAccess) error {
	switch m := n.Member.(type) {
	case *typesystem.Field:
		if err := c.compile(n.Object); err != nil {
			return err
		}
		top := c.stack.peek()
		if top.Kind == typesystem.ValueAggregate && !top.Addressable {
			return c.materialize(top.Type, func() error {
				c.emit(OP_GET_FIELD, []int{m.Index}, aliased(m.Type))
				return nil
			})
		}
		if top.Kind != typesystem.ValueAggregate && top.Kind != typesystem.ReferenceType {
			return unsupported(ast.KindMemberAccess, "field %s of a %s value", m.Name, top.Kind)
		}
		c.emit(OP_GET_FIELD, []int{m.Index}, aliased(m.Type))
		return nil
	case *typesystem.Property:
		if m.Getter == nil {
			return unsupported(ast.KindMemberAccess, "property %s has no getter", m.Name)
		}
		return c.callOn(n.Object, m.Getter, nil)
	}
	return unsupported(ast.KindMemberAccess, "member %s", n.Member.MemberName())
}

// dispatch picks the call instruction for m on a receiver of static type t.
// Value receivers call the implementation of their own type directly.
func dispatch(t *typesystem.Type, m *typesystem.Method) (Opcode, *typesystem.Method) {
	switch {
	case m.Static:
		return OP_CALL, m
	case t.Kind().IsValue():
		return OP_CALL, t.Resolve(m)
	case m.Owner != nil && m.Owner.IsInterface():
		return OP_CALL_IFACE, m
	case m.Slot >= 0:
		return OP_CALL_VIRT, m
	default:
		return OP_CALL, m
	}
}

func (c *fnCompiler) emitCall(op Opcode, m *typesystem.Method) {
	if m.Result != nil {
		c.emit(op, []int{c.constant(m)}, owned(m.Result))
	} else {
		c.emit(op, []int{c.constant(m)})
	}
}

// planArgs checks every argument conversion before anything is emitted.
func (c *fnCompiler) planArgs(params []*typesystem.Type, args []ast.Node) ([]conversion, error) {
	kind := c.unit.current
	if len(args) > config.MaxArgs {
		return nil, unsupported(kind, "too many arguments")
	}
	if len(args) != len(params) {
		return nil, unsupported(kind, "%d arguments for %d parameters", len(args), len(params))
	}
	plans := make([]conversion, len(args))
	for i, a := range args {
		cv, err := planConversion(a.Type(), params[i], false)
		if err != nil {
			return nil, unsupported(kind, "argument %d: %v", i, err)
		}
		plans[i] = cv
	}
	return plans, nil
}

// compileArgs pushes converted, owned arguments left to right.
func (c *fnCompiler) compileArgs(args []ast.Node, plans []conversion) error {
	for i, a := range args {
		if err := c.compile(a); err != nil {
			return err
		}
		c.convert(plans[i])
		c.own()
	}
	return nil
}

// callOn calls m with receiver recv (nil for static methods). The receiver
// is evaluated before the arguments.
func (c *fnCompiler) callOn(recv ast.Node, m *typesystem.Method, args []ast.Node) error {
	kind := c.unit.current
	plans, err := c.planArgs(m.Params, args)
	if err != nil {
		return err
	}
	if recv == nil {
		if err := c.compileArgs(args, plans); err != nil {
			return err
		}
		c.emitCall(OP_CALL, m)
		return nil
	}

	rt := recv.Type()
	op, target := dispatch(rt, m)
	if target == nil || (op == OP_CALL && target.Impl == nil) {
		return unsupported(kind, "%s has no implementation of %s", rt, m)
	}
	call := func() error {
		if err := c.compileArgs(args, plans); err != nil {
			return err
		}
		c.emitCall(op, target)
		return nil
	}
	if rt.Kind() == typesystem.ValueAggregate {
		return c.withReceiver(recv, call)
	}
	if err := c.compile(recv); err != nil {
		return err
	}
	return call()
}

func (c *fnCompiler) compileNew(n *ast.New) error {
	t := n.Type()
	if t == typesystem.StringType || t == typesystem.Null {
		return unsupported(ast.KindNew, "cannot construct %s", t)
	}
	var plans []conversion
	if n.Ctor != nil {
		if n.Ctor.Impl == nil {
			return unsupported(ast.KindNew, "constructor %s has no implementation", n.Ctor)
		}
		var err error
		if plans, err = c.planArgs(n.Ctor.Params, n.Args); err != nil {
			return err
		}
	}

	switch t.Kind() {
	case typesystem.ValueAggregate:
		c.emit(OP_NEW_AGG, []int{c.constant(t)}, owned(t))
		if n.Ctor == nil {
			return nil
		}
		return c.withTemp(t, func(slot int) error {
			c.emit(OP_STORE_LOCAL, []int{slot})
			c.emit(OP_LOAD_LOCAL, []int{slot}, aliased(t))
			if err := c.compileArgs(n.Args, plans); err != nil {
				return err
			}
			c.emitCall(OP_CALL, n.Ctor)
			// the temporary dies here, so the result is owned
			c.emit(OP_LOAD_LOCAL, []int{slot}, owned(t))
			return nil
		})
	case typesystem.ReferenceType:
		c.emit(OP_NEW_OBJ, []int{c.constant(t)}, owned(t))
		if n.Ctor == nil {
			return nil
		}
		c.emit(OP_DUP, nil, owned(t), owned(t))
		if err := c.compileArgs(n.Args, plans); err != nil {
			return err
		}
		c.emitCall(OP_CALL, n.Ctor)
		return nil
	}
	return unsupported(ast.KindNew, "cannot construct %s value %s", t.Kind(), t)
}

func (c *fnCompiler) compileMemberInit(n *ast.MemberInit) error {
	t := n.Type()
	if err := c.compileNew(n.New); err != nil {
		return err
	}
	if t.Kind() == typesystem.ReferenceType {
		for _, b := range n.Bindings {
			c.emit(OP_DUP, nil, owned(t), owned(t))
			if err := c.storeMember(t, b.Member, b.Value, false); err != nil {
				return err
			}
		}
		return nil
	}
	return c.withTemp(t, func(slot int) error {
		c.emit(OP_STORE_LOCAL, []int{slot})
		for _, b := range n.Bindings {
			c.emit(OP_LOAD_LOCAL, []int{slot}, aliased(t))
			if err := c.storeMember(t, b.Member, b.Value, false); err != nil {
				return err
			}
		}
		c.emit(OP_LOAD_LOCAL, []int{slot}, owned(t))
		return nil
	})
}

// storeMember writes value into member of the receiver on top of the stack.
// With keep the stored value stays on the stack as the result.
func (c *fnCompiler) storeMember(recvType *typesystem.Type, member typesystem.Member, value ast.Node, keep bool) error {
	kind := c.unit.current
	mt := member.MemberType()
	cv, err := planConversion(value.Type(), mt, false)
	if err != nil {
		return unsupported(kind, "%s: %v", member.MemberName(), err)
	}

	var op Opcode
	var setter *typesystem.Method
	if p, ok := member.(*typesystem.Property); ok {
		if p.Setter == nil {
			return unsupported(kind, "property %s is read-only", p.Name)
		}
		op, setter = dispatch(recvType, p.Setter)
		if setter == nil || (op == OP_CALL && setter.Impl == nil) {
			return unsupported(kind, "%s has no setter for %s", recvType, p.Name)
		}
	}

	if err := c.compile(value); err != nil {
		return err
	}
	c.convert(cv)
	c.own()
	if keep {
		v, r := c.stack.peek(), c.stack.peekAt(1)
		v.Addressable = true
		c.emit(OP_DUP_X1, nil, v, r, v)
	}
	switch m := member.(type) {
	case *typesystem.Field:
		c.emit(OP_SET_FIELD, []int{m.Index})
	case *typesystem.Property:
		c.emitCall(op, setter)
	}
	return nil
}

func (c *fnCompiler) compileConvert(n *ast.Convert) error {
	if n.Method != nil {
		return unsupported(ast.KindConvert, "user-defined conversion %s", n.Method)
	}
	cv, err := planConversion(n.Operand.Type(), n.Type(), true)
	if err != nil {
		return unsupported(ast.KindConvert, "%v", err)
	}
	if err := c.compile(n.Operand); err != nil {
		return err
	}
	c.convert(cv)
	return nil
}

func (c *fnCompiler) compileLambda(n *ast.Lambda) error {
	if len(n.Params) > config.MaxArgs {
		return unsupported(ast.KindLambda, "too many parameters")
	}
	child := c.unit.newFunction(n, c)
	if err := child.compileFunction(ShapeOf(n)); err != nil {
		return err
	}
	c.unit.current = ast.KindLambda
	c.emit(OP_CLOSURE, []int{c.constant(child.function)}, owned(n.Type()))
	return nil
}

// join merges the two branch results modeled on top of the stack.
func (c *fnCompiler) join(other StackSlot) {
	top := c.stack.peek()
	top.Addressable = top.Addressable || other.Addressable
	c.stack.replaceTop(top)
}

func (c *fnCompiler) compileConditional(n *ast.Conditional) error {
	if err := c.compile(n.Test); err != nil {
		return err
	}
	elseJump := c.emitJump(OP_JUMP_IF_FALSE)
	snap := c.stack.snapshot()

	if err := c.compile(n.IfTrue); err != nil {
		return err
	}
	var first StackSlot
	if n.Type() != nil {
		first = c.stack.peek()
	}
	endJump := c.emitJump(OP_JUMP)

	c.stack.restore(snap)
	c.patchJump(elseJump)
	if err := c.compile(n.IfFalse); err != nil {
		return err
	}
	c.patchJump(endJump)

	if n.Type() != nil {
		c.join(first)
	}
	return nil
}

func (c *fnCompiler) compileLogical(n *ast.Binary) error {
	b := owned(typesystem.BoolType)
	if err := c.compile(n.Left); err != nil {
		return err
	}
	shortJump := c.emitJump(OP_JUMP_IF_FALSE)
	snap := c.stack.snapshot()

	if n.Op == ast.OpAndAlso {
		if err := c.compile(n.Right); err != nil {
			return err
		}
		endJump := c.emitJump(OP_JUMP)
		c.stack.restore(snap)
		c.patchJump(shortJump)
		c.emit(OP_FALSE, nil, b)
		c.patchJump(endJump)
	} else {
		c.emit(OP_TRUE, nil, b)
		endJump := c.emitJump(OP_JUMP)
		c.stack.restore(snap)
		c.patchJump(shortJump)
		if err := c.compile(n.Right); err != nil {
			return err
		}
		c.patchJump(endJump)
	}
	c.stack.replaceTop(b)
	return nil
}

var arithmeticOps = map[ast.BinaryOp]Opcode{
	ast.OpAdd: OP_ADD,
	ast.OpSub: OP_SUB,
	ast.OpMul: OP_MUL,
	ast.OpDiv: OP_DIV,
	ast.OpMod: OP_MOD,
}

var orderingOps = map[ast.BinaryOp]Opcode{
	ast.OpLess:         OP_LT,
	ast.OpLessEqual:    OP_LE,
	ast.OpGreater:      OP_GT,
	ast.OpGreaterEqual: OP_GE,
}

func (c *fnCompiler) compileBinary(n *ast.Binary) error {
	if n.Method != nil {
		return unsupported(ast.KindBinary, "user-defined operator %s", n.Method)
	}
	if n.Op.IsLogical() {
		return c.compileLogical(n)
	}
	lt, rt := n.Left.Type(), n.Right.Type()
	if n.Op.IsEquality() && (lt.Kind() == typesystem.ValueAggregate || rt.Kind() == typesystem.ValueAggregate) {
		return unsupported(ast.KindBinary, "%s on value aggregate %s", n.Op, lt)
	}

	if err := c.compile(n.Left); err != nil {
		return err
	}
	if err := c.compile(n.Right); err != nil {
		return err
	}

	result := owned(n.Type())
	switch {
	case n.Op == ast.OpAdd && lt == typesystem.StringType:
		c.emit(OP_CONCAT, nil, result)
	case n.Op.IsArithmetic():
		c.emit(arithmeticOps[n.Op], nil, result)
	case n.Op.IsOrdering():
		c.emit(orderingOps[n.Op], nil, result)
	case lt.Kind() == typesystem.PrimitiveScalar || lt == typesystem.StringType && rt == typesystem.StringType:
		if n.Op == ast.OpEqual {
			c.emit(OP_EQ, nil, result)
		} else {
			c.emit(OP_NE, nil, result)
		}
	default:
		if n.Op == ast.OpEqual {
			c.emit(OP_REF_EQ, nil, result)
		} else {
			c.emit(OP_REF_NE, nil, result)
		}
	}
	return nil
}

func (c *fnCompiler) compileUnary(n *ast.Unary) error {
	if err := c.compile(n.Operand); err != nil {
		return err
	}
	if n.Op == ast.OpNot {
		c.emit(OP_NOT, nil, owned(n.Type()))
	} else {
		c.emit(OP_NEG, nil, owned(n.Type()))
	}
	return nil
}

// dupResult duplicates the value about to be stored so it remains as the
// assignment's result.
func (c *fnCompiler) dupResult() {
	v := c.stack.peek()
	v.Addressable = true
	c.emit(OP_DUP, nil, v, v)
}

func (c *fnCompiler) compileAssign(n *ast.Assign) error {
	tt := n.Target.Type()
	cv, err := planConversion(n.Value.Type(), tt, false)
	if err != nil {
		return unsupported(ast.KindAssign, "%v", err)
	}
	value := func() error {
		if err := c.compile(n.Value); err != nil {
			return err
		}
		c.convert(cv)
		c.own()
		return nil
	}

	switch t := n.Target.(type) {
	case *ast.Parameter:
		b, ok := c.env[t]
		if !ok {
			return unsupported(ast.KindAssign, "variable %s is not in scope", t.Name)
		}
		var op Opcode
		switch b.kind {
		case bindLocal:
			op = OP_STORE_LOCAL
		case bindLocalCell:
			op = OP_STORE_CELL
		case bindFreeCell:
			op = OP_STORE_FREE_CELL
		default:
			fault(faultBinding, "write to by-value capture %s", t.Name)
		}
		if err := value(); err != nil {
			return err
		}
		c.dupResult()
		c.emit(op, []int{b.index})
		return nil

	case *ast.ClosureCapture:
		if err := value(); err != nil {
			return err
		}
		c.unit.addHostCell(t.Cell)
		c.dupResult()
		c.emit(OP_STORE_HOST, []int{c.constant(t.Cell)})
		return nil

	case *ast.MemberAccess:
		ot := t.Object.Type()
		switch {
		case ot.Kind() == typesystem.ValueAggregate && !isLValuePath(t.Object):
			return unsupported(ast.KindAssign, "assignment to a member of a non-addressable value")
		case ot.Kind() == typesystem.PrimitiveScalar:
			return unsupported(ast.KindAssign, "assignment to a member of scalar %s", ot)
		}
		if err := c.compile(t.Object); err != nil {
			return err
		}
		return c.storeMember(ot, t.Member, n.Value, true)

	case *ast.ArrayIndex:
		if err := c.compile(t.Array); err != nil {
			return err
		}
		if err := c.compile(t.Index); err != nil {
			return err
		}
		if err := value(); err != nil {
			return err
		}
		v, i, a := c.stack.peek(), c.stack.peekAt(1), c.stack.peekAt(2)
		v.Addressable = true
		c.emit(OP_DUP_X2, nil, v, a, i, v)
		c.emit(OP_SET_ELEM, nil)
		return nil
	}
	return unsupported(ast.KindAssign, "%s is not assignable", n.Target.Kind())
}

func (c *fnCompiler) compileBlock(n *ast.Block) error {
	type shadowed struct {
		p   *ast.Parameter
		b   binding
		had bool
	}
	scope := c.frame.openScope()
	var saved []shadowed
	for _, p := range n.Variables {
		v := c.unit.analysis.lookup(n, p)
		mode := CaptureNone
		if v != nil {
			mode = v.mode
		}
		slot := c.frame.allocate(p.Type(), p.Name, mode, scope)
		c.pushDefault(p.Type())
		c.emit(OP_STORE_LOCAL, []int{slot.Index})
		prev, had := c.env[p]
		saved = append(saved, shadowed{p, prev, had})
		c.bindVariable(p, v, slot.Index)
	}

	last := len(n.Exprs) - 1
	for i, e := range n.Exprs {
		if err := c.compile(e); err != nil {
			return err
		}
		if i < last && e.Type() != nil {
			c.emit(OP_POP, nil)
		}
	}
	c.unit.current = ast.KindBlock

	c.frame.release(scope)
	for i := len(saved) - 1; i >= 0; i-- {
		s := saved[i]
		if s.had {
			c.env[s.p] = s.b
		} else {
			delete(c.env, s.p)
		}
	}
	return nil
}

func (c *fnCompiler) compileInvoke(n *ast.Invoke) error {
	ft := n.Func.Type()
	plans, err := c.planArgs(ft.Params(), n.Args)
	if err != nil {
		return err
	}
	if err := c.compile(n.Func); err != nil {
		return err
	}
	if err := c.compileArgs(n.Args, plans); err != nil {
		return err
	}
	if r := ft.Result(); r != nil {
		c.emit(OP_INVOKE, []int{len(n.Args), 1}, owned(r))
	} else {
		c.emit(OP_INVOKE, []int{len(n.Args), 0})
	}
	return nil
}

func (c *fnCompiler) compileNewArray(n *ast.NewArray) error {
	at := n.Type()
	if n.Length != nil {
		if err := c.compile(n.Length); err != nil {
			return err
		}
		c.emit(OP_NEW_ARRAY, []int{c.constant(n.Elem)}, owned(at))
		return nil
	}
	plans := make([]conversion, len(n.Items))
	for i, it := range n.Items {
		cv, err := planConversion(it.Type(), n.Elem, false)
		if err != nil {
			return unsupported(ast.KindNewArray, "item %d: %v", i, err)
		}
		plans[i] = cv
	}
	if err := c.compileArgs(n.Items, plans); err != nil {
		return err
	}
	c.emit(OP_ARRAY_INIT, []int{c.constant(n.Elem), len(n.Items)}, owned(at))
	return nil
}

func (c *fnCompiler) compileArrayIndex(n *ast.ArrayIndex) error {
	if err := c.compile(n.Array); err != nil {
		return err
	}
	if err := c.compile(n.Index); err != nil {
		return err
	}
	c.emit(OP_GET_ELEM, nil, aliased(n.Type()))
	return nil
}
