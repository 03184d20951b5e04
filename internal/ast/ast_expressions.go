package ast

import (
	"github.com/funvibe/exprvm/internal/typesystem"
)

type Type = typesystem.Type

// Constant is a literal value. Aggregate constants are owned by the node.
type Constant struct {
	Value typesystem.Value
	typ   *Type
}

func (n *Constant) Kind() Kind  { return KindConstant }
func (n *Constant) Type() *Type { return n.typ }
func (n *Constant) exprNode()   {}

// Const makes a constant typed by its value.
func Const(v typesystem.Value) *Constant {
	return &Constant{Value: v.Clone(), typ: v.Type}
}

// TypedConst makes a constant with an explicit static type, such as a typed null.
func TypedConst(v typesystem.Value, t *Type) *Constant {
	if v.IsNil() {
		if t == nil || t.Kind().IsValue() {
			invalid(KindConstant, "null constant of value type %s", t)
		}
		return &Constant{Value: typesystem.NilOf(t), typ: t}
	}
	if v.Type != t && !v.Type.AssignableTo(t) {
		invalid(KindConstant, "value of type %s is not a %s", v.Type, t)
	}
	return &Constant{Value: v.Clone(), typ: t}
}

// Parameter names a variable: a lambda parameter or a block variable.
// Identity is the pointer; Name is for printing only.
type Parameter struct {
	Name string
	typ  *Type
}

func (n *Parameter) Kind() Kind  { return KindParameter }
func (n *Parameter) Type() *Type { return n.typ }
func (n *Parameter) exprNode()   {}

func Param(name string, t *Type) *Parameter {
	if t == nil {
		invalid(KindParameter, "variable %s has no type", name)
	}
	return &Parameter{Name: name, typ: t}
}

// MemberAccess reads a field or property of Object.
type MemberAccess struct {
	Object Node
	Member typesystem.Member
}

func (n *MemberAccess) Kind() Kind  { return KindMemberAccess }
func (n *MemberAccess) Type() *Type { return n.Member.MemberType() }
func (n *MemberAccess) exprNode()   {}

// Member looks up a field or property by name on the static type of obj.
func Member(obj Node, name string) *MemberAccess {
	if obj == nil || obj.Type() == nil {
		invalid(KindMemberAccess, "member %s of a void expression", name)
	}
	t := obj.Type()
	if f := t.Field(name); f != nil {
		return &MemberAccess{Object: obj, Member: f}
	}
	if p := t.Property(name); p != nil {
		return &MemberAccess{Object: obj, Member: p}
	}
	panic(&BuildError{Kind: KindMemberAccess, Reason: typesystem.NewMemberNotFoundError(t, name, -1).Error()})
}

// MethodCall invokes Method on Object, or statically when Object is nil.
type MethodCall struct {
	Object Node
	Method *typesystem.Method
	Args   []Node
}

func (n *MethodCall) Kind() Kind  { return KindMethodCall }
func (n *MethodCall) Type() *Type { return n.Method.Result }
func (n *MethodCall) exprNode()   {}

// Call looks up an instance method by name and arity on the static type of obj.
func Call(obj Node, name string, args ...Node) *MethodCall {
	if obj == nil || obj.Type() == nil {
		invalid(KindMethodCall, "call of %s on a void expression", name)
	}
	m := obj.Type().Method(name, len(args))
	if m == nil || m.Static {
		panic(&BuildError{Kind: KindMethodCall, Reason: typesystem.NewMemberNotFoundError(obj.Type(), name, len(args)).Error()})
	}
	return CallMethod(obj, m, args...)
}

// CallMethod calls a resolved method. obj is nil for static methods.
func CallMethod(obj Node, m *typesystem.Method, args ...Node) *MethodCall {
	if m.Static != (obj == nil) {
		invalid(KindMethodCall, "receiver mismatch for %s", m)
	}
	if m.Ctor {
		invalid(KindMethodCall, "constructor %s called as a method", m)
	}
	if obj != nil {
		ot := obj.Type()
		owner := m.Owner
		if ot != owner && !ot.AssignableTo(owner) && !ot.IsSubclassOf(owner) && !typesystem.IsBoxingTarget(ot, owner) {
			invalid(KindMethodCall, "%s has no method %s", ot, m)
		}
	}
	checkArgs(KindMethodCall, m.Params, args)
	return &MethodCall{Object: obj, Method: m, Args: copyNodes(args)}
}

// New constructs an instance. Ctor is nil for default construction.
type New struct {
	Ctor *typesystem.Method
	Args []Node
	typ  *Type
}

func (n *New) Kind() Kind  { return KindNew }
func (n *New) Type() *Type { return n.typ }
func (n *New) exprNode()   {}

// NewObject picks the constructor of t by arity. With no arguments and no
// parameterless constructor the instance is default-constructed.
func NewObject(t *Type, args ...Node) *New {
	if t == nil || t.Kind() == typesystem.InterfaceType || t.Kind() == typesystem.PrimitiveScalar || t.IsArray() || t.IsDelegate() {
		invalid(KindNew, "cannot construct %s", t)
	}
	ctor := t.Constructor(len(args))
	if ctor == nil && len(args) > 0 {
		panic(&BuildError{Kind: KindNew, Reason: typesystem.NewMemberNotFoundError(t, ".ctor", len(args)).Error()})
	}
	if ctor != nil {
		checkArgs(KindNew, ctor.Params, args)
	}
	return &New{Ctor: ctor, Args: copyNodes(args), typ: t}
}

// Binding assigns Value to a member during MemberInit.
type Binding struct {
	Member typesystem.Member
	Value  Node
}

// MemberInit constructs with New and then applies Bindings in order.
type MemberInit struct {
	New      *New
	Bindings []Binding
}

func (n *MemberInit) Kind() Kind  { return KindMemberInit }
func (n *MemberInit) Type() *Type { return n.New.typ }
func (n *MemberInit) exprNode()   {}

// Bind resolves name against t.
func Bind(t *Type, name string, v Node) Binding {
	if f := t.Field(name); f != nil {
		return Binding{Member: f, Value: v}
	}
	if p := t.Property(name); p != nil {
		return Binding{Member: p, Value: v}
	}
	panic(&BuildError{Kind: KindMemberInit, Reason: typesystem.NewMemberNotFoundError(t, name, -1).Error()})
}

func Init(n *New, bindings ...Binding) *MemberInit {
	for _, b := range bindings {
		mt := b.Member.MemberType()
		if p, ok := b.Member.(*typesystem.Property); ok && p.Setter == nil {
			invalid(KindMemberInit, "property %s is read-only", p.Name)
		}
		if b.Value == nil || !typesystem.ImplicitlyConvertible(b.Value.Type(), mt) {
			invalid(KindMemberInit, "cannot bind %s to %s", typeOf(b.Value), b.Member.MemberName())
		}
	}
	bs := make([]Binding, len(bindings))
	copy(bs, bindings)
	return &MemberInit{New: n, Bindings: bs}
}

// Convert changes the static type of Operand. Method is a user-defined
// conversion operator, nil for builtin conversions.
type Convert struct {
	Operand Node
	Method  *typesystem.Method
	typ     *Type
}

func (n *Convert) Kind() Kind  { return KindConvert }
func (n *Convert) Type() *Type { return n.typ }
func (n *Convert) exprNode()   {}

func ConvertTo(operand Node, t *Type) *Convert {
	if !typesystem.ExplicitlyConvertible(operand.Type(), t) {
		invalid(KindConvert, "no conversion from %s to %s", operand.Type(), t)
	}
	return &Convert{Operand: operand, typ: t}
}

// ConvertWith converts through a static one-argument method.
func ConvertWith(operand Node, t *Type, m *typesystem.Method) *Convert {
	if !m.Static || len(m.Params) != 1 || m.Result != t {
		invalid(KindConvert, "%s is not a conversion to %s", m, t)
	}
	checkArgs(KindConvert, m.Params, []Node{operand})
	return &Convert{Operand: operand, Method: m, typ: t}
}

// Lambda is a function. The root of a compiled tree is always a Lambda.
type Lambda struct {
	Name   string
	Params []*Parameter
	Body   Node
	Result *Type // nil for void
	typ    *Type
}

func (n *Lambda) Kind() Kind  { return KindLambda }
func (n *Lambda) Type() *Type { return n.typ }
func (n *Lambda) exprNode()   {}

// Func makes a lambda whose result type is the body's type.
func Func(body Node, params ...*Parameter) *Lambda {
	return FuncOf(body.Type(), body, params...)
}

// FuncOf makes a lambda with an explicit result type. A void result discards
// the body's value.
func FuncOf(result *Type, body Node, params ...*Parameter) *Lambda {
	if body == nil {
		invalid(KindLambda, "missing body")
	}
	if result != nil && !typesystem.ImplicitlyConvertible(body.Type(), result) {
		invalid(KindLambda, "body of type %s does not convert to %s", body.Type(), result)
	}
	seen := map[*Parameter]bool{}
	ptypes := make([]*Type, len(params))
	for i, p := range params {
		if seen[p] {
			invalid(KindLambda, "parameter %s listed twice", p.Name)
		}
		seen[p] = true
		ptypes[i] = p.typ
	}
	ps := make([]*Parameter, len(params))
	copy(ps, params)
	return &Lambda{Params: ps, Body: body, Result: result, typ: typesystem.FuncOf(ptypes, result)}
}

// Named returns a copy of the lambda with a name used in disassembly and errors.
func (n *Lambda) Named(name string) *Lambda {
	cp := *n
	cp.Name = name
	return &cp
}

// ClosureCapture refers to a variable owned by the host program.
type ClosureCapture struct {
	Name string
	Cell *typesystem.Cell
}

func (n *ClosureCapture) Kind() Kind  { return KindClosureCapture }
func (n *ClosureCapture) Type() *Type { return n.Cell.Type() }
func (n *ClosureCapture) exprNode()   {}

func Capture(name string, cell *typesystem.Cell) *ClosureCapture {
	if cell == nil || cell.Type() == nil {
		invalid(KindClosureCapture, "capture %s has no cell", name)
	}
	return &ClosureCapture{Name: name, Cell: cell}
}

// Conditional is test ? IfTrue : IfFalse.
type Conditional struct {
	Test    Node
	IfTrue  Node
	IfFalse Node
}

func (n *Conditional) Kind() Kind  { return KindConditional }
func (n *Conditional) Type() *Type { return n.IfTrue.Type() }
func (n *Conditional) exprNode()   {}

func Cond(test, ifTrue, ifFalse Node) *Conditional {
	if test.Type() != typesystem.BoolType {
		invalid(KindConditional, "test of type %s", test.Type())
	}
	if ifTrue.Type() != ifFalse.Type() {
		invalid(KindConditional, "branches of type %s and %s", ifTrue.Type(), ifFalse.Type())
	}
	return &Conditional{Test: test, IfTrue: ifTrue, IfFalse: ifFalse}
}

// BinaryOp is a binary operator.
type BinaryOp uint8

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEqual
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
	OpAndAlso
	OpOrElse
)

var binaryOpNames = [...]string{"+", "-", "*", "/", "%", "==", "!=", "<", "<=", ">", ">=", "&&", "||"}

func (op BinaryOp) String() string {
	if int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return "?"
}

func (op BinaryOp) IsArithmetic() bool { return op <= OpMod }
func (op BinaryOp) IsEquality() bool   { return op == OpEqual || op == OpNotEqual }
func (op BinaryOp) IsOrdering() bool   { return op >= OpLess && op <= OpGreaterEqual }
func (op BinaryOp) IsLogical() bool    { return op == OpAndAlso || op == OpOrElse }

// Binary applies Op. Method is a user-defined operator, nil for builtin ones.
type Binary struct {
	Op     BinaryOp
	Left   Node
	Right  Node
	Method *typesystem.Method
	typ    *Type
}

func (n *Binary) Kind() Kind  { return KindBinary }
func (n *Binary) Type() *Type { return n.typ }
func (n *Binary) exprNode()   {}

func Bin(op BinaryOp, left, right Node) *Binary {
	lt, rt := left.Type(), right.Type()
	if lt == nil || rt == nil {
		invalid(KindBinary, "void operand of %s", op)
	}
	n := &Binary{Op: op, Left: left, Right: right}
	switch {
	case op.IsLogical():
		if lt != typesystem.BoolType || rt != typesystem.BoolType {
			invalid(KindBinary, "%s on %s and %s", op, lt, rt)
		}
		n.typ = typesystem.BoolType
	case op == OpAdd && lt == typesystem.StringType && rt == typesystem.StringType:
		n.typ = typesystem.StringType
	case op.IsArithmetic():
		if lt != rt || !lt.IsNumeric() {
			invalid(KindBinary, "%s on %s and %s", op, lt, rt)
		}
		n.typ = lt
	case op.IsOrdering():
		if lt != rt || !lt.IsNumeric() && !lt.IsEnum() {
			invalid(KindBinary, "%s on %s and %s", op, lt, rt)
		}
		n.typ = typesystem.BoolType
	default:
		if lt != rt && !lt.AssignableTo(rt) && !rt.AssignableTo(lt) {
			invalid(KindBinary, "%s on %s and %s", op, lt, rt)
		}
		n.typ = typesystem.BoolType
	}
	return n
}

// BinWith applies a user-defined static operator method.
func BinWith(op BinaryOp, left, right Node, m *typesystem.Method) *Binary {
	if !m.Static || len(m.Params) != 2 || m.Result == nil {
		invalid(KindBinary, "%s is not a binary operator", m)
	}
	checkArgs(KindBinary, m.Params, []Node{left, right})
	return &Binary{Op: op, Left: left, Right: right, Method: m, typ: m.Result}
}

// UnaryOp is a unary operator.
type UnaryOp uint8

const (
	OpNegate UnaryOp = iota
	OpNot
)

func (op UnaryOp) String() string {
	if op == OpNot {
		return "!"
	}
	return "-"
}

type Unary struct {
	Op      UnaryOp
	Operand Node
}

func (n *Unary) Kind() Kind  { return KindUnary }
func (n *Unary) Type() *Type { return n.Operand.Type() }
func (n *Unary) exprNode()   {}

func Un(op UnaryOp, operand Node) *Unary {
	t := operand.Type()
	if op == OpNot && t != typesystem.BoolType || op == OpNegate && (t == nil || !t.IsNumeric()) {
		invalid(KindUnary, "%s on %s", op, t)
	}
	return &Unary{Op: op, Operand: operand}
}

// Assign stores Value into Target and yields the stored value.
type Assign struct {
	Target Node
	Value  Node
}

func (n *Assign) Kind() Kind  { return KindAssign }
func (n *Assign) Type() *Type { return n.Target.Type() }
func (n *Assign) exprNode()   {}

func Set(target, value Node) *Assign {
	switch t := target.(type) {
	case *Parameter, *ArrayIndex, *ClosureCapture:
	case *MemberAccess:
		if p, ok := t.Member.(*typesystem.Property); ok && p.Setter == nil {
			invalid(KindAssign, "property %s is read-only", p.Name)
		}
	default:
		invalid(KindAssign, "%s is not assignable", target.Kind())
	}
	if !typesystem.ImplicitlyConvertible(value.Type(), target.Type()) {
		invalid(KindAssign, "cannot assign %s to %s", value.Type(), target.Type())
	}
	return &Assign{Target: target, Value: value}
}

// Block declares Variables, evaluates Exprs in order and yields the last one.
type Block struct {
	Variables []*Parameter
	Exprs     []Node
}

func (n *Block) Kind() Kind  { return KindBlock }
func (n *Block) Type() *Type { return n.Exprs[len(n.Exprs)-1].Type() }
func (n *Block) exprNode()   {}

func Seq(vars []*Parameter, exprs ...Node) *Block {
	if len(exprs) == 0 {
		invalid(KindBlock, "empty block")
	}
	vs := make([]*Parameter, len(vars))
	copy(vs, vars)
	return &Block{Variables: vs, Exprs: copyNodes(exprs)}
}

// Invoke calls a delegate value.
type Invoke struct {
	Func Node
	Args []Node
}

func (n *Invoke) Kind() Kind  { return KindInvoke }
func (n *Invoke) Type() *Type { return n.Func.Type().Result() }
func (n *Invoke) exprNode()   {}

func Apply(fn Node, args ...Node) *Invoke {
	ft := fn.Type()
	if ft == nil || !ft.IsDelegate() {
		invalid(KindInvoke, "%s is not a delegate", ft)
	}
	checkArgs(KindInvoke, ft.Params(), args)
	return &Invoke{Func: fn, Args: copyNodes(args)}
}

// Default is the zero value of a type.
type Default struct {
	typ *Type
}

func (n *Default) Kind() Kind  { return KindDefault }
func (n *Default) Type() *Type { return n.typ }
func (n *Default) exprNode()   {}

func DefaultOf(t *Type) *Default {
	if t == nil {
		invalid(KindDefault, "default of void")
	}
	return &Default{typ: t}
}

// NewArray allocates an array, either Length zero elements or the given Items.
type NewArray struct {
	Elem   *Type
	Length Node
	Items  []Node
}

func (n *NewArray) Kind() Kind  { return KindNewArray }
func (n *NewArray) Type() *Type { return typesystem.ArrayOf(n.Elem) }
func (n *NewArray) exprNode()   {}

func NewArrayBounds(elem *Type, length Node) *NewArray {
	if elem == nil || length.Type() != typesystem.Int32Type {
		invalid(KindNewArray, "length of type %s", length.Type())
	}
	return &NewArray{Elem: elem, Length: length}
}

func NewArrayInit(elem *Type, items ...Node) *NewArray {
	if elem == nil {
		invalid(KindNewArray, "void element type")
	}
	for _, it := range items {
		if !typesystem.ImplicitlyConvertible(it.Type(), elem) {
			invalid(KindNewArray, "item of type %s in %s[]", it.Type(), elem)
		}
	}
	return &NewArray{Elem: elem, Items: copyNodes(items)}
}

// ArrayIndex reads (or, as an Assign target, writes) an element.
type ArrayIndex struct {
	Array Node
	Index Node
}

func (n *ArrayIndex) Kind() Kind  { return KindArrayIndex }
func (n *ArrayIndex) Type() *Type { return n.Array.Type().Elem() }
func (n *ArrayIndex) exprNode()   {}

func Index(arr, index Node) *ArrayIndex {
	if arr.Type() == nil || !arr.Type().IsArray() {
		invalid(KindArrayIndex, "%s is not an array", arr.Type())
	}
	if index.Type() != typesystem.Int32Type {
		invalid(KindArrayIndex, "index of type %s", index.Type())
	}
	return &ArrayIndex{Array: arr, Index: index}
}

type ArrayLength struct {
	Array Node
}

func (n *ArrayLength) Kind() Kind  { return KindArrayLength }
func (n *ArrayLength) Type() *Type { return typesystem.Int32Type }
func (n *ArrayLength) exprNode()   {}

func Len(arr Node) *ArrayLength {
	if arr.Type() == nil || !arr.Type().IsArray() {
		invalid(KindArrayLength, "%s is not an array", arr.Type())
	}
	return &ArrayLength{Array: arr}
}

func checkArgs(kind Kind, params []*Type, args []Node) {
	if len(params) != len(args) {
		invalid(kind, "%d arguments for %d parameters", len(args), len(params))
	}
	for i, a := range args {
		if a == nil || !typesystem.ImplicitlyConvertible(a.Type(), params[i]) {
			invalid(kind, "argument %d: %s does not convert to %s", i, typeOf(a), params[i])
		}
	}
}

func copyNodes(ns []Node) []Node {
	if len(ns) == 0 {
		return nil
	}
	out := make([]Node, len(ns))
	copy(out, ns)
	return out
}

func typeOf(n Node) *Type {
	if n == nil {
		return nil
	}
	return n.Type()
}
