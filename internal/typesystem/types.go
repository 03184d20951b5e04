package typesystem

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// ValueKind classifies how values of a type are stored, copied and dispatched.
// It is derived from the static type alone.
type ValueKind uint8

const (
	PrimitiveScalar ValueKind = iota // bool, numbers, enums
	ValueAggregate                   // struct-like, fixed layout, copy-on-assign
	ReferenceType                    // classes, strings, arrays, delegates
	InterfaceType                    // dispatch-table only, values are boxes or references
)

func (k ValueKind) String() string {
	switch k {
	case PrimitiveScalar:
		return "scalar"
	case ValueAggregate:
		return "aggregate"
	case ReferenceType:
		return "reference"
	case InterfaceType:
		return "interface"
	default:
		return fmt.Sprintf("ValueKind(%d)", k)
	}
}

// IsValue reports whether values of this kind are copied on assignment.
func (k ValueKind) IsValue() bool {
	return k == PrimitiveScalar || k == ValueAggregate
}

// Primitive is the machine representation of a scalar.
type Primitive uint8

const (
	PrimNone Primitive = iota
	PrimBool
	PrimInt32
	PrimInt64
	PrimFloat64
)

func (p Primitive) String() string {
	switch p {
	case PrimBool:
		return "bool"
	case PrimInt32:
		return "int32"
	case PrimInt64:
		return "int64"
	case PrimFloat64:
		return "float64"
	default:
		return "none"
	}
}

// IsNumeric reports whether arithmetic is defined on the primitive.
func (p Primitive) IsNumeric() bool {
	return p == PrimInt32 || p == PrimInt64 || p == PrimFloat64
}

// Rank orders numeric primitives by width; widening goes from lower to higher rank.
func (p Primitive) Rank() int {
	switch p {
	case PrimInt32:
		return 1
	case PrimInt64:
		return 2
	case PrimFloat64:
		return 3
	default:
		return 0
	}
}

var typeIDs atomic.Uint64

// Type is a static type. Types are built once (see Builder) and are
// read-only afterwards, so they can be shared across goroutines.
type Type struct {
	id     uint64
	name   string
	kind   ValueKind
	prim   Primitive
	enum   bool
	sealed bool

	base   *Type
	elem   *Type   // arrays
	params []*Type // delegates
	result *Type   // delegates, nil for void

	fields  []*Field
	props   []*Property
	methods []*Method
	ctors   []*Method

	vtable []*Method
	itabs  map[*Type][]*Method
	ifaces []*Type

	enumNames map[int64]string
}

// ID is unique per type within the process.
func (t *Type) ID() uint64 { return t.id }

func (t *Type) Name() string { return t.name }

func (t *Type) String() string {
	if t == nil {
		return "void"
	}
	return t.name
}

// Kind returns the value kind of the type.
func (t *Type) Kind() ValueKind { return t.kind }

// Primitive returns the scalar representation, or the underlying representation for enums.
func (t *Type) Primitive() Primitive { return t.prim }

func (t *Type) IsEnum() bool      { return t.enum }
func (t *Type) IsSealed() bool    { return t.sealed || t.kind.IsValue() }
func (t *Type) IsArray() bool     { return t.elem != nil }
func (t *Type) IsDelegate() bool  { return t.params != nil }
func (t *Type) IsInterface() bool { return t.kind == InterfaceType }

// IsNumeric reports whether t is a non-enum numeric scalar.
func (t *Type) IsNumeric() bool { return t.kind == PrimitiveScalar && !t.enum && t.prim.IsNumeric() }

// Base returns the supertype. Aggregates and scalars report ValueType (or Enum).
func (t *Type) Base() *Type { return t.base }

// Elem returns the element type of an array type.
func (t *Type) Elem() *Type { return t.elem }

// Params returns the parameter types of a delegate type.
func (t *Type) Params() []*Type { return t.params }

// Result returns the result type of a delegate type, nil for void.
func (t *Type) Result() *Type { return t.result }

func (t *Type) Fields() []*Field          { return t.fields }
func (t *Type) Properties() []*Property   { return t.props }
func (t *Type) Methods() []*Method        { return t.methods }
func (t *Type) Constructors() []*Method   { return t.ctors }
func (t *Type) Interfaces() []*Type       { return t.ifaces }
func (t *Type) VTable() []*Method         { return t.vtable }
func (t *Type) EnumName(v int64) string   { return t.enumNames[v] }
func (t *Type) HasEnumValue(v int64) bool { _, ok := t.enumNames[v]; return ok }

// Field looks up a field by name, including inherited fields of reference types.
func (t *Type) Field(name string) *Field {
	for cur := t; cur != nil; cur = cur.base {
		for _, f := range cur.fields {
			if f.Name == name {
				return f
			}
		}
	}
	return nil
}

// Property looks up a property by name, including inherited ones.
func (t *Type) Property(name string) *Property {
	for cur := t; cur != nil; cur = cur.base {
		for _, p := range cur.props {
			if p.Name == name {
				return p
			}
		}
	}
	return nil
}

// Method looks up an instance or static method by name and arity.
// Overrides are found before the base declaration.
func (t *Type) Method(name string, arity int) *Method {
	for cur := t; cur != nil; cur = cur.base {
		for _, m := range cur.methods {
			if m.Name == name && len(m.Params) == arity {
				return m
			}
		}
	}
	if t.kind == InterfaceType {
		// every interface value is an object
		return Object.Method(name, arity)
	}
	// Interface methods are reachable on implementing types through their tables.
	for _, iface := range t.allInterfaces() {
		for i, m := range iface.methods {
			if m.Name == name && len(m.Params) == arity {
				return t.itab(iface)[i]
			}
		}
	}
	return nil
}

// FieldCount is the number of field storage locations, inherited ones included.
func (t *Type) FieldCount() int {
	n := 0
	for cur := t; cur != nil; cur = cur.base {
		n += len(cur.fields)
	}
	return n
}

// Constructor finds a constructor by arity.
func (t *Type) Constructor(arity int) *Method {
	for _, m := range t.ctors {
		if len(m.Params) == arity {
			return m
		}
	}
	return nil
}

// IsSubclassOf reports whether u appears in t's base chain (t itself excluded).
func (t *Type) IsSubclassOf(u *Type) bool {
	for cur := t.base; cur != nil; cur = cur.base {
		if cur == u {
			return true
		}
	}
	return false
}

// Implements reports whether t (or one of its bases) implements iface.
func (t *Type) Implements(iface *Type) bool {
	if iface == nil || iface.kind != InterfaceType {
		return false
	}
	if t == iface {
		return true
	}
	return t.itab(iface) != nil
}

func (t *Type) itab(iface *Type) []*Method {
	for cur := t; cur != nil; cur = cur.base {
		if tab, ok := cur.itabs[iface]; ok {
			return tab
		}
	}
	return nil
}

func (t *Type) allInterfaces() []*Type {
	var out []*Type
	for cur := t; cur != nil; cur = cur.base {
		out = append(out, cur.ifaces...)
	}
	return out
}

// AssignableTo reports whether a value of static type t can be used where u
// is expected without any instruction (identity or reference upcast).
func (t *Type) AssignableTo(u *Type) bool {
	if t == u {
		return true
	}
	if t == nil || u == nil {
		return false
	}
	if t.kind.IsValue() {
		return false
	}
	if t == Null {
		return !u.kind.IsValue()
	}
	if u == Object {
		return true
	}
	if u.kind == InterfaceType {
		return t.Implements(u)
	}
	return t.IsSubclassOf(u)
}

// Resolve returns the implementation of m for receivers whose dynamic type is t:
// the vtable entry for virtual methods and the interface table entry for
// interface methods. Non-virtual methods resolve to themselves.
func (t *Type) Resolve(m *Method) *Method {
	if m == nil {
		return nil
	}
	if m.Owner != nil && m.Owner.kind == InterfaceType && t.kind != InterfaceType {
		tab := t.itab(m.Owner)
		if tab == nil {
			return nil
		}
		for i, im := range m.Owner.methods {
			if im == m {
				if impl := tab[i]; impl.Slot >= 0 && impl.Slot < len(t.vtable) {
					return t.vtable[impl.Slot]
				}
				return tab[i]
			}
		}
		return nil
	}
	if m.Slot >= 0 && m.Slot < len(t.vtable) {
		return t.vtable[m.Slot]
	}
	return m
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// Member is a field or a property.
type Member interface {
	MemberName() string
	MemberType() *Type
	DeclaringType() *Type
}

// Field is a storage location inside an aggregate or instance.
type Field struct {
	Name  string
	Type  *Type
	Owner *Type
	Index int
}

func (f *Field) MemberName() string   { return f.Name }
func (f *Field) MemberType() *Type    { return f.Type }
func (f *Field) DeclaringType() *Type { return f.Owner }

// Property is accessed through getter/setter methods.
type Property struct {
	Name   string
	Type   *Type
	Owner  *Type
	Getter *Method
	Setter *Method
}

func (p *Property) MemberName() string   { return p.Name }
func (p *Property) MemberType() *Type    { return p.Type }
func (p *Property) DeclaringType() *Type { return p.Owner }

// NativeFunc implements a method. For aggregate receivers recv aliases the
// receiver's storage, so writes through recv.Aggregate() are observed by the caller.
type NativeFunc func(recv Value, args []Value) (Value, error)

// Method is an instance, static or constructor method.
type Method struct {
	Name    string
	Owner   *Type
	Params  []*Type
	Result  *Type // nil == void
	Static  bool
	Virtual bool
	Ctor    bool
	Slot    int // vtable slot, -1 when not virtual
	Impl    NativeFunc
}

func (m *Method) String() string {
	var sb strings.Builder
	if m.Owner != nil {
		sb.WriteString(m.Owner.name)
		sb.WriteByte('.')
	}
	sb.WriteString(m.Name)
	sb.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.String())
	}
	sb.WriteByte(')')
	if m.Result != nil {
		sb.WriteByte(' ')
		sb.WriteString(m.Result.String())
	}
	return sb.String()
}

// Invoke runs the native implementation.
func (m *Method) Invoke(recv Value, args []Value) (Value, error) {
	if m.Impl == nil {
		return Nil(), fmt.Errorf("method %s has no implementation", m)
	}
	return m.Impl(recv, args)
}

// ---------------------------------------------------------------------------
// Derived types
// ---------------------------------------------------------------------------

var (
	arrayTypes    sync.Map // *Type -> *Type
	delegateMu    sync.Mutex
	delegateTypes = map[string]*Type{}
)

// ArrayOf returns the array type with the given element type.
func ArrayOf(elem *Type) *Type {
	if t, ok := arrayTypes.Load(elem); ok {
		return t.(*Type)
	}
	t := &Type{
		id:     typeIDs.Add(1),
		name:   elem.name + "[]",
		kind:   ReferenceType,
		sealed: true,
		base:   Object,
		elem:   elem,
		vtable: Object.vtable,
	}
	actual, _ := arrayTypes.LoadOrStore(elem, t)
	return actual.(*Type)
}

// FuncOf returns the delegate type for the signature. result nil means void.
func FuncOf(params []*Type, result *Type) *Type {
	var sb strings.Builder
	sb.WriteString("func(")
	for i, p := range params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.name)
	}
	sb.WriteByte(')')
	if result != nil {
		sb.WriteByte(' ')
		sb.WriteString(result.name)
	}
	key := sb.String()

	delegateMu.Lock()
	defer delegateMu.Unlock()
	if t, ok := delegateTypes[key]; ok && sameTypes(t.params, params) && t.result == result {
		return t
	}
	ps := make([]*Type, len(params))
	copy(ps, params)
	if ps == nil {
		ps = []*Type{}
	}
	t := &Type{
		id:     typeIDs.Add(1),
		name:   key,
		kind:   ReferenceType,
		sealed: true,
		base:   Object,
		params: ps,
		result: result,
		vtable: Object.vtable,
	}
	delegateTypes[key] = t
	return t
}

func sameTypes(a, b []*Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
