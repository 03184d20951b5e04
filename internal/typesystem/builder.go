package typesystem

import (
	"fmt"
)

// Builder declares a user type: fields, properties, methods, constructors and
// implemented interfaces. Build lays out the vtable and the interface tables.
//
//	point := typesystem.NewStruct("Point").
//		Field("X", typesystem.Int32Type).
//		Field("Y", typesystem.Int32Type).
//		MustBuild()
type Builder struct {
	t       *Type
	pending []pendingMethod
	built   bool
	err     error
}

type methodMode uint8

const (
	modePlain methodMode = iota
	modeVirtual
	modeOverride
)

type pendingMethod struct {
	m    *Method
	mode methodMode
}

func newType(name string, kind ValueKind) *Type {
	return &Type{
		id:    typeIDs.Add(1),
		name:  name,
		kind:  kind,
		itabs: map[*Type][]*Method{},
	}
}

func extend(t *Type) *Builder { return &Builder{t: t} }

// NewStruct starts a value type. Its base is ValueType.
func NewStruct(name string) *Builder {
	t := newType(name, ValueAggregate)
	t.base = ValueType
	return extend(t)
}

// NewClass starts a reference type deriving from base (object when nil).
func NewClass(name string, base *Type) *Builder {
	if base == nil {
		base = Object
	}
	t := newType(name, ReferenceType)
	t.base = base
	b := extend(t)
	if base.kind != ReferenceType || base.sealed {
		b.fail("cannot derive %s from %s", name, base)
	}
	return b
}

// NewInterface starts an interface type. Methods declared on it are abstract.
func NewInterface(name string) *Builder {
	return extend(newType(name, InterfaceType))
}

// NewEnum declares an enum over an integral underlying type.
func NewEnum(name string, underlying *Type, values map[string]int64) (*Type, error) {
	if underlying == nil || (underlying.prim != PrimInt32 && underlying.prim != PrimInt64) || underlying.enum {
		return nil, fmt.Errorf("enum %s: underlying type must be int32 or int64, got %s", name, underlying)
	}
	t := newType(name, PrimitiveScalar)
	t.prim = underlying.prim
	t.enum = true
	t.base = EnumBase
	t.vtable = append([]*Method(nil), EnumBase.vtable...)
	t.enumNames = make(map[int64]string, len(values))
	for n, v := range values {
		if prev, dup := t.enumNames[v]; dup {
			return nil, fmt.Errorf("enum %s: %s and %s share value %d", name, prev, n, v)
		}
		t.enumNames[v] = n
	}
	return t, nil
}

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf("type %s: %s", b.t.name, fmt.Sprintf(format, args...))
	}
}

// Sealed forbids derivation from a reference type.
func (b *Builder) Sealed() *Builder {
	b.t.sealed = true
	return b
}

// Field adds a storage field.
func (b *Builder) Field(name string, t *Type) *Builder {
	if b.t.kind == InterfaceType {
		b.fail("interfaces cannot declare field %s", name)
		return b
	}
	if t == nil {
		b.fail("field %s has no type", name)
		return b
	}
	if b.t.Field(name) != nil {
		b.fail("duplicate field %s", name)
		return b
	}
	idx := len(b.t.fields)
	if b.t.base != nil {
		idx += b.t.base.FieldCount()
	}
	b.t.fields = append(b.t.fields, &Field{Name: name, Type: t, Owner: b.t, Index: idx})
	return b
}

// Property adds a property backed by native accessors. A nil setter makes it read-only.
func (b *Builder) Property(name string, t *Type, get, set NativeFunc) *Builder {
	p := &Property{Name: name, Type: t, Owner: b.t}
	p.Getter = &Method{Name: "get_" + name, Owner: b.t, Result: t, Slot: -1, Impl: get}
	b.t.methods = append(b.t.methods, p.Getter)
	if set != nil {
		p.Setter = &Method{Name: "set_" + name, Owner: b.t, Params: []*Type{t}, Slot: -1, Impl: set}
		b.t.methods = append(b.t.methods, p.Setter)
	}
	b.t.props = append(b.t.props, p)
	return b
}

// AbstractProperty declares an interface property.
func (b *Builder) AbstractProperty(name string, t *Type, writable bool) *Builder {
	if b.t.kind != InterfaceType {
		b.fail("abstract property %s outside an interface", name)
		return b
	}
	p := &Property{Name: name, Type: t, Owner: b.t}
	p.Getter = &Method{Name: "get_" + name, Owner: b.t, Result: t, Slot: -1}
	b.t.methods = append(b.t.methods, p.Getter)
	if writable {
		p.Setter = &Method{Name: "set_" + name, Owner: b.t, Params: []*Type{t}, Slot: -1}
		b.t.methods = append(b.t.methods, p.Setter)
	}
	b.t.props = append(b.t.props, p)
	return b
}

// AutoProperty adds a read-write property over a hidden backing field.
func (b *Builder) AutoProperty(name string, t *Type) *Builder {
	b.Field("<"+name+">", t)
	if b.err != nil {
		return b
	}
	idx := b.t.fields[len(b.t.fields)-1].Index
	get := func(recv Value, _ []Value) (Value, error) {
		return recv.Fields()[idx], nil
	}
	set := func(recv Value, args []Value) (Value, error) {
		recv.Fields()[idx] = args[0]
		return Nil(), nil
	}
	return b.Property(name, t, get, set)
}

// Method adds a non-virtual instance method. On interfaces the method is abstract.
func (b *Builder) Method(name string, params []*Type, result *Type, impl NativeFunc) *Builder {
	b.add(&Method{Name: name, Owner: b.t, Params: params, Result: result, Slot: -1, Impl: impl}, modePlain)
	return b
}

// StaticMethod adds a method without a receiver.
func (b *Builder) StaticMethod(name string, params []*Type, result *Type, impl NativeFunc) *Builder {
	b.add(&Method{Name: name, Owner: b.t, Params: params, Result: result, Static: true, Slot: -1, Impl: impl}, modePlain)
	return b
}

// Virtual introduces a new vtable slot.
func (b *Builder) Virtual(name string, params []*Type, result *Type, impl NativeFunc) *Builder {
	if b.t.kind != ReferenceType {
		b.fail("virtual method %s on %s type", name, b.t.kind)
		return b
	}
	b.add(&Method{Name: name, Owner: b.t, Params: params, Result: result, Virtual: true, Slot: -1, Impl: impl}, modeVirtual)
	return b
}

// Override replaces the implementation of an inherited virtual method with
// the same name and parameter types.
func (b *Builder) Override(name string, params []*Type, impl NativeFunc) *Builder {
	b.add(&Method{Name: name, Owner: b.t, Params: params, Virtual: true, Slot: -1, Impl: impl}, modeOverride)
	return b
}

// Constructor adds a constructor. impl receives the fresh storage as recv.
func (b *Builder) Constructor(params []*Type, impl NativeFunc) *Builder {
	if b.t.kind == InterfaceType {
		b.fail("interfaces have no constructors")
		return b
	}
	if b.t.Constructor(len(params)) != nil {
		b.fail("duplicate constructor of arity %d", len(params))
		return b
	}
	b.t.ctors = append(b.t.ctors, &Method{Name: ".ctor", Owner: b.t, Params: params, Ctor: true, Slot: -1, Impl: impl})
	return b
}

// Implements declares interfaces the type implements.
func (b *Builder) Implements(ifaces ...*Type) *Builder {
	for _, iface := range ifaces {
		if iface == nil || iface.kind != InterfaceType {
			b.fail("%s is not an interface", iface)
			continue
		}
		b.t.ifaces = append(b.t.ifaces, iface)
	}
	return b
}

func (b *Builder) add(m *Method, mode methodMode) {
	if m.Impl == nil && b.t.kind != InterfaceType {
		b.fail("method %s has no implementation", m.Name)
		return
	}
	if b.t.kind == InterfaceType && mode != modePlain {
		b.fail("interface method %s cannot be virtual", m.Name)
		return
	}
	for _, prev := range b.pending {
		if prev.m.Name == m.Name && len(prev.m.Params) == len(m.Params) {
			b.fail("duplicate method %s/%d", m.Name, len(m.Params))
			return
		}
	}
	b.pending = append(b.pending, pendingMethod{m: m, mode: mode})
}

// Build finishes the type.
func (b *Builder) Build() (*Type, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.built {
		return b.t, nil
	}
	t := b.t
	if t.base != nil {
		t.vtable = append([]*Method(nil), t.base.vtable...)
	}
	for _, p := range b.pending {
		m := p.m
		switch p.mode {
		case modeVirtual:
			m.Slot = len(t.vtable)
			t.vtable = append(t.vtable, m)
		case modeOverride:
			slot := -1
			for i, vm := range t.vtable {
				if vm.Name == m.Name && sameTypes(vm.Params, m.Params) {
					slot = i
					break
				}
			}
			if slot < 0 {
				return nil, fmt.Errorf("type %s: no virtual %s/%d to override", t.name, m.Name, len(m.Params))
			}
			m.Slot = slot
			m.Result = t.vtable[slot].Result
			t.vtable[slot] = m
		}
		t.methods = append(t.methods, m)
	}
	for _, iface := range t.ifaces {
		tab := make([]*Method, len(iface.methods))
		for i, im := range iface.methods {
			impl := t.findImplementation(im)
			if impl == nil {
				return nil, fmt.Errorf("type %s: missing %s required by %s", t.name, im, iface.name)
			}
			tab[i] = impl
		}
		t.itabs[iface] = tab
	}
	b.built = true
	return t, nil
}

// MustBuild is Build for package-level fixtures.
func (b *Builder) MustBuild() *Type {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Type) findImplementation(im *Method) *Method {
	for cur := t; cur != nil; cur = cur.base {
		for _, m := range cur.methods {
			if m.Static || m.Name != im.Name || !sameTypes(m.Params, im.Params) || m.Result != im.Result {
				continue
			}
			if m.Slot >= 0 && m.Slot < len(t.vtable) {
				return t.vtable[m.Slot]
			}
			return m
		}
	}
	return nil
}
