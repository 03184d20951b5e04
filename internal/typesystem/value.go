package typesystem

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Tag identifies the runtime representation held by a Value.
type Tag uint8

const (
	TagNil Tag = iota
	TagBool
	TagInt
	TagFloat
	TagString
	TagAggregate
	TagObject
	TagBox
	TagArray
	TagFunc
	TagCell
)

var tagNames = [...]string{
	TagNil:       "nil",
	TagBool:      "bool",
	TagInt:       "int",
	TagFloat:     "float",
	TagString:    "string",
	TagAggregate: "aggregate",
	TagObject:    "object",
	TagBox:       "box",
	TagArray:     "array",
	TagFunc:      "func",
	TagCell:      "cell",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("Tag(%d)", t)
}

// Value is a runtime value. Scalars are stored inline in Bits, strings in Str,
// everything else behind Ref. An aggregate Value is a pointer to its storage:
// copying the Go struct does not copy the aggregate, Clone does.
type Value struct {
	Tag  Tag
	Type *Type
	Bits uint64
	Str  string
	Ref  any
}

// Callable is anything the machine can invoke as a delegate.
// Implementations must be pointer types so delegates compare by identity.
type Callable interface {
	Call(args ...Value) (Value, error)
}

// Aggregate is the storage of a value-type instance.
type Aggregate struct {
	Type   *Type
	Fields []Value
}

// Instance is the storage of a reference-type instance.
type Instance struct {
	Type   *Type
	Fields []Value
}

// Box is a heap copy of a scalar or aggregate viewed as a reference.
// Dispatch goes through Type, the payload's own type.
type Box struct {
	Type    *Type
	Payload Value
}

// Array is a fixed-length array of Elem.
type Array struct {
	Elem  *Type
	Items []Value
}

func Nil() Value { return Value{Tag: TagNil, Type: Null} }

// NilOf is a null reference with a static type.
func NilOf(t *Type) Value { return Value{Tag: TagNil, Type: t} }

func Bool(b bool) Value {
	v := Value{Tag: TagBool, Type: BoolType}
	if b {
		v.Bits = 1
	}
	return v
}

func Int32(n int32) Value { return Value{Tag: TagInt, Type: Int32Type, Bits: uint64(int64(n))} }
func Int64(n int64) Value { return Value{Tag: TagInt, Type: Int64Type, Bits: uint64(n)} }

func Float64(f float64) Value {
	return Value{Tag: TagFloat, Type: Float64Type, Bits: math.Float64bits(f)}
}

func String(s string) Value { return Value{Tag: TagString, Type: StringType, Str: s} }

// EnumValue makes a value of enum type t with the given underlying number.
func EnumValue(t *Type, n int64) Value {
	if t.prim == PrimInt32 {
		n = int64(int32(n))
	}
	return Value{Tag: TagInt, Type: t, Bits: uint64(n)}
}

// NewAggregate allocates zeroed storage for value type t.
func NewAggregate(t *Type) *Aggregate {
	a := &Aggregate{Type: t, Fields: make([]Value, len(t.fields))}
	for i, f := range t.fields {
		a.Fields[i] = Zero(f.Type)
	}
	return a
}

func AggregateValue(a *Aggregate) Value { return Value{Tag: TagAggregate, Type: a.Type, Ref: a} }

// NewInstance allocates a reference instance with every field at its zero value.
func NewInstance(t *Type) *Instance {
	var chain []*Type
	for cur := t; cur != nil; cur = cur.base {
		chain = append(chain, cur)
	}
	inst := &Instance{Type: t}
	for i := len(chain) - 1; i >= 0; i-- {
		for _, f := range chain[i].fields {
			inst.Fields = append(inst.Fields, Zero(f.Type))
		}
	}
	return inst
}

func ObjectValue(inst *Instance) Value { return Value{Tag: TagObject, Type: inst.Type, Ref: inst} }

// BoxValue boxes v. The payload is cloned so the box never aliases v.
// The box is an object; its payload type drives dispatch.
func BoxValue(v Value) Value {
	return WrapBox(v.Clone())
}

// WrapBox boxes v without copying it. The caller gives up v's storage.
func WrapBox(v Value) Value {
	return Value{Tag: TagBox, Type: Object, Ref: &Box{Type: v.Type, Payload: v}}
}

func ArrayValue(arr *Array) Value {
	return Value{Tag: TagArray, Type: ArrayOf(arr.Elem), Ref: arr}
}

// NewArray allocates an array of n zero elements.
func NewArray(elem *Type, n int) *Array {
	arr := &Array{Elem: elem, Items: make([]Value, n)}
	for i := range arr.Items {
		arr.Items[i] = Zero(elem)
	}
	return arr
}

// FuncValue wraps a callable as a delegate of type t.
func FuncValue(t *Type, fn Callable) Value { return Value{Tag: TagFunc, Type: t, Ref: fn} }

func CellValue(c *Cell) Value { return Value{Tag: TagCell, Type: c.typ, Ref: c} }

// Zero returns the default value of t: zero scalars, a fresh zeroed aggregate,
// or a typed null reference.
func Zero(t *Type) Value {
	if t == nil {
		return Nil()
	}
	switch t.kind {
	case PrimitiveScalar:
		switch t.prim {
		case PrimBool:
			return Value{Tag: TagBool, Type: t}
		case PrimFloat64:
			return Value{Tag: TagFloat, Type: t}
		default:
			return Value{Tag: TagInt, Type: t}
		}
	case ValueAggregate:
		return AggregateValue(NewAggregate(t))
	default:
		return NilOf(t)
	}
}

func (v Value) IsNil() bool { return v.Tag == TagNil }

func (v Value) AsBool() bool { return v.Bits != 0 }

func (v Value) AsInt() int64 {
	if v.Type != nil && v.Type.prim == PrimInt32 {
		return int64(int32(v.Bits))
	}
	return int64(v.Bits)
}

func (v Value) AsFloat() float64 { return math.Float64frombits(v.Bits) }

// Aggregate returns the storage behind an aggregate value, or nil.
func (v Value) Aggregate() *Aggregate {
	a, _ := v.Ref.(*Aggregate)
	return a
}

func (v Value) Instance() *Instance {
	i, _ := v.Ref.(*Instance)
	return i
}

func (v Value) Box() *Box {
	b, _ := v.Ref.(*Box)
	return b
}

func (v Value) Array() *Array {
	a, _ := v.Ref.(*Array)
	return a
}

func (v Value) Callable() Callable {
	c, _ := v.Ref.(Callable)
	return c
}

func (v Value) Cell() *Cell {
	c, _ := v.Ref.(*Cell)
	return c
}

// Fields exposes the field storage of an aggregate or instance.
func (v Value) Fields() []Value {
	switch r := v.Ref.(type) {
	case *Aggregate:
		return r.Fields
	case *Instance:
		return r.Fields
	case *Box:
		return r.Payload.Fields()
	}
	return nil
}

// Clone copies aggregate storage, recursively. All other values are returned as is.
func (v Value) Clone() Value {
	if v.Tag != TagAggregate {
		return v
	}
	src := v.Aggregate()
	dst := &Aggregate{Type: src.Type, Fields: make([]Value, len(src.Fields))}
	for i, f := range src.Fields {
		dst.Fields[i] = f.Clone()
	}
	v.Ref = dst
	return v
}

// Get reads a field by name.
func (a *Aggregate) Get(name string) Value {
	f := a.Type.Field(name)
	if f == nil {
		return Nil()
	}
	return a.Fields[f.Index]
}

// Set writes a field by name. The value is cloned.
func (a *Aggregate) Set(name string, v Value) {
	if f := a.Type.Field(name); f != nil {
		a.Fields[f.Index] = v.Clone()
	}
}

func (i *Instance) Get(name string) Value {
	f := i.Type.Field(name)
	if f == nil {
		return Nil()
	}
	return i.Fields[f.Index]
}

func (i *Instance) Set(name string, v Value) {
	if f := i.Type.Field(name); f != nil {
		i.Fields[f.Index] = v.Clone()
	}
}

// DynamicType is the type used for dispatch: the boxed payload's type for boxes,
// the value's own type otherwise.
func (v Value) DynamicType() *Type {
	switch v.Tag {
	case TagBox:
		return v.Box().Type
	case TagObject:
		return v.Instance().Type
	case TagAggregate:
		return v.Aggregate().Type
	}
	return v.Type
}

// Unboxed returns the payload of a box or v itself.
func (v Value) Unboxed() Value {
	if v.Tag == TagBox {
		return v.Box().Payload
	}
	return v
}

// String formats v the way ToString does for builtin types.
func (v Value) String() string {
	switch v.Tag {
	case TagNil:
		return ""
	case TagBool:
		if v.AsBool() {
			return "True"
		}
		return "False"
	case TagInt:
		if v.Type != nil && v.Type.enum {
			if name := v.Type.EnumName(v.AsInt()); name != "" {
				return name
			}
		}
		return strconv.FormatInt(v.AsInt(), 10)
	case TagFloat:
		return strconv.FormatFloat(v.AsFloat(), 'g', -1, 64)
	case TagString:
		return v.Str
	case TagBox:
		return v.Box().Payload.String()
	case TagArray:
		return v.Type.String()
	default:
		return v.DynamicType().String()
	}
}

// GoString renders a debugging form that includes the field layout.
func (v Value) GoString() string {
	switch v.Tag {
	case TagString:
		return strconv.Quote(v.Str)
	case TagNil:
		return "null"
	case TagAggregate, TagObject:
		var sb strings.Builder
		t := v.DynamicType()
		sb.WriteString(t.String())
		sb.WriteString("{")
		for i, f := range v.Fields() {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(f.GoString())
		}
		sb.WriteString("}")
		return sb.String()
	case TagBox:
		return "box(" + v.Box().Payload.GoString() + ")"
	case TagArray:
		var sb strings.Builder
		sb.WriteString("[")
		for i, item := range v.Array().Items {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(item.GoString())
		}
		sb.WriteString("]")
		return sb.String()
	case TagFunc:
		return "<" + v.Type.String() + ">"
	default:
		return v.String()
	}
}
