package ast

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"reflect"
	"unsafe"

	"github.com/funvibe/exprvm/internal/typesystem"
	"github.com/zeebo/xxh3"
)

// Fingerprint identifies a tree structurally. Two trees that differ only in
// the identity of their Parameter nodes have the same fingerprint; host
// cells and reference constants contribute their identity.
type Fingerprint [16]byte

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// FingerprintOf hashes root together with the call shape it is compiled for.
func FingerprintOf(root Node, params []*Type, result *Type) Fingerprint {
	e := &encoder{vars: map[*Parameter]uint64{}}
	e.uvarint(uint64(len(params)))
	for _, p := range params {
		e.typ(p)
	}
	e.typ(result)
	e.node(root)
	return Fingerprint(xxh3.Hash128(e.buf).Bytes())
}

type encoder struct {
	buf  []byte
	vars map[*Parameter]uint64
}

func (e *encoder) uvarint(v uint64) { e.buf = binary.AppendUvarint(e.buf, v) }

func (e *encoder) str(s string) {
	e.uvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) typ(t *Type) {
	if t == nil {
		e.uvarint(0)
		return
	}
	e.uvarint(t.ID())
}

func (e *encoder) method(m *typesystem.Method) {
	if m == nil {
		e.uvarint(0)
		return
	}
	e.typ(m.Owner)
	e.str(m.Name)
	e.uvarint(uint64(len(m.Params)))
	for _, p := range m.Params {
		e.typ(p)
	}
}

func (e *encoder) member(m typesystem.Member) {
	e.typ(m.DeclaringType())
	e.str(m.MemberName())
}

func (e *encoder) declare(p *Parameter) {
	if _, ok := e.vars[p]; !ok {
		e.vars[p] = uint64(len(e.vars))
	}
}

func (e *encoder) identity(ptr uintptr) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(ptr))
}

func (e *encoder) value(v typesystem.Value) {
	e.buf = append(e.buf, byte(v.Tag))
	e.typ(v.Type)
	switch v.Tag {
	case typesystem.TagBool, typesystem.TagInt:
		e.buf = binary.LittleEndian.AppendUint64(e.buf, v.Bits)
	case typesystem.TagFloat:
		// all NaNs are one constant
		f := v.AsFloat()
		if math.IsNaN(f) {
			f = math.NaN()
		}
		e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(f))
	case typesystem.TagString:
		e.str(v.Str)
	case typesystem.TagAggregate:
		for _, f := range v.Fields() {
			e.value(f)
		}
	case typesystem.TagNil:
	default:
		if rv := reflect.ValueOf(v.Ref); rv.Kind() == reflect.Pointer {
			e.identity(rv.Pointer())
		}
	}
}

func (e *encoder) node(n Node) {
	e.buf = append(e.buf, byte(n.Kind()))
	e.typ(n.Type())
	switch n := n.(type) {
	case *Constant:
		e.value(n.Value)
	case *Parameter:
		e.declare(n)
		e.uvarint(e.vars[n])
	case *MemberAccess:
		e.member(n.Member)
	case *MethodCall:
		e.method(n.Method)
		if n.Object == nil {
			e.buf = append(e.buf, 0)
		} else {
			e.buf = append(e.buf, 1)
		}
	case *New:
		e.method(n.Ctor)
	case *MemberInit:
		e.uvarint(uint64(len(n.Bindings)))
		for _, b := range n.Bindings {
			e.member(b.Member)
		}
	case *Convert:
		e.method(n.Method)
	case *Lambda:
		e.uvarint(uint64(len(n.Params)))
		for _, p := range n.Params {
			e.declare(p)
			e.uvarint(e.vars[p])
			e.typ(p.Type())
		}
	case *ClosureCapture:
		e.identity(uintptr(unsafe.Pointer(n.Cell)))
	case *Binary:
		e.buf = append(e.buf, byte(n.Op))
		e.method(n.Method)
	case *Unary:
		e.buf = append(e.buf, byte(n.Op))
	case *Block:
		e.uvarint(uint64(len(n.Variables)))
		for _, v := range n.Variables {
			e.declare(v)
			e.uvarint(e.vars[v])
			e.typ(v.Type())
		}
		e.uvarint(uint64(len(n.Exprs)))
	case *NewArray:
		e.typ(n.Elem)
		if n.Length != nil {
			e.buf = append(e.buf, 0)
		} else {
			e.buf = append(e.buf, 1)
			e.uvarint(uint64(len(n.Items)))
		}
	}
	children := Children(n)
	e.uvarint(uint64(len(children)))
	for _, c := range children {
		e.node(c)
	}
}
