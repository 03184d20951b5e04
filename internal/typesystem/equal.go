package typesystem

import (
	"hash/fnv"
	"math"
)

// Equal compares by value: scalars and strings by content, aggregates field
// by field, boxes by payload. Instances, arrays and delegates compare by identity.
func Equal(a, b Value) bool {
	a, b = a.Unboxed(), b.Unboxed()
	if a.Tag != b.Tag {
		return false
	}
	switch a.Tag {
	case TagNil:
		return true
	case TagBool, TagInt:
		return a.Type == b.Type && a.Bits == b.Bits
	case TagFloat:
		if a.Type != b.Type {
			return false
		}
		x, y := a.AsFloat(), b.AsFloat()
		return x == y || (math.IsNaN(x) && math.IsNaN(y))
	case TagString:
		return a.Str == b.Str
	case TagAggregate:
		x, y := a.Aggregate(), b.Aggregate()
		if x.Type != y.Type {
			return false
		}
		for i := range x.Fields {
			if !Equal(x.Fields[i], y.Fields[i]) {
				return false
			}
		}
		return true
	default:
		return a.Ref == b.Ref
	}
}

// ReferenceEquals reports identity. Strings compare by content; unboxed
// scalars and aggregates are never reference-equal.
func ReferenceEquals(a, b Value) bool {
	if a.Tag == TagNil || b.Tag == TagNil {
		return a.Tag == b.Tag
	}
	if a.Tag != b.Tag {
		return false
	}
	switch a.Tag {
	case TagString:
		return a.Str == b.Str
	case TagObject, TagBox, TagArray, TagFunc, TagCell:
		return a.Ref == b.Ref
	}
	return false
}

// Hash is consistent with Equal for value types and strings.
func Hash(v Value) uint32 {
	h := fnv.New32a()
	hashInto(h, v.Unboxed())
	return h.Sum32()
}

type byteWriter interface{ Write([]byte) (int, error) }

func hashInto(h byteWriter, v Value) {
	var buf [9]byte
	buf[0] = byte(v.Tag)
	switch v.Tag {
	case TagBool, TagInt, TagFloat:
		for i := 0; i < 8; i++ {
			buf[i+1] = byte(v.Bits >> (8 * i))
		}
		h.Write(buf[:])
	case TagString:
		h.Write(buf[:1])
		h.Write([]byte(v.Str))
	case TagAggregate:
		h.Write(buf[:1])
		h.Write([]byte(v.Type.name))
		for _, f := range v.Aggregate().Fields {
			hashInto(h, f)
		}
	default:
		h.Write(buf[:1])
	}
}
