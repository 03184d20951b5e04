package vm

import (
	"fmt"

	"github.com/funvibe/exprvm/internal/typesystem"
)

type convStep struct {
	op Opcode
	to *typesystem.Type
}

// conversion is a planned sequence of conversion instructions. An empty
// plan with a different target is a reference upcast that only retypes the
// stack entry.
type conversion struct {
	from, to *typesystem.Type
	steps    []convStep
}

func (cv conversion) identity() bool { return cv.from == cv.to }

// planConversion decides how a value of type from becomes a to. Implicit
// plans cover widening, boxing and reference upcasts; explicit plans add
// narrowing, enum reinterpretation, checked casts and unboxing.
func planConversion(from, to *typesystem.Type, explicit bool) (conversion, error) {
	cv := conversion{from: from, to: to}
	switch {
	case from == to:
		return cv, nil

	case from == nil || to == nil:
		return cv, fmt.Errorf("no conversion between %s and %s", from, to)

	case from.Kind() == typesystem.PrimitiveScalar && to.Kind() == typesystem.PrimitiveScalar:
		return planScalar(cv, explicit)

	case from.Kind().IsValue():
		if !typesystem.IsBoxingTarget(from, to) {
			return cv, fmt.Errorf("%s does not box to %s", from, to)
		}
		cv.steps = []convStep{{OP_BOX, from}}
		return cv, nil

	case to.Kind().IsValue():
		if !explicit {
			return cv, fmt.Errorf("unboxing %s to %s requires an explicit conversion", from, to)
		}
		if !typesystem.IsBoxingTarget(to, from) {
			return cv, fmt.Errorf("%s cannot hold a boxed %s", from, to)
		}
		cv.steps = []convStep{{OP_UNBOX, to}}
		return cv, nil

	case from.AssignableTo(to):
		return cv, nil

	case explicit && typesystem.ExplicitlyConvertible(from, to):
		cv.steps = []convStep{{OP_CAST, to}}
		return cv, nil
	}
	return cv, fmt.Errorf("no conversion from %s to %s", from, to)
}

func planScalar(cv conversion, explicit bool) (conversion, error) {
	from, to := cv.from, cv.to
	if from.Primitive() == typesystem.PrimBool || to.Primitive() == typesystem.PrimBool {
		return cv, fmt.Errorf("no conversion from %s to %s", from, to)
	}
	if from.IsEnum() || to.IsEnum() {
		if !explicit {
			return cv, fmt.Errorf("%s to %s requires an explicit conversion", from, to)
		}
		cur := from
		if from.IsEnum() {
			cur = primitiveType(from.Primitive())
			cv.steps = append(cv.steps, convStep{OP_RETAG, cur})
		}
		target := to
		if to.IsEnum() {
			target = primitiveType(to.Primitive())
		}
		cv.steps = append(cv.steps, numericSteps(cur, target)...)
		if to.IsEnum() {
			cv.steps = append(cv.steps, convStep{OP_RETAG, to})
		}
		return cv, nil
	}
	if !explicit && !typesystem.IsWidening(from, to) {
		return cv, fmt.Errorf("narrowing %s to %s requires an explicit conversion", from, to)
	}
	cv.steps = numericSteps(from, to)
	return cv, nil
}

func numericSteps(from, to *typesystem.Type) []convStep {
	switch {
	case from == to:
		return nil
	case typesystem.IsWidening(from, to):
		return []convStep{{OP_WIDEN, to}}
	default:
		return []convStep{{OP_NARROW, to}}
	}
}

// convert applies a plan to the value on top of the stack.
func (c *fnCompiler) convert(cv conversion) {
	if cv.identity() {
		return
	}
	if len(cv.steps) == 0 {
		top := c.stack.peek()
		c.stack.replaceTop(StackSlot{Kind: cv.to.Kind(), Type: cv.to, Addressable: top.Addressable})
		return
	}
	for _, s := range cv.steps {
		switch s.op {
		case OP_BOX:
			// the box takes the storage it is given
			c.own()
			c.emit(OP_BOX, []int{c.constant(s.to)}, owned(cv.to))
		case OP_UNBOX:
			c.emit(OP_UNBOX, []int{c.constant(s.to)}, aliased(s.to))
		case OP_CAST:
			c.emit(OP_CAST, []int{c.constant(s.to)}, owned(s.to))
		case OP_RETAG:
			c.emit(OP_RETAG, []int{c.constant(s.to)}, owned(s.to))
		case OP_WIDEN, OP_NARROW:
			c.emit(s.op, []int{int(s.to.Primitive())}, owned(s.to))
		default:
			fault(faultStackEffect, "conversion step %s", s.op)
		}
	}
}

// coerce converts the top of the stack to t at an implicit boundary.
func (c *fnCompiler) coerce(t *typesystem.Type) error {
	from := c.stack.peek().Type
	cv, err := planConversion(from, t, false)
	if err != nil {
		return err
	}
	c.convert(cv)
	return nil
}

// own makes the top of the stack an owned value: an aliased aggregate is copied.
func (c *fnCompiler) own() {
	top := c.stack.peek()
	if top.Kind == typesystem.ValueAggregate && top.Addressable {
		c.emit(OP_COPY, nil, owned(top.Type))
	}
}
