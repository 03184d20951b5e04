package vm

import (
	"github.com/funvibe/exprvm/internal/config"
	"github.com/funvibe/exprvm/internal/typesystem"
)

// CaptureState says how nested lambdas see a frame slot.
type CaptureState uint8

const (
	CaptureNone        CaptureState = iota // not captured
	CaptureByValue                         // copied into each closure at creation
	CaptureByReference                     // slot holds a cell shared with closures
)

func (s CaptureState) String() string {
	switch s {
	case CaptureByValue:
		return "byvalue"
	case CaptureByReference:
		return "byref"
	default:
		return "none"
	}
}

// ScopeID names an open allocation scope.
type ScopeID int

// FrameSlot is an indexed storage location in a function's frame.
type FrameSlot struct {
	Index   int
	Type    *typesystem.Type
	Name    string
	Capture CaptureState
	scope   ScopeID
	live    bool
}

// frameAllocator hands out frame slots. Parameters are allocated in the
// function scope, which is never released. Slots of released scopes are
// reused by later scopes when type and capture state match.
type frameAllocator struct {
	slots  []*FrameSlot
	open   []ScopeID
	nextID ScopeID
	reuse  bool
}

func newFrameAllocator(reuse bool) *frameAllocator {
	f := &frameAllocator{reuse: reuse}
	f.openScope()
	return f
}

// openScope starts a new innermost scope.
func (f *frameAllocator) openScope() ScopeID {
	id := f.nextID
	f.nextID++
	f.open = append(f.open, id)
	return id
}

func (f *frameAllocator) innermost() ScopeID {
	return f.open[len(f.open)-1]
}

// allocate returns a slot owned by scope, which must be open.
func (f *frameAllocator) allocate(t *typesystem.Type, name string, capture CaptureState, scope ScopeID) *FrameSlot {
	if !f.isOpen(scope) {
		fault(faultScopeViolation, "allocation of %s in closed scope %d", name, scope)
	}
	if f.reuse {
		for _, s := range f.slots {
			if !s.live && s.Type == t && s.Capture == capture {
				s.Name = name
				s.scope = scope
				s.live = true
				return s
			}
		}
	}
	if len(f.slots) >= config.MaxLocals {
		panic(limitExceeded("too many locals"))
	}
	s := &FrameSlot{Index: len(f.slots), Type: t, Name: name, Capture: capture, scope: scope, live: true}
	f.slots = append(f.slots, s)
	return s
}

// release frees every slot of scope, which must be the innermost one.
func (f *frameAllocator) release(scope ScopeID) {
	if len(f.open) <= 1 || f.innermost() != scope {
		fault(faultScopeViolation, "release of scope %d, innermost is %d", scope, f.innermost())
	}
	f.open = f.open[:len(f.open)-1]
	for _, s := range f.slots {
		if s.live && s.scope == scope {
			s.live = false
		}
	}
}

func (f *frameAllocator) isOpen(scope ScopeID) bool {
	for _, id := range f.open {
		if id == scope {
			return true
		}
	}
	return false
}

// count is the high water mark, the frame size of the function.
func (f *frameAllocator) count() int { return len(f.slots) }
