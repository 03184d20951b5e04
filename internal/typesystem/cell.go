package typesystem

// Cell is a heap-resident variable shared between a frame and the closures
// that capture it by reference. Host programs create cells to expose their
// own variables to compiled code.
//
// Cells are not synchronized. Artifacts that share a cell across concurrent
// invocations need external locking.
type Cell struct {
	typ *Type
	v   Value
}

// NewCell creates a cell of type t holding v. Aggregates are cloned so the
// cell owns its storage.
func NewCell(t *Type, v Value) *Cell {
	if v.Tag == TagNil && v.Type == Null && t != nil && t.kind.IsValue() {
		v = Zero(t)
	}
	return &Cell{typ: t, v: v.Clone()}
}

func (c *Cell) Type() *Type { return c.typ }

// Load returns the current value. For aggregates the result aliases the
// cell's storage.
func (c *Cell) Load() Value { return c.v }

// Store replaces the current value.
func (c *Cell) Store(v Value) { c.v = v }
