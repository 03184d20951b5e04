package ast

// Children returns the direct sub-expressions of n in evaluation order.
func Children(n Node) []Node {
	switch n := n.(type) {
	case *MemberAccess:
		return []Node{n.Object}
	case *MethodCall:
		if n.Object == nil {
			return n.Args
		}
		return append([]Node{n.Object}, n.Args...)
	case *New:
		return n.Args
	case *MemberInit:
		out := []Node{n.New}
		for _, b := range n.Bindings {
			out = append(out, b.Value)
		}
		return out
	case *Convert:
		return []Node{n.Operand}
	case *Lambda:
		return []Node{n.Body}
	case *Conditional:
		return []Node{n.Test, n.IfTrue, n.IfFalse}
	case *Binary:
		return []Node{n.Left, n.Right}
	case *Unary:
		return []Node{n.Operand}
	case *Assign:
		return []Node{n.Target, n.Value}
	case *Block:
		return n.Exprs
	case *Invoke:
		return append([]Node{n.Func}, n.Args...)
	case *NewArray:
		if n.Length != nil {
			return []Node{n.Length}
		}
		return n.Items
	case *ArrayIndex:
		return []Node{n.Array, n.Index}
	case *ArrayLength:
		return []Node{n.Array}
	}
	return nil
}

// Inspect traverses the tree depth-first in evaluation order. If fn returns
// false the children of that node are skipped.
func Inspect(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Inspect(c, fn)
	}
}

// Count returns the number of nodes in the tree.
func Count(n Node) int {
	total := 0
	Inspect(n, func(Node) bool {
		total++
		return true
	})
	return total
}
