package ast

import (
	"bytes"
	"strconv"

	"github.com/funvibe/exprvm/internal/typesystem"
)

// Operator precedence (higher = binds tighter)
var operatorPrecedence = map[BinaryOp]int{
	OpOrElse:       1,
	OpAndAlso:      2,
	OpEqual:        3,
	OpNotEqual:     3,
	OpLess:         4,
	OpLessEqual:    4,
	OpGreater:      4,
	OpGreaterEqual: 4,
	OpAdd:          5,
	OpSub:          5,
	OpMul:          6,
	OpDiv:          6,
	OpMod:          6,
}

const (
	precAssign  = 0
	precTernary = 1
	precUnary   = 10
	precPostfix = 11
)

// Printer renders trees in a C-like debugging syntax.
type Printer struct {
	buf bytes.Buffer
}

// Format renders a node.
func Format(n Node) string {
	p := &Printer{}
	p.printExpr(n, 0, false)
	return p.buf.String()
}

func (p *Printer) write(s string) { p.buf.WriteString(s) }

func (p *Printer) printExpr(n Node, parentPrec int, isRight bool) {
	if n == nil {
		p.write("<nil>")
		return
	}
	switch e := n.(type) {
	case *Binary:
		prec := operatorPrecedence[e.Op]
		// all binary operators are left-associative
		needParens := prec < parentPrec || (prec == parentPrec && isRight)
		if needParens {
			p.write("(")
		}
		p.printExpr(e.Left, prec, false)
		p.write(" " + e.Op.String() + " ")
		p.printExpr(e.Right, prec, true)
		if needParens {
			p.write(")")
		}
	case *Conditional:
		if parentPrec > precTernary {
			p.write("(")
		}
		p.printExpr(e.Test, precTernary+1, false)
		p.write(" ? ")
		p.printExpr(e.IfTrue, precTernary, false)
		p.write(" : ")
		p.printExpr(e.IfFalse, precTernary, true)
		if parentPrec > precTernary {
			p.write(")")
		}
	case *Assign:
		if parentPrec > precAssign {
			p.write("(")
		}
		p.printExpr(e.Target, precPostfix, false)
		p.write(" = ")
		p.printExpr(e.Value, precAssign, true)
		if parentPrec > precAssign {
			p.write(")")
		}
	case *Unary:
		p.write(e.Op.String())
		p.printExpr(e.Operand, precUnary, false)
	case *Convert:
		p.write("(" + e.typ.String() + ")")
		p.printExpr(e.Operand, precUnary, false)
	case *Lambda:
		if parentPrec > precAssign {
			p.write("(")
		}
		p.write("(")
		for i, prm := range e.Params {
			if i > 0 {
				p.write(", ")
			}
			p.write(prm.typ.String() + " " + prm.Name)
		}
		p.write(") => ")
		p.printExpr(e.Body, precAssign, false)
		if parentPrec > precAssign {
			p.write(")")
		}
	default:
		p.printPrimary(n)
	}
}

func (p *Printer) printPrimary(n Node) {
	switch e := n.(type) {
	case *Constant:
		p.write(formatConstant(e.Value))
	case *Parameter:
		p.write(e.Name)
	case *ClosureCapture:
		p.write("[" + e.Name + "]")
	case *MemberAccess:
		p.printExpr(e.Object, precPostfix, false)
		p.write("." + e.Member.MemberName())
	case *MethodCall:
		if e.Object != nil {
			p.printExpr(e.Object, precPostfix, false)
		} else {
			p.write(e.Method.Owner.String())
		}
		p.write("." + e.Method.Name)
		p.printArgs(e.Args)
	case *New:
		p.write("new " + e.typ.String())
		p.printArgs(e.Args)
	case *MemberInit:
		p.printPrimary(e.New)
		p.write(" {")
		for i, b := range e.Bindings {
			if i > 0 {
				p.write(",")
			}
			p.write(" " + b.Member.MemberName() + " = ")
			p.printExpr(b.Value, precAssign, false)
		}
		p.write(" }")
	case *Block:
		p.write("{ ")
		for _, v := range e.Variables {
			p.write(v.typ.String() + " " + v.Name + "; ")
		}
		for _, x := range e.Exprs {
			p.printExpr(x, precAssign, false)
			p.write("; ")
		}
		p.write("}")
	case *Invoke:
		p.printExpr(e.Func, precPostfix, false)
		p.printArgs(e.Args)
	case *Default:
		p.write("default(" + e.typ.String() + ")")
	case *NewArray:
		if e.Length != nil {
			p.write("new " + e.Elem.String() + "[")
			p.printExpr(e.Length, precAssign, false)
			p.write("]")
			return
		}
		p.write("new " + e.Elem.String() + "[] {")
		for i, it := range e.Items {
			if i > 0 {
				p.write(",")
			}
			p.write(" ")
			p.printExpr(it, precAssign, false)
		}
		p.write(" }")
	case *ArrayIndex:
		p.printExpr(e.Array, precPostfix, false)
		p.write("[")
		p.printExpr(e.Index, precAssign, false)
		p.write("]")
	case *ArrayLength:
		p.printExpr(e.Array, precPostfix, false)
		p.write(".Length")
	default:
		p.write("<" + n.Kind().String() + ">")
	}
}

func (p *Printer) printArgs(args []Node) {
	p.write("(")
	for i, a := range args {
		if i > 0 {
			p.write(", ")
		}
		p.printExpr(a, precAssign, false)
	}
	p.write(")")
}

func formatConstant(v typesystem.Value) string {
	switch v.Tag {
	case typesystem.TagNil:
		return "null"
	case typesystem.TagString:
		return strconv.Quote(v.Str)
	case typesystem.TagBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	default:
		return v.GoString()
	}
}
