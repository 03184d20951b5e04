package vm

import (
	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/typesystem"
)

// variable is one declaration of an ast.Parameter: a lambda parameter or a
// block variable.
type variable struct {
	param *ast.Parameter
	owner *ast.Lambda
	decl  ast.Node // declaring lambda or block

	firstCapture int // evaluation position of the first capturing closure, -1 if none
	lastWrite    int // last owner write position, -1 if none
	nestedWrite  bool
	mode         CaptureState
}

// Hoisted reports an aggregate that lives in a cell instead of a frame slot.
func (v *variable) Hoisted() bool {
	return v.mode == CaptureByReference && v.param.Type().Kind() == typesystem.ValueAggregate
}

type declKey struct {
	decl  ast.Node
	param *ast.Parameter
}

// captureAnalysis is the result of the pre-pass over a root lambda.
type captureAnalysis struct {
	decls    map[declKey]*variable
	captures map[*ast.Lambda][]*variable // ordered by first reference
	problems map[ast.Node]string         // references the compiler must reject
}

func (a *captureAnalysis) lookup(decl ast.Node, p *ast.Parameter) *variable {
	return a.decls[declKey{decl, p}]
}

type lambdaFrame struct {
	lambda *ast.Lambda
	pos    int
}

type captureResolver struct {
	out     *captureAnalysis
	pos     int
	lambdas []lambdaFrame
	visible map[*ast.Parameter]*variable
}

// analyzeCaptures decides the capture mode of every variable in root. With
// inlineReadOnly false every captured variable lives in a cell.
func analyzeCaptures(root *ast.Lambda, inlineReadOnly bool) *captureAnalysis {
	r := &captureResolver{
		out: &captureAnalysis{
			decls:    map[declKey]*variable{},
			captures: map[*ast.Lambda][]*variable{},
			problems: map[ast.Node]string{},
		},
		visible: map[*ast.Parameter]*variable{},
	}
	r.visitLambda(root)

	for _, v := range r.out.decls {
		switch {
		case v.firstCapture < 0:
			v.mode = CaptureNone
		case !inlineReadOnly || v.nestedWrite || v.lastWrite > v.firstCapture:
			v.mode = CaptureByReference
		default:
			v.mode = CaptureByValue
		}
	}
	return r.out
}

func (r *captureResolver) next() int {
	r.pos++
	return r.pos
}

func (r *captureResolver) current() *ast.Lambda {
	return r.lambdas[len(r.lambdas)-1].lambda
}

func (r *captureResolver) declare(decl ast.Node, p *ast.Parameter) (restore func()) {
	if _, dup := r.visible[p]; dup {
		r.out.problems[decl] = "variable " + p.Name + " declared twice"
	}
	prev, had := r.visible[p]
	v := &variable{param: p, owner: r.current(), decl: decl, firstCapture: -1, lastWrite: -1}
	r.out.decls[declKey{decl, p}] = v
	r.visible[p] = v
	return func() {
		if had {
			r.visible[p] = prev
		} else {
			delete(r.visible, p)
		}
	}
}

func (r *captureResolver) visitLambda(l *ast.Lambda) {
	r.lambdas = append(r.lambdas, lambdaFrame{lambda: l, pos: r.next()})
	var restores []func()
	for _, p := range l.Params {
		restores = append(restores, r.declare(l, p))
	}
	r.visit(l.Body)
	for i := len(restores) - 1; i >= 0; i-- {
		restores[i]()
	}
	r.lambdas = r.lambdas[:len(r.lambdas)-1]
}

func (r *captureResolver) visit(n ast.Node) {
	switch n := n.(type) {
	case *ast.Lambda:
		r.visitLambda(n)
		return
	case *ast.Parameter:
		r.next()
		r.reference(n)
		return
	case *ast.Block:
		r.next()
		var restores []func()
		for _, p := range n.Variables {
			restores = append(restores, r.declare(n, p))
		}
		for _, e := range n.Exprs {
			r.visit(e)
		}
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		return
	case *ast.Assign:
		r.next()
		r.visit(n.Target)
		r.visit(n.Value)
		r.write(writeRoot(n.Target))
		return
	case *ast.MethodCall:
		r.next()
		for _, c := range ast.Children(n) {
			r.visit(c)
		}
		if n.Object != nil && n.Object.Type().Kind() == typesystem.ValueAggregate {
			r.write(writeRoot(n.Object))
		}
		return
	}
	r.next()
	for _, c := range ast.Children(n) {
		r.visit(c)
	}
}

// reference records a read or write of p from the current lambda.
func (r *captureResolver) reference(p *ast.Parameter) *variable {
	v, ok := r.visible[p]
	if !ok {
		r.out.problems[p] = "unbound variable " + p.Name
		return nil
	}
	// every lambda between the owner and here captures v
	for i := len(r.lambdas) - 1; i >= 0 && r.lambdas[i].lambda != v.owner; i-- {
		l := r.lambdas[i].lambda
		if !contains(r.out.captures[l], v) {
			r.out.captures[l] = append(r.out.captures[l], v)
		}
		if v.firstCapture < 0 || r.lambdas[i].pos < v.firstCapture {
			v.firstCapture = r.lambdas[i].pos
		}
	}
	return v
}

func (r *captureResolver) write(p *ast.Parameter) {
	if p == nil {
		return
	}
	v, ok := r.visible[p]
	if !ok {
		return
	}
	if v.owner != r.current() {
		v.nestedWrite = true
		return
	}
	v.lastWrite = r.next()
}

// writeRoot returns the variable whose storage a write to target changes:
// the variable itself, or the aggregate variable at the root of a field path.
func writeRoot(target ast.Node) *ast.Parameter {
	switch t := target.(type) {
	case *ast.Parameter:
		return t
	case *ast.MemberAccess:
		if t.Object.Type().Kind() == typesystem.ValueAggregate {
			return writeRoot(t.Object)
		}
	}
	return nil
}

func contains(vs []*variable, v *variable) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}
