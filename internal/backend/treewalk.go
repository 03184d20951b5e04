package backend

import (
	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/evaluator"
	"github.com/funvibe/exprvm/internal/typesystem"
	"github.com/funvibe/exprvm/internal/vm"
)

// TreeWalkBackend wraps the tree-walk interpreter
type TreeWalkBackend struct {
	eval *evaluator.Evaluator
}

// NewTreeWalk creates a new tree-walk backend
func NewTreeWalk() *TreeWalkBackend {
	return &TreeWalkBackend{eval: evaluator.New()}
}

func (b *TreeWalkBackend) Name() string { return "treewalk" }

func (b *TreeWalkBackend) Prepare(root *ast.Lambda, shape vm.Shape) (typesystem.Callable, error) {
	p, err := b.eval.Bind(root, shape.Params, shape.Result)
	if err != nil {
		return nil, err
	}
	return p, nil
}
