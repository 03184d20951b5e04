// Package backend prepares expression trees for execution. A tree is either
// compiled to bytecode or, when the compiler declines it, evaluated by the
// tree-walk interpreter.
package backend

import (
	"fmt"

	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/config"
	"github.com/funvibe/exprvm/internal/typesystem"
	"github.com/funvibe/exprvm/internal/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger(config.LogBackend)

// Backend turns a tree and a call shape into something callable
type Backend interface {
	// Prepare binds root to shape. The result may be called concurrently.
	Prepare(root *ast.Lambda, shape vm.Shape) (typesystem.Callable, error)

	// Name returns the backend name for display
	Name() string
}

// ByName returns the backend called name: "vm", "treewalk" or "fast".
func ByName(name string, opts config.Options) (Backend, error) {
	switch name {
	case "vm":
		return NewVM(opts, nil), nil
	case "treewalk":
		return NewTreeWalk(), nil
	case "fast":
		return NewFast(opts, nil), nil
	}
	return nil, fmt.Errorf("unknown backend %q", name)
}
