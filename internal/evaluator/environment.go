package evaluator

import (
	"sync"

	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/typesystem"
)

func NewEnvironment() *Environment {
	return &Environment{store: make(map[*ast.Parameter]*typesystem.Cell)}
}

func NewEnclosedEnvironment(outer *Environment) *Environment {
	env := NewEnvironment()
	env.outer = outer
	return env
}

// Environment maps variables to the cells holding them. Every variable
// lives in a cell, so closures share the storage of the scope that
// created them.
type Environment struct {
	mu    sync.RWMutex
	store map[*ast.Parameter]*typesystem.Cell
	outer *Environment
}

func (e *Environment) Get(p *ast.Parameter) (*typesystem.Cell, bool) {
	e.mu.RLock()
	cell, ok := e.store[p]
	e.mu.RUnlock()
	if !ok && e.outer != nil {
		cell, ok = e.outer.Get(p)
	}
	return cell, ok
}

// Declare binds p in this scope to a new cell holding v.
func (e *Environment) Declare(p *ast.Parameter, v typesystem.Value) *typesystem.Cell {
	cell := typesystem.NewCell(p.Type(), v)
	e.mu.Lock()
	e.store[p] = cell
	e.mu.Unlock()
	return cell
}

// Len is the number of variables declared in this scope, outer scopes excluded.
func (e *Environment) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.store)
}
