package backend

import (
	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/cache"
	"github.com/funvibe/exprvm/internal/config"
	"github.com/funvibe/exprvm/internal/typesystem"
	"github.com/funvibe/exprvm/internal/vm"
)

// VMBackend compiles trees to bytecode artifacts
type VMBackend struct {
	compiler *vm.Compiler
	cache    *cache.Cache
}

// NewVM creates a VM backend. With a cache, every tree and shape is compiled once.
func NewVM(opts config.Options, c *cache.Cache) *VMBackend {
	return &VMBackend{compiler: vm.NewCompiler(opts), cache: c}
}

func (b *VMBackend) Name() string { return "vm" }

// Compile returns the artifact for root, from the cache when there is one.
func (b *VMBackend) Compile(root *ast.Lambda, shape vm.Shape) (*vm.Artifact, error) {
	if b.cache != nil {
		return b.cache.Compile(root, shape)
	}
	return b.compiler.Compile(root, shape)
}

// Prepare compiles root. Trees the compiler declines fail with an error
// satisfying vm.IsUnsupported.
func (b *VMBackend) Prepare(root *ast.Lambda, shape vm.Shape) (typesystem.Callable, error) {
	art, err := b.Compile(root, shape)
	if err != nil {
		return nil, err
	}
	return art, nil
}
