package backend

import (
	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/cache"
	"github.com/funvibe/exprvm/internal/config"
	"github.com/funvibe/exprvm/internal/typesystem"
	"github.com/funvibe/exprvm/internal/vm"
)

type fastConfig struct {
	opts       config.Options
	cache      *cache.Cache
	returnNil  bool
	fallback   *TreeWalkBackend
	hasOptions bool
}

// FastOption configures CompileFast.
type FastOption func(*fastConfig)

// IfFastFailedReturnNil makes CompileFast return a nil callable instead of
// the interpreter when the compiler declines the tree.
func IfFastFailedReturnNil() FastOption {
	return func(c *fastConfig) { c.returnNil = true }
}

// WithOptions sets the compiler options. Ignored when a cache is given.
func WithOptions(opts config.Options) FastOption {
	return func(c *fastConfig) {
		c.opts = opts
		c.hasOptions = true
	}
}

// WithCache compiles through c.
func WithCache(c *cache.Cache) FastOption {
	return func(fc *fastConfig) { fc.cache = c }
}

// CompileFast compiles root for shape. When the compiler declines the tree
// it returns the tree-walk interpreter bound to the same shape, or nil with
// IfFastFailedReturnNil. Internal compiler failures are returned as errors
// and never fall back.
func CompileFast(root *ast.Lambda, shape vm.Shape, options ...FastOption) (typesystem.Callable, error) {
	fc := fastConfig{opts: config.Default()}
	for _, o := range options {
		o(&fc)
	}
	if fc.cache != nil && fc.hasOptions {
		log.Warning("compiler options are ignored when compiling through a cache")
	}
	return fc.prepare(root, shape)
}

func (fc *fastConfig) prepare(root *ast.Lambda, shape vm.Shape) (typesystem.Callable, error) {
	var art *vm.Artifact
	var err error
	if fc.cache != nil {
		art, err = fc.cache.Compile(root, shape)
	} else {
		art, err = vm.NewCompiler(fc.opts).Compile(root, shape)
	}
	switch {
	case err == nil:
		return art, nil
	case vm.IsInternal(err) || !vm.IsUnsupported(err):
		log.Errorf("compiler failed: %s", err)
		return nil, err
	case fc.returnNil:
		log.Debugf("not compiled, no fallback: %s", err)
		return nil, nil
	}

	log.Debugf("falling back to the interpreter: %s", err)
	fallback := fc.fallback
	if fallback == nil {
		fallback = NewTreeWalk()
	}
	return fallback.Prepare(root, shape)
}

// FastBackend is CompileFast as a Backend.
type FastBackend struct {
	fc fastConfig
}

// NewFast creates a backend that compiles where it can and interprets
// everything else. c may be nil.
func NewFast(opts config.Options, c *cache.Cache) *FastBackend {
	return &FastBackend{fc: fastConfig{opts: opts, cache: c, fallback: NewTreeWalk()}}
}

func (b *FastBackend) Name() string { return "fast" }

func (b *FastBackend) Prepare(root *ast.Lambda, shape vm.Shape) (typesystem.Callable, error) {
	return b.fc.prepare(root, shape)
}
