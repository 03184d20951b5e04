// Package cache memoizes compilations by tree fingerprint.
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/config"
	"github.com/funvibe/exprvm/internal/vm"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/singleflight"
)

var log = commonlog.GetLogger(config.LogCache)

type entry struct {
	art *vm.Artifact
	err error
}

// Stats counts cache traffic since creation or the last Purge.
type Stats struct {
	Hits     uint64
	Misses   uint64
	Compiles uint64
}

// Cache compiles each distinct tree and shape once. Successful artifacts and
// Unsupported failures are kept; internal failures are not, so a later call
// compiles again. At most one compilation per fingerprint runs at a time.
type Cache struct {
	compiler *vm.Compiler
	group    singleflight.Group

	mu      sync.RWMutex
	entries map[ast.Fingerprint]entry

	hits, misses, compiles atomic.Uint64
}

func New(compiler *vm.Compiler) *Cache {
	if compiler == nil {
		compiler = vm.NewCompiler(config.Default())
	}
	return &Cache{compiler: compiler, entries: make(map[ast.Fingerprint]entry)}
}

// Compile returns the artifact for root compiled for shape, compiling it on
// the first request.
func (c *Cache) Compile(root *ast.Lambda, shape vm.Shape) (*vm.Artifact, error) {
	fp := ast.FingerprintOf(root, shape.Params, shape.Result)
	if e, ok := c.lookup(fp); ok {
		c.hits.Add(1)
		return e.art, e.err
	}
	c.misses.Add(1)

	v, err, shared := c.group.Do(fp.String(), func() (any, error) {
		// another caller may have finished between lookup and Do
		if e, ok := c.lookup(fp); ok {
			return e.art, e.err
		}
		c.compiles.Add(1)
		art, err := c.compiler.Compile(root, shape)
		if err == nil || !vm.IsInternal(err) {
			c.mu.Lock()
			c.entries[fp] = entry{art: art, err: err}
			c.mu.Unlock()
		}
		return art, err
	})
	if shared {
		log.Debugf("shared compilation of %s", fp)
	}
	art, _ := v.(*vm.Artifact)
	return art, err
}

func (c *Cache) lookup(fp ast.Fingerprint) (entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[fp]
	c.mu.RUnlock()
	return e, ok
}

// Len is the number of memoized results.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Compiles: c.compiles.Load()}
}

// Purge drops every memoized result and resets the counters.
func (c *Cache) Purge() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[ast.Fingerprint]entry)
	c.mu.Unlock()
	c.hits.Store(0)
	c.misses.Store(0)
	c.compiles.Store(0)
	log.Infof("purged %d entries", n)
}
