// Package cacheroot decides which directory the cache reads and writes.
//
// A Registry holds a base root plus a stack of scoped overrides. Scoped
// overrides are meant for sandboxing, typically one temporary root per
// test. The context form (WithRoot, Scoped, Resolve) carries the override
// with the call instead of in shared state and is preferred for new code.
package cacheroot

import (
	"os"
	"path/filepath"
	"sync"
)

// Registry is a stack of cache roots. The mutex keeps the stack consistent,
// but scopes on one Registry must not be interleaved by concurrent tasks:
// one task's pop would expose another task's push.
type Registry struct {
	mu    sync.Mutex
	base  string
	stack []string
}

// NewRegistry returns a Registry whose active root is base until a scope is
// entered.
func NewRegistry(base string) *Registry {
	return &Registry{base: filepath.Clean(base)}
}

// Active returns the innermost scoped root, or the base root.
func (r *Registry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.stack); n > 0 {
		return r.stack[n-1]
	}
	return r.base
}

// Depth returns the number of scopes currently entered.
func (r *Registry) Depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stack)
}

// WithScopedRoot makes path the active root while body runs. The previous
// root is restored however body exits; a panic is re-raised after the
// restore.
func (r *Registry) WithScopedRoot(path string, body func() error) error {
	depth := r.push(path)
	defer r.popTo(depth)
	return body()
}

func (r *Registry) push(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	depth := len(r.stack)
	r.stack = append(r.stack, filepath.Clean(path))
	return depth
}

// popTo truncates the stack to depth, which also discards scopes body
// leaked.
func (r *Registry) popTo(depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if depth < len(r.stack) {
		r.stack = r.stack[:depth]
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide Registry. Its base root is
// "artifactcache" under the user cache directory, or under the temp
// directory when the user has none.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(DefaultBase())
	})
	return defaultRegistry
}

// DefaultBase returns the base root used by Default.
func DefaultBase() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "artifactcache")
}
