package cacheroot

import (
	"context"
	"path/filepath"
)

type ctxKey struct{}

// WithRoot returns a context whose cache root is path. It shadows any root
// set by an enclosing WithRoot.
func WithRoot(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, ctxKey{}, filepath.Clean(path))
}

// FromContext returns the root set by WithRoot, if any.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	root, ok := ctx.Value(ctxKey{}).(string)
	return root, ok
}

// Scoped runs body with a context rooted at path. Callers holding ctx are
// unaffected, so there is nothing to restore.
func Scoped(ctx context.Context, path string, body func(context.Context) error) error {
	return body(WithRoot(ctx, path))
}

// Resolve returns the root from ctx if one is set, otherwise reg's active
// root. A nil reg means Default().
func Resolve(ctx context.Context, reg *Registry) string {
	if root, ok := FromContext(ctx); ok {
		return root
	}
	if reg == nil {
		reg = Default()
	}
	return reg.Active()
}
