package memo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"artifactcache/internal/cacheroot"
	"artifactcache/internal/fingerprint"
	"artifactcache/internal/store"
)

// Computation produces a directory of results.
type Computation interface {
	// Identity names the computation, e.g. "fit-coefficients".
	Identity() string

	// Config returns the parameters that determine the result. It is
	// reduced with fingerprint.From.
	Config() any

	// Compute writes results into workDir, which exists and is empty.
	Compute(ctx context.Context, workDir string) error
}

// Func returns a Computation backed by fn.
func Func(identity string, config any, fn func(ctx context.Context, workDir string) error) Computation {
	return &funcComputation{identity: identity, config: config, fn: fn}
}

type funcComputation struct {
	identity string
	config   any
	fn       func(context.Context, string) error
}

func (f *funcComputation) Identity() string { return f.identity }
func (f *funcComputation) Config() any      { return f.config }

func (f *funcComputation) Compute(ctx context.Context, workDir string) error {
	return f.fn(ctx, workDir)
}

// Result describes one Run.
type Result struct {
	Fingerprint fingerprint.Fingerprint

	// Root is the cache root the call resolved to.
	Root string

	// OutputDir is the cleaned output directory that now holds the result.
	OutputDir string

	// Hit is true when the result came from an existing entry.
	Hit bool

	// Shared is true when this call waited on an identical in-flight call
	// and took its result.
	Shared bool

	Duration time.Duration
}

// Key builds the mapping a wrapped call is fingerprinted from.
func Key(identity, outputDir string, config any) (*fingerprint.Mapping, error) {
	cv, err := fingerprint.From(config)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing config: %w", err)
	}
	return fingerprint.NewMapping(
		fingerprint.Field{Name: "identity", Value: fingerprint.Text(identity)},
		fingerprint.Field{Name: "output", Value: fingerprint.Text(filepath.Clean(outputDir))},
		fingerprint.Field{Name: "config", Value: cv},
	), nil
}

// Wrapper runs Computations through the cache.
type Wrapper struct {
	engine   *fingerprint.Engine
	registry *cacheroot.Registry
	linkMode store.LinkMode
	logger   *zap.Logger

	flights singleflight.Group
}

// Option configures a Wrapper.
type Option func(*Wrapper)

// WithEngine sets the fingerprint engine.
func WithEngine(e *fingerprint.Engine) Option {
	return func(w *Wrapper) { w.engine = e }
}

// WithRegistry sets the registry consulted when the context carries no
// root. The default is cacheroot.Default().
func WithRegistry(r *cacheroot.Registry) Option {
	return func(w *Wrapper) { w.registry = r }
}

// WithLinkMode sets how hits are materialized.
func WithLinkMode(m store.LinkMode) Option {
	return func(w *Wrapper) { w.linkMode = m }
}

// WithLogger sets the logger, which is also handed to the stores.
func WithLogger(l *zap.Logger) Option {
	return func(w *Wrapper) { w.logger = l }
}

// New returns a Wrapper.
func New(opts ...Option) *Wrapper {
	w := &Wrapper{
		engine:   fingerprint.Default(),
		linkMode: store.Copy,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.engine == nil {
		w.engine = fingerprint.Default()
	}
	if w.registry == nil {
		w.registry = cacheroot.Default()
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Fingerprint returns the fingerprint Run would use for c and outputDir.
func (w *Wrapper) Fingerprint(c Computation, outputDir string) (fingerprint.Fingerprint, error) {
	if c == nil {
		return "", errors.New("computation is nil")
	}
	key, err := Key(c.Identity(), outputDir, c.Config())
	if err != nil {
		return "", err
	}
	return w.engine.Fingerprint(key)
}

// Store opens the store for the root ctx resolves to.
func (w *Wrapper) Store(ctx context.Context) (*store.Store, error) {
	return store.Open(cacheroot.Resolve(ctx, w.registry),
		store.WithEngine(w.engine),
		store.WithLinkMode(w.linkMode),
		store.WithLogger(w.logger))
}

// Run produces c's result in outputDir, from the cache if possible.
//
// Identical calls in this process that overlap in time share one execution;
// the followers get the leader's result with Shared set, and are subject to
// the leader's context.
func (w *Wrapper) Run(ctx context.Context, c Computation, outputDir string) (*Result, error) {
	if outputDir == "" {
		return nil, errors.New("output directory is required")
	}
	fp, err := w.Fingerprint(c, outputDir)
	if err != nil {
		return nil, err
	}
	st, err := w.Store(ctx)
	if err != nil {
		return nil, err
	}

	outputDir = filepath.Clean(outputDir)
	if err := checkOutputDir(outputDir, st.Root()); err != nil {
		return nil, err
	}
	flight := st.Root() + "\x00" + string(fp)
	v, err, shared := w.flights.Do(flight, func() (any, error) {
		return w.run(ctx, st, c, fp, outputDir)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*Result)
	res.Shared = shared
	return &res, nil
}

func (w *Wrapper) run(ctx context.Context, st *store.Store, c Computation, fp fingerprint.Fingerprint, outputDir string) (*Result, error) {
	start := time.Now()
	log := w.logger.With(
		zap.String("identity", c.Identity()),
		zap.String("fingerprint", string(fp)))

	res := &Result{Fingerprint: fp, Root: st.Root(), OutputDir: outputDir}

	exists, err := st.Exists(fp)
	if err != nil {
		return nil, err
	}
	if exists {
		if err := replaceWithEntry(st, fp, outputDir); err != nil {
			log.Warn("materializing cache hit failed", zap.Error(err))
			return nil, err
		}
		res.Hit = true
		res.Duration = time.Since(start)
		log.Debug("cache hit", zap.Duration("duration", res.Duration))
		return res, nil
	}

	log.Debug("cache miss")
	workDir, err := st.NewWorkDir()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn("removing work dir", zap.String("dir", workDir), zap.Error(err))
		}
	}()

	if err := c.Compute(ctx, workDir); err != nil {
		log.Warn("computation failed", zap.Error(err))
		return nil, err
	}
	if err := st.Publish(fp, workDir); err != nil {
		log.Warn("publishing result failed", zap.Error(err))
		return nil, fmt.Errorf("publishing result: %w", err)
	}
	if err := replaceWithEntry(st, fp, outputDir); err != nil {
		log.Warn("materializing fresh result failed", zap.Error(err))
		return nil, err
	}
	res.Duration = time.Since(start)
	log.Debug("computed result", zap.Duration("duration", res.Duration))
	return res, nil
}

// ErrOutputOverlapsRoot rejects output directories that are, contain, or
// sit inside the cache root. Replacing such a directory would delete entries.
var ErrOutputOverlapsRoot = errors.New("output directory overlaps the cache root")

func checkOutputDir(outputDir, root string) error {
	out, err := filepath.Abs(outputDir)
	if err != nil {
		return fmt.Errorf("resolving output dir: %w", err)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving cache root: %w", err)
	}
	if within(out, absRoot) || within(absRoot, out) {
		return fmt.Errorf("%w: %s and %s", ErrOutputOverlapsRoot, outputDir, root)
	}
	return nil
}

// within reports whether path is dir or lies below it. Both are absolute.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// replaceWithEntry empties outputDir and materializes the entry into it.
func replaceWithEntry(st *store.Store, fp fingerprint.Fingerprint, outputDir string) error {
	if err := os.RemoveAll(outputDir); err != nil {
		return fmt.Errorf("clearing output dir: %w", err)
	}
	ok, err := st.Materialize(fp, outputDir)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s vanished before materialization", store.ErrEntryNotFound, fp)
	}
	return nil
}
