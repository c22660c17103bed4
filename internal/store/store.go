package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"artifactcache/internal/fingerprint"
)

const (
	// TempPrefix marks directories holding an in-flight publication.
	TempPrefix = ".tmp-"

	// WorkPrefix marks private working directories handed to computations.
	WorkPrefix = ".work-"
)

// LinkMode selects how Materialize reproduces files.
type LinkMode string

const (
	// Copy writes an independent copy of every file.
	Copy LinkMode = "copy"

	// HardLink links files to the entry where the filesystem allows it and
	// copies otherwise. Linked files share the entry's read-only inode, so
	// consumers must not modify them.
	HardLink LinkMode = "hardlink"
)

// ParseLinkMode accepts "copy" and "hardlink". The empty string selects Copy.
func ParseLinkMode(s string) (LinkMode, error) {
	switch LinkMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Copy:
		return Copy, nil
	case HardLink:
		return HardLink, nil
	default:
		return "", fmt.Errorf("unknown link mode %q (expected copy|hardlink)", s)
	}
}

// Store is the set of entries under one cache root.
type Store struct {
	root     string
	engine   *fingerprint.Engine
	digester *fingerprint.Engine
	linkMode LinkMode
	logger   *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithEngine sets the engine whose algorithm is used for per-file manifest
// digests. Manifest digests are always full length.
func WithEngine(e *fingerprint.Engine) Option {
	return func(s *Store) { s.engine = e }
}

// WithLinkMode sets how Materialize reproduces files.
func WithLinkMode(m LinkMode) Option {
	return func(s *Store) { s.linkMode = m }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open returns the Store rooted at root. The directory is created lazily by
// the first publication.
func Open(root string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("cache root is required")
	}
	s := &Store{
		root:     filepath.Clean(root),
		engine:   fingerprint.Default(),
		linkMode: Copy,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		return nil, errors.New("nil fingerprint engine")
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	d, err := fingerprint.New(fingerprint.WithAlgorithm(s.engine.Algorithm()))
	if err != nil {
		return nil, err
	}
	s.digester = d
	if _, err := ParseLinkMode(string(s.linkMode)); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the cache root directory.
func (s *Store) Root() string { return s.root }

// EntryPath returns where the entry for fp lives, whether or not it exists.
func (s *Store) EntryPath(fp fingerprint.Fingerprint) string {
	return filepath.Join(s.root, string(fp))
}

func (s *Store) manifestPath(fp fingerprint.Fingerprint) string {
	return filepath.Join(s.EntryPath(fp), ManifestName)
}

// Exists reports whether a published entry for fp is visible.
func (s *Store) Exists(fp fingerprint.Fingerprint) (bool, error) {
	if err := fp.Validate(); err != nil {
		return false, err
	}
	info, err := os.Stat(s.EntryPath(fp))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("checking cache entry: %w", err)
	}
	if !info.IsDir() {
		return false, corrupt(fp, "", nil, "entry is a %s, not a directory", info.Mode().Type())
	}
	return true, nil
}

// Materialize reproduces the entry for fp inside dest, creating dest if
// needed. It reports false, with no error, when the entry does not exist.
//
// Files that cannot be read from the entry, or that disagree with the
// manifest, fail with ErrCacheCorrupt. Failures writing dest are returned as
// ordinary errors.
func (s *Store) Materialize(fp fingerprint.Fingerprint, dest string) (bool, error) {
	exists, err := s.Exists(fp)
	if err != nil || !exists {
		return false, err
	}
	m, err := s.readManifest(fp)
	if err != nil {
		return false, err
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return false, fmt.Errorf("creating destination: %w", err)
	}

	entryDir := s.EntryPath(fp)
	var dirs []ManifestFile
	for _, f := range m.Files {
		target := filepath.Join(dest, filepath.FromSlash(f.Path))
		if f.Dir {
			// Owner access stays open until the children are written.
			if err := os.MkdirAll(target, dirPerm(f.Mode)|0o700); err != nil {
				return false, fmt.Errorf("creating %s: %w", f.Path, err)
			}
			if err := os.Chmod(target, dirPerm(f.Mode)|0o700); err != nil {
				return false, fmt.Errorf("chmod %s: %w", f.Path, err)
			}
			dirs = append(dirs, f)
			continue
		}

		src := filepath.Join(entryDir, filepath.FromSlash(f.Path))
		info, err := os.Lstat(src)
		if err != nil {
			return false, corrupt(fp, f.Path, err, "listed file unreadable")
		}
		if !info.Mode().IsRegular() {
			return false, corrupt(fp, f.Path, nil, "listed file is a %s", info.Mode().Type())
		}
		if info.Size() != f.Size {
			return false, corrupt(fp, f.Path, nil, "size %d, manifest says %d", info.Size(), f.Size)
		}

		if err := removeExisting(target); err != nil {
			return false, err
		}
		if s.linkMode == HardLink {
			if err := os.Link(src, target); err == nil {
				continue
			}
			// Cross-device or unsupported; fall through to a copy.
		}
		if err := copyFile(fp, f.Path, src, target, fs.FileMode(f.Mode).Perm()); err != nil {
			return false, err
		}
	}

	// Children first, so a parent losing its write bit cannot block them.
	for i := len(dirs) - 1; i >= 0; i-- {
		target := filepath.Join(dest, filepath.FromSlash(dirs[i].Path))
		if err := os.Chmod(target, dirPerm(dirs[i].Mode)); err != nil {
			return false, fmt.Errorf("chmod %s: %w", dirs[i].Path, err)
		}
	}

	s.logger.Debug("materialized cache entry",
		zap.String("fingerprint", string(fp)),
		zap.String("dest", dest),
		zap.Int("files", m.FileCount()))
	return true, nil
}

// dirPerm is the permission a materialized directory gets. Manifests that
// carry no mode get 0755.
func dirPerm(mode uint32) fs.FileMode {
	if perm := fs.FileMode(mode).Perm(); perm != 0 {
		return perm
	}
	return 0o755
}

// Publish makes the tree at sourceDir visible as the entry for fp.
//
// The tree is copied into a temporary directory inside the root and moved
// into place with one rename. If the entry already exists, or another
// publisher wins the rename, Publish returns nil and the existing entry is
// kept. sourceDir is left untouched.
func (s *Store) Publish(fp fingerprint.Fingerprint, sourceDir string) error {
	if err := fp.Validate(); err != nil {
		return err
	}
	info, err := os.Stat(sourceDir)
	if err != nil {
		return fmt.Errorf("stat publish source: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("publish source %s is not a directory", sourceDir)
	}

	exists, err := s.Exists(fp)
	if err != nil {
		return err
	}
	if exists {
		s.logger.Debug("cache entry already published", zap.String("fingerprint", string(fp)))
		return nil
	}

	// The temporary directory must live on the same filesystem as the entry
	// for the final rename to be atomic.
	if err := ensureDirDurable(s.root, 0o755); err != nil {
		return fmt.Errorf("creating cache root: %w", err)
	}
	tmpDir, err := os.MkdirTemp(s.root, TempPrefix+string(fp)+"-")
	if err != nil {
		return fmt.Errorf("creating temp entry dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	files, err := s.copyTree(sourceDir, tmpDir)
	if err != nil {
		return fmt.Errorf("copying artifacts: %w", err)
	}
	manifest := &Manifest{
		Version:     manifestVersion,
		Fingerprint: string(fp),
		Algorithm:   string(s.digester.Algorithm()),
		Files:       files,
	}
	data, err := encodeManifest(manifest)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := writeFileDurable(filepath.Join(tmpDir, ManifestName), data, 0o444); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Chmod(tmpDir, 0o755); err != nil {
		return fmt.Errorf("chmod temp entry dir: %w", err)
	}
	if err := fsyncDir(tmpDir); err != nil {
		return fmt.Errorf("syncing temp entry dir: %w", err)
	}

	final := s.EntryPath(fp)
	if err := os.Rename(tmpDir, final); err != nil {
		// Renaming a directory onto a non-empty one fails, so a concurrent
		// winner shows up here. Its tree is equivalent to ours.
		if won, statErr := os.Stat(final); statErr == nil && won.IsDir() {
			s.logger.Debug("lost publish race", zap.String("fingerprint", string(fp)))
			return nil
		}
		return fmt.Errorf("committing cache entry: %w", err)
	}
	committed = true
	// The entry is visible; a failed root sync only weakens durability.
	_ = fsyncDir(s.root)

	s.logger.Info("published cache entry",
		zap.String("fingerprint", string(fp)),
		zap.Int("files", manifest.FileCount()),
		zap.Int64("bytes", manifest.Size()))
	return nil
}

// NewWorkDir creates a private directory inside the root for a computation
// to write into. Its name never collides with an entry.
func (s *Store) NewWorkDir() (string, error) {
	if err := ensureDirDurable(s.root, 0o755); err != nil {
		return "", fmt.Errorf("creating cache root: %w", err)
	}
	dir, err := os.MkdirTemp(s.root, WorkPrefix)
	if err != nil {
		return "", fmt.Errorf("creating work dir: %w", err)
	}
	return dir, nil
}

func removeExisting(target string) error {
	err := os.Remove(target)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("replacing %s: %w", target, err)
}
