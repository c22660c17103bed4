package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"artifactcache/internal/fingerprint"
)

// EntryInfo summarizes one published entry.
type EntryInfo struct {
	Fingerprint fingerprint.Fingerprint
	Size        int64
	Files       int
	ModTime     time.Time
	// Err is set by List for entries whose manifest cannot be read.
	Err error
}

// Stat summarizes the entry for fp from its manifest.
func (s *Store) Stat(fp fingerprint.Fingerprint) (*EntryInfo, error) {
	exists, err := s.Exists(fp)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, fp)
	}
	info, err := os.Stat(s.EntryPath(fp))
	if err != nil {
		return nil, fmt.Errorf("stat cache entry: %w", err)
	}
	m, err := s.readManifest(fp)
	if err != nil {
		return nil, err
	}
	return &EntryInfo{
		Fingerprint: fp,
		Size:        m.Size(),
		Files:       m.FileCount(),
		ModTime:     info.ModTime(),
	}, nil
}

// List returns every published entry sorted by fingerprint. Temporary and
// work directories are skipped. Damaged entries are included with Err set.
func (s *Store) List() ([]EntryInfo, error) {
	des, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache root: %w", err)
	}

	var out []EntryInfo
	for _, de := range des {
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		fp := fingerprint.Fingerprint(name)
		if fp.Validate() != nil {
			continue
		}
		info, err := s.Stat(fp)
		if err != nil {
			if !errors.Is(err, ErrCacheCorrupt) {
				return nil, err
			}
			out = append(out, EntryInfo{Fingerprint: fp, Err: err})
			continue
		}
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}

// Verify re-hashes every file of the entry and compares it with the
// manifest. Any difference, including files the manifest does not list, is
// reported as ErrCacheCorrupt.
func (s *Store) Verify(fp fingerprint.Fingerprint) error {
	exists, err := s.Exists(fp)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, fp)
	}
	m, err := s.readManifest(fp)
	if err != nil {
		return err
	}

	digester := s.digester
	if string(digester.Algorithm()) != m.Algorithm {
		alg, err := fingerprint.ParseAlgorithm(m.Algorithm)
		if err != nil {
			return corrupt(fp, ManifestName, err, "manifest algorithm")
		}
		if digester, err = fingerprint.New(fingerprint.WithAlgorithm(alg)); err != nil {
			return err
		}
	}

	entryDir := s.EntryPath(fp)
	listed := make(map[string]bool, len(m.Files))
	for _, f := range m.Files {
		listed[f.Path] = true
		p := filepath.Join(entryDir, filepath.FromSlash(f.Path))
		info, err := os.Lstat(p)
		if err != nil {
			return corrupt(fp, f.Path, err, "listed path unreadable")
		}
		if f.Dir {
			if !info.IsDir() {
				return corrupt(fp, f.Path, nil, "expected a directory, found %s", info.Mode().Type())
			}
			continue
		}
		if !info.Mode().IsRegular() {
			return corrupt(fp, f.Path, nil, "listed file is a %s", info.Mode().Type())
		}
		if info.Size() != f.Size {
			return corrupt(fp, f.Path, nil, "size %d, manifest says %d", info.Size(), f.Size)
		}
		got, err := digester.FingerprintFile(p)
		if err != nil {
			return corrupt(fp, f.Path, err, "hashing file")
		}
		if string(got) != f.Digest {
			return corrupt(fp, f.Path, nil, "digest %s, manifest says %s", got, f.Digest)
		}
	}

	err = filepath.WalkDir(entryDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(entryDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." || rel == ManifestName || listed[rel] {
			return nil
		}
		return corrupt(fp, rel, nil, "file not listed in manifest")
	})
	if err != nil {
		if errors.Is(err, ErrCacheCorrupt) {
			return err
		}
		return corrupt(fp, "", err, "walking entry")
	}
	return nil
}

// CleanTemp removes temporary publish directories and work directories
// whose modification time is at least olderThan in the past. It returns the
// number of directories removed.
//
// A directory still in use by a live process is removed too if it is old
// enough, so olderThan should exceed the longest expected computation.
func (s *Store) CleanTemp(olderThan time.Duration) (int, error) {
	des, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading cache root: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, de := range des {
		name := de.Name()
		if !de.IsDir() || !(strings.HasPrefix(name, TempPrefix) || strings.HasPrefix(name, WorkPrefix)) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, fmt.Errorf("stat %s: %w", name, err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, name)); err != nil {
			return removed, fmt.Errorf("removing %s: %w", name, err)
		}
		removed++
		s.logger.Info("removed stale directory", zap.String("dir", name), zap.Time("modified", info.ModTime()))
	}
	return removed, nil
}
