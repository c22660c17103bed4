package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"artifactcache/internal/fingerprint"
)

// copyTree copies the regular files and directories under src into dst,
// hashing each file while it is copied. Entry files are stored read-only;
// the manifest keeps their original permission bits for materialization.
//
// filepath.WalkDir visits in lexical order, so the returned list is
// deterministic and parents precede children.
func (s *Store) copyTree(src, dst string) ([]ManifestFile, error) {
	files := []ManifestFile{}
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		slashRel := filepath.ToSlash(rel)
		if slashRel == ManifestName {
			return fmt.Errorf("artifact path %s is reserved", slashRel)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			if err := os.Mkdir(target, 0o755); err != nil {
				return err
			}
			files = append(files, ManifestFile{Path: slashRel, Dir: true, Mode: uint32(info.Mode().Perm())})
			return nil
		case info.Mode().IsRegular():
			size, digest, err := s.copyAndHash(p, target)
			if err != nil {
				return err
			}
			files = append(files, ManifestFile{
				Path:   slashRel,
				Size:   size,
				Mode:   uint32(info.Mode().Perm()),
				Digest: string(digest),
			})
			return nil
		default:
			return fmt.Errorf("artifact %s: unsupported file type %s", slashRel, info.Mode().Type())
		}
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (s *Store) copyAndHash(src, dst string) (int64, fingerprint.Fingerprint, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, "", err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, "", err
	}
	defer out.Close()

	counter := &countingWriter{w: out}
	digest, err := s.digester.FingerprintReader(io.TeeReader(in, counter))
	if err != nil {
		return 0, "", err
	}
	if err := out.Sync(); err != nil {
		return 0, "", err
	}
	if err := out.Chmod(0o444); err != nil {
		return 0, "", err
	}
	if err := out.Close(); err != nil {
		return 0, "", err
	}
	return counter.n, digest, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// copyFile copies an entry file to dst. Errors reading the entry are
// corruption; errors writing dst are not.
func copyFile(fp fingerprint.Fingerprint, rel, src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return corrupt(fp, rel, err, "opening entry file")
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, readerOnly{in}); err != nil {
		var re *readError
		if errors.As(err, &re) {
			return corrupt(fp, rel, re.err, "reading entry file")
		}
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	if err := out.Chmod(perm); err != nil {
		return fmt.Errorf("chmod %s: %w", dst, err)
	}
	return out.Close()
}

// readerOnly tags read failures so copyFile can tell them apart from write
// failures. It also hides any WriterTo on the source.
type readerOnly struct{ r io.Reader }

type readError struct{ err error }

func (e *readError) Error() string { return e.err.Error() }
func (e *readError) Unwrap() error { return e.err }

func (r readerOnly) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF {
		return n, &readError{err: err}
	}
	return n, err
}
