package store

import (
	"os"
	"path/filepath"
)

// ensureDirDurable creates dir (and parents) and syncs the parent so the new
// directory entry survives a crash.
func ensureDirDurable(dir string, perm os.FileMode) error {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return nil
	}
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	// Best effort: some filesystems refuse to sync directories.
	_ = fsyncDir(filepath.Dir(dir))
	return nil
}

// writeFileDurable writes data to a new file at path and syncs it before
// closing. The caller publishes it by renaming a parent directory.
func writeFileDurable(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		_ = f.Close()
		if !committed {
			_ = os.Remove(path)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Chmod(perm); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	committed = true
	return nil
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
