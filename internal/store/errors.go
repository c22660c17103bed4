package store

import (
	"errors"
	"fmt"

	"artifactcache/internal/fingerprint"
)

var (
	// ErrCacheCorrupt reports a visible entry whose content cannot be read
	// or does not match its manifest.
	ErrCacheCorrupt = errors.New("cache corrupt")

	// ErrEntryNotFound is returned by operations that require a published
	// entry when none exists.
	ErrEntryNotFound = errors.New("cache entry not found")

	// ErrInvalidFingerprint is returned for fingerprints that are not safe to
	// use as entry names.
	ErrInvalidFingerprint = fingerprint.ErrInvalidFingerprint
)

// CorruptError describes damage to a published entry.
type CorruptError struct {
	Fingerprint fingerprint.Fingerprint
	// Path is the damaged file, relative to the entry. Empty for the entry
	// itself.
	Path string
	Msg  string
	Err  error
}

func (e *CorruptError) Error() string {
	if e == nil {
		return ""
	}
	loc := string(e.Fingerprint)
	if e.Path != "" {
		loc += "/" + e.Path
	}
	msg := fmt.Sprintf("%s: entry %s: %s", ErrCacheCorrupt.Error(), loc, e.Msg)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrCacheCorrupt) hold for every CorruptError.
func (e *CorruptError) Is(target error) bool { return target == ErrCacheCorrupt }

func corrupt(fp fingerprint.Fingerprint, path string, err error, format string, args ...any) error {
	return &CorruptError{Fingerprint: fp, Path: path, Msg: fmt.Sprintf(format, args...), Err: err}
}
