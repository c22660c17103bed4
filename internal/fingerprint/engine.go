package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Fingerprint is a lowercase hex content identifier.
type Fingerprint string

// String returns the string representation of the Fingerprint.
func (f Fingerprint) String() string {
	return string(f)
}

// Validate checks that f is non-empty lowercase hex no longer than a full
// digest. Valid fingerprints are always safe to use as a directory name.
func (f Fingerprint) Validate() error {
	if f == "" {
		return fmt.Errorf("%w: empty", ErrInvalidFingerprint)
	}
	if len(f) > hexDigestLen {
		return fmt.Errorf("%w: %d characters exceeds %d", ErrInvalidFingerprint, len(f), hexDigestLen)
	}
	for i := 0; i < len(f); i++ {
		c := f[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidFingerprint, string(f), c)
		}
	}
	return nil
}

// Parse validates s and returns it as a Fingerprint. Surrounding whitespace
// is ignored.
func Parse(s string) (Fingerprint, error) {
	f := Fingerprint(strings.TrimSpace(s))
	if err := f.Validate(); err != nil {
		return "", err
	}
	return f, nil
}

// Algorithm names a 256-bit digest.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// hexDigestLen is the hex length of every supported digest.
const hexDigestLen = 64

const (
	// FullLength keeps the whole digest. It is the default.
	FullLength = 0

	// ShortLength keeps 10 hex characters (40 bits). Directory names stay
	// short, but a collision silently reuses an unrelated artifact; the
	// birthday bound reaches 1e-3 at roughly 47,000 entries under one root.
	ShortLength = 10
)

// ParseAlgorithm accepts "sha256" and "blake3", case-insensitively. The
// empty string selects SHA256.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", SHA256:
		return SHA256, nil
	case BLAKE3:
		return BLAKE3, nil
	default:
		return "", fmt.Errorf("unknown digest algorithm %q (expected sha256|blake3)", s)
	}
}

func (a Algorithm) newHash() (func() hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New, nil
	case BLAKE3:
		return func() hash.Hash { return blake3.New() }, nil
	default:
		return nil, fmt.Errorf("unknown digest algorithm %q", string(a))
	}
}

// Engine computes fingerprints with a fixed algorithm and length. An Engine
// holds no mutable state and is safe for concurrent use.
type Engine struct {
	algorithm Algorithm
	length    int
	newHash   func() hash.Hash
}

// Option configures an Engine.
type Option func(*Engine)

// WithAlgorithm selects the digest.
func WithAlgorithm(a Algorithm) Option {
	return func(e *Engine) { e.algorithm = a }
}

// WithLength truncates fingerprints to n hex characters. FullLength (0)
// disables truncation.
func WithLength(n int) Option {
	return func(e *Engine) { e.length = n }
}

// New creates an Engine. The defaults are SHA256 at FullLength.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{algorithm: SHA256, length: FullLength}
	for _, opt := range opts {
		opt(e)
	}
	newHash, err := e.algorithm.newHash()
	if err != nil {
		return nil, err
	}
	if e.length < 0 || e.length > hexDigestLen {
		return nil, fmt.Errorf("fingerprint length %d out of range [0, %d]", e.length, hexDigestLen)
	}
	e.newHash = newHash
	return e, nil
}

var defaultEngine = func() *Engine {
	e, err := New()
	if err != nil {
		panic("fingerprint: default engine: " + err.Error())
	}
	return e
}()

// Default returns the SHA256, full length Engine.
func Default() *Engine {
	return defaultEngine
}

// Algorithm reports the engine's digest.
func (e *Engine) Algorithm() Algorithm { return e.algorithm }

// Length reports the fingerprint length in hex characters.
func (e *Engine) Length() int {
	if e.length == FullLength {
		return hexDigestLen
	}
	return e.length
}

// Fingerprint canonicalizes v and returns its fingerprint.
func (e *Engine) Fingerprint(v Value) (Fingerprint, error) {
	enc := newEncoder(e.newHash)
	if err := enc.encode(v, ""); err != nil {
		return "", err
	}
	return e.finish(enc.h.Sum(nil)), nil
}

// FingerprintOf reduces x with From and fingerprints the result.
func (e *Engine) FingerprintOf(x any) (Fingerprint, error) {
	v, err := From(x)
	if err != nil {
		return "", err
	}
	return e.Fingerprint(v)
}

// chunkSize bounds the memory used while streaming file contents.
const chunkSize = 64 << 10

// FingerprintReader digests everything read from r in bounded chunks.
func (e *Engine) FingerprintReader(r io.Reader) (Fingerprint, error) {
	h := e.newHash()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return e.finish(h.Sum(nil)), nil
}

// FingerprintFile digests the contents of the file at path without loading
// it into memory. A missing path fails with ErrFileNotFound.
func (e *Engine) FingerprintFile(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s: %w", ErrFileNotFound, path, err)
		}
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	fp, err := e.FingerprintReader(f)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return fp, nil
}

func (e *Engine) finish(sum []byte) Fingerprint {
	s := hex.EncodeToString(sum)
	if e.length != FullLength && e.length < len(s) {
		s = s[:e.length]
	}
	return Fingerprint(s)
}
