package store

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"artifactcache/internal/fingerprint"
)

// ManifestName is the entry-local index file. It is never materialized.
const ManifestName = ".artifactcache-entry.cbor"

const manifestVersion = 1

// Manifest indexes one entry.
type Manifest struct {
	Version     int            `cbor:"version"`
	Fingerprint string         `cbor:"fingerprint"`
	Algorithm   string         `cbor:"algorithm"`
	Files       []ManifestFile `cbor:"files"`
}

// ManifestFile is one path of the artifact tree, slash-separated and
// relative to the entry. Files are listed in lexical walk order, so a
// directory always precedes its contents.
type ManifestFile struct {
	Path   string `cbor:"path"`
	Dir    bool   `cbor:"dir,omitempty"`
	Size   int64  `cbor:"size"`
	Mode   uint32 `cbor:"mode"`
	Digest string `cbor:"digest,omitempty"`
}

// Size sums the sizes of all regular files.
func (m *Manifest) Size() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Size
	}
	return n
}

// FileCount counts regular files.
func (m *Manifest) FileCount() int {
	n := 0
	for _, f := range m.Files {
		if !f.Dir {
			n++
		}
	}
	return n
}

var manifestEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	return em
}()

func encodeManifest(m *Manifest) ([]byte, error) {
	return manifestEncMode.Marshal(m)
}

func (s *Store) readManifest(fp fingerprint.Fingerprint) (*Manifest, error) {
	p := s.manifestPath(fp)
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, corrupt(fp, ManifestName, err, "reading manifest")
	}
	var m Manifest
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, corrupt(fp, ManifestName, err, "decoding manifest")
	}
	if m.Version != manifestVersion {
		return nil, corrupt(fp, ManifestName, nil, "unsupported manifest version %d", m.Version)
	}
	if m.Fingerprint != string(fp) {
		return nil, corrupt(fp, ManifestName, nil, "manifest names fingerprint %q", m.Fingerprint)
	}
	for _, f := range m.Files {
		if err := checkRelPath(f.Path); err != nil {
			return nil, corrupt(fp, ManifestName, err, "manifest lists unsafe path")
		}
	}
	return &m, nil
}

func checkRelPath(p string) error {
	clean := path.Clean(p)
	if p == "" || clean != p || path.IsAbs(p) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path %q escapes the entry", p)
	}
	if p == ManifestName {
		return fmt.Errorf("path %q is reserved", p)
	}
	return nil
}
