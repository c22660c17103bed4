package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"artifactcache/internal/cacheroot"
	"artifactcache/internal/fingerprint"
	"artifactcache/internal/store"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, "sha256", c.Algorithm)
	assert.Equal(t, "copy", c.LinkMode)
	assert.Equal(t, "warn", c.LogLevel)
	assert.Equal(t, cacheroot.DefaultBase(), c.RootOrDefault())

	e, err := c.Engine()
	require.NoError(t, err)
	assert.Equal(t, fingerprint.SHA256, e.Algorithm())
	assert.Equal(t, 64, e.Length())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifactcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
root: /var/cache/fits
algorithm: BLAKE3
fingerprint_length: 10
link_mode: hardlink
log_level: debug
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, &Config{
		Root:              "/var/cache/fits",
		Algorithm:         "blake3",
		FingerprintLength: 10,
		LinkMode:          "hardlink",
		LogLevel:          "debug",
	}, c)
	assert.Equal(t, "/var/cache/fits", c.RootOrDefault())

	e, err := c.Engine()
	require.NoError(t, err)
	assert.Equal(t, fingerprint.BLAKE3, e.Algorithm())
	assert.Equal(t, 10, e.Length())

	opts, err := c.StoreOptions(zap.NewNop())
	require.NoError(t, err)
	st, err := store.Open(t.TempDir(), opts...)
	require.NoError(t, err)
	assert.NotNil(t, st)
}

func TestParse_PartialFileKeepsDefaults(t *testing.T) {
	c, err := Parse([]byte("root: /tmp/x\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", c.Root)
	assert.Equal(t, "sha256", c.Algorithm)
	assert.Equal(t, "copy", c.LinkMode)
}

func TestParse_EmptyFile(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]string{
		"unknown key":     "roots: /x\n",
		"bad algorithm":   "algorithm: md5\n",
		"negative length": "fingerprint_length: -1\n",
		"length too long": "fingerprint_length: 65\n",
		"bad link mode":   "link_mode: symlink\n",
		"bad log level":   "log_level: loud\n",
		"wrong type":      "fingerprint_length: ten\n",
		"not a mapping":   "- a\n- b\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
