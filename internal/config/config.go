// Package config loads the cache's YAML configuration file.
//
// Only the file and command line flags configure the cache; the environment
// is never consulted.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"artifactcache/internal/cacheroot"
	"artifactcache/internal/fingerprint"
	"artifactcache/internal/logging"
	"artifactcache/internal/store"
)

// Config is the contents of a configuration file.
type Config struct {
	// Root is the base cache root. Empty means the per-user default.
	Root string `yaml:"root"`

	Algorithm string `yaml:"algorithm"`

	// FingerprintLength truncates fingerprints to this many hex characters.
	// Zero keeps the full digest.
	FingerprintLength int `yaml:"fingerprint_length"`

	LinkMode string `yaml:"link_mode"`
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Algorithm: string(fingerprint.SHA256),
		LinkMode:  string(store.Copy),
		LogLevel:  logging.LevelWarn,
	}
}

// Load reads the file at path over Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML over Default. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every field and normalizes the enumerations.
func (c *Config) Validate() error {
	alg, err := fingerprint.ParseAlgorithm(c.Algorithm)
	if err != nil {
		return err
	}
	c.Algorithm = string(alg)

	if c.FingerprintLength < 0 || c.FingerprintLength > 64 {
		return fmt.Errorf("fingerprint_length %d out of range [0, 64]", c.FingerprintLength)
	}

	mode, err := store.ParseLinkMode(c.LinkMode)
	if err != nil {
		return err
	}
	c.LinkMode = string(mode)

	if c.LogLevel == "" {
		c.LogLevel = logging.LevelWarn
	}
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	c.LogLevel = level

	c.Root = strings.TrimSpace(c.Root)
	return nil
}

// Engine builds the fingerprint engine the configuration describes.
func (c *Config) Engine() (*fingerprint.Engine, error) {
	alg, err := fingerprint.ParseAlgorithm(c.Algorithm)
	if err != nil {
		return nil, err
	}
	return fingerprint.New(fingerprint.WithAlgorithm(alg), fingerprint.WithLength(c.FingerprintLength))
}

// RootOrDefault returns Root, or the per-user default root when unset.
func (c *Config) RootOrDefault() string {
	if c.Root != "" {
		return c.Root
	}
	return cacheroot.DefaultBase()
}

// StoreOptions returns the store options the configuration describes.
func (c *Config) StoreOptions(logger *zap.Logger) ([]store.Option, error) {
	e, err := c.Engine()
	if err != nil {
		return nil, err
	}
	mode, err := store.ParseLinkMode(c.LinkMode)
	if err != nil {
		return nil, err
	}
	return []store.Option{
		store.WithEngine(e),
		store.WithLinkMode(mode),
		store.WithLogger(logger),
	}, nil
}
