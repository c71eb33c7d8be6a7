// Package config reads the elfconv.toml manifest that names lift entries
// and output settings for a binary.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Manifest is one parsed elfconv.toml plus its location.
type Manifest struct {
	Path   string
	Root   string
	Config Config
}

// Config mirrors the manifest layout.
type Config struct {
	Lift   LiftConfig   `toml:"lift"`
	Output OutputConfig `toml:"output"`
	Cache  CacheConfig  `toml:"cache"`
}

// LiftConfig names the trace entries to lift: symbol names or hex VMAs.
type LiftConfig struct {
	Entries []string `toml:"entries"`
}

// OutputConfig controls where IR dumps land.
type OutputConfig struct {
	Dir string `toml:"dir"`
}

// CacheConfig toggles the lift-report disk cache.
type CacheConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns the configuration used when no manifest is present.
func Default() Config {
	return Config{
		Output: OutputConfig{Dir: "out"},
		Cache:  CacheConfig{Enabled: true},
	}
}

// FindManifest walks from startDir toward the filesystem root looking for
// elfconv.toml.
func FindManifest(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, "elfconv.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load parses the manifest at path. Missing optional sections fall back to
// defaults; an empty [lift].entries list is an error.
func Load(path string) (*Manifest, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if !meta.IsDefined("lift") {
		return nil, fmt.Errorf("%s: missing [lift]", path)
	}
	if len(cfg.Lift.Entries) == 0 {
		return nil, fmt.Errorf("%s: [lift].entries is empty", path)
	}
	for _, e := range cfg.Lift.Entries {
		if strings.TrimSpace(e) == "" {
			return nil, fmt.Errorf("%s: [lift].entries contains an empty entry", path)
		}
	}
	return &Manifest{
		Path:   path,
		Root:   filepath.Dir(path),
		Config: cfg,
	}, nil
}

// ParseEntry resolves one entries element: a 0x-prefixed hex VMA, or a
// symbol name to be looked up in the image.
func ParseEntry(s string) (uint64, bool, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return 0, false, nil
	}
	vma, err := strconv.ParseUint(s[2:], 16, 64)
	if err != nil {
		return 0, false, fmt.Errorf("bad entry address %q: %w", s, err)
	}
	return vma, true, nil
}
