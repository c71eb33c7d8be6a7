// Package dcache persists lift reports on disk keyed by image digest, so a
// rerun over an unchanged binary can answer report-only queries without
// lifting again.
package dcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Current schema version - increment when LiftReport format changes
const schemaVersion uint16 = 1

// Digest identifies one input image plus its manifest.
type Digest [sha256.Size]byte

// KeyFor hashes the image bytes together with the serialized config.
func KeyFor(image []byte, manifest []byte) Digest {
	h := sha256.New()
	h.Write(image)
	h.Write([]byte{0})
	h.Write(manifest)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// TraceReport is the per-trace slice of a lift report.
type TraceReport struct {
	Name      string
	EntryVMA  uint64
	Blocks    int
	Phis      int
	TableSize int
}

// LiftReport stores the outcome of lifting one image.
type LiftReport struct {
	// Schema version for safe invalidation when format changes
	Schema uint16

	Binary  string
	Traces  []TraceReport
	Elapsed time.Duration
}

// Cache is a disk-backed report store. Thread-safe for concurrent access.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

// Open initializes and returns a cache at the standard location.
func Open(app string) (*Cache, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, app)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) pathFor(key Digest) string {
	hexKey := hex.EncodeToString(key[:])
	return filepath.Join(c.dir, "reports", hexKey+".mp")
}

// Put serializes and writes a report to the cache.
func (c *Cache) Put(key Digest, report *LiftReport) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	report.Schema = schemaVersion
	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		// gone already when the rename below succeeded
		if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "failed to remove temp file: %v\n", err)
		}
	}()

	enc := msgpack.NewEncoder(f)
	err = enc.Encode(report)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// atomic replace
	return os.Rename(f.Name(), p)
}

// Get reads a report from the cache. A missing entry or a schema mismatch
// reports (false, nil).
func (c *Cache) Get(key Digest, out *LiftReport) (bool, error) {
	if c == nil {
		return false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	p := c.pathFor(key)
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			panic(closeErr)
		}
	}()
	dec := msgpack.NewDecoder(f)
	if err := dec.Decode(out); err != nil {
		return false, err
	}
	if out.Schema != schemaVersion {
		return false, nil
	}
	return true, nil
}

// DropAll invalidates the cache, useful after format changes.
func (c *Cache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.dir + ".old-" + time.Now().Format("20060102150405")
	if err := os.Rename(c.dir, old); err != nil {
		return err
	}
	return os.RemoveAll(old)
}
