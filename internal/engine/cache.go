package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/jijae92/mactts/internal/tts"
)

// Cache stores synthesized sentence WAVs keyed by content hash, so repeated
// renders of an edited script only pay for the lines that changed.
type Cache struct {
	dir     string
	enabled bool

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache opens (and creates) the cache directory. An empty dir resolves
// MACTTS_CACHE_DIR, then the user cache dir.
func NewCache(dir string) (*Cache, error) {
	if strings.TrimSpace(dir) == "" {
		dir = os.Getenv("MACTTS_CACHE_DIR")
	}
	if strings.TrimSpace(dir) == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve cache dir: %w", err)
		}
		dir = filepath.Join(base, "mactts")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: dir, enabled: true}, nil
}

// NewDisabledCache returns a cache that never hits and never stores.
func NewDisabledCache() *Cache {
	return &Cache{enabled: false}
}

// Dir returns the cache directory; empty when disabled.
func (c *Cache) Dir() string { return c.dir }

// Key derives the content hash for one synthesis request. Any field that
// changes the audio is part of the hash.
func (c *Cache) Key(backend string, req tts.Request) string {
	payload, _ := json.Marshal(map[string]any{
		"text":        req.Text,
		"backend":     backend,
		"voice":       req.Voice,
		"rate_wpm":    req.RateWPM,
		"speed":       req.Speed,
		"ref_audio":   req.RefAudioPath,
		"sample_rate": req.SampleRate,
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached WAV for key, if present.
func (c *Cache) Get(key string) ([]byte, bool) {
	if !c.enabled {
		return nil, false
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return data, true
}

// Put stores a WAV under key. Write failures are swallowed; the cache is
// an optimization, not a store of record.
func (c *Cache) Put(key string, wav []byte) {
	if !c.enabled {
		return
	}
	tmp := c.path(key) + ".tmp"
	if err := os.WriteFile(tmp, wav, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, c.path(key))
}

// Clear removes every cached entry.
func (c *Cache) Clear() error {
	if !c.enabled {
		return nil
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wav") {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Size reports the number of cached entries and their total bytes.
func (c *Cache) Size() (entries int, bytes int64, err error) {
	if !c.enabled {
		return 0, 0, nil
	}
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, 0, err
	}
	for _, entry := range dirEntries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wav") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		entries++
		bytes += info.Size()
	}
	return entries, bytes, nil
}

// Hits and Misses report lookup counters for this process.
func (c *Cache) Hits() int64   { return c.hits.Load() }
func (c *Cache) Misses() int64 { return c.misses.Load() }

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".wav")
}
