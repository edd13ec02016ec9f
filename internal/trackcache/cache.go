// Package trackcache implements the content-addressed on-disk track cache:
// an audio file plus a JSON metadata sidecar per track, an in-memory index
// rebuilt at startup, and access-time LRU eviction.
package trackcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/example/musicd/internal/types"
)

type entry struct {
	track      types.Track
	lastAccess time.Time
}

// Cache is the in-memory index over a tracks/ directory, backed by atomic
// sidecar writes. Safe for concurrent use.
type Cache struct {
	mu       sync.RWMutex
	dir      string
	maxMB    int
	maxCount int
	entries  map[string]*entry
}

// New rebuilds a Cache by scanning dir for <track_id>.json sidecars.
// Entries whose audio file is missing are treated as misses and skipped,
// matching the read side's tolerance for absent sidecars.
func New(dir string, maxMB, maxCount int) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	c := &Cache{
		dir:      dir,
		maxMB:    maxMB,
		maxCount: maxCount,
		entries:  make(map[string]*entry),
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scan cache dir: %w", err)
	}

	for _, sidecar := range matches {
		data, err := os.ReadFile(sidecar)
		if err != nil {
			continue
		}
		var tr types.Track
		if err := json.Unmarshal(data, &tr); err != nil {
			continue
		}
		if _, err := os.Stat(tr.Path); err != nil {
			continue
		}
		c.entries[tr.TrackID] = &entry{track: tr, lastAccess: time.Now()}
	}

	return c, nil
}

// TrackPath returns the audio file path a track_id would occupy, whether or
// not it currently exists.
func (c *Cache) TrackPath(trackID string) string {
	return filepath.Join(c.dir, trackID+".wav")
}

func (c *Cache) sidecarPath(trackID string) string {
	return filepath.Join(c.dir, trackID+".json")
}

// Get returns the cached track and bumps its access time on a hit.
func (c *Cache) Get(trackID string) (types.Track, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[trackID]
	if !ok {
		return types.Track{}, false
	}
	e.lastAccess = time.Now()
	return e.track, true
}

// Contains reports presence without affecting LRU order.
func (c *Cache) Contains(trackID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[trackID]
	return ok
}

// Put atomically persists audio bytes and the track's sidecar metadata, then
// runs LRU eviction against the configured ceilings.
func (c *Cache) Put(track types.Track, audio []byte) error {
	audioPath := c.TrackPath(track.TrackID)
	if err := atomicWrite(audioPath, audio); err != nil {
		return fmt.Errorf("write track audio: %w", err)
	}

	track.Path = audioPath
	sidecar, err := json.MarshalIndent(track, "", "  ")
	if err != nil {
		_ = os.Remove(audioPath)
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if err := atomicWrite(c.sidecarPath(track.TrackID), sidecar); err != nil {
		_ = os.Remove(audioPath)
		return fmt.Errorf("write sidecar: %w", err)
	}

	c.mu.Lock()
	c.entries[track.TrackID] = &entry{track: track, lastAccess: time.Now()}
	c.mu.Unlock()

	return c.evict()
}

// Remove deletes a track's audio file and sidecar, e.g. to clean up a failed
// generation's partial artifacts before the terminal notification.
func (c *Cache) Remove(trackID string) {
	c.mu.Lock()
	delete(c.entries, trackID)
	c.mu.Unlock()

	_ = os.Remove(c.TrackPath(trackID))
	_ = os.Remove(c.sidecarPath(trackID))
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evict removes least-recently-accessed entries until both the size ceiling
// (in MB, 0 = unlimited) and the count ceiling (0 = unlimited) are respected.
func (c *Cache) evict() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxMB <= 0 && c.maxCount <= 0 {
		return nil
	}

	type ranked struct {
		id         string
		lastAccess time.Time
		size       int64
	}
	ranked_ := make([]ranked, 0, len(c.entries))
	var totalBytes int64
	for id, e := range c.entries {
		size := int64(0)
		if fi, err := os.Stat(c.TrackPath(id)); err == nil {
			size = fi.Size()
		}
		totalBytes += size
		ranked_ = append(ranked_, ranked{id: id, lastAccess: e.lastAccess, size: size})
	}

	sort.Slice(ranked_, func(i, j int) bool {
		return ranked_[i].lastAccess.Before(ranked_[j].lastAccess)
	})

	maxBytes := int64(c.maxMB) * 1024 * 1024
	count := len(ranked_)

	for _, r := range ranked_ {
		overSize := c.maxMB > 0 && totalBytes > maxBytes
		overCount := c.maxCount > 0 && count > c.maxCount
		if !overSize && !overCount {
			break
		}
		delete(c.entries, r.id)
		_ = os.Remove(c.TrackPath(r.id))
		_ = os.Remove(c.sidecarPath(r.id))
		totalBytes -= r.size
		count--
	}

	return nil
}

// atomicWrite writes data to a temp file in the same directory, fsyncs, then
// renames into place so readers never observe a partial file.
func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
