package cache

import (
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// AudioCache keeps synthesized PCM in memory and, optionally, on disk.
// Disk hits are promoted to memory. All methods are safe for concurrent use.
type AudioCache struct {
	memory *memoryCache
	disk   *diskCache
	ttl    time.Duration
	closed atomic.Bool
}

// New creates a cache from cfg. The disk tier is skipped when
// cfg.DiskCapacity is zero or cfg.Dir is empty.
func New(cfg Config) (*AudioCache, error) {
	c := &AudioCache{
		memory: newMemoryCache(cfg.MemoryCapacity),
		ttl:    cfg.TTL,
	}

	if cfg.DiskCapacity > 0 && cfg.Dir != "" {
		disk, err := newDiskCache(cfg.Dir, cfg.DiskCapacity, cfg.CompressionLevel)
		if err != nil {
			return nil, err
		}
		c.disk = disk
		if c.ttl > 0 {
			if n := disk.prune(c.ttl); n > 0 {
				log.Debug("Pruned expired audio", "count", n)
			}
		}
	}
	return c, nil
}

// Get returns cached audio and the tier it came from.
func (c *AudioCache) Get(key string) ([]byte, Level, bool) {
	if c.closed.Load() {
		return nil, 0, false
	}
	if data, ok := c.memory.get(key); ok {
		return data, LevelMemory, true
	}
	if c.disk == nil {
		return nil, 0, false
	}
	data, ok := c.disk.get(key)
	if !ok {
		return nil, 0, false
	}
	_ = c.memory.put(key, data)
	return data, LevelDisk, true
}

// Put stores audio in both tiers. Items larger than a tier are skipped by
// that tier.
func (c *AudioCache) Put(key string, data []byte) error {
	if c.closed.Load() {
		return ErrCacheClosed
	}
	memErr := c.memory.put(key, data)
	if c.disk == nil {
		return memErr
	}
	if err := c.disk.put(key, data); err != nil && err != ErrItemTooLarge {
		return err
	}
	return nil
}

// Prune drops disk entries older than the configured TTL.
func (c *AudioCache) Prune() int {
	if c.disk == nil || c.ttl <= 0 {
		return 0
	}
	return c.disk.prune(c.ttl)
}

// Clear empties both tiers.
func (c *AudioCache) Clear() error {
	c.memory.clear()
	if c.disk != nil {
		return c.disk.clear()
	}
	return nil
}

// Stats returns per-tier statistics. Disk stats are zero without a disk tier.
func (c *AudioCache) Stats() (memory, disk Stats) {
	memory = c.memory.snapshot()
	if c.disk != nil {
		disk = c.disk.snapshot()
	}
	return memory, disk
}

// Close releases the compressor. Files stay on disk for the next run.
func (c *AudioCache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.disk != nil {
		c.disk.close()
	}
	return nil
}
