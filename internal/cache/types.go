package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an item exceeds the cache capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheClosed is returned after Close
	ErrCacheClosed = errors.New("cache is closed")
)

// Level identifies the tier that served a request.
type Level int

const (
	LevelMemory Level = iota
	LevelDisk
)

func (l Level) String() string {
	switch l {
	case LevelMemory:
		return "memory"
	case LevelDisk:
		return "disk"
	default:
		return "unknown"
	}
}

// Stats holds counters for one cache tier.
type Stats struct {
	Capacity  int64
	Size      int64
	Items     int64
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

func (s Stats) String() string {
	return fmt.Sprintf("%s of %s, %s items, %.0f%% hits",
		humanize.IBytes(uint64(s.Size)),
		humanize.IBytes(uint64(s.Capacity)),
		humanize.Comma(s.Items),
		s.HitRate()*100)
}

// Config holds cache settings.
type Config struct {
	// MemoryCapacity bounds the in-memory tier, in bytes
	MemoryCapacity int64

	// DiskCapacity bounds the on-disk tier, in bytes; zero disables it
	DiskCapacity int64

	// Dir holds the on-disk tier
	Dir string

	// CompressionLevel is the zstd level; zero stores raw PCM
	CompressionLevel int

	// TTL expires disk entries older than this on Prune
	TTL time.Duration
}

// DefaultConfig returns a 32MiB memory tier and a 256MiB disk tier in dir.
func DefaultConfig(dir string) Config {
	return Config{
		MemoryCapacity:   32 << 20,
		DiskCapacity:     256 << 20,
		Dir:              dir,
		CompressionLevel: 3,
		TTL:              7 * 24 * time.Hour,
	}
}

// Key derives the cache key for text rendered by engine with voice at rate.
func Key(engine, voice string, rate int, text string) string {
	h := sha256.New()
	for _, part := range []string{engine, voice, strconv.Itoa(rate), text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
