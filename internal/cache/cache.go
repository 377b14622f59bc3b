// Package cache provides a TTL response cache for deterministic or expensive
// replies, with lazy eviction on read and a periodic sweep.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/memohai/promobot/internal/periodic"
	"github.com/memohai/promobot/internal/shard"
)

const (
	DefaultTTL           = time.Hour
	DefaultSweepInterval = 10 * time.Minute
	// MaxKeyLength bounds normalized keys, in runes.
	MaxKeyLength = 100
)

type entry struct {
	value     string
	writtenAt time.Time
}

// Options configures a Cache.
type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

// Cache is safe for concurrent use. Entries are never returned once older
// than the TTL.
type Cache struct {
	entries       *shard.Map[entry]
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// New creates a Cache.
func New(log *slog.Logger, opts Options) *Cache {
	if log == nil {
		log = slog.Default()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = DefaultSweepInterval
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries:       shard.New[entry](shard.DefaultCount),
		ttl:           ttl,
		sweepInterval: sweep,
		now:           now,
		logger:        log.With(slog.String("component", "cache")),
	}
}

func (c *Cache) expired(e entry, now time.Time) bool {
	return now.Sub(e.writtenAt) > c.ttl
}

// Get returns the cached value for key. A stale entry is evicted and reported
// as a miss.
func (c *Cache) Get(key string) (string, bool) {
	now := c.now()
	var (
		value string
		hit   bool
	)
	c.entries.Do(key, func(items map[string]entry) {
		e, ok := items[key]
		if !ok {
			return
		}
		if c.expired(e, now) {
			delete(items, key)
			return
		}
		value, hit = e.value, true
	})
	return value, hit
}

// Set stores value under key, replacing any previous entry.
func (c *Cache) Set(key, value string) {
	now := c.now()
	c.entries.Do(key, func(items map[string]entry) {
		items[key] = entry{value: value, writtenAt: now}
	})
}

// Sweep evicts every stale entry and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	return c.entries.Prune(func(_ string, e entry) bool {
		return c.expired(e, now)
	})
}

// Len returns the number of stored entries, stale ones included.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Start runs Sweep periodically until ctx is done or the handle is stopped.
func (c *Cache) Start(ctx context.Context) *periodic.Handle {
	return periodic.Every(ctx, c.sweepInterval, func(context.Context) {
		if removed := c.Sweep(); removed > 0 {
			c.logger.Debug("swept entries", slog.Int("removed", removed))
		}
	})
}

// Key builds a cache key from free-text parts: case folded, whitespace
// collapsed, truncated to MaxKeyLength runes. Near-duplicate queries that
// differ only in case or spacing share a key.
func Key(parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Join(strings.Fields(strings.ToLower(part)), " ")
		if part != "" {
			normalized = append(normalized, part)
		}
	}
	key := strings.Join(normalized, ":")
	if utf8.RuneCountInString(key) <= MaxKeyLength {
		return key
	}
	runes := []rune(key)
	return string(runes[:MaxKeyLength])
}
