package featureflag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// WhatsAppBroadcasts gates the dispatch worker's sending.
const WhatsAppBroadcasts = "whatsapp_broadcasts"

const DefaultTTL = 5 * time.Minute

// Loader reads the full flag set from the backing store.
type Loader interface {
	LoadAll(ctx context.Context) (map[string]bool, error)
}

// Cache is a per-process read-through cache of feature flags. Concurrent refreshes
// collapse into one store read.
type Cache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	group singleflight.Group

	mu       sync.RWMutex
	flags    map[string]bool
	loadedAt time.Time
}

func NewCache(loader Loader, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Cache{
		loader: loader,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// Enabled reports whether key is on. Unknown keys are off.
func (c *Cache) Enabled(ctx context.Context, key string) (bool, error) {
	flags, err := c.Get(ctx)
	if err != nil {
		return false, err
	}
	return flags[normalizeKey(key)], nil
}

// Get returns the cached flag set, refreshing it from the store once it is older than the TTL.
// A failed refresh keeps serving the previous snapshot when one exists.
func (c *Cache) Get(ctx context.Context) (map[string]bool, error) {
	if flags, ok := c.fresh(); ok {
		return flags, nil
	}

	v, err, _ := c.group.Do("refresh", func() (any, error) {
		if flags, ok := c.fresh(); ok {
			return flags, nil
		}
		return c.refresh(ctx)
	})
	if err != nil {
		if stale, ok := c.snapshot(); ok {
			c.logger.Warn("feature flag refresh failed, serving stale snapshot", zap.Error(err))
			return stale, nil
		}
		return nil, err
	}

	return v.(map[string]bool), nil
}

// Invalidate drops the snapshot so the next Get reloads from the store.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.flags = nil
	c.loadedAt = time.Time{}
}

func (c *Cache) refresh(ctx context.Context) (map[string]bool, error) {
	if c.loader == nil {
		return nil, fmt.Errorf("feature flag loader is not configured")
	}

	loaded, err := c.loader.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load feature flags: %w", err)
	}

	flags := make(map[string]bool, len(loaded))
	for key, enabled := range loaded {
		flags[normalizeKey(key)] = enabled
	}

	c.mu.Lock()
	c.flags = flags
	c.loadedAt = c.now()
	c.mu.Unlock()

	return flags, nil
}

func (c *Cache) fresh() (map[string]bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.flags == nil || c.now().Sub(c.loadedAt) >= c.ttl {
		return nil, false
	}
	return c.flags, true
}

func (c *Cache) snapshot() (map[string]bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.flags, c.flags != nil
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
