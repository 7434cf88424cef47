package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryCache is an in-process Cache. It is the default when no redis url is configured.
// Expired entries are removed by a background loop until Close.
type MemoryCache struct {
	mu        sync.Mutex
	items     *ttlcache.Cache[string, string]
	closeOnce sync.Once
}

func NewMemoryCache() *MemoryCache {
	items := ttlcache.New[string, string](
		ttlcache.WithDisableTouchOnHit[string, string](),
	)

	go items.Start()

	return &MemoryCache{items: items}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}

	item := c.items.Get(key)
	if item == nil {
		return "", false, nil
	}

	return item.Value(), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}

	c.items.Set(key, value, itemTTL(ttl))

	return nil
}

func (c *MemoryCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.items.Get(key) != nil {
		return false, nil
	}

	c.items.Set(key, value, itemTTL(ttl))

	return true, nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.items.Delete(key)

	return nil
}

// Incr keeps the expiry of an existing counter so the window stays fixed.
func (c *MemoryCache) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		count  int64
		expiry = itemTTL(ttl)
	)

	if item := c.items.Get(key); item != nil {
		current, err := strconv.ParseInt(item.Value(), 10, 64)
		if err != nil {
			return 0, err
		}

		count = current

		if !item.ExpiresAt().IsZero() {
			expiry = time.Until(item.ExpiresAt())
			if expiry <= 0 {
				count, expiry = 0, itemTTL(ttl)
			}
		}
	}

	count++
	c.items.Set(key, strconv.FormatInt(count, 10), expiry)

	return count, nil
}

// Len reports the number of entries, expired ones included until the next sweep.
func (c *MemoryCache) Len() int {
	return c.items.Len()
}

func (c *MemoryCache) Close() error {
	c.closeOnce.Do(c.items.Stop)

	return nil
}

func itemTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttlcache.NoTTL
	}

	return ttl
}
