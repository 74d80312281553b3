package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AvailabilityCache keeps the last availability computed for each plot.
// It is read only when the store cannot be.
type AvailabilityCache interface {
	Get(ctx context.Context, plotID string) (Availability, bool)
	Set(ctx context.Context, a Availability)
}

// NewAvailabilityCache returns a Redis-backed cache, or an in-process one
// when client is nil.
func NewAvailabilityCache(client *redis.Client, prefix string) AvailabilityCache {
	if client == nil {
		return NewMemoryAvailabilityCache()
	}
	if prefix == "" {
		prefix = "subx:availability"
	}
	return &RedisAvailabilityCache{client: client, prefix: prefix, ttl: 7 * 24 * time.Hour}
}

// MemoryAvailabilityCache is a map guarded by a mutex.
type MemoryAvailabilityCache struct {
	mu    sync.RWMutex
	items map[string]Availability
}

func NewMemoryAvailabilityCache() *MemoryAvailabilityCache {
	return &MemoryAvailabilityCache{items: make(map[string]Availability)}
}

func (c *MemoryAvailabilityCache) Get(_ context.Context, plotID string) (Availability, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.items[plotID]
	return a, ok
}

func (c *MemoryAvailabilityCache) Set(_ context.Context, a Availability) {
	c.mu.Lock()
	c.items[a.PlotID] = a
	c.mu.Unlock()
}

// RedisAvailabilityCache stores availability as JSON strings, so every
// API replica serves the same last-known figure.  Redis errors are
// swallowed: a cache miss only means the store error is returned.
type RedisAvailabilityCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (c *RedisAvailabilityCache) key(plotID string) string { return c.prefix + ":" + plotID }

func (c *RedisAvailabilityCache) Get(ctx context.Context, plotID string) (Availability, bool) {
	raw, err := c.client.Get(ctx, c.key(plotID)).Bytes()
	if err != nil {
		return Availability{}, false
	}
	var a Availability
	if err := json.Unmarshal(raw, &a); err != nil {
		return Availability{}, false
	}
	return a, true
}

func (c *RedisAvailabilityCache) Set(ctx context.Context, a Availability) {
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.key(a.PlotID), raw, c.ttl).Err()
}
