package cache

import (
	"sync"
	"time"

	applogger "FinStore/pkg/logger"
)

type entry struct {
	v   any
	exp time.Time
}

// TTLCache holds API read results until they expire or a store change purges them.
type TTLCache struct {
	mu     sync.RWMutex
	m      map[string]entry
	ttl    time.Duration
	now    func() time.Time
	logger *applogger.Logger
	purges int64
}

func NewTTLCache(ttl time.Duration, l *applogger.Logger) *TTLCache {
	if l == nil {
		l = applogger.Nop()
	}
	return &TTLCache{m: make(map[string]entry), ttl: ttl, now: time.Now, logger: l}
}

func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && c.now().After(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.v, true
}

// Set stores v with the cache TTL. A non-positive TTL disables caching.
func (c *TTLCache) Set(key string, v any) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.m[key] = entry{v: v, exp: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// setIfGen stores v only while no purge has happened since gen was read.
func (c *TTLCache) setIfGen(key string, v any, gen int64) bool {
	if c.ttl <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.purges != gen {
		return false
	}
	c.m[key] = entry{v: v, exp: c.now().Add(c.ttl)}
	return true
}

// GetOrLoad returns the cached value for key or stores the result of load. A value loaded
// across a purge is returned but not cached, since it may predate the change that caused it.
func (c *TTLCache) GetOrLoad(key string, load func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	gen := c.Purges()
	v, err := load()
	if err != nil {
		return nil, err
	}
	if !c.setIfGen(key, v, gen) && c.ttl > 0 {
		c.logger.Debug("read cache skipped stale load", applogger.String("key", key))
	}
	return v, nil
}

func (c *TTLCache) Purge(reason string) {
	c.mu.Lock()
	n := len(c.m)
	c.m = make(map[string]entry)
	c.purges++
	c.mu.Unlock()
	c.logger.Debug("read cache purged", applogger.String("reason", reason), applogger.Int("entries", n))
}

func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// Purges reports how many times the cache has been purged.
func (c *TTLCache) Purges() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.purges
}
