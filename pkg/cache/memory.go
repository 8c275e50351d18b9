package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value []byte
	exp   time.Time
}

// Memory is an in-process TTL cache. Fallback when Redis is disabled.
type Memory struct {
	mu sync.RWMutex
	m  map[string]memEntry
}

// NewMemory creates an in-memory cache.
func NewMemory() *Memory {
	return &Memory{m: make(map[string]memEntry)}
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.m[key] = memEntry{value: value, exp: exp}
	c.mu.Unlock()
	return nil
}

func (c *Memory) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
	return nil
}

func (c *Memory) Close() error { return nil }
