// Package cache keeps the original bytes of captured assets for the lifetime of
// the process so a failed upload can be retried without touching the disk.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Payload is the original asset as captured
type Payload struct {
	Data     []byte
	MimeType string
	Filename string
}

// Size returns the number of payload bytes
func (p Payload) Size() int64 {
	return int64(len(p.Data))
}

type Option func(*PayloadCache)

// WithCapacity bounds the cache to n entries, evicting the least recently used.
// n <= 0 keeps the cache unbounded.
func WithCapacity(n int) Option {
	return func(c *PayloadCache) {
		if n <= 0 {
			return
		}
		bounded, err := lru.New[string, Payload](n)
		if err != nil {
			return
		}
		c.bounded = bounded
	}
}

// PayloadCache maps upload ids to payloads. Safe for concurrent use.
type PayloadCache struct {
	mu      sync.RWMutex
	entries map[string]Payload
	bounded *lru.Cache[string, Payload]
}

func New(opts ...Option) *PayloadCache {
	c := &PayloadCache{
		entries: make(map[string]Payload),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *PayloadCache) Put(id string, p Payload) {
	if c.bounded != nil {
		c.bounded.Add(id, p)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = p
}

// Take returns the payload for id without removing it
func (c *PayloadCache) Take(id string) (Payload, bool) {
	if c.bounded != nil {
		return c.bounded.Get(id)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[id]
	return p, ok
}

func (c *PayloadCache) Remove(id string) {
	if c.bounded != nil {
		c.bounded.Remove(id)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

func (c *PayloadCache) Len() int {
	if c.bounded != nil {
		return c.bounded.Len()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
