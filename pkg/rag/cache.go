package rag

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"vtagent/pkg/memory"
)

const defaultCacheSize = 256

// Cache memoizes a Backend's query results by normalized query text.
// It is safe for concurrent use by agents sharing one backend; concurrent
// identical misses trigger a single backend query.
type Cache struct {
	backend Backend
	limit   int
	group   singleflight.Group

	mu      sync.RWMutex
	results map[string]string
	order   []string
}

func NewCache(backend Backend, limit int) *Cache {
	if limit <= 0 {
		limit = defaultCacheSize
	}

	return &Cache{
		backend: backend,
		limit:   limit,
		results: make(map[string]string),
	}
}

func (c *Cache) Initialize(ctx context.Context) error {
	return c.backend.Initialize(ctx)
}

func (c *Cache) CheckHealth(ctx context.Context) bool {
	return c.backend.CheckHealth(ctx)
}

func (c *Cache) Query(ctx context.Context, text string, history []memory.Message) (string, error) {
	key := NormalizeQuery(text)
	if key == "" {
		return "", ErrInvalidQuery
	}

	if result, ok := c.lookup(key); ok {
		return result, nil
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		if result, ok := c.lookup(key); ok {
			return result, nil
		}

		result, err := c.backend.Query(ctx, key, history)
		if err != nil {
			return "", err
		}
		c.store(key, result)
		return result, nil
	})
	if err != nil {
		return "", err
	}

	return value.(string), nil
}

// Len reports how many results are memoized.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.results)
}

func (c *Cache) lookup(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result, ok := c.results[key]
	return result, ok
}

func (c *Cache) store(key string, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.results[key]; ok {
		return
	}

	// Oldest entries go first once the limit is reached.
	for len(c.order) >= c.limit {
		delete(c.results, c.order[0])
		c.order = c.order[1:]
	}

	c.results[key] = result
	c.order = append(c.order, key)
}
