package model

import (
	"sync"

	"github.com/rezzubs/faultforge/internal/logger"
)

// Loader produces the model stored under key, typically by fitting it or by
// reading a file.
type Loader func(key string) (*Model, error)

// Cache memoizes loaded models by key. Get hands out deep copies so callers
// can fault them freely.
type Cache struct {
	mu     sync.Mutex
	load   Loader
	models map[string]*Model
}

func NewCache(load Loader) *Cache {
	return &Cache{load: load, models: make(map[string]*Model)}
}

func (c *Cache) Get(key string) (*Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.models[key]
	if !ok {
		var err error
		m, err = c.load(key)
		if err != nil {
			return nil, err
		}
		logger.Log.Debug("Model loaded into cache", "key", key, "classes", m.Classes(), "features", m.Features(), "dtype", m.DType().String())
		c.models[key] = m
	}
	return m.Clone(), nil
}

// Invalidate drops one entry; the next Get for key reloads it.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.models, key)
	c.mu.Unlock()
}

func (c *Cache) Clear() {
	c.mu.Lock()
	clear(c.models)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.models)
}
