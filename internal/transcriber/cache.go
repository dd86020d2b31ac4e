package transcriber

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/patrickmn/go-cache"
)

// EngineCache loads each engine once and keeps it until Clear.
type EngineCache struct {
	mu      sync.Mutex
	items   *cache.Cache
	factory Factory
	log     *slog.Logger
}

func NewEngineCache(factory Factory, log *slog.Logger) *EngineCache {
	c := &EngineCache{
		items:   cache.New(cache.NoExpiration, 0),
		factory: factory,
		log:     log,
	}
	c.items.OnEvicted(func(engine string, v any) {
		h, ok := v.(Handle)
		if !ok {
			return
		}
		if err := h.Close(); err != nil {
			c.log.Warn("engine close failed", slog.String("engine", engine), slog.String("error", err.Error()))
		}
	})
	return c
}

// Get returns the cached handle for engine, loading it on first use.
func (c *EngineCache) Get(engine string) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.items.Get(engine); ok {
		return v.(Handle), nil
	}
	h, err := c.factory(engine)
	if err != nil {
		return nil, err
	}
	c.items.Set(engine, h, cache.NoExpiration)
	c.log.Debug("engine loaded", slog.String("engine", engine))
	return h, nil
}

// Loaded lists the engines currently held, sorted by name.
func (c *EngineCache) Loaded() []string {
	items := c.items.Items()
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear closes and evicts every cached handle.
func (c *EngineCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.items.Items() {
		c.items.Delete(name)
	}
}
