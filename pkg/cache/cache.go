package cache

import (
	"container/list"
	"sync"
	"time"

	"cad-copilot/backend/pkg/config"
)

// Options configures a Cache.
type Options struct {
	// TTL is how long an entry lives. Zero means entries never expire.
	TTL time.Duration
	// CleanupInterval runs a background sweep of expired entries when > 0.
	CleanupInterval time.Duration
	// MaxItems bounds the cache; the least recently used entry goes first.
	MaxItems int
}

// OptionsFromConfig reads cache settings from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TTL:             cfg.Cache.TTL,
		CleanupInterval: cfg.Cache.PurgeWindow,
		MaxItems:        cfg.Cache.MaxSize,
	}
}

// Stats counts lookups since the cache was created.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Items     int
}

type entry[V any] struct {
	key     string
	value   V
	expires time.Time
}

// Cache is a size-bounded LRU with per-entry expiry, safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	order   *list.List
	entries map[string]*list.Element
	stats   Stats
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache. Call Close to stop the cleanup goroutine.
func New[V any](opts Options) *Cache[V] {
	c := &Cache[V]{
		ttl:     opts.TTL,
		max:     opts.MaxItems,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if opts.CleanupInterval > 0 {
		go c.sweepEvery(opts.CleanupInterval)
	}
	return c
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key. ttl <= 0 never expires.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[V])
		e.value, e.expires = value, expires
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&entry[V]{key: key, value: value, expires: expires})
	for c.max > 0 && c.order.Len() > c.max {
		c.removeElement(c.order.Back())
		c.stats.Evictions++
	}
}

// Get returns the value for key and marks it recently used.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.expired(e) {
		c.removeElement(el)
		c.stats.Misses++
		return zero, false
	}

	c.order.MoveToFront(el)
	c.stats.Hits++
	return e.value, true
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}
}

// Flush removes everything.
func (c *Cache[V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Items = c.order.Len()
	return s
}

// Close stops the cleanup goroutine.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache[V]) expired(e *entry[V]) bool {
	return !e.expires.IsZero() && c.now().After(e.expires)
}

func (c *Cache[V]) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*entry[V]).key)
}

func (c *Cache[V]) sweepEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache[V]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*entry[V])) {
			c.removeElement(el)
		}
		el = prev
	}
}
