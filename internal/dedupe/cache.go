// ABOUTME: Thread-safe TTL cache over provider message ids
// ABOUTME: Fast path for duplicate webhook deliveries; the store is the backstop

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry tracks when a key was marked and where it sits in eviction order.
type entry struct {
	markedAt time.Time
	elem     *list.Element
}

// Cache remembers recently processed message keys so duplicate webhook
// deliveries can be rejected without touching the database. Entries expire
// after a TTL and the oldest are evicted once the size cap is reached, so
// the cache stays bounded no matter how chatty a provider gets.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewCache creates a cache with the given TTL and size cap. A background
// goroutine sweeps expired entries; call Close to stop it.
func NewCache(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// CheckAndMark reports whether key was already seen within the TTL, marking
// it as seen if not. Check and mark happen under one lock so two concurrent
// deliveries of the same message cannot both pass.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok && time.Since(e.markedAt) < c.ttl {
		return true
	}
	c.mark(key)
	return false
}

// Forget removes a key so a later retry can pass the check again. Called
// when processing fails after the mark, since providers redeliver on our
// behalf only if we would accept the retry.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok {
		c.order.Remove(e.elem)
		delete(c.seen, key)
	}
}

// mark records key as seen now. Must be called with mu held.
func (c *Cache) mark(key string) {
	now := time.Now()

	if e, ok := c.seen[key]; ok {
		e.markedAt = now
		c.order.MoveToBack(e.elem)
		return
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, oldest)
		}
	}

	c.seen[key] = &entry{markedAt: now, elem: c.order.PushBack(key)}
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops every expired entry.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.seen {
		if now.Sub(e.markedAt) > c.ttl {
			c.order.Remove(e.elem)
			delete(c.seen, key)
		}
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
