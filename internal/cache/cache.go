package cache

import (
	"sync"
	"time"

	"github.com/qqringman/Degrade/internal/domain"
)

// Cache holds the most recent aggregate result for a fixed TTL. There is a
// single slot: every refresh replaces the previous snapshot wholesale. The
// loading flag lets callers see, and gate on, an in-flight refresh without
// holding the lock across the fetch itself.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	data    *domain.AggregateResult
	fetched time.Time
	loading bool
}

func New(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, now: time.Now}
}

// WithClock overrides the time source. Tests use it to walk through expiry.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Get returns the cached aggregate while it is younger than the TTL.
func (c *Cache) Get() (*domain.AggregateResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || c.now().Sub(c.fetched) >= c.ttl {
		return nil, false
	}
	return c.data, true
}

func (c *Cache) Set(res *domain.AggregateResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = res
	c.fetched = c.now()
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
	c.fetched = time.Time{}
}

// BeginRefresh marks a refresh as in flight. It returns false when one is
// already running, so concurrent triggers collapse into a single fetch.
func (c *Cache) BeginRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading {
		return false
	}
	c.loading = true
	return true
}

func (c *Cache) EndRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
}

// Status reports the cache state without exposing the payload.
func (c *Cache) Status() domain.CacheStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := domain.CacheStatus{Loading: c.loading, TTLSeconds: c.ttl.Seconds()}
	if c.data != nil {
		age := c.now().Sub(c.fetched)
		st.AgeSeconds = age.Seconds()
		st.Valid = age < c.ttl
		f := c.fetched
		st.FetchedAt = &f
	}
	return st
}
