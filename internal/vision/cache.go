package vision

import (
	"sync"
	"time"
)

// ObservationCache holds recent verifier observations for condition polling
// (ui.waitFor), bounded by a short TTL. Click targeting never consults it:
// a stale coordinate is worse than a slow one.
type ObservationCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]observation
}

type observation struct {
	resp    *VerifyResponse
	savedAt time.Time
}

func NewObservationCache(ttl time.Duration) *ObservationCache {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &ObservationCache{
		ttl:     ttl,
		entries: make(map[string]observation),
	}
}

// Get returns the cached observation for key if it is still within the TTL.
func (c *ObservationCache) Get(key string) (*VerifyResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obs, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(obs.savedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return obs.resp, true
}

func (c *ObservationCache) Put(key string, resp *VerifyResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = observation{resp: resp, savedAt: time.Now()}
}
