package t402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// SettlementCache provides caller-side idempotency for settle operations by
// caching successful settlement responses and tracking in-flight attempts.
// Settle must never run concurrently for the same authorization; callers
// route attempts through this cache so retries after timeouts observe the
// prior outcome instead of re-submitting the transfer.
type SettlementCache struct {
	mu       sync.Mutex
	results  map[string]*SettleResponse
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewSettlementCache creates a settlement cache with the specified TTL.
func NewSettlementCache(ttl time.Duration) *SettlementCache {
	return &SettlementCache{
		results:  make(map[string]*SettleResponse),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// SettlementKey derives a unique key from payment payload bytes. The payload
// includes the authorization nonce and signature, so the key is unique per
// authorization.
func SettlementKey(payloadBytes []byte) string {
	hash := sha256.Sum256(payloadBytes)
	return hex.EncodeToString(hash[:])
}

// SettlementStatus is the result of checking the cache.
type SettlementStatus int

const (
	// StatusNotFound means no cached result and no in-flight attempt.
	StatusNotFound SettlementStatus = iota
	// StatusCached means a cached result was found.
	StatusCached
	// StatusInFlight means another attempt is currently settling this key.
	StatusInFlight
)

// Begin atomically checks the cache and marks the key in-flight if free.
// Returns:
//   - StatusCached + result when a prior settlement completed
//   - StatusInFlight + wait channel when another attempt is running
//   - StatusNotFound + done channel when this attempt should proceed
func (c *SettlementCache) Begin(key string) (SettlementStatus, *SettleResponse, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, exists := c.expiry[key]; exists {
		if time.Now().Before(expiry) {
			if result, ok := c.results[key]; ok {
				return StatusCached, result, nil
			}
		}
		delete(c.results, key)
		delete(c.expiry, key)
	}

	if done, exists := c.inFlight[key]; exists {
		return StatusInFlight, nil, done
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return StatusNotFound, nil, done
}

// WaitForResult waits for an in-flight attempt to finish, respecting context
// cancellation. Returns nil when the in-flight attempt failed without caching.
func (c *SettlementCache) WaitForResult(ctx context.Context, key string, done chan struct{}) (*SettleResponse, error) {
	select {
	case <-done:
		return c.Lookup(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Lookup returns a cached settlement response, or nil when absent or expired.
func (c *SettlementCache) Lookup(key string) *SettleResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, exists := c.expiry[key]
	if !exists {
		return nil
	}

	if time.Now().After(expiry) {
		delete(c.results, key)
		delete(c.expiry, key)
		return nil
	}

	return c.results[key]
}

// Complete caches the settlement response and releases waiters.
func (c *SettlementCache) Complete(key string, response *SettleResponse, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = response
	c.expiry[key] = time.Now().Add(c.ttl)

	delete(c.inFlight, key)
	close(done)

	c.sweepLocked()
}

// Fail releases the in-flight marker without caching, allowing a retry.
func (c *SettlementCache) Fail(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, key)
	close(done)
}

func (c *SettlementCache) sweepLocked() {
	now := time.Now()
	for key, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.results, key)
			delete(c.expiry, key)
		}
	}
}
