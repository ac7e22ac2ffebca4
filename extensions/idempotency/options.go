package idempotency

import (
	"time"

	t402 "github.com/t402-io/t402/go"
)

type config struct {
	ttl   time.Duration
	cache *t402.SettlementCache
	keyFn KeyGenerator
}

// Option configures the wrapper.
type Option func(*config)

// WithTTL sets how long successful settlement responses stay cached. Ignored
// when WithCache supplies a cache directly.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithCache uses an existing settlement cache, letting several wrappers share
// one deduplication domain.
func WithCache(cache *t402.SettlementCache) Option {
	return func(c *config) {
		c.cache = cache
	}
}

// WithKeyGenerator replaces the payload-hash key derivation.
func WithKeyGenerator(keyFn KeyGenerator) Option {
	return func(c *config) {
		c.keyFn = keyFn
	}
}
