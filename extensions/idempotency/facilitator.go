// Package idempotency wraps a facilitator with settlement deduplication.
//
// Settle moves funds, so a client retry during the pending confirmation
// window must not produce a second on-chain transfer. The wrapper derives a
// key from the payment payload (which contains the authorization nonce and
// signature), returns the cached response for repeated attempts, and makes
// concurrent attempts for the same authorization wait on the first.
//
// Failed settlements are not cached, so legitimate retries still go through.
package idempotency

import (
	"context"
	"time"

	t402 "github.com/t402-io/t402/go"
)

// KeyGenerator derives the deduplication key for a settlement attempt.
type KeyGenerator func(payloadBytes []byte) string

// Facilitator wraps a t402.Facilitator with settlement idempotency. Verify
// and GetSupported delegate unchanged; verification is read-only and needs no
// protection.
type Facilitator struct {
	inner *t402.Facilitator
	cache *t402.SettlementCache
	keyFn KeyGenerator
}

// Wrap builds an idempotent facilitator around inner. Defaults: a 10-minute
// cache TTL and SHA-256 of the payload bytes as the key.
func Wrap(inner *t402.Facilitator, opts ...Option) *Facilitator {
	cfg := &config{
		ttl:   10 * time.Minute,
		keyFn: t402.SettlementKey,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	cache := cfg.cache
	if cache == nil {
		cache = t402.NewSettlementCache(cfg.ttl)
	}

	return &Facilitator{
		inner: inner,
		cache: cache,
		keyFn: cfg.keyFn,
	}
}

// Settle settles a payment at most once per authorization. A repeated attempt
// returns the cached response; a concurrent attempt waits for the one in
// flight and takes over only if it failed.
func (f *Facilitator) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (t402.SettleResponse, error) {
	key := f.keyFn(payloadBytes)

	status, cached, done := f.cache.Begin(key)
	switch status {
	case t402.StatusCached:
		return *cached, nil

	case t402.StatusInFlight:
		result, err := f.cache.WaitForResult(ctx, key, done)
		if err != nil {
			return t402.SettleResponse{Success: false, ErrorReason: "settlement_wait_cancelled"}, err
		}
		if result != nil {
			return *result, nil
		}
		// The in-flight attempt failed without caching; claim a fresh slot.
		return f.Settle(ctx, payloadBytes, requirementsBytes)
	}

	response, err := f.inner.Settle(ctx, payloadBytes, requirementsBytes)
	if err != nil || !response.Success {
		f.cache.Fail(key, done)
		return response, err
	}

	f.cache.Complete(key, &response, done)
	return response, nil
}

// Verify delegates to the wrapped facilitator.
func (f *Facilitator) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (t402.VerifyResponse, error) {
	return f.inner.Verify(ctx, payloadBytes, requirementsBytes)
}

// GetSupported delegates to the wrapped facilitator.
func (f *Facilitator) GetSupported(ctx context.Context) t402.SupportedResponse {
	return f.inner.GetSupported(ctx)
}

// Inner returns the wrapped facilitator for registering mechanisms, hooks and
// extensions.
func (f *Facilitator) Inner() *t402.Facilitator {
	return f.inner
}
