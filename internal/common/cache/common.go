package cache

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// NullCacheValue is a sentinel value to represent null/empty data in cache
// This prevents cache penetration by caching the absence of data
const NullCacheValue = "$NULL$"

// GetWithCached implements cache-aside with null value caching.
// On a miss or an undecodable entry fn is called and its result stored;
// empty results are stored as NullCacheValue for emptyTTL.
// Cache failures never fail the read.
func GetWithCached[T any](
	ctx context.Context,
	cache Cache,
	key string,
	ttl time.Duration,
	emptyTTL time.Duration,
	isEmpty func(T) bool,
	marshal func(T) string,
	unmarshal func(string) (T, error),
	fn func(context.Context) (T, error),
) (T, error) {
	var zero T

	if cached, err := cache.Get(ctx, key); err == nil && cached != "" {
		if cached == NullCacheValue {
			return zero, nil
		}
		if result, err := unmarshal(cached); err == nil {
			return result, nil
		}
	}

	data, err := fn(ctx)
	if err != nil {
		return zero, err
	}

	if isEmpty(data) {
		_ = cache.Set(ctx, key, NullCacheValue, emptyTTL)
		return data, nil
	}

	_ = cache.Set(ctx, key, marshal(data), ttl)
	return data, nil
}

// GetWithVersioned is GetWithCached over a generation: entries live at
// key:<gen> where gen is read from genKey before fn runs. Writers Incr genKey
// after their write, so a fill that raced a write lands under the superseded
// generation and is never served again. When genKey cannot be read fn is
// called directly.
func GetWithVersioned[T any](
	ctx context.Context,
	cache Cache,
	genKey string,
	key string,
	ttl time.Duration,
	emptyTTL time.Duration,
	isEmpty func(T) bool,
	marshal func(T) string,
	unmarshal func(string) (T, error),
	fn func(context.Context) (T, error),
) (T, error) {
	gen, err := cache.Get(ctx, genKey)
	if err != nil {
		return fn(ctx)
	}
	if gen == "" {
		gen = "0"
	}
	return GetWithCached(ctx, cache, key+":"+gen, ttl, emptyTTL, isEmpty, marshal, unmarshal, fn)
}

// JitterTTL shortens ttl by up to 10% so keys written together do not expire together.
func JitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	maxJitter := int64(ttl / 10)
	if maxJitter <= 0 {
		return ttl
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter+1))
	if err != nil {
		return ttl
	}
	return ttl - time.Duration(n.Int64())
}
