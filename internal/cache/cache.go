// Package cache provides the time-boxed memoization used around report reads.
// The analytics engines never touch it; callers wrap engine invocations with
// Memoize.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tokenscope/internal/metrics"
)

const keyPrefix = "tokenscope"

// Cache stores opaque values with a time-to-live.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Key joins parts into a namespaced cache key.
func Key(parts ...string) string {
	return keyPrefix + ":" + strings.Join(parts, ":")
}

// Memo pairs a cache with a fixed revalidation interval.
type Memo struct {
	cache   Cache
	ttl     time.Duration
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewMemo builds a Memo. A nil cache or non-positive ttl disables memoization.
func NewMemo(c Cache, ttl time.Duration, logger zerolog.Logger, m *metrics.Metrics) *Memo {
	return &Memo{
		cache:   c,
		ttl:     ttl,
		logger:  logger.With().Str("component", "memo").Logger(),
		metrics: m,
	}
}

func (m *Memo) enabled() bool {
	return m != nil && m.cache != nil && m.ttl > 0
}

// Memoize returns the cached value for key, or runs fn and caches its result.
// Cache failures are logged and never fail the call.
func Memoize[T any](ctx context.Context, m *Memo, key string, fn func(context.Context) (T, error)) (T, error) {
	if !m.enabled() {
		return fn(ctx)
	}

	if raw, ok, err := m.cache.Get(ctx, key); err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	} else if ok {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			m.metrics.ObserveCache(true)
			return cached, nil
		}
		m.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	}
	m.metrics.ObserveCache(false)

	value, err := fn(ctx)
	if err != nil {
		return value, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("cache encode failed")
		return value, nil
	}
	if err := m.cache.Set(ctx, key, raw, m.ttl); err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return value, nil
}

// Purger is implemented by backends that hold expired entries in process.
type Purger interface {
	Purge() int
}

// Purge drops expired entries when the backend keeps them in process and
// returns how many remain. Backends that expire on their own report 0.
func (m *Memo) Purge() int {
	if m == nil || m.cache == nil {
		return 0
	}
	if p, ok := m.cache.(Purger); ok {
		return p.Purge()
	}
	return 0
}
