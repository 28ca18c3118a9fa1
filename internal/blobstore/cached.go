package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultCacheTTL bounds how long a blob stays in Redis.
const DefaultCacheTTL = time.Hour

const cachePrefix = "echo:blob:"

// Cached is a read-through Redis cache in front of another store. Content ids
// are immutable, so entries are never invalidated, only expired. Redis
// failures degrade to the backing store.
type Cached struct {
	inner  Store
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached wraps inner with a cache on client.
func NewCached(inner Store, client *redis.Client, ttl time.Duration, logger *zap.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{inner: inner, client: client, ttl: ttl, logger: logger}
}

// Put stores data in the backing store and warms the cache.
func (c *Cached) Put(ctx context.Context, name string, data []byte) (string, error) {
	cid, err := c.inner.Put(ctx, name, data)
	if err != nil {
		return "", err
	}
	c.store(ctx, cid, data)
	return cid, nil
}

// Get serves cid from Redis when present. Cache hits are returned as bytes.
func (c *Cached) Get(ctx context.Context, cid string) (any, error) {
	data, err := c.client.Get(ctx, cachePrefix+cid).Bytes()
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("blob cache read failed", zap.String("cid", cid), zap.Error(err))
	}

	v, err := c.inner.Get(ctx, cid)
	if err != nil {
		return nil, err
	}
	if raw, ok := cacheable(v); ok {
		c.store(ctx, cid, raw)
	}
	return v, nil
}

func (c *Cached) store(ctx context.Context, cid string, data []byte) {
	if err := c.client.Set(ctx, cachePrefix+cid, data, c.ttl).Err(); err != nil {
		c.logger.Warn("blob cache write failed", zap.String("cid", cid), zap.Error(err))
	}
}

// cacheable returns the bytes to cache for v. Readers are not cached since
// consuming them would leave nothing for the caller.
func cacheable(v any) ([]byte, bool) {
	switch t := v.(type) {
	case []byte:
		return t, true
	case string:
		return []byte(t), true
	case json.RawMessage:
		return t, true
	case map[string]any, []any:
		b, err := json.Marshal(t)
		return b, err == nil
	default:
		return nil, false
	}
}
