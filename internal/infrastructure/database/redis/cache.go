package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	"github.com/GUI0609/rdkit/pkg/errors"
)

var (
	ErrCacheMiss           = errors.New(errors.ErrCodeNotFound, "cache miss")
	ErrSerializationFailed = errors.New(errors.ErrCodeSerialization, "serialization failed")
)

// HitListCache stores molecule id lists produced by filters.  An empty list
// is a valid cached value, distinct from a miss.
type HitListCache interface {
	Get(ctx context.Context, key string) ([]string, error)
	Set(ctx context.Context, key string, ids []string) error
	GetOrLoad(ctx context.Context, key string, loader func(ctx context.Context) ([]string, error)) (ids []string, hit bool, err error)
	Delete(ctx context.Context, keys ...string) error
}

// HitListKey derives a stable cache key from the parts that determine a
// filter's result.
func HitListKey(kind string, parts ...string) string {
	h := xxhash.New()
	for _, p := range parts {
		_, _ = h.WriteString(strconv.Itoa(len(p)))
		_, _ = h.WriteString(":")
		_, _ = h.WriteString(p)
	}
	return "hits:" + kind + ":" + strconv.FormatUint(h.Sum64(), 16)
}

type redisHitListCache struct {
	client *Client
	logger logging.Logger
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

type CacheOption func(*redisHitListCache)

func WithPrefix(prefix string) CacheOption {
	return func(c *redisHitListCache) { c.prefix = prefix }
}

func WithDefaultTTL(ttl time.Duration) CacheOption {
	return func(c *redisHitListCache) { c.ttl = ttl }
}

// NewHitListCache builds a HitListCache on client.
func NewHitListCache(client *Client, log logging.Logger, opts ...CacheOption) HitListCache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &redisHitListCache{
		client: client,
		logger: log,
		prefix: "searchdb:",
		ttl:    time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *redisHitListCache) fullKey(key string) string {
	return c.prefix + key
}

// jitterTTL spreads expiries by +/- 10%.
func (c *redisHitListCache) jitterTTL() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitter := float64(c.ttl) * 0.1 * (rand.Float64()*2 - 1)
	return c.ttl + time.Duration(jitter)
}

func (c *redisHitListCache) Get(ctx context.Context, key string) ([]string, error) {
	rdb, err := c.client.live()
	if err != nil {
		return nil, err
	}
	data, err := rdb.Get(ctx, c.fullKey(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "failed to get from cache")
	}
	ids := []string{}
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, ErrSerializationFailed.WithCause(err).WithDetail(key)
	}
	return ids, nil
}

func (c *redisHitListCache) Set(ctx context.Context, key string, ids []string) error {
	rdb, err := c.client.live()
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return ErrSerializationFailed.WithCause(err)
	}
	if err := rdb.Set(ctx, c.fullKey(key), data, c.jitterTTL()).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to set cache")
	}
	return nil
}

// GetOrLoad returns the cached list or runs loader once per key across
// concurrent callers and caches its result.  A cache failure degrades to the
// loader; a loader failure is returned and nothing is cached.
func (c *redisHitListCache) GetOrLoad(ctx context.Context, key string, loader func(ctx context.Context) ([]string, error)) ([]string, bool, error) {
	ids, err := c.Get(ctx, key)
	if err == nil {
		return ids, true, nil
	}
	if !errors.IsCode(err, errors.ErrCodeNotFound) {
		c.logger.Warn("hit-list cache unavailable, loading directly", logging.String("key", key), logging.Err(err))
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		loaded, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if setErr := c.Set(ctx, key, loaded); setErr != nil {
			c.logger.Warn("failed to cache hit list", logging.String("key", key), logging.Err(setErr))
		}
		return loaded, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]string), false, nil
}

func (c *redisHitListCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	rdb, err := c.client.live()
	if err != nil {
		return err
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.fullKey(k)
	}
	if err := rdb.Del(ctx, full...).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to delete cache keys").
			WithDetail(strings.Join(keys, ","))
	}
	return nil
}
