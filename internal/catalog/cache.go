package catalog

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Puzzle-bot/internal/obslog"
)

const CountTTL = 24 * time.Hour

// CachedSource memoizes Count per predicate in Redis. The catalog only
// changes through the offline ingestion job, so a day-old count is fine.
type CachedSource struct {
	Source
	rdb *redis.Client
	ttl time.Duration
}

func NewCachedSource(src Source, rdb *redis.Client, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = CountTTL
	}
	return &CachedSource{Source: src, rdb: rdb, ttl: ttl}
}

func countKey(q Query) string { return "catalog:count:" + q.key() }

func (c *CachedSource) Count(ctx context.Context, q Query) (int, error) {
	key := countKey(q)
	if v, err := c.rdb.Get(ctx, key).Result(); err == nil {
		if n, perr := strconv.Atoi(v); perr == nil {
			return n, nil
		}
	} else if err != redis.Nil {
		obslog.L().Warn("catalog_count_cache_read", zap.Error(err))
	}
	n, err := c.Source.Count(ctx, q)
	if err != nil {
		return 0, err
	}
	if err := c.rdb.Set(ctx, key, strconv.Itoa(n), c.ttl).Err(); err != nil {
		obslog.L().Warn("catalog_count_cache_write", zap.Error(err))
	}
	return n, nil
}

// At drops the cached count when a stale count points past the live set.
func (c *CachedSource) At(ctx context.Context, q Query, offset int) (*Puzzle, error) {
	p, err := c.Source.At(ctx, q, offset)
	if err == ErrNotFound {
		_ = c.rdb.Del(ctx, countKey(q)).Err()
	}
	return p, err
}
