package cache

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/redis/go-redis/v9"
)

const searchPrefix = "search:digest:"

// SearchCache keeps recent search digests in Redis.
type SearchCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSearchCache returns a cache storing digests for ttl. A nil client
// yields a cache that never hits.
func NewSearchCache(rdb *redis.Client, ttl time.Duration) *SearchCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SearchCache{rdb: rdb, ttl: ttl}
}

// SearchKey maps a query to its Redis key. Case and whitespace runs are
// folded so trivially different phrasings share an entry.
func SearchKey(query string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	return searchPrefix + strconv.FormatUint(xxhash.Checksum64([]byte(normalized)), 16)
}

// Get returns a cached digest.
func (c *SearchCache) Get(ctx context.Context, query string) (string, bool) {
	if c == nil || c.rdb == nil {
		return "", false
	}
	val, err := c.rdb.Get(ctx, SearchKey(query)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("cache: search get: %v", err)
		}
		return "", false
	}
	return val, true
}

// Set stores a digest.
func (c *SearchCache) Set(ctx context.Context, query, digest string) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, SearchKey(query), digest, c.ttl).Err(); err != nil {
		log.Printf("cache: search set: %v", err)
	}
}
