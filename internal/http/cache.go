package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ragd/internal/search"
)

// QueryCache memoizes retrieval responses in Redis. Answers only change when
// the crawler rewrites pages, so a short TTL absorbs repeated dashboard and
// tool traffic without serving stale results for long. A nil *QueryCache is
// a valid no-op cache.
type QueryCache struct {
	rdb *redis.Client
	ttl time.Duration

	// scope folds the search configuration into the key so entries written
	// under a different mode never match.
	scope string
}

func NewQueryCache(redisURL string, ttl time.Duration, scope string) (*QueryCache, error) {
	if redisURL == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &QueryCache{
		rdb:   redis.NewClient(opt),
		ttl:   ttl,
		scope: scope,
	}, nil
}

func (c *QueryCache) key(query string, k int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", query, k, c.scope)))
	return "ragd:query:" + hex.EncodeToString(sum[:])
}

func (c *QueryCache) Get(ctx context.Context, query string, k int) (*search.Response, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, c.key(query, k)).Bytes()
	if err != nil {
		return nil, false
	}
	var resp search.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

func (c *QueryCache) Set(ctx context.Context, query string, k int, resp *search.Response) {
	if c == nil || resp == nil {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	// Cache write failures are invisible to the caller; the next request
	// just recomputes.
	c.rdb.Set(ctx, c.key(query, k), raw, c.ttl)
}

func (c *QueryCache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}
