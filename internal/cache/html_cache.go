package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"docdiff/internal/convert"
	"docdiff/internal/infra/logging"
)

const keyPrefix = "htmlcache:"

// HTMLCache memoizes document-to-HTML conversions in Redis.
type HTMLCache struct {
	rdb     *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

// NewHTMLCache returns a cache storing entries for ttl (one minute when ttl is
// not positive).
func NewHTMLCache(rdb *redis.Client, ttl time.Duration) *HTMLCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &HTMLCache{rdb: rdb, ttl: ttl, timeout: time.Second}
}

// Key derives the cache key from the document format and content.
func Key(doc convert.Document) string {
	h := sha256.New()
	h.Write([]byte(doc.Format.Name))
	h.Write([]byte{'|'})
	h.Write(doc.Data)
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached HTML for key. Redis failures are logged and reported
// as a miss.
func (c *HTMLCache) Get(ctx context.Context, key string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		logging.Warn("Redis read failed", "error", err)
		return "", false
	}
	logging.Debug("HTML cache hit", "key", key)
	return val, true
}

// Set stores html under key. Failures are logged only.
func (c *HTMLCache) Set(ctx context.Context, key, html string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.rdb.Set(ctx, key, html, c.ttl).Err(); err != nil {
		logging.Warn("Redis write failed", "error", err)
	}
}

// Importer serves conversions from the cache and fills it on a miss.
type Importer struct {
	next  convert.Importer
	cache *HTMLCache
}

// NewImporter wraps next with the cache.
func NewImporter(next convert.Importer, cache *HTMLCache) *Importer {
	return &Importer{next: next, cache: cache}
}

// ToHTML implements convert.Importer.
func (i *Importer) ToHTML(ctx context.Context, doc convert.Document) (string, error) {
	key := Key(doc)
	if html, ok := i.cache.Get(ctx, key); ok {
		return html, nil
	}
	html, err := i.next.ToHTML(ctx, doc)
	if err != nil {
		return "", err
	}
	i.cache.Set(ctx, key, html)
	return html, nil
}
