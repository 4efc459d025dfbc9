package contact

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/broadcast/internal/pkg/logger"
)

const cacheKeyPrefix = "contact:validation:"

// Cache keeps validation verdicts in Redis so repeated checks of the same
// address skip DNS and API calls. Redis failures degrade to uncached
// lookups.
type Cache struct {
	next Validator
	rdb  redis.Cmdable
	ttl  time.Duration
}

// NewCache wraps next. ttl defaults to 30 days.
func NewCache(next Validator, rdb redis.Cmdable, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Cache{next: next, rdb: rdb, ttl: ttl}
}

func cacheKey(email string) string {
	return cacheKeyPrefix + strings.ToLower(strings.TrimSpace(email))
}

func (c *Cache) Validate(ctx context.Context, email string) (*Validation, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(email)).Bytes()
	switch {
	case err == nil:
		var v Validation
		if jerr := json.Unmarshal(raw, &v); jerr == nil {
			return &v, nil
		}
		logger.Warn("discarding unreadable cached validation", "email", email)
	case !errors.Is(err, redis.Nil):
		logger.Warn("validation cache read failed", "error", err)
	}
	return c.Refresh(ctx, email)
}

// Refresh validates through the wrapped validator and overwrites the cached
// verdict. Errors are never cached.
func (c *Cache) Refresh(ctx context.Context, email string) (*Validation, error) {
	v, err := c.next.Validate(ctx, email)
	if err != nil || v == nil {
		return v, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v, nil
	}
	if err := c.rdb.Set(ctx, cacheKey(email), data, c.ttl).Err(); err != nil {
		logger.Warn("validation cache write failed", "error", err)
	}
	return v, nil
}
