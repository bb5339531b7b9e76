// Package cache memoizes video metadata lookups for a short time.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/guiyumin/tubefetch/internal/core/extractor"
)

const DefaultTTL = 5 * time.Minute

// Cache stores metadata keyed by normalized URL. A miss returns (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) (*extractor.VideoMetadata, bool, error)
	Set(ctx context.Context, key string, meta *extractor.VideoMetadata) error
	Close() error
}

// New returns a Redis-backed cache when redisURL is set, otherwise an
// in-process one.
func New(redisURL string, ttl time.Duration) (Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if strings.TrimSpace(redisURL) == "" {
		return NewMemory(ttl), nil
	}
	return NewRedis(redisURL, ttl)
}
