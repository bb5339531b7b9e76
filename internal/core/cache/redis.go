package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guiyumin/tubefetch/internal/core/extractor"
)

const keyPrefix = "tubefetch:meta:"

// Redis stores metadata as JSON strings with a server-side expiry.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to url and verifies the connection.
func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (*extractor.VideoMetadata, bool, error) {
	data, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get metadata: %w", err)
	}

	var meta extractor.VideoMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, false, fmt.Errorf("decode metadata: %w", err)
	}
	return &meta, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, meta *extractor.VideoMetadata) error {
	if meta == nil {
		return nil
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+key, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
