package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Cache remembers finished renders by script and command, so re-animating
// an unchanged scene reuses the video.
type Cache interface {
	Get(ctx context.Context, key string) (*Result, error)
	Set(ctx context.Context, key string, res *Result) error
}

// CacheKey hashes the command line and the script content.
func CacheKey(cmd Command, content string) string {
	h := sha256.New()
	h.Write([]byte(cmd.String()))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.Mutex
	results map[string]Result
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{results: map[string]Result{}}
}

// Get returns nil, nil on a miss.
func (c *MemoryCache) Get(_ context.Context, key string) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.results[key]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, res *Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[key] = *res
	return nil
}

// RedisCache stores results as JSON under "<Prefix><key>".
type RedisCache struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	return &RedisCache{Client: redis.NewClient(opts), Prefix: "manim:render:", TTL: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Result, error) {
	data, err := c.Client.Get(ctx, c.Prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errors.Wrap(err, "decode cached render")
	}
	return &res, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, res *Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "encode render")
	}
	return errors.Wrap(c.Client.Set(ctx, c.Prefix+key, data, c.TTL).Err(), "redis set")
}

func (c *RedisCache) Close() error {
	return c.Client.Close()
}
