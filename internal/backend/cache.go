package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"procodus.dev/sensor-telemetry/pkg/metrics"
)

// DefaultCacheCapacity is the number of recent readings kept for /api/latest.
const DefaultCacheCapacity = 10

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// RecentCache is a bounded FIFO of the most recently ingested readings.
// Pushing beyond capacity drops the oldest entry.
type RecentCache interface {
	Push(ctx context.Context, r Reading) error

	// Latest returns the newest entry; ok is false when the cache is empty.
	Latest(ctx context.Context) (r Reading, ok bool, err error)

	// Entries returns the cached readings, newest first.
	Entries(ctx context.Context) ([]Reading, error)
}

// RingCache is an in-process RecentCache.
type RingCache struct {
	mu       sync.Mutex
	entries  []Reading
	capacity int
	metrics  *metrics.TelemetryMetrics
}

// NewRingCache returns an empty cache holding at most capacity readings.
// A non-positive capacity uses DefaultCacheCapacity. m may be nil.
func NewRingCache(capacity int, m *metrics.TelemetryMetrics) *RingCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &RingCache{
		entries:  make([]Reading, 0, capacity),
		capacity: capacity,
		metrics:  m,
	}
}

// Push implements RecentCache.
func (c *RingCache) Push(_ context.Context, r Reading) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) == c.capacity {
		copy(c.entries, c.entries[1:])
		c.entries = c.entries[:len(c.entries)-1]
		if c.metrics != nil {
			c.metrics.CacheEvictions.Inc()
		}
	}
	c.entries = append(c.entries, r)

	if c.metrics != nil {
		c.metrics.CacheSize.Set(float64(len(c.entries)))
	}
	return nil
}

// Latest implements RecentCache.
func (c *RingCache) Latest(_ context.Context) (Reading, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) == 0 {
		return Reading{}, false, nil
	}
	return c.entries[len(c.entries)-1], true, nil
}

// Entries implements RecentCache.
func (c *RingCache) Entries(_ context.Context) ([]Reading, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Reading, len(c.entries))
	for i, r := range c.entries {
		out[len(out)-1-i] = r
	}
	return out, nil
}

const (
	redisDialTimeout  = 5 * time.Second
	redisReadTimeout  = 3 * time.Second
	redisWriteTimeout = 3 * time.Second

	// DefaultRedisKey is the list that holds cached readings.
	DefaultRedisKey = "sensor-telemetry:readings:recent"
)

// NewRedisClient returns a configured go-redis client and validates the
// connection with PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  redisDialTimeout,
		ReadTimeout:  redisReadTimeout,
		WriteTimeout: redisWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// RedisCache keeps the recent readings in a Redis list so several backend
// replicas can share one cache. The head of the list is the newest entry.
type RedisCache struct {
	client   *redis.Client
	key      string
	capacity int
	metrics  *metrics.TelemetryMetrics
}

// NewRedisCache wraps client. An empty key uses DefaultRedisKey and a
// non-positive capacity uses DefaultCacheCapacity. m may be nil.
func NewRedisCache(client *redis.Client, key string, capacity int, m *metrics.TelemetryMetrics) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &RedisCache{client: client, key: key, capacity: capacity, metrics: m}, nil
}

// Push implements RecentCache. LPUSH and LTRIM run in one MULTI block so
// readers never see more than capacity entries.
func (c *RedisCache) Push(ctx context.Context, r Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}

	var pushed *redis.IntCmd
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pushed = pipe.LPush(ctx, c.key, data)
		pipe.LTrim(ctx, c.key, 0, int64(c.capacity-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push reading to redis: %w", err)
	}

	if c.metrics != nil {
		size := pushed.Val()
		if size > int64(c.capacity) {
			c.metrics.CacheEvictions.Add(float64(size - int64(c.capacity)))
			size = int64(c.capacity)
		}
		c.metrics.CacheSize.Set(float64(size))
	}
	return nil
}

// Latest implements RecentCache.
func (c *RedisCache) Latest(ctx context.Context) (Reading, bool, error) {
	data, err := c.client.LIndex(ctx, c.key, 0).Bytes()
	if errors.Is(err, redis.Nil) {
		return Reading{}, false, nil
	}
	if err != nil {
		return Reading{}, false, fmt.Errorf("failed to read latest reading from redis: %w", err)
	}

	var r Reading
	if err := json.Unmarshal(data, &r); err != nil {
		return Reading{}, false, fmt.Errorf("failed to decode cached reading: %w", err)
	}
	return r, true, nil
}

// Entries implements RecentCache.
func (c *RedisCache) Entries(ctx context.Context) ([]Reading, error) {
	items, err := c.client.LRange(ctx, c.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cached readings from redis: %w", err)
	}

	out := make([]Reading, 0, len(items))
	for _, item := range items {
		var r Reading
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("failed to decode cached reading: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

var (
	_ RecentCache = (*RingCache)(nil)
	_ RecentCache = (*RedisCache)(nil)
)
