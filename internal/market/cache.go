package market

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/refi-monitor/internal/model"
)

// DefaultCacheKey holds the latest normalized snapshot.
const DefaultCacheKey = "refi:rates:latest"

var (
	cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "refi_rate_cache_hits_total",
		Help: "Rate snapshot cache hits.",
	})
	cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "refi_rate_cache_misses_total",
		Help: "Rate snapshot cache misses.",
	})
)

func init() {
	prometheus.MustRegister(cacheHitsTotal)
	prometheus.MustRegister(cacheMissesTotal)
}

// RedisClient is the subset of *redis.Client the cache uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cache stores the latest snapshot in Redis with a TTL.
type Cache struct {
	client RedisClient
	key    string
	ttl    time.Duration
}

// NewCache returns a cache under key. An empty key uses DefaultCacheKey; a
// non-positive ttl means five minutes.
func NewCache(client RedisClient, key string, ttl time.Duration) *Cache {
	if key == "" {
		key = DefaultCacheKey
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, key: key, ttl: ttl}
}

// NewRedisClient connects to addr and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrapf(err, "market: ping redis %s", addr)
	}
	return client, nil
}

// Get returns the cached snapshot. ok is false on a miss.
func (c *Cache) Get(ctx context.Context) (*model.Snapshot, bool, error) {
	val, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		cacheMissesTotal.Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "market: cache get")
	}
	var snap model.Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		cacheMissesTotal.Inc()
		return nil, false, eris.Wrap(err, "market: decode cached snapshot")
	}
	cacheHitsTotal.Inc()
	return &snap, true, nil
}

// Set stores snap until the TTL lapses.
func (c *Cache) Set(ctx context.Context, snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "market: encode snapshot")
	}
	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return eris.Wrap(err, "market: cache set")
	}
	return nil
}

// Invalidate drops the cached snapshot, e.g. after a manual import.
func (c *Cache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return eris.Wrap(err, "market: cache invalidate")
	}
	return nil
}
