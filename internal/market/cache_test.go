package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/refi-monitor/internal/model"
)

// memRedis answers the cache's commands from a map.
type memRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newMemRedis() *memRedis {
	return &memRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memRedis) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return redis.NewStringResult("", m.err)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memRedis) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return redis.NewStatusResult("", m.err)
	}
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	m.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (m *memRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	rdb := newMemRedis()
	c := NewCache(rdb, "", 0)

	_, ok, err := c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	snap := model.Snapshot{
		Source:    "feed",
		FetchedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Quotes:    []model.RateQuote{{TermMonths: 360, AnnualRatePercent: dec("6.25")}},
	}
	require.NoError(t, c.Set(ctx, snap))
	assert.Equal(t, 5*time.Minute, rdb.ttls[DefaultCacheKey])

	got, ok, err := c.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.FetchedAt, got.FetchedAt)
	require.Len(t, got.Quotes, 1)
	assertRate(t, "6.25", got.Quotes[0].AnnualRatePercent)

	require.NoError(t, c.Invalidate(ctx))
	_, ok, err = c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_CorruptEntry(t *testing.T) {
	rdb := newMemRedis()
	rdb.data["k"] = "{not json"
	c := NewCache(rdb, "k", time.Minute)

	_, ok, err := c.Get(context.Background())
	require.Error(t, err)
	assert.False(t, ok)
}

func TestFeed_ServesFromCache(t *testing.T) {
	ctx := context.Background()
	rdb := newMemRedis()
	cache := NewCache(rdb, "", time.Minute)
	src := &stubSource{snap: model.Snapshot{Quotes: []model.RateQuote{{TermMonths: 360, AnnualRatePercent: dec("6.5")}}}}
	feed := NewFeed(src, WithCache(cache), WithRetry(fastPolicy()))

	_, err := feed.GetCurrentRates(ctx)
	require.NoError(t, err)
	second, err := feed.GetCurrentRates(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(1), src.calls.Load())
	require.Len(t, second.Quotes, 1)
}

func TestFeed_CacheDownFallsThrough(t *testing.T) {
	rdb := newMemRedis()
	rdb.err = eris.New("connection refused")
	src := &stubSource{snap: model.Snapshot{Quotes: []model.RateQuote{{TermMonths: 360, AnnualRatePercent: dec("6.5")}}}}
	feed := NewFeed(src, WithCache(NewCache(rdb, "", time.Minute)), WithRetry(fastPolicy()))

	snap, err := feed.GetCurrentRates(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Quotes, 1)
}
