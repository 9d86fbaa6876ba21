package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profitboard/internal/domain"
)

func TestSummaryKeyIsScopedToOwnerAndMonth(t *testing.T) {
	key := SummaryKey("alice", time.Date(2024, 6, 17, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "profits:summary:alice:2024-06", key)
	assert.NotEqual(t, key, SummaryKey("bob", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
}

func TestNoopCacheAlwaysMisses(t *testing.T) {
	var c SummaryCache = NoopSummaryCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", &domain.MonthlySummary{Month: "2024-06"}, time.Minute))
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestRedisSummaryCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("PROFITBOARD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set PROFITBOARD_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	c := NewRedisSummaryCache(RedisOptions{Addr: addr})
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	key := SummaryKey("it-"+time.Now().Format("150405.000000"), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	rate := decimal.NewFromInt(10)
	want := &domain.MonthlySummary{Month: "2024-06", TotalQuantity: 7, TotalCommission: decimal.NewFromInt(70), ExchangeRate: &rate}

	require.NoError(t, c.Set(ctx, key, want, time.Minute))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, got.TotalQuantity)
	assert.True(t, got.TotalCommission.Equal(want.TotalCommission))

	require.NoError(t, c.Delete(ctx, key))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisSummaryCacheDropsCorruptPayload(t *testing.T) {
	addr := os.Getenv("PROFITBOARD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set PROFITBOARD_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	c := NewRedisSummaryCache(RedisOptions{Addr: addr})
	t.Cleanup(func() { _ = c.Close() })

	key := SummaryKey("it-corrupt-"+time.Now().Format("150405.000000"), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, c.client.Set(ctx, key, "{not json", time.Minute).Err())

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)

	exists, err := c.client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
