//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func startRedis(t *testing.T) *Cache {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	c := New(Options{Addr: opts.Addr, Timeout: 3 * time.Second})
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))
	return c
}

func TestCache_Integration(t *testing.T) {
	c := startRedis(t)
	ctx := context.Background()
	at := time.Date(2025, 11, 11, 8, 0, 0, 0, time.UTC)

	_, ok, err := c.Baseline(ctx, "DEV-001")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetBaseline(ctx, domain.Baseline{DeviceID: "DEV-001", WaterLevel: 61.5, AcceptedAt: at}, time.Minute))
	b, ok, err := c.Baseline(ctx, "DEV-001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 61.5, b.WaterLevel)
	assert.True(t, at.Equal(b.AcceptedAt))

	ttl, err := c.rdb.TTL(ctx, baselineKey("DEV-001")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	for _, s := range []domain.LatestStatus{
		{DeviceID: "DEV-002", WaterLevel: 30, Status: domain.StatusNormal, UpdatedAt: at},
		{DeviceID: "DEV-001", WaterLevel: 61.5, Status: domain.StatusWaspada, UpdatedAt: at},
	} {
		require.NoError(t, c.SetLatestStatus(ctx, s))
	}
	statuses, err := c.LatestStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "DEV-001", statuses[0].DeviceID)
	assert.Equal(t, domain.StatusWaspada, statuses[0].Status)

	require.NoError(t, c.DeleteStatus(ctx, "DEV-001"))
	statuses, err = c.LatestStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	_, ok, err = c.Baseline(ctx, "DEV-001")
	require.NoError(t, err)
	assert.False(t, ok)
}
