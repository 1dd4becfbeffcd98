// Package redis implements pipeline.StatusCache on Redis. Baselines are plain
// keys with a TTL; latest statuses share one hash keyed by device ID.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	latestStatusKey = "latest_device_status"
	baselinePrefix  = "last_raw:"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// Cache is a Redis-backed status cache.
type Cache struct {
	rdb *redis.Client
}

// New connects lazily; call Ping to verify the connection.
func New(o Options) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  o.Timeout,
		ReadTimeout:  o.Timeout,
		WriteTimeout: o.Timeout,
	})
	return &Cache{rdb: rdb}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

func baselineKey(deviceID string) string { return baselinePrefix + deviceID }

func (c *Cache) Baseline(ctx context.Context, deviceID string) (domain.Baseline, bool, error) {
	val, err := c.rdb.Get(ctx, baselineKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Baseline{}, false, nil
	}
	if err != nil {
		return domain.Baseline{}, false, fmt.Errorf("get baseline %s: %w", deviceID, err)
	}
	var b domain.Baseline
	if err := json.Unmarshal(val, &b); err != nil {
		return domain.Baseline{}, false, fmt.Errorf("decode baseline %s: %w", deviceID, err)
	}
	return b, true, nil
}

func (c *Cache) SetBaseline(ctx context.Context, b domain.Baseline, ttl time.Duration) error {
	val, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}
	if err := c.rdb.Set(ctx, baselineKey(b.DeviceID), val, ttl).Err(); err != nil {
		return fmt.Errorf("set baseline %s: %w", b.DeviceID, err)
	}
	return nil
}

func (c *Cache) SetLatestStatus(ctx context.Context, s domain.LatestStatus) error {
	val, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode latest status: %w", err)
	}
	if err := c.rdb.HSet(ctx, latestStatusKey, s.DeviceID, val).Err(); err != nil {
		return fmt.Errorf("set latest status %s: %w", s.DeviceID, err)
	}
	return nil
}

// LatestStatuses returns every entry ordered by device ID. Entries that fail
// to decode are skipped.
func (c *Cache) LatestStatuses(ctx context.Context) ([]domain.LatestStatus, error) {
	all, err := c.rdb.HGetAll(ctx, latestStatusKey).Result()
	if err != nil {
		return nil, fmt.Errorf("get latest statuses: %w", err)
	}
	out := make([]domain.LatestStatus, 0, len(all))
	for _, raw := range all {
		var s domain.LatestStatus
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (c *Cache) DeleteStatus(ctx context.Context, deviceID string) error {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, latestStatusKey, deviceID)
		p.Del(ctx, baselineKey(deviceID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete status %s: %w", deviceID, err)
	}
	return nil
}
