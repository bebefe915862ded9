package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const heartbeatKey = "workers:heartbeat"

// Heartbeat records that a worker was alive at now. Entries older than five
// minutes are trimmed on write.
func (c *Client) Heartbeat(ctx context.Context, workerID string, now time.Time) error {
	pipe := c.rdb.TxPipeline()
	pipe.ZAdd(ctx, heartbeatKey, redis.Z{Score: float64(now.UnixMilli()), Member: workerID})
	pipe.ZRemRangeByScore(ctx, heartbeatKey, "-inf", fmt.Sprintf("%d", now.Add(-5*time.Minute).UnixMilli()))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis.Client.Heartbeat: %w", err)
	}
	return nil
}

// WorkersSeenSince counts workers that heartbeated within the window ending
// at now.
func (c *Client) WorkersSeenSince(ctx context.Context, now time.Time, window time.Duration) (int64, error) {
	n, err := c.rdb.ZCount(ctx, heartbeatKey,
		fmt.Sprintf("%d", now.Add(-window).UnixMilli()),
		fmt.Sprintf("%d", now.UnixMilli()),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("redis.Client.WorkersSeenSince: %w", err)
	}
	return n, nil
}
