package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clinic-secops/internal/client"
	"clinic-secops/internal/util"
)

const velocityPrefix = "velocity:"

// Records the hit and returns how many hits remain inside the window, atomically.
const slidingWindowScript = `
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local member = ARGV[3]
	local ttl = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	redis.call('ZADD', key, now, member)
	redis.call('EXPIRE', key, ttl)
	return redis.call('ZCARD', key)
`

// VelocityCache counts a principal's recent actions in a Redis sorted set.
type VelocityCache struct {
	client *client.RedisClient
}

func NewVelocityCache(client *client.RedisClient) *VelocityCache {
	return &VelocityCache{client: client}
}

// Hit records one action at `at` and returns the number of actions in (at-window, at].
func (c *VelocityCache) Hit(ctx context.Context, principalID, member string, at time.Time, window time.Duration) (int, error) {
	ctx, cancel := c.client.WithContext(ctx, 2*time.Second)
	defer cancel()

	now := at.UnixMilli()
	windowStart := now - window.Milliseconds()
	ttl := int(window.Seconds()) + 1

	result, err := c.client.Eval(ctx, slidingWindowScript, []string{velocityPrefix + principalID},
		now, windowStart, fmt.Sprintf("%d:%s", now, member), ttl)
	if err != nil {
		util.Error("Failed to execute velocity window",
			zap.String("principal_id", principalID),
			zap.Duration("window", window),
			zap.Error(err))
		return 0, fmt.Errorf("failed to execute velocity window: %w", err)
	}

	count, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result format from velocity script")
	}

	util.Debug("Velocity window updated",
		zap.String("principal_id", principalID),
		zap.Int64("count", count))

	return int(count), nil
}
