package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clinic-secops/internal/client"
	"clinic-secops/internal/util"
)

const totpReplayPrefix = "totp_used:"

// ReplayCache remembers accepted one-time codes until their validity window has passed.
type ReplayCache struct {
	client *client.RedisClient
}

func NewReplayCache(client *client.RedisClient) *ReplayCache {
	return &ReplayCache{client: client}
}

// Claim returns true the first time key is claimed within ttl and false afterwards.
func (c *ReplayCache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := c.client.WithContext(ctx, 2*time.Second)
	defer cancel()

	claimed, err := c.client.SetNX(ctx, totpReplayPrefix+key, "1", ttl)
	if err != nil {
		util.Error("Failed to claim one-time code", zap.Duration("ttl", ttl), zap.Error(err))
		return false, fmt.Errorf("failed to claim one-time code: %w", err)
	}
	if !claimed {
		util.Warn("One-time code replay refused")
	}
	return claimed, nil
}
