package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

var _ domain.ReplayGuard = (*ReplayGuard)(nil)

// ReplayGuard implements domain.ReplayGuard with SET NX PX, so every API
// replica shares one record of seen requests.
type ReplayGuard struct {
	rdb *redis.Client
}

// NewReplayGuard returns a guard on c.
func NewReplayGuard(c *Client) *ReplayGuard {
	return &ReplayGuard{rdb: c.Underlying()}
}

func replayKey(key string) string { return "replay:" + key }

// Claim stores key until ttl elapses. It returns false if key is present.
func (g *ReplayGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, replayKey(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: replay claim %s: %w", key, err)
	}
	return ok, nil
}
