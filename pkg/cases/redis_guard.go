package cases

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard implements Guard using Redis, so the "already attached"
// memory is shared across orchestrator instances.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard creates a RedisGuard. ttl bounds how long an attachment
// claim is remembered; zero means forever.
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func guardKey(caseID, actionID string) string {
	return fmt.Sprintf("cases:attached:%s:%s", caseID, actionID)
}

func (g *RedisGuard) Attached(ctx context.Context, caseID, actionID string) (bool, error) {
	n, err := g.client.Exists(ctx, guardKey(caseID, actionID)).Result()
	if err != nil {
		return false, fmt.Errorf("attachment guard: %w", err)
	}
	return n > 0, nil
}

func (g *RedisGuard) MarkAttached(ctx context.Context, caseID, actionID string) error {
	// SETNX keeps a concurrent attacher's claim intact
	if err := g.client.SetNX(ctx, guardKey(caseID, actionID), 1, g.ttl).Err(); err != nil {
		return fmt.Errorf("attachment guard: %w", err)
	}
	return nil
}
