package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pygrounds-generation-service/internal/domain"
)

// Dedup is a Redis-backed session fingerprint set. SADD's return value makes
// the test-and-set atomic server-side, so concurrent workers across processes
// agree on which fingerprint arrived first. The set expires with the session
// retention window instead of requiring explicit cleanup.
type Dedup struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDedup(client *redis.Client, ttl time.Duration) *Dedup {
	return &Dedup{client: client, ttl: ttl}
}

// Register returns true exactly once per (session, fingerprint).
func (d *Dedup) Register(ctx context.Context, sessionID, fingerprint string) (bool, error) {
	key := d.key(sessionID)
	added, err := d.client.SAdd(ctx, key, fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("%w: dedup sadd: %v", domain.ErrPersistence, err)
	}
	if d.ttl > 0 {
		// refresh on every write so the set outlives the session's last activity
		_ = d.client.Expire(ctx, key, d.ttl).Err()
	}
	return added == 1, nil
}

// Forget drops a session's fingerprint set.
func (d *Dedup) Forget(ctx context.Context, sessionID string) error {
	return d.client.Del(ctx, d.key(sessionID)).Err()
}

func (d *Dedup) key(sessionID string) string {
	return "generation:dedup:" + sessionID
}
