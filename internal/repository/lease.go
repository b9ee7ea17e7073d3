package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ModelLeaseRepository elects the single model instance of a session. The
// holder must refresh the lease before ttl runs out.
type ModelLeaseRepository interface {
	Acquire(ctx context.Context, sessionID, holder string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, sessionID, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, sessionID, holder string) error
	Holder(ctx context.Context, sessionID string) (string, error)
}

// only the current holder may extend or drop the key
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

type dbModelLease struct {
	client *redis.Client
}

func NewModelLeaseRepository(client *redis.Client) ModelLeaseRepository {
	return &dbModelLease{
		client: client,
	}
}

func leaseKey(sessionID string) string {
	return "session:" + sessionID + ":model"
}

func (that *dbModelLease) Acquire(ctx context.Context, sessionID, holder string, ttl time.Duration) (bool, error) {
	acquired, err := that.client.SetNX(ctx, leaseKey(sessionID), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire model lease: %w", err)
	}

	if acquired {
		return true, nil
	}

	// re-acquiring our own lease is a refresh
	return that.Refresh(ctx, sessionID, holder, ttl)
}

func (that *dbModelLease) Refresh(ctx context.Context, sessionID, holder string, ttl time.Duration) (bool, error) {
	refreshed, err := refreshScript.Run(ctx, that.client, []string{leaseKey(sessionID)}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to refresh model lease: %w", err)
	}

	return refreshed == 1, nil
}

func (that *dbModelLease) Release(ctx context.Context, sessionID, holder string) error {
	if err := releaseScript.Run(ctx, that.client, []string{leaseKey(sessionID)}, holder).Err(); err != nil {
		return fmt.Errorf("failed to release model lease: %w", err)
	}

	return nil
}

func (that *dbModelLease) Holder(ctx context.Context, sessionID string) (string, error) {
	holder, err := that.client.Get(ctx, leaseKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("failed to get model lease: %w", err)
	}

	return holder, nil
}
