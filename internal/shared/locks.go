package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LedgerHealLockKey builds the redis key guarding a counterparty's balance reconciliation.
func LedgerHealLockKey(counterpartyID string) string {
	return fmt.Sprintf("ledger:counterparty:%s:heal", counterpartyID)
}

// IdempotencyKey namespaces a client supplied key per module and owner.
func IdempotencyKey(module, owner, key string) string {
	return fmt.Sprintf("%s:%s:%s", module, owner, key)
}

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker hands out short-lived exclusive locks backed by SET NX.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker constructs a locker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire takes the lock for ttl and returns a release func. ErrLockHeld is
// returned when another holder owns the key.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("redis locker not initialised")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("shared: release lock %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}
