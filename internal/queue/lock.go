package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockHeld is returned when another holder owns the lock
var ErrLockHeld = errors.New("lock is held by another worker")

// releaseScript deletes the lock only when it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived redis locks
type Locker struct {
	client *redis.Client
}

// NewLocker creates a new Locker
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Lock is a held lock
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire takes the named lock for ttl or returns ErrLockHeld
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(name), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{client: l.client, key: lockKey(name), token: token}, nil
}

// Release frees the lock if it has not expired and been taken by someone else
func (k *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, k.client, []string{k.key}, k.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
