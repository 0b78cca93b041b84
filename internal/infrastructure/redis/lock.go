package redis

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Only the owner token may delete the key.
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock is a single-owner Redis lock with a TTL.
type DistributedLock struct {
	client   *redis.Client
	key      string
	token    string
	ttl      time.Duration
	acquired bool
}

// NewDistributedLock creates a new distributed lock
func NewDistributedLock(client *redis.Client, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    "lock:" + key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Acquire makes one attempt to take the lock.
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	l.acquired = ok
	return ok, nil
}

// AcquireWithRetry polls until the lock is taken, attempts run out or ctx ends.
func (l *DistributedLock) AcquireWithRetry(ctx context.Context, attempts int, delay time.Duration) error {
	for i := 0; i < attempts; i++ {
		ok, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%w: %s", domainErrors.ErrLockAcquisitionFailed, l.key)
}

// Release deletes the lock if this instance still owns it.
func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}
	l.acquired = false

	n, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if n == 0 {
		// TTL expired while held; another owner may have taken over
		return fmt.Errorf("%w: %s", domainErrors.ErrLockNotHeld, l.key)
	}
	return nil
}

// Locker hands out per-key distributed locks for the reconciliation services.
type Locker struct {
	client   *redis.Client
	ttl      time.Duration
	attempts int
	delay    time.Duration
	onError  func(key string, err error)
}

func NewLocker(client *redis.Client, ttl time.Duration, attempts int, delay time.Duration, onError func(key string, err error)) *Locker {
	if attempts <= 0 {
		attempts = 1
	}
	return &Locker{client: client, ttl: ttl, attempts: attempts, delay: delay, onError: onError}
}

// Lock blocks until key is held. The returned func releases it.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lock := NewDistributedLock(l.client, key, l.ttl)
	if err := lock.AcquireWithRetry(ctx, l.attempts, l.delay); err != nil {
		return nil, err
	}

	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && l.onError != nil {
			l.onError(key, err)
		}
	}, nil
}
