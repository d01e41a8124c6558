package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes a lock key only when its value still matches the
// caller's token, so a holder whose lock expired cannot delete a successor's.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua refreshes a lock's TTL only while the caller still holds it.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager over SETNX with token-checked
// release. Acquire covers short critical sections such as an archive run;
// Hold adds TTL renewal for long-lived ownership such as evaluation
// leadership.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.rdb,
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

// acquireToken takes the lock under a fresh token. It returns the full key
// and token on success and domain.ErrLockHeld when another party has it.
func (lm *LockManager) acquireToken(ctx context.Context, key string, ttl time.Duration) (string, string, error) {
	token := uuid.New().String()
	lk := "lock:" + key

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return "", "", fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", "", domain.ErrLockHeld
	}
	return lk, token, nil
}

// releaser builds the idempotent unlock closure. stop, when non-nil, runs
// before the key is deleted so Hold can end its renewal loop first.
func (lm *LockManager) releaser(lk, token string, stop func()) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		if stop != nil {
			stop()
		}

		// The caller's context may already be cancelled by release time.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lm.unlockSc.Run(ctx, lm.rdb, []string{lk}, token).Err()
	}
}

// Acquire obtains the lock for up to ttl and returns its release function,
// which is safe to call more than once. Holders must finish inside the TTL;
// use Hold when the work may outlive it.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lk, token, err := lm.acquireToken(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return lm.releaser(lk, token, nil), nil
}

// Hold obtains the lock and keeps it alive, refreshing the TTL at a third
// of its length until the context ends or the release function is called.
func (lm *LockManager) Hold(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lk, token, err := lm.acquireToken(ctx, key, ttl)
	if err != nil {
		return nil, err
	}

	renewCtx, stopRenewal := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				_ = lm.extendSc.Run(renewCtx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Err()
			}
		}
	}()

	return lm.releaser(lk, token, stopRenewal), nil
}

var _ domain.LockManager = (*LockManager)(nil)
