package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLockBusy is returned by a single-try RedisLocker when another holder owns the key.
var ErrLockBusy = errors.New("lock is held by another process")

// RedisLocker is a distributed lock over redsync, used when the API and the scheduler
// run as separate processes against the same ledger.
type RedisLocker struct {
	rs     *redsync.Redsync
	key    string
	expiry time.Duration
	tries  int
}

// NewRedsync builds the redsync pool on top of a go-redis client.
func NewRedsync(client redis.UniversalClient) *redsync.Redsync {
	return redsync.New(goredis.NewPool(client))
}

// NewRedisLocker creates a locker for key. tries <= 0 keeps the redsync default.
func NewRedisLocker(rs *redsync.Redsync, key string, expiry time.Duration, tries int) *RedisLocker {
	return &RedisLocker{rs: rs, key: key, expiry: expiry, tries: tries}
}

// Lock acquires the key or fails with ErrLockBusy once the tries are exhausted.
func (r *RedisLocker) Lock(ctx context.Context) (func(context.Context) error, error) {
	opts := []redsync.Option{redsync.WithExpiry(r.expiry)}
	if r.tries > 0 {
		opts = append(opts, redsync.WithTries(r.tries))
	}
	mutex := r.rs.NewMutex(r.key, opts...)

	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, redsync.ErrFailed) {
			return nil, fmt.Errorf("%w: %s", ErrLockBusy, r.key)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLockBusy, r.key, err)
	}

	return func(ctx context.Context) error {
		ok, err := mutex.UnlockContext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("lock %s expired before release", r.key)
		}
		return nil
	}, nil
}
