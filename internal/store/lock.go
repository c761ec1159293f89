package store

import (
	"context"
)

// Locker guards the ledger critical section. Lock blocks until the lock is held or ctx
// is done and returns the function that releases it.
type Locker interface {
	Lock(ctx context.Context) (unlock func(context.Context) error, err error)
}

// MutexLocker serializes writers inside one process.
type MutexLocker struct {
	sem chan struct{}
}

// NewMutexLocker creates an unlocked MutexLocker.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{sem: make(chan struct{}, 1)}
}

// Lock waits for the mutex or for ctx to be done.
func (m *MutexLocker) Lock(ctx context.Context) (func(context.Context) error, error) {
	select {
	case m.sem <- struct{}{}:
		return func(context.Context) error {
			<-m.sem
			return nil
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ChainLocker acquires several lockers in order and releases them in reverse.
// It is used to take the in-process mutex before the distributed lock so goroutines of
// one process do not compete for the same Redis key.
type ChainLocker []Locker

// Lock acquires every locker in the chain.
func (c ChainLocker) Lock(ctx context.Context) (func(context.Context) error, error) {
	unlocks := make([]func(context.Context) error, 0, len(c))
	release := func(ctx context.Context) error {
		var firstErr error
		for i := len(unlocks) - 1; i >= 0; i-- {
			if err := unlocks[i](ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	for _, l := range c {
		unlock, err := l.Lock(ctx)
		if err != nil {
			_ = release(context.WithoutCancel(ctx))
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}
