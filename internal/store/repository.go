/**
 * @description
 * This file defines the ledger store contract and the critical section every writer
 * goes through. The persisted collection is always read and written wholesale, so
 * concurrent load-modify-save cycles are serialized by a Locker instead of racing.
 */
package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/locallum/blockchain-subscription-service/internal/domain"
)

// Repository is the durable collection of subscription records.
// Load returns an empty slice when nothing was persisted yet; Save replaces the whole
// collection atomically.
type Repository interface {
	Load(ctx context.Context) ([]domain.Subscription, error)
	Save(ctx context.Context, records []domain.Subscription) error
}

// NextID returns max(id)+1, or 0 for an empty ledger. Ids are never reused, even when
// records are filtered out of the collection.
func NextID(records []domain.Subscription) int64 {
	if len(records) == 0 {
		return 0
	}
	max := records[0].ID
	for _, r := range records[1:] {
		if r.ID > max {
			max = r.ID
		}
	}
	return max + 1
}

// Ledger wraps a Repository with the lock that guards its read-modify-write cycles.
type Ledger struct {
	repo   Repository
	locker Locker
	logger *slog.Logger
}

// NewLedger creates a ledger. A nil locker falls back to an in-process mutex.
func NewLedger(repo Repository, locker Locker) *Ledger {
	if locker == nil {
		locker = NewMutexLocker()
	}
	return &Ledger{
		repo:   repo,
		locker: locker,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithLogger sets the logger used for lock release failures.
func (l *Ledger) WithLogger(logger *slog.Logger) *Ledger {
	if logger != nil {
		l.logger = logger.With("component", "ledger")
	}
	return l
}

// Snapshot loads the current collection without taking the lock. Readers never see a
// partial write because every Repository saves atomically.
func (l *Ledger) Snapshot(ctx context.Context) ([]domain.Subscription, error) {
	records, err := l.repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	return records, nil
}

// Update runs fn inside the ledger critical section. fn receives the freshly loaded
// collection and returns the collection to persist; when fn fails nothing is saved.
// A failed release is only logged: by then the outcome of the write is already known.
func (l *Ledger) Update(ctx context.Context, fn func(records []domain.Subscription) ([]domain.Subscription, error)) error {
	unlock, err := l.locker.Lock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire ledger lock: %w", err)
	}
	defer func() {
		// unlock on a fresh context so a cancelled caller still releases the lock
		if unlockErr := unlock(context.WithoutCancel(ctx)); unlockErr != nil {
			l.logger.Warn("failed to release ledger lock; it may have expired during the write", "error", unlockErr)
		}
	}()

	records, err := l.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}

	updated, err := fn(records)
	if err != nil {
		return err
	}

	if err := l.repo.Save(ctx, updated); err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	return nil
}
