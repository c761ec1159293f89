/**
 * @description
 * Scheduled job implementations for the renewal scheduler. A sweep claims every period
 * that elapsed and then re-subscribes every claimed, uncancelled record. Chain calls run
 * outside the ledger lock; each confirmed transition is persisted on its own so one
 * failing record never holds back or undoes another.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/locallum/blockchain-subscription-service/internal/config"
	"github.com/locallum/blockchain-subscription-service/internal/domain"
	"github.com/locallum/blockchain-subscription-service/internal/metrics"
	"github.com/locallum/blockchain-subscription-service/internal/store"
)

// SweepResult counts what one sweep did.
type SweepResult struct {
	Claimed       int
	ClaimFailed   int
	Renewed       int
	RenewalFailed int
	Abandoned     int
	Skipped       bool
}

// Jobs contains the logic for the renewal sweep.
type Jobs struct {
	ledger      *store.Ledger
	settlement  SettlementClient
	events      *Events
	metrics     *metrics.Metrics
	sweepLock   store.Locker
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(ledger *store.Ledger, settlement SettlementClient, events *Events, m *metrics.Metrics, logger *slog.Logger, cfg config.Config) *Jobs {
	maxAttempts := cfg.MaxRenewalAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Jobs{
		ledger:      ledger,
		settlement:  settlement,
		events:      events,
		metrics:     m,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         time.Now,
	}
}

// WithSweepLock makes every sweep hold lock for its duration. It keeps two scheduler
// processes from sweeping the same ledger at once.
func (j *Jobs) WithSweepLock(lock store.Locker) *Jobs {
	j.sweepLock = lock
	return j
}

// RenewSubscriptions is the cron entry point.
func (j *Jobs) RenewSubscriptions() {
	j.Sweep(context.Background())
}

// Sweep runs one claim-then-renew pass over the ledger.
func (j *Jobs) Sweep(ctx context.Context) SweepResult {
	var result SweepResult

	if j.sweepLock != nil {
		unlock, err := j.sweepLock.Lock(ctx)
		if err != nil {
			if errors.Is(err, store.ErrLockBusy) {
				j.logger.Info("renewal sweep skipped; another scheduler holds the sweep lock")
			} else {
				j.logger.Error("failed to acquire sweep lock", "error", err)
			}
			result.Skipped = true
			return result
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				j.logger.Warn("failed to release sweep lock", "error", err)
			}
		}()
	}

	started := time.Now()
	now := j.now()
	j.logger.Info("starting renewal sweep", "now", now.Unix())

	records, err := j.ledger.Snapshot(ctx)
	if err != nil {
		j.logger.Error("failed to load ledger", "error", err)
		return result
	}

	for _, rec := range records {
		if !rec.IsClaimable(now) {
			continue
		}
		if j.claim(ctx, rec) {
			result.Claimed++
		} else {
			result.ClaimFailed++
		}
	}

	// reload so records claimed above, or through the API, are renewed in this same sweep
	records, err = j.ledger.Snapshot(ctx)
	if err != nil {
		j.logger.Error("failed to reload ledger", "error", err)
		return result
	}

	for _, rec := range records {
		if !rec.NeedsRenewal() {
			continue
		}
		switch j.renew(ctx, rec, now) {
		case renewalConfirmed:
			result.Renewed++
		case renewalRetry:
			result.RenewalFailed++
		case renewalAbandoned:
			result.RenewalFailed++
			result.Abandoned++
		}
	}

	if final, err := j.ledger.Snapshot(ctx); err == nil {
		j.metrics.ObserveLedger(final, now)
	}
	j.metrics.ObserveSweep(time.Since(started))

	j.logger.Info("renewal sweep finished",
		"claimed", result.Claimed,
		"claim_failed", result.ClaimFailed,
		"renewed", result.Renewed,
		"renewal_failed", result.RenewalFailed,
		"abandoned", result.Abandoned,
	)
	return result
}

func (j *Jobs) claim(ctx context.Context, rec domain.Subscription) bool {
	log := j.logger.With("subscription_id", rec.ID, "provider", rec.Provider)

	amount, err := domain.AmountWei(rec.Amount)
	if err != nil {
		log.Error("cannot claim record with malformed amount", "amount", rec.Amount, "error", err)
		return false
	}

	conf, err := j.settlement.RequestClaim(ctx, rec.Provider, amount)
	j.metrics.ObserveSettlement(opClaim, settlementOutcome(err))
	if err != nil {
		// the record is left untouched and stays claimable for the next sweep
		log.Warn("claim failed; will retry next sweep", "tx_hash", failureTx(err), "error", err)
		return false
	}

	var claimed domain.Subscription
	err = j.ledger.Update(context.WithoutCancel(ctx), func(records []domain.Subscription) ([]domain.Subscription, error) {
		idx := domain.FindByID(records, rec.ID)
		if idx < 0 {
			return nil, domain.ErrNotFound
		}
		flag := true
		next, err := domain.PatchSubscriptionRequest{IsClaimed: &flag}.Apply(records[idx])
		if err != nil {
			return nil, err
		}
		next.ClaimTx = conf.TxHash
		records[idx] = next
		claimed = next
		return records, nil
	})
	if err != nil {
		j.metrics.ObserveLedgerWriteFailure()
		log.Error("ledger write failed after confirmed settlement", "tx_hash", conf.TxHash, "error", err)
		return false
	}

	log.Info("subscription claimed", "tx_hash", conf.TxHash, "renewal_pending", claimed.RenewalPending)
	j.events.Emit(ctx, domain.EventSubscriptionClaimed, claimed, conf.TxHash, "")
	return true
}

type renewalOutcome int

const (
	renewalConfirmed renewalOutcome = iota
	renewalRetry
	renewalAbandoned
	renewalNotRecorded
)

func (j *Jobs) renew(ctx context.Context, rec domain.Subscription, now time.Time) renewalOutcome {
	log := j.logger.With("subscription_id", rec.ID, "user", rec.User, "provider", rec.Provider)

	amount, err := domain.AmountWei(rec.Amount)
	if err != nil {
		return j.renewalFailed(ctx, rec.ID, err, log)
	}

	from := rec.ID
	metadata := domain.SubscribeMetadata{
		Duration:  rec.Duration,
		Timestamp: now.UnixMilli(),
		RenewalOf: &from,
	}.Bytes()

	conf, err := j.settlement.RequestSubscribe(ctx, rec.Provider, amount, metadata)
	j.metrics.ObserveSettlement(opSubscribe, settlementOutcome(err))
	if err != nil {
		return j.renewalFailed(ctx, rec.ID, err, log)
	}

	var predecessor, successor domain.Subscription
	err = j.ledger.Update(context.WithoutCancel(ctx), func(records []domain.Subscription) ([]domain.Subscription, error) {
		idx := domain.FindByID(records, rec.ID)
		if idx < 0 {
			return nil, domain.ErrNotFound
		}
		cur := records[idx]
		if cur.IsCancelled {
			// cancelled while the subscribe was in flight; the funds are locked on chain
			// regardless, so the successor is still recorded
			log.Warn("subscription cancelled during renewal; recording successor anyway", "tx_hash", conf.TxHash)
		}

		id := store.NextID(records)
		successor = cur.Successor(id, now.Unix())
		successor.SubscribeTx = conf.TxHash

		cur.RenewalPending = false
		cur.RenewalError = ""
		cur.RenewedTo = &id
		records[idx] = cur
		predecessor = cur

		return append(records, successor), nil
	})
	if err != nil {
		j.metrics.ObserveLedgerWriteFailure()
		log.Error("ledger write failed after confirmed settlement", "tx_hash", conf.TxHash, "error", err)
		return renewalNotRecorded
	}

	log.Info("subscription renewed", "successor_id", successor.ID, "start_time", successor.StartTime, "tx_hash", conf.TxHash)
	j.events.Emit(ctx, domain.EventSubscriptionRenewed, successor, conf.TxHash, "")
	j.events.Emit(ctx, domain.EventSubscriptionUpdated, predecessor, conf.TxHash, "")
	return renewalConfirmed
}

// renewalFailed records a failed attempt and abandons the record once the attempts run out.
func (j *Jobs) renewalFailed(ctx context.Context, id int64, cause error, log *slog.Logger) renewalOutcome {
	outcome := renewalRetry
	var updated domain.Subscription

	err := j.ledger.Update(context.WithoutCancel(ctx), func(records []domain.Subscription) ([]domain.Subscription, error) {
		idx := domain.FindByID(records, id)
		if idx < 0 {
			return nil, domain.ErrNotFound
		}
		cur := records[idx]
		if !cur.NeedsRenewal() {
			outcome = renewalNotRecorded
			return records, nil
		}
		cur.RenewalAttempts++
		cur.RenewalError = cause.Error()
		if cur.RenewalAttempts >= j.maxAttempts {
			cur.RenewalPending = false
			outcome = renewalAbandoned
		}
		records[idx] = cur
		updated = cur
		return records, nil
	})
	if err != nil {
		log.Error("failed to record renewal failure", "renewal_error", cause.Error(), "error", err)
		return renewalRetry
	}

	switch outcome {
	case renewalAbandoned:
		log.Error("renewal abandoned; manual intervention required",
			"attempts", updated.RenewalAttempts, "tx_hash", failureTx(cause), "reason", cause.Error())
		j.events.Emit(ctx, domain.EventSubscriptionRenewalAbandoned, updated, failureTx(cause), cause.Error())
	case renewalRetry:
		log.Warn("renewal failed; will retry next sweep",
			"attempts", updated.RenewalAttempts, "max_attempts", j.maxAttempts, "tx_hash", failureTx(cause), "reason", cause.Error())
		j.events.Emit(ctx, domain.EventSubscriptionRenewalFailed, updated, failureTx(cause), cause.Error())
	}
	return outcome
}
