/**
 * @description
 * Chain-backed actions. Each one confirms the settlement on chain first and only then
 * records the outcome in the ledger, so the ledger never claims a transfer that did not
 * happen. The chain call runs outside the ledger lock and is not cancelled with the
 * request: once submitted, its outcome is recorded even if the caller went away.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/locallum/blockchain-subscription-service/internal/domain"
	"github.com/locallum/blockchain-subscription-service/internal/metrics"
	"github.com/locallum/blockchain-subscription-service/internal/store"
)

// Actions performs cancel and claim on behalf of a wallet.
type Actions struct {
	ledger     *store.Ledger
	settlement SettlementClient
	events     *Events
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewActions creates the chain-backed action runner.
func NewActions(ledger *store.Ledger, settlement SettlementClient, events *Events, m *metrics.Metrics, logger *slog.Logger) *Actions {
	return &Actions{
		ledger:     ledger,
		settlement: settlement,
		events:     events,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// Cancel refunds the locked amount to the user and marks the record cancelled.
// Only the paying user may cancel, and only before the provider claimed.
func (a *Actions) Cancel(ctx context.Context, id int64, actor string) (domain.Subscription, error) {
	sub, err := a.load(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	if actor != "" && !sub.BelongsToUser(actor) {
		return domain.Subscription{}, domain.ErrForbidden
	}
	if sub.IsCancelled || sub.IsClaimed || !sub.IsActive {
		return domain.Subscription{}, fmt.Errorf("%w: subscription %d is not active", domain.ErrInvalidTransition, id)
	}
	amount, err := domain.AmountWei(sub.Amount)
	if err != nil {
		return domain.Subscription{}, err
	}

	conf, err := a.settlement.RequestCancel(context.WithoutCancel(ctx), sub.User, amount)
	a.metrics.ObserveSettlement(opCancel, settlementOutcome(err))
	if err != nil {
		a.logger.Warn("cancel settlement failed", "subscription_id", id, "tx_hash", failureTx(err), "error", err)
		return domain.Subscription{}, err
	}

	active, cancelled := false, true
	updated, err := a.record(ctx, id, domain.PatchSubscriptionRequest{IsActive: &active, IsCancelled: &cancelled}, func(s *domain.Subscription) {
		s.CancelTx = conf.TxHash
	})
	if err != nil {
		a.lostWrite(id, conf.TxHash, err)
		return domain.Subscription{}, err
	}

	a.logger.Info("subscription cancelled", "subscription_id", id, "tx_hash", conf.TxHash)
	a.events.Emit(ctx, domain.EventSubscriptionCancelled, updated, conf.TxHash, "")
	return updated, nil
}

// Claim releases the locked amount to the provider once the period elapsed.
func (a *Actions) Claim(ctx context.Context, id int64, actor string) (domain.Subscription, error) {
	sub, err := a.load(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	if actor != "" && !sub.PayableTo(actor) {
		return domain.Subscription{}, domain.ErrForbidden
	}
	if !sub.IsClaimable(a.now()) {
		return domain.Subscription{}, fmt.Errorf("%w: subscription %d is not claimable", domain.ErrInvalidTransition, id)
	}
	amount, err := domain.AmountWei(sub.Amount)
	if err != nil {
		return domain.Subscription{}, err
	}

	conf, err := a.settlement.RequestClaim(context.WithoutCancel(ctx), sub.Provider, amount)
	a.metrics.ObserveSettlement(opClaim, settlementOutcome(err))
	if err != nil {
		a.logger.Warn("claim settlement failed", "subscription_id", id, "tx_hash", failureTx(err), "error", err)
		return domain.Subscription{}, err
	}

	claimed := true
	updated, err := a.record(ctx, id, domain.PatchSubscriptionRequest{IsClaimed: &claimed}, func(s *domain.Subscription) {
		s.ClaimTx = conf.TxHash
	})
	if err != nil {
		a.lostWrite(id, conf.TxHash, err)
		return domain.Subscription{}, err
	}

	a.logger.Info("subscription claimed", "subscription_id", id, "provider", updated.Provider, "tx_hash", conf.TxHash)
	a.events.Emit(ctx, domain.EventSubscriptionClaimed, updated, conf.TxHash, "")
	return updated, nil
}

func (a *Actions) load(ctx context.Context, id int64) (domain.Subscription, error) {
	records, err := a.ledger.Snapshot(ctx)
	if err != nil {
		return domain.Subscription{}, err
	}
	idx := domain.FindByID(records, id)
	if idx < 0 {
		return domain.Subscription{}, domain.ErrNotFound
	}
	return records[idx], nil
}

// record applies patch to the current version of the record. The settlement already
// happened, so the write is not cancelled together with the request.
func (a *Actions) record(ctx context.Context, id int64, patch domain.PatchSubscriptionRequest, stamp func(*domain.Subscription)) (domain.Subscription, error) {
	var updated domain.Subscription
	err := a.ledger.Update(context.WithoutCancel(ctx), func(records []domain.Subscription) ([]domain.Subscription, error) {
		idx := domain.FindByID(records, id)
		if idx < 0 {
			return nil, domain.ErrNotFound
		}
		next, err := patch.Apply(records[idx])
		if err != nil {
			return nil, err
		}
		stamp(&next)
		records[idx] = next
		updated = next
		return records, nil
	})
	return updated, err
}

func (a *Actions) lostWrite(id int64, txHash string, err error) {
	a.metrics.ObserveLedgerWriteFailure()
	a.logger.Error("ledger write failed after confirmed settlement",
		"subscription_id", id, "tx_hash", txHash, "error", err)
}
