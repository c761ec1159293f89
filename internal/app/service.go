/**
 * @description
 * This file contains the core business logic for the subscription ledger. The Service
 * validates requests, applies them inside the ledger critical section and publishes
 * lifecycle events once a change is persisted.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/locallum/blockchain-subscription-service/internal/domain"
	"github.com/locallum/blockchain-subscription-service/internal/store"
)

// Service provides the ledger operations behind the REST surface.
type Service struct {
	ledger *store.Ledger
	events *Events
	logger *slog.Logger
}

// NewService creates a new subscription service.
func NewService(ledger *store.Ledger, events *Events, logger *slog.Logger) *Service {
	return &Service{ledger: ledger, events: events, logger: logger}
}

// ListByUser returns every record paid by user, in ledger order.
func (s *Service) ListByUser(ctx context.Context, user string) ([]domain.Subscription, error) {
	if user == "" {
		return nil, fmt.Errorf("%w: user query parameter is required", domain.ErrValidation)
	}
	records, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Subscription, 0)
	for _, r := range records {
		if r.BelongsToUser(user) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListClaimableByProvider returns the records provider may claim at now.
func (s *Service) ListClaimableByProvider(ctx context.Context, provider string, now time.Time) ([]domain.Subscription, error) {
	if provider == "" {
		return nil, fmt.Errorf("%w: provider query parameter is required", domain.ErrValidation)
	}
	records, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Subscription, 0)
	for _, r := range records {
		if r.PayableTo(provider) && r.IsClaimable(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Get returns one record. When actor is set it must be the user or the provider.
func (s *Service) Get(ctx context.Context, id int64, actor string) (domain.Subscription, error) {
	records, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return domain.Subscription{}, err
	}
	idx := domain.FindByID(records, id)
	if idx < 0 {
		return domain.Subscription{}, domain.ErrNotFound
	}
	if !isParty(records[idx], actor) {
		return domain.Subscription{}, domain.ErrForbidden
	}
	return records[idx], nil
}

// Create validates req and appends a new active record with the next free id.
func (s *Service) Create(ctx context.Context, req domain.CreateSubscriptionRequest) (domain.Subscription, error) {
	sub, err := req.Validate()
	if err != nil {
		return domain.Subscription{}, err
	}

	err = s.ledger.Update(ctx, func(records []domain.Subscription) ([]domain.Subscription, error) {
		sub.ID = store.NextID(records)
		return append(records, sub), nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	s.logger.Info("subscription created", "subscription_id", sub.ID, "user", sub.User, "provider", sub.Provider)
	s.events.Emit(ctx, domain.EventSubscriptionCreated, sub, "", "")
	return sub, nil
}

// Patch merges req into the record with the given id. When actor is set it must be the
// user or the provider of the stored record.
func (s *Service) Patch(ctx context.Context, id int64, req domain.PatchSubscriptionRequest, actor string) (domain.Subscription, error) {
	var before, after domain.Subscription

	err := s.ledger.Update(ctx, func(records []domain.Subscription) ([]domain.Subscription, error) {
		idx := domain.FindByID(records, id)
		if idx < 0 {
			return nil, domain.ErrNotFound
		}
		if !isParty(records[idx], actor) {
			return nil, domain.ErrForbidden
		}

		next, err := req.Apply(records[idx])
		if err != nil {
			return nil, err
		}
		before, after = records[idx], next
		records[idx] = next
		return records, nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	s.logger.Info("subscription updated", "subscription_id", id)
	s.events.Emit(ctx, transitionEvent(before, after), after, "", "")
	return after, nil
}

// transitionEvent picks the routing key that best describes a patch.
func transitionEvent(before, after domain.Subscription) string {
	switch {
	case after.IsCancelled && !before.IsCancelled:
		return domain.EventSubscriptionCancelled
	case after.IsClaimed && !before.IsClaimed:
		return domain.EventSubscriptionClaimed
	default:
		return domain.EventSubscriptionUpdated
	}
}

func isParty(sub domain.Subscription, actor string) bool {
	if actor == "" {
		return true
	}
	return sub.BelongsToUser(actor) || sub.PayableTo(actor)
}
