package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/locallum/blockchain-subscription-service/internal/domain"
)

// EventPublisher is implemented by the RabbitMQ producer and its fallback.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Events publishes lifecycle events after ledger writes. Publishing is best effort:
// the ledger is the source of truth and a lost event is only logged.
type Events struct {
	publisher EventPublisher
	exchange  string
	logger    *slog.Logger
}

// NewEvents creates an event emitter. A nil publisher disables publishing.
func NewEvents(publisher EventPublisher, exchange string, logger *slog.Logger) *Events {
	return &Events{publisher: publisher, exchange: exchange, logger: logger}
}

// Emit publishes one event for sub.
func (e *Events) Emit(ctx context.Context, eventType string, sub domain.Subscription, txHash, reason string) {
	if e == nil || e.publisher == nil {
		return
	}
	evt := domain.NewLifecycleEvent(eventType, sub, txHash, reason, time.Now())
	if err := e.publisher.Publish(ctx, e.exchange, eventType, evt); err != nil {
		e.logger.Warn("failed to publish lifecycle event",
			"event_type", eventType, "subscription_id", sub.ID, "error", err)
	}
}
