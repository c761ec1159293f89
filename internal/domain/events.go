package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Routing keys for lifecycle events published on the event exchange.
const (
	EventSubscriptionCreated          = "subscription.created"
	EventSubscriptionUpdated          = "subscription.updated"
	EventSubscriptionCancelled        = "subscription.cancelled"
	EventSubscriptionClaimed          = "subscription.claimed"
	EventSubscriptionRenewed          = "subscription.renewed"
	EventSubscriptionRenewalFailed    = "subscription.renewal_failed"
	EventSubscriptionRenewalAbandoned = "subscription.renewal_abandoned"
)

// LifecycleEvent is published whenever a ledger transition is persisted.
type LifecycleEvent struct {
	EventID      uuid.UUID    `json:"eventId"`
	Type         string       `json:"type"`
	Subscription Subscription `json:"subscription"`
	TxHash       string       `json:"txHash,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	OccurredAt   time.Time    `json:"occurredAt"`
}

// NewLifecycleEvent stamps an event with a fresh id.
func NewLifecycleEvent(eventType string, sub Subscription, txHash, reason string, at time.Time) LifecycleEvent {
	return LifecycleEvent{
		EventID:      uuid.New(),
		Type:         eventType,
		Subscription: sub,
		TxHash:       txHash,
		Reason:       reason,
		OccurredAt:   at.UTC(),
	}
}

// SubscribeMetadata is the opaque payload attached to an on-chain subscribe call.
type SubscribeMetadata struct {
	Duration  int64  `json:"duration"`
	Timestamp int64  `json:"timestamp"`
	RenewalOf *int64 `json:"renewalOf,omitempty"`
}

// Bytes encodes the metadata as UTF-8 JSON, the format the contract receives.
func (m SubscribeMetadata) Bytes() []byte {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}
