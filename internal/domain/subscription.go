/**
 * @description
 * This file defines the core domain model of the service: the subscription record
 * kept in the ledger, and the predicates the service and the scheduler use to decide
 * which lifecycle transition applies to a record.
 */
package domain

import (
	"math"
	"strings"
	"time"
)

// SecondsPerMonth is the month length the front end uses when it converts a duration
// given in months into seconds.
const SecondsPerMonth int64 = 30 * 24 * 60 * 60

// Subscription is a single subscription period as persisted in the ledger.
// Amount is a wei-denominated integer kept as a string to preserve arbitrary precision.
type Subscription struct {
	ID          int64  `json:"id"`
	User        string `json:"user"`
	Provider    string `json:"provider"`
	Amount      string `json:"amount"`
	StartTime   int64  `json:"startTime"`
	Duration    int64  `json:"duration"`
	IsActive    bool   `json:"isActive"`
	IsClaimed   bool   `json:"isClaimed"`
	IsCancelled bool   `json:"isCancelled,omitempty"`

	// Renewal bookkeeping. A claimed, uncancelled record stays RenewalPending until a
	// successor exists or the renewal is abandoned.
	RenewalPending  bool   `json:"renewalPending,omitempty"`
	RenewalAttempts int    `json:"renewalAttempts,omitempty"`
	RenewalError    string `json:"renewalError,omitempty"`
	RenewedTo       *int64 `json:"renewedTo,omitempty"`
	RenewedFrom     *int64 `json:"renewedFrom,omitempty"`

	SubscribeTx string `json:"subscribeTx,omitempty"`
	ClaimTx     string `json:"claimTx,omitempty"`
	CancelTx    string `json:"cancelTx,omitempty"`
}

// EndTime is the unix second at which the current period elapses. A period too long
// to represent ends at math.MaxInt64, so it never becomes claimable.
func (s Subscription) EndTime() int64 {
	if s.Duration > 0 && s.StartTime > math.MaxInt64-s.Duration {
		return math.MaxInt64
	}
	return s.StartTime + s.Duration
}

// IsClaimable reports whether the provider may claim the locked funds at now.
func (s Subscription) IsClaimable(now time.Time) bool {
	return s.IsActive && !s.IsClaimed && now.Unix() >= s.EndTime()
}

// NeedsRenewal reports whether the scheduler still owes this record a successor.
func (s Subscription) NeedsRenewal() bool {
	return s.IsClaimed && s.RenewalPending && !s.IsCancelled && s.RenewedTo == nil
}

// IsAbandoned reports whether renewal was given up after repeated failures.
func (s Subscription) IsAbandoned() bool {
	return s.IsClaimed && !s.IsCancelled && !s.RenewalPending && s.RenewedTo == nil && s.RenewalError != ""
}

// BelongsToUser compares the payer address case-insensitively.
func (s Subscription) BelongsToUser(user string) bool {
	return SameAddress(s.User, user)
}

// PayableTo compares the payee address case-insensitively.
func (s Subscription) PayableTo(provider string) bool {
	return SameAddress(s.Provider, provider)
}

// Successor builds the record that continues s from startTime. The id is assigned by
// the caller inside the ledger critical section.
func (s Subscription) Successor(id, startTime int64) Subscription {
	from := s.ID
	return Subscription{
		ID:          id,
		User:        s.User,
		Provider:    s.Provider,
		Amount:      s.Amount,
		StartTime:   startTime,
		Duration:    s.Duration,
		IsActive:    true,
		IsClaimed:   false,
		RenewedFrom: &from,
	}
}

// SameAddress compares two chain addresses ignoring case and surrounding spaces.
func SameAddress(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}

// FindByID returns the index of the record with the given id, or -1.
func FindByID(records []Subscription, id int64) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}
