package domain

import (
	"encoding/json"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// CreateSubscriptionRequest is the body of POST /subscriptions. Duration is in seconds;
// DurationMonths is accepted instead and converted with SecondsPerMonth.
type CreateSubscriptionRequest struct {
	User           string      `json:"user"`
	Provider       string      `json:"provider"`
	Amount         json.Number `json:"amount"`
	StartTime      json.Number `json:"startTime"`
	Duration       *int64      `json:"duration"`
	DurationMonths *int64      `json:"durationMonths"`
}

// Validate checks the request and returns the normalized record it describes.
// The id is left zero; the service assigns it inside the ledger critical section.
func (r CreateSubscriptionRequest) Validate() (Subscription, error) {
	user, err := ParseAddress("user", r.User)
	if err != nil {
		return Subscription{}, err
	}
	provider, err := ParseAddress("provider", r.Provider)
	if err != nil {
		return Subscription{}, err
	}
	amount, err := ParseAmount(r.Amount.String())
	if err != nil {
		return Subscription{}, err
	}
	startTime, err := ParseUnixSeconds(r.StartTime)
	if err != nil {
		return Subscription{}, err
	}

	var duration int64
	switch {
	case r.Duration != nil && r.DurationMonths != nil:
		return Subscription{}, validationError("duration", "and durationMonths are mutually exclusive")
	case r.Duration != nil:
		duration = *r.Duration
	case r.DurationMonths != nil:
		if *r.DurationMonths <= 0 || *r.DurationMonths > math.MaxInt64/SecondsPerMonth {
			return Subscription{}, validationError("durationMonths", "must be a positive number of months")
		}
		duration = *r.DurationMonths * SecondsPerMonth
	default:
		return Subscription{}, validationError("duration", "is required")
	}
	if err := validateDuration(duration); err != nil {
		return Subscription{}, err
	}
	if err := validatePeriod(startTime, duration); err != nil {
		return Subscription{}, err
	}

	return Subscription{
		User:      user,
		Provider:  provider,
		Amount:    amount,
		StartTime: startTime,
		Duration:  duration,
		IsActive:  true,
		IsClaimed: false,
	}, nil
}

// PatchSubscriptionRequest is the body of PATCH /subscriptions/{id}. Nil fields are left
// untouched.
type PatchSubscriptionRequest struct {
	ID          *int64       `json:"id"`
	User        *string      `json:"user"`
	Provider    *string      `json:"provider"`
	Amount      *json.Number `json:"amount"`
	StartTime   *json.Number `json:"startTime"`
	Duration    *int64       `json:"duration"`
	IsActive    *bool        `json:"isActive"`
	IsClaimed   *bool        `json:"isClaimed"`
	IsCancelled *bool        `json:"isCancelled"`

	ServerManaged
}

// ServerManaged lists the record fields only the service writes. A PATCH body may carry
// them, so a record can be sent back as it was read, but Apply ignores their values.
type ServerManaged struct {
	RenewalPending  json.RawMessage `json:"renewalPending,omitempty"`
	RenewalAttempts json.RawMessage `json:"renewalAttempts,omitempty"`
	RenewalError    json.RawMessage `json:"renewalError,omitempty"`
	RenewedTo       json.RawMessage `json:"renewedTo,omitempty"`
	RenewedFrom     json.RawMessage `json:"renewedFrom,omitempty"`
	SubscribeTx     json.RawMessage `json:"subscribeTx,omitempty"`
	ClaimTx         json.RawMessage `json:"claimTx,omitempty"`
	CancelTx        json.RawMessage `json:"cancelTx,omitempty"`
}

// Apply merges the patch into current and returns the resulting record. Terminal states
// cannot be left: an inactive record is never reactivated, a claim is never undone and a
// cancellation is never withdrawn.
func (p PatchSubscriptionRequest) Apply(current Subscription) (Subscription, error) {
	next := current

	if p.ID != nil && *p.ID != current.ID {
		return current, validationError("id", "is immutable")
	}
	if p.User != nil {
		user, err := ParseAddress("user", *p.User)
		if err != nil {
			return current, err
		}
		next.User = user
	}
	if p.Provider != nil {
		provider, err := ParseAddress("provider", *p.Provider)
		if err != nil {
			return current, err
		}
		next.Provider = provider
	}
	if p.Amount != nil {
		amount, err := ParseAmount(p.Amount.String())
		if err != nil {
			return current, err
		}
		next.Amount = amount
	}
	if p.StartTime != nil {
		startTime, err := ParseUnixSeconds(*p.StartTime)
		if err != nil {
			return current, err
		}
		next.StartTime = startTime
	}
	if p.Duration != nil {
		if err := validateDuration(*p.Duration); err != nil {
			return current, err
		}
		next.Duration = *p.Duration
	}
	if p.StartTime != nil || p.Duration != nil {
		if err := validatePeriod(next.StartTime, next.Duration); err != nil {
			return current, err
		}
	}

	if p.IsActive != nil {
		if *p.IsActive && !current.IsActive {
			return current, ErrInvalidTransition
		}
		next.IsActive = *p.IsActive
	}
	if p.IsClaimed != nil {
		if !*p.IsClaimed && current.IsClaimed {
			return current, ErrInvalidTransition
		}
		next.IsClaimed = *p.IsClaimed
	}
	if p.IsCancelled != nil {
		if !*p.IsCancelled && current.IsCancelled {
			return current, ErrInvalidTransition
		}
		next.IsCancelled = *p.IsCancelled
	}

	if next.IsClaimed && !current.IsClaimed {
		// a claimed period is settled; it can no longer be active
		next.IsActive = false
		if !next.IsCancelled && next.RenewedTo == nil {
			next.RenewalPending = true
		}
	}
	if next.IsCancelled && next.RenewalPending {
		next.RenewalPending = false
	}

	return next, nil
}

// ParseAddress validates a hex chain address and returns it trimmed. The original
// casing is preserved; comparisons are case-insensitive.
func ParseAddress(field, raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	if addr == "" {
		return "", validationError(field, "is required")
	}
	if !common.IsHexAddress(addr) {
		return "", validationError(field, "%q is not a hex address", addr)
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		addr = "0x" + addr
	}
	return addr, nil
}

// ParseAmount validates a wei amount given as a base-10 integer.
func ParseAmount(raw string) (string, error) {
	amount, err := AmountWei(raw)
	if err != nil {
		return "", err
	}
	return amount.String(), nil
}

// AmountWei converts a stored amount into a big integer.
func AmountWei(raw string) (*big.Int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, validationError("amount", "is required")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, validationError("amount", "%q is not an integer wei amount", s)
	}
	if v.Sign() < 0 {
		return nil, validationError("amount", "must not be negative")
	}
	return v, nil
}

// ParseUnixSeconds accepts integer or fractional unix seconds; fractions are truncated.
func ParseUnixSeconds(n json.Number) (int64, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, validationError("startTime", "is required")
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		if v < 0 {
			return 0, validationError("startTime", "must not be negative")
		}
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 {
		return 0, validationError("startTime", "%q is not unix seconds", s)
	}
	if f < 0 {
		return 0, validationError("startTime", "must not be negative")
	}
	return int64(f), nil
}

func validateDuration(d int64) error {
	if d <= 0 {
		return validationError("duration", "must be a positive number of seconds")
	}
	return nil
}

// validatePeriod rejects periods whose end does not fit in unix seconds.
func validatePeriod(startTime, duration int64) error {
	if startTime > math.MaxInt64-duration {
		return validationError("duration", "period starting at %d with %d seconds ends out of range", startTime, duration)
	}
	return nil
}
