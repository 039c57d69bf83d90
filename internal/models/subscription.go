package models

import (
	"strings"
	"time"
)

// SubscriptionStatus is the backend-reported subscription state.
type SubscriptionStatus string

const (
	StatusNone     SubscriptionStatus = "NONE"
	StatusActive   SubscriptionStatus = "ACTIVE"
	StatusCanceled SubscriptionStatus = "CANCELED"
)

// ParseSubscriptionStatus is lenient about case and spelling; anything that is
// neither active nor canceled means there is no subscription.
func ParseSubscriptionStatus(raw string) SubscriptionStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ACTIVE":
		return StatusActive
	case "CANCELED", "CANCELLED":
		return StatusCanceled
	default:
		return StatusNone
	}
}

// SubscriptionSnapshot is the authoritative verification/billing/subscription
// state held by the backend. The orchestrator only ever holds read-only copies.
type SubscriptionSnapshot struct {
	Status          SubscriptionStatus `json:"status"`
	HasBillingKey   bool               `json:"hasBillingKey"`
	CustomerKey     string             `json:"customerKey,omitempty"`
	PhoneVerifiedAt *time.Time         `json:"phoneVerifiedAt,omitempty"`

	// FetchedAt is local bookkeeping and does not take part in Equal.
	FetchedAt time.Time `json:"fetchedAt"`
}

// PhoneVerified reports whether the backend has a verification timestamp.
func (s SubscriptionSnapshot) PhoneVerified() bool {
	return s.PhoneVerifiedAt != nil && !s.PhoneVerifiedAt.IsZero()
}

// Consistent reports whether the snapshot satisfies ACTIVE => billing key.
func (s SubscriptionSnapshot) Consistent() bool {
	return s.Status != StatusActive || s.HasBillingKey
}

// Stale reports whether the snapshot is older than maxAge at now.
func (s SubscriptionSnapshot) Stale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(s.FetchedAt) > maxAge
}

// Equal compares field values, ignoring FetchedAt.
func (s SubscriptionSnapshot) Equal(o SubscriptionSnapshot) bool {
	if s.Status != o.Status || s.HasBillingKey != o.HasBillingKey || s.CustomerKey != o.CustomerKey {
		return false
	}
	if s.PhoneVerified() != o.PhoneVerified() {
		return false
	}
	if s.PhoneVerified() && !s.PhoneVerifiedAt.Equal(*o.PhoneVerifiedAt) {
		return false
	}
	return true
}

// Clone returns a deep copy so callers cannot mutate the cached value.
func (s SubscriptionSnapshot) Clone() SubscriptionSnapshot {
	out := s
	if s.PhoneVerifiedAt != nil {
		t := *s.PhoneVerifiedAt
		out.PhoneVerifiedAt = &t
	}
	return out
}

// SubscriptionRecord is the opaque subscription object returned by start,
// cancel and reactivate.
type SubscriptionRecord map[string]interface{}

// Status returns the record's status field when present.
func (r SubscriptionRecord) Status() SubscriptionStatus {
	if raw, ok := r["status"].(string); ok {
		return ParseSubscriptionStatus(raw)
	}
	return StatusNone
}
