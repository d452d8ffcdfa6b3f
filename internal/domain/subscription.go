package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultSubscriptionPeriod is the length granted by one successful payment.
const DefaultSubscriptionPeriod = 30 * 24 * time.Hour

// Subscription is the per-user subscription state.
type Subscription struct {
	UserID    string          `json:"userId"`
	IsActive  bool            `json:"isSubscriptionActive"`
	EndDate   time.Time       `json:"subscriptionEndDate"`
	Amount    decimal.Decimal `json:"subscriptionAmount"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Extend grants one more period starting from max(now, EndDate), so a late or
// repeated activation never shortens an existing subscription.
func (s Subscription) Extend(now time.Time, period time.Duration, amount decimal.Decimal) Subscription {
	base := now
	if s.EndDate.After(now) {
		base = s.EndDate
	}
	return Subscription{
		UserID:    s.UserID,
		IsActive:  true,
		EndDate:   base.Add(period),
		Amount:    amount,
		UpdatedAt: now,
	}
}

// ActiveAt reports whether the subscription covers the given instant.
func (s Subscription) ActiveAt(now time.Time) bool {
	return s.IsActive && s.EndDate.After(now)
}
