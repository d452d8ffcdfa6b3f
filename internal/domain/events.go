package domain

import "time"

const CommandSubscriptionSuccess = "STN_SUBSCRIPTION_SUCCESS"

// SubscriptionActivatedEvent is published after a payment activates or extends a subscription.
type SubscriptionActivatedEvent struct {
	Command             string    `json:"command"`
	Title               string    `json:"title"`
	Body                string    `json:"body"`
	UserID              string    `json:"user_id"`
	TransactionID       string    `json:"transaction_id,omitempty"`
	Amount              string    `json:"amount"`
	SubscriptionEndDate time.Time `json:"subscription_end_date"`
	Timestamp           time.Time `json:"timestamp"`
}

// NewSubscriptionActivatedEvent builds the user-facing notification for an activation.
func NewSubscriptionActivatedEvent(sub Subscription, transactionID string, at time.Time) SubscriptionActivatedEvent {
	return SubscriptionActivatedEvent{
		Command:             CommandSubscriptionSuccess,
		Title:               "Subscription Activated!",
		Body:                "Your subscription has been activated successfully!",
		UserID:              sub.UserID,
		TransactionID:       transactionID,
		Amount:              sub.Amount.String(),
		SubscriptionEndDate: sub.EndDate,
		Timestamp:           at,
	}
}

// PaymentNotification tells the service that the gateway saw activity on a
// transaction. It is only a hint: the status is always re-read from the gateway.
type PaymentNotification struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status,omitempty"`
}
