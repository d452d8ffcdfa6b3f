package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusSuccess  TransactionStatus = "success"
	TransactionStatusExpired  TransactionStatus = "expired"
	TransactionStatusArchived TransactionStatus = "archived"
)

// IsTerminal reports whether no further transition other than archival is allowed.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusSuccess, TransactionStatusExpired, TransactionStatusArchived:
		return true
	}
	return false
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusSuccess, TransactionStatusExpired, TransactionStatusArchived:
		return true
	}
	return false
}

// CanTransition is the full state machine:
// pending -> success, pending -> expired, expired -> archived.
func CanTransition(from, to TransactionStatus) bool {
	switch from {
	case TransactionStatusPending:
		return to == TransactionStatusSuccess || to == TransactionStatusExpired
	case TransactionStatusExpired:
		return to == TransactionStatusArchived
	}
	return false
}

// Transaction is one payment attempt against a gateway-issued virtual account.
type Transaction struct {
	ID                   string            `json:"transactionId"`
	OrderID              string            `json:"orderId"`
	UserID               string            `json:"userId"`
	Amount               decimal.Decimal   `json:"amount"`
	Currency             string            `json:"currency"`
	Description          string            `json:"description,omitempty"`
	Status               TransactionStatus `json:"status"`
	VirtualAccountNumber string            `json:"virtualAccountNumber"`
	VirtualBankCode      string            `json:"virtualBankCode"`
	ExpiredAt            time.Time         `json:"expiredAt"`
	CreatedAt            time.Time         `json:"createdAt"`
	CompletedAt          *time.Time        `json:"completedAt,omitempty"`
}

// IsPastDeadline reports whether now is strictly after the transaction deadline.
func (t *Transaction) IsPastDeadline(now time.Time) bool {
	return !t.ExpiredAt.IsZero() && now.After(t.ExpiredAt)
}

// ArchiveEligible reports whether an expired transaction has outlived the retention period.
func (t *Transaction) ArchiveEligible(now time.Time, retention time.Duration) bool {
	if !CanTransition(t.Status, TransactionStatusArchived) || t.ExpiredAt.IsZero() {
		return false
	}
	return t.ExpiredAt.Before(now.Add(-retention))
}
