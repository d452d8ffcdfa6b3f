package ledger_repo

import (
	"context"
	"time"

	"safepay/internal/domain"
)

// Repository is the ledger store: live transactions with their per-user index,
// user subscription state and the transaction archive.
//
// Every operation touching more than one table runs in a single database
// transaction. The repository never judges whether a status change is legal;
// UpdateStatus and Settle only refuse to overwrite a status that moved since
// the caller read it.
type Repository interface {
	Create(ctx context.Context, txn *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	ListByStatus(ctx context.Context, status domain.TransactionStatus) ([]domain.Transaction, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Transaction, error)

	// UpdateStatus moves id from `from` to `to` and reports whether it did.
	UpdateStatus(ctx context.Context, id string, from, to domain.TransactionStatus, completedAt *time.Time) (bool, error)

	// Settle moves a pending transaction to success and extends its owner's
	// subscription by period, atomically. applied is false when the transaction
	// was no longer pending.
	Settle(ctx context.Context, id string, completedAt time.Time, period time.Duration) (sub *domain.Subscription, applied bool, err error)

	GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error)

	// Archive relocates expired transactions out of the live tables and
	// returns how many records were moved.
	Archive(ctx context.Context, txns []domain.Transaction, archivedAt time.Time) (int, error)

	Ping(ctx context.Context) error
	Close() error
}
