package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"safepay/internal/domain"
)

// LedgerRepository keeps everything in process memory. One mutex guards all
// maps, so multi-key updates are atomic with respect to readers.
type LedgerRepository struct {
	mu sync.RWMutex

	transactions map[string]domain.Transaction
	orderIDs     map[string]string
	userIndex    map[string]map[string]struct{}
	users        map[string]domain.Subscription
	archive      map[string]domain.Transaction
}

func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{
		transactions: make(map[string]domain.Transaction),
		orderIDs:     make(map[string]string),
		userIndex:    make(map[string]map[string]struct{}),
		users:        make(map[string]domain.Subscription),
		archive:      make(map[string]domain.Transaction),
	}
}

func (r *LedgerRepository) Create(_ context.Context, txn *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.transactions[txn.ID]; exists {
		return domain.ErrTransactionExists
	}
	if _, exists := r.archive[txn.ID]; exists {
		return domain.ErrTransactionExists
	}

	if _, taken := r.orderIDs[txn.OrderID]; taken {
		return fmt.Errorf("%w: %w: %s", domain.ErrStore, domain.ErrOrderIDConflict, txn.OrderID)
	}

	r.transactions[txn.ID] = cloneTransaction(*txn)
	r.orderIDs[txn.OrderID] = txn.ID
	if r.userIndex[txn.UserID] == nil {
		r.userIndex[txn.UserID] = make(map[string]struct{})
	}
	r.userIndex[txn.UserID][txn.ID] = struct{}{}
	return nil
}

func (r *LedgerRepository) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if txn, ok := r.transactions[id]; ok {
		out := cloneTransaction(txn)
		return &out, nil
	}
	if txn, ok := r.archive[id]; ok {
		out := cloneTransaction(txn)
		return &out, nil
	}
	return nil, domain.ErrTransactionNotFound
}

func (r *LedgerRepository) ListByStatus(_ context.Context, status domain.TransactionStatus) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Transaction, 0)
	for _, txn := range r.transactions {
		if txn.Status == status {
			result = append(result, cloneTransaction(txn))
		}
	}
	sortByCreatedAt(result)
	return result, nil
}

func (r *LedgerRepository) ListByUser(_ context.Context, userID string) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Transaction, 0, len(r.userIndex[userID]))
	for id := range r.userIndex[userID] {
		if txn, ok := r.transactions[id]; ok {
			result = append(result, cloneTransaction(txn))
		}
	}
	sortByCreatedAt(result)
	return result, nil
}

func (r *LedgerRepository) UpdateStatus(_ context.Context, id string, from, to domain.TransactionStatus, completedAt *time.Time) (bool, error) {
	if to == domain.TransactionStatusArchived {
		return false, fmt.Errorf("%w: archived status is only set by Archive", domain.ErrStore)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	txn, ok := r.transactions[id]
	if !ok {
		return false, domain.ErrTransactionNotFound
	}
	if txn.Status != from {
		return false, nil
	}

	txn.Status = to
	if completedAt != nil {
		at := *completedAt
		txn.CompletedAt = &at
	}
	r.transactions[id] = txn
	return true, nil
}

func (r *LedgerRepository) Settle(_ context.Context, id string, completedAt time.Time, period time.Duration) (*domain.Subscription, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn, ok := r.transactions[id]
	if !ok {
		return nil, false, domain.ErrTransactionNotFound
	}
	if txn.Status != domain.TransactionStatusPending {
		return nil, false, nil
	}

	txn.Status = domain.TransactionStatusSuccess
	txn.CompletedAt = &completedAt
	r.transactions[id] = txn

	sub := r.activateLocked(txn.UserID, txn.Amount, completedAt, period)
	return &sub, true, nil
}

func (r *LedgerRepository) activateLocked(userID string, amount decimal.Decimal, now time.Time, period time.Duration) domain.Subscription {
	current, ok := r.users[userID]
	if !ok {
		current = domain.Subscription{UserID: userID}
	}
	next := current.Extend(now, period, amount)
	r.users[userID] = next
	return next
}

func (r *LedgerRepository) GetSubscription(_ context.Context, userID string) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.users[userID]
	if !ok {
		sub = domain.Subscription{UserID: userID}
	}
	return &sub, nil
}

func (r *LedgerRepository) Archive(_ context.Context, txns []domain.Transaction, _ time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	archived := 0
	for _, candidate := range txns {
		live, ok := r.transactions[candidate.ID]
		if !ok || live.Status != domain.TransactionStatusExpired {
			continue
		}

		live.Status = domain.TransactionStatusArchived
		r.archive[live.ID] = live
		delete(r.transactions, live.ID)
		delete(r.orderIDs, live.OrderID)
		if idx := r.userIndex[live.UserID]; idx != nil {
			delete(idx, live.ID)
			if len(idx) == 0 {
				delete(r.userIndex, live.UserID)
			}
		}
		archived++
	}
	return archived, nil
}

// ArchivedCount is the size of the archive, for tests and diagnostics.
func (r *LedgerRepository) ArchivedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.archive)
}

// IndexedIDs returns the ids recorded in a user's index.
func (r *LedgerRepository) IndexedIDs(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.userIndex[userID]))
	for id := range r.userIndex[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *LedgerRepository) Ping(context.Context) error { return nil }

func (r *LedgerRepository) Close() error { return nil }

func cloneTransaction(txn domain.Transaction) domain.Transaction {
	if txn.CompletedAt != nil {
		at := *txn.CompletedAt
		txn.CompletedAt = &at
	}
	return txn
}

func sortByCreatedAt(txns []domain.Transaction) {
	sort.Slice(txns, func(i, j int) bool {
		if txns[i].CreatedAt.Equal(txns[j].CreatedAt) {
			return txns[i].ID < txns[j].ID
		}
		return txns[i].CreatedAt.Before(txns[j].CreatedAt)
	})
}
