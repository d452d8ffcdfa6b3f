package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"safepay/internal/domain"
)

const (
	uniqueViolation = "23505"

	transactionsPKey     = "transactions_pkey"
	transactionsOrderKey = "transactions_order_id_key"
)

const transactionColumns = `id, order_id, user_id, amount, currency, description, status,
		virtual_account_number, virtual_bank_code, expired_at, created_at, completed_at`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", domain.ErrStore, err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = tx.ExecContext(ctx, query,
		txn.ID,
		txn.OrderID,
		txn.UserID,
		txn.Amount,
		txn.Currency,
		txn.Description,
		txn.Status,
		txn.VirtualAccountNumber,
		txn.VirtualBankCode,
		txn.ExpiredAt,
		txn.CreatedAt,
		nullTime(txn.CompletedAt),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			switch pqErr.Constraint {
			case transactionsPKey:
				return domain.ErrTransactionExists
			case transactionsOrderKey:
				return fmt.Errorf("%w: %w: %s", domain.ErrStore, domain.ErrOrderIDConflict, txn.OrderID)
			}
		}
		return fmt.Errorf("%w: failed to insert transaction %s: %w", domain.ErrStore, txn.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_transactions (user_id, transaction_id) VALUES ($1, $2)`,
		txn.UserID, txn.ID)
	if err != nil {
		return fmt.Errorf("%w: failed to index transaction %s: %w", domain.ErrStore, txn.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %w", domain.ErrStore, err)
	}
	return nil
}

func (r *LedgerRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id = $1
		UNION ALL
		SELECT id, order_id, user_id, amount, currency, description, 'archived',
			virtual_account_number, virtual_bank_code, expired_at, created_at, NULL
		FROM archived_transactions
		WHERE id = $1
		LIMIT 1
	`
	txn, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("%w: failed to get transaction %s: %w", domain.ErrStore, id, err)
	}
	return txn, nil
}

func (r *LedgerRepository) ListByStatus(ctx context.Context, status domain.TransactionStatus) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
	`
	return r.list(ctx, query, status)
}

func (r *LedgerRepository) ListByUser(ctx context.Context, userID string) ([]domain.Transaction, error) {
	query := `
		SELECT t.id, t.order_id, t.user_id, t.amount, t.currency, t.description, t.status,
			t.virtual_account_number, t.virtual_bank_code, t.expired_at, t.created_at, t.completed_at
		FROM user_transactions ut
		JOIN transactions t ON t.id = ut.transaction_id
		WHERE ut.user_id = $1
		ORDER BY t.created_at ASC, t.id ASC
	`
	return r.list(ctx, query, userID)
}

func (r *LedgerRepository) list(ctx context.Context, query string, arg any) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list transactions: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	txns := make([]domain.Transaction, 0)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan transaction: %w", domain.ErrStore, err)
		}
		txns = append(txns, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate transactions: %w", domain.ErrStore, err)
	}
	return txns, nil
}

func (r *LedgerRepository) UpdateStatus(ctx context.Context, id string, from, to domain.TransactionStatus, completedAt *time.Time) (bool, error) {
	if to == domain.TransactionStatusArchived {
		return false, fmt.Errorf("%w: archived status is only set by Archive", domain.ErrStore)
	}

	query := `
		UPDATE transactions
		SET status = $3, completed_at = COALESCE($4, completed_at)
		WHERE id = $1 AND status = $2
	`
	res, err := r.db.ExecContext(ctx, query, id, from, to, nullTime(completedAt))
	if err != nil {
		return false, fmt.Errorf("%w: failed to update status of %s: %w", domain.ErrStore, id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: failed to get rows affected: %w", domain.ErrStore, err)
	}
	if rowsAffected > 0 {
		return true, nil
	}

	if err := r.ensureExists(ctx, r.db, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *LedgerRepository) Settle(ctx context.Context, id string, completedAt time.Time, period time.Duration) (*domain.Subscription, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to begin transaction: %w", domain.ErrStore, err)
	}
	defer tx.Rollback()

	query := `
		UPDATE transactions
		SET status = $2, completed_at = $3
		WHERE id = $1 AND status = $4
		RETURNING user_id, amount
	`
	var (
		userID string
		amount decimal.Decimal
	)
	err = tx.QueryRowContext(ctx, query, id, domain.TransactionStatusSuccess, completedAt, domain.TransactionStatusPending).
		Scan(&userID, &amount)
	if errors.Is(err, sql.ErrNoRows) {
		if err := r.ensureExists(ctx, tx, id); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to settle transaction %s: %w", domain.ErrStore, id, err)
	}

	sub, err := r.activateTx(ctx, tx, userID, amount, completedAt, period)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("%w: failed to commit settlement: %w", domain.ErrStore, err)
	}
	return sub, true, nil
}

// activateTx locks the user row so concurrent activations compound instead of overwriting each other.
func (r *LedgerRepository) activateTx(ctx context.Context, tx *sql.Tx, userID string, amount decimal.Decimal, now time.Time, period time.Duration) (*domain.Subscription, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO users (user_id, updated_at) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
		userID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to ensure user %s: %w", domain.ErrStore, userID, err)
	}

	query := `
		SELECT user_id, is_subscription_active, subscription_end_date, subscription_amount, updated_at
		FROM users
		WHERE user_id = $1
		FOR UPDATE
	`
	current, err := scanSubscription(tx.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to lock user %s: %w", domain.ErrStore, userID, err)
	}

	next := current.Extend(now, period, amount)
	_, err = tx.ExecContext(ctx, `
		UPDATE users
		SET is_subscription_active = $2, subscription_end_date = $3, subscription_amount = $4, updated_at = $5
		WHERE user_id = $1
	`, userID, next.IsActive, next.EndDate, next.Amount, next.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to update subscription of %s: %w", domain.ErrStore, userID, err)
	}
	return &next, nil
}

func (r *LedgerRepository) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	query := `
		SELECT user_id, is_subscription_active, subscription_end_date, subscription_amount, updated_at
		FROM users
		WHERE user_id = $1
	`
	sub, err := scanSubscription(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.Subscription{UserID: userID}, nil
		}
		return nil, fmt.Errorf("%w: failed to get subscription of %s: %w", domain.ErrStore, userID, err)
	}
	return sub, nil
}

// Archive moves the given ids in one statement. Rows that are no longer expired are skipped.
func (r *LedgerRepository) Archive(ctx context.Context, txns []domain.Transaction, archivedAt time.Time) (int, error) {
	if len(txns) == 0 {
		return 0, nil
	}
	ids := make([]string, len(txns))
	for i, txn := range txns {
		ids[i] = txn.ID
	}

	query := `
		WITH moved AS (
			DELETE FROM transactions
			WHERE id = ANY($1) AND status = $2
			RETURNING id, order_id, user_id, amount, currency, description,
				virtual_account_number, virtual_bank_code, expired_at, created_at
		), unindexed AS (
			DELETE FROM user_transactions ut
			USING moved
			WHERE ut.transaction_id = moved.id
		)
		INSERT INTO archived_transactions (id, order_id, user_id, amount, currency, description,
			virtual_account_number, virtual_bank_code, expired_at, created_at, archived_at)
		SELECT id, order_id, user_id, amount, currency, description,
			virtual_account_number, virtual_bank_code, expired_at, created_at, $3
		FROM moved
	`
	res, err := r.db.ExecContext(ctx, query, pq.Array(ids), domain.TransactionStatusExpired, archivedAt)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to archive transactions: %w", domain.ErrStore, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get rows affected: %w", domain.ErrStore, err)
	}
	return int(rowsAffected), nil
}

func (r *LedgerRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStore, err)
	}
	return nil
}

func (r *LedgerRepository) Close() error {
	return r.db.Close()
}

func (r *LedgerRepository) ensureExists(ctx context.Context, q domain.Querier, id string) error {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: failed to check transaction %s: %w", domain.ErrStore, id, err)
	}
	if !exists {
		return domain.ErrTransactionNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	txn := &domain.Transaction{}
	var completedAt sql.NullTime
	err := row.Scan(
		&txn.ID,
		&txn.OrderID,
		&txn.UserID,
		&txn.Amount,
		&txn.Currency,
		&txn.Description,
		&txn.Status,
		&txn.VirtualAccountNumber,
		&txn.VirtualBankCode,
		&txn.ExpiredAt,
		&txn.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		txn.CompletedAt = &completedAt.Time
	}
	return txn, nil
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	sub := &domain.Subscription{}
	var endDate sql.NullTime
	err := row.Scan(&sub.UserID, &sub.IsActive, &endDate, &sub.Amount, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if endDate.Valid {
		sub.EndDate = endDate.Time
	}
	return sub, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
