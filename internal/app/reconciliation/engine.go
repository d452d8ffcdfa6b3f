package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"safepay/internal/domain"
	"safepay/internal/infrastructure/alatpay"
	"safepay/internal/repository/ledger_repo"
)

type StatusQuerier interface {
	QueryStatus(ctx context.Context, transactionID string) (*alatpay.StatusInfo, error)
}

// Activator settles a transaction and extends the subscription it paid for.
type Activator interface {
	Activate(ctx context.Context, txn *domain.Transaction, completedAt time.Time) (*domain.Subscription, bool, error)
}

type CheckResult struct {
	TransactionID    string                   `json:"transactionId"`
	Status           domain.TransactionStatus `json:"status"`
	AlreadyProcessed bool                     `json:"alreadyProcessed,omitempty"`
	Message          string                   `json:"message,omitempty"`
	Subscription     *domain.Subscription     `json:"subscription,omitempty"`
	Gateway          *alatpay.StatusInfo      `json:"gateway,omitempty"`
}

type SweepReport struct {
	Checked      int
	Succeeded    int
	Expired      int
	StillPending int
	Failed       int
}

// Engine drives transactions through pending -> success | expired.
type Engine struct {
	repo      ledger_repo.Repository
	gateway   StatusQuerier
	activator Activator
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(repo ledger_repo.Repository, gateway StatusQuerier, activator Activator, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		repo:      repo,
		gateway:   gateway,
		activator: activator,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckStatus reconciles one transaction owned by userID.
func (e *Engine) CheckStatus(ctx context.Context, userID, transactionID string) (*CheckResult, error) {
	txn, err := e.repo.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to load transaction %s: %w", transactionID, err)
	}
	if txn.UserID != userID {
		e.logger.Warn("Status check for a transaction owned by another user",
			zap.String("transaction_id", transactionID),
			zap.String("user_id", userID),
		)
		return nil, domain.ErrTransactionNotFound
	}
	return e.check(ctx, txn)
}

// Reconcile checks a transaction by id alone, for callers that are not acting
// on behalf of a user.
func (e *Engine) Reconcile(ctx context.Context, transactionID string) (*CheckResult, error) {
	txn, err := e.repo.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to load transaction %s: %w", transactionID, err)
	}
	return e.check(ctx, txn)
}

func (e *Engine) check(ctx context.Context, txn *domain.Transaction) (*CheckResult, error) {
	if !txn.Status.Valid() {
		return nil, fmt.Errorf("%w: transaction %s has unknown status %q", domain.ErrIntegrity, txn.ID, txn.Status)
	}
	if result := storedResult(txn); result != nil {
		return result, nil
	}

	now := e.now()
	if txn.IsPastDeadline(now) {
		return e.expire(ctx, txn)
	}

	info, err := e.gateway.QueryStatus(ctx, txn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query gateway for %s: %w", txn.ID, err)
	}

	status, known := domain.NormalizeGatewayStatus(info.Status)
	if !known {
		e.logger.Warn("Unrecognized gateway status, treating as pending",
			zap.String("transaction_id", txn.ID),
			zap.String("gateway_status", info.Status),
		)
	}
	if status != domain.TransactionStatusSuccess {
		return &CheckResult{
			TransactionID: txn.ID,
			Status:        domain.TransactionStatusPending,
			Message:       "Payment is still pending",
			Gateway:       info,
		}, nil
	}

	if err := guard(txn, domain.TransactionStatusSuccess); err != nil {
		return nil, err
	}
	sub, applied, err := e.activator.Activate(ctx, txn, now)
	if err != nil {
		return nil, fmt.Errorf("failed to activate subscription for %s: %w", txn.ID, err)
	}
	if !applied {
		result, err := e.reload(ctx, txn.ID)
		if err != nil {
			return nil, err
		}
		if result.Status == domain.TransactionStatusExpired {
			e.logger.Warn("Gateway reports payment for an expired transaction",
				zap.String("transaction_id", txn.ID),
				zap.String("user_id", txn.UserID),
				zap.String("gateway_status", info.Status),
			)
		}
		result.Gateway = info
		return result, nil
	}

	e.logger.Info("Payment confirmed",
		zap.String("transaction_id", txn.ID),
		zap.String("user_id", txn.UserID),
		zap.String("amount", txn.Amount.String()),
	)
	return &CheckResult{
		TransactionID: txn.ID,
		Status:        domain.TransactionStatusSuccess,
		Message:       "Payment successful! Subscription activated.",
		Subscription:  sub,
		Gateway:       info,
	}, nil
}

func (e *Engine) expire(ctx context.Context, txn *domain.Transaction) (*CheckResult, error) {
	if err := guard(txn, domain.TransactionStatusExpired); err != nil {
		return nil, err
	}
	applied, err := e.repo.UpdateStatus(ctx, txn.ID, domain.TransactionStatusPending, domain.TransactionStatusExpired, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to expire transaction %s: %w", txn.ID, err)
	}
	if !applied {
		return e.reload(ctx, txn.ID)
	}

	e.logger.Info("Transaction expired",
		zap.String("transaction_id", txn.ID),
		zap.String("user_id", txn.UserID),
		zap.Time("expired_at", txn.ExpiredAt),
	)
	return &CheckResult{
		TransactionID: txn.ID,
		Status:        domain.TransactionStatusExpired,
		Message:       "Payment window has expired",
	}, nil
}

// reload reports whatever another caller moved the transaction to.
func (e *Engine) reload(ctx context.Context, id string) (*CheckResult, error) {
	txn, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload transaction %s: %w", id, err)
	}
	if result := storedResult(txn); result != nil {
		return result, nil
	}
	return nil, fmt.Errorf("%w: transaction %s is %s after a lost update", domain.ErrStore, id, txn.Status)
}

// guard refuses any move outside pending -> success | expired.
func guard(txn *domain.Transaction, to domain.TransactionStatus) error {
	if !domain.CanTransition(txn.Status, to) {
		return fmt.Errorf("%w: transaction %s cannot move from %s to %s", domain.ErrIntegrity, txn.ID, txn.Status, to)
	}
	return nil
}

func storedResult(txn *domain.Transaction) *CheckResult {
	if !txn.Status.IsTerminal() {
		return nil
	}
	switch txn.Status {
	case domain.TransactionStatusSuccess:
		return &CheckResult{
			TransactionID:    txn.ID,
			Status:           domain.TransactionStatusSuccess,
			AlreadyProcessed: true,
			Message:          "Payment already processed",
		}
	case domain.TransactionStatusExpired, domain.TransactionStatusArchived:
		return &CheckResult{
			TransactionID: txn.ID,
			Status:        txn.Status,
			Message:       "Payment window has expired",
		}
	}
	return nil
}

// Sweep checks every pending transaction once. A failing transaction is logged
// and counted; it never stops the pass.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	pending, err := e.repo.ListByStatus(ctx, domain.TransactionStatusPending)
	if err != nil {
		return report, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	if len(pending) == 0 {
		e.logger.Debug("No pending transactions to check")
		return report, nil
	}

	for i := range pending {
		if err := ctx.Err(); err != nil {
			e.logger.Info("Sweep interrupted", zap.Int("checked", report.Checked), zap.Error(err))
			return report, err
		}

		txn := &pending[i]
		report.Checked++

		result, err := e.safeCheck(ctx, txn)
		if err != nil {
			report.Failed++
			e.logger.Error("Failed to check transaction",
				zap.String("transaction_id", txn.ID),
				zap.String("user_id", txn.UserID),
				zap.Error(err),
			)
			continue
		}

		switch result.Status {
		case domain.TransactionStatusSuccess:
			report.Succeeded++
		case domain.TransactionStatusExpired, domain.TransactionStatusArchived:
			report.Expired++
		default:
			report.StillPending++
		}
	}

	e.logger.Info("Sweep finished",
		zap.Int("checked", report.Checked),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("expired", report.Expired),
		zap.Int("still_pending", report.StillPending),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (e *Engine) safeCheck(ctx context.Context, txn *domain.Transaction) (result *CheckResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while checking transaction %s: %v", txn.ID, r)
		}
	}()
	return e.check(ctx, txn)
}
