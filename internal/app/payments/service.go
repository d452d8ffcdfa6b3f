package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"safepay/internal/app/reconciliation"
	"safepay/internal/domain"
	"safepay/internal/infrastructure/alatpay"
	"safepay/internal/repository/ledger_repo"
	"safepay/internal/util"
)

type PaymentService interface {
	CreatePayment(ctx context.Context, userID string, amount decimal.Decimal, info UserInfo) (*CreatePaymentResult, error)
	CheckStatus(ctx context.Context, userID, transactionID string) (*reconciliation.CheckResult, error)
	ListTransactions(ctx context.Context, userID string) (map[string]domain.Transaction, error)
	GetTransaction(ctx context.Context, userID, transactionID string) (*domain.Transaction, error)
	GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error)
}

type AccountIssuer interface {
	IssueVirtualAccount(ctx context.Context, req alatpay.IssueRequest) (*alatpay.AccountInfo, error)
}

type StatusChecker interface {
	CheckStatus(ctx context.Context, userID, transactionID string) (*reconciliation.CheckResult, error)
}

type SubscriptionReader interface {
	Get(ctx context.Context, userID string) (*domain.Subscription, error)
}

type UserInfo struct {
	Email     string
	Phone     string
	FirstName string
	LastName  string
	Metadata  json.RawMessage
}

type CreatePaymentResult struct {
	TransactionID          string          `json:"transactionId"`
	OrderID                string          `json:"orderId"`
	Amount                 decimal.Decimal `json:"amount"`
	VirtualAccountNumber   string          `json:"virtualAccountNumber"`
	VirtualBankCode        string          `json:"virtualBankCode"`
	VirtualBankName        string          `json:"virtualBankName"`
	VirtualBankAccountName string          `json:"virtualBankAccountName"`
	ExpiredAt              time.Time       `json:"expiredAt"`
}

type Config struct {
	Currency           string
	Description        string
	SupportedBankCode  string
	SupportedBankName  string
	VirtualAccountName string
}

type Service struct {
	repo    ledger_repo.Repository
	issuer  AccountIssuer
	checker StatusChecker
	subs    SubscriptionReader
	cfg     Config
	now     func() time.Time
	logger  *zap.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	repo ledger_repo.Repository,
	issuer AccountIssuer,
	checker StatusChecker,
	subs SubscriptionReader,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		repo:    repo,
		issuer:  issuer,
		checker: checker,
		subs:    subs,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) CreatePayment(ctx context.Context, userID string, amount decimal.Decimal, info UserInfo) (*CreatePaymentResult, error) {
	if userID == "" {
		return nil, domain.ValidationError{Field: "userId", Message: "is required"}
	}
	if !amount.IsPositive() {
		return nil, domain.ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if info.Email == "" || info.Phone == "" {
		return nil, domain.ValidationError{Field: "userInfo", Message: "email and phone are required"}
	}

	now := s.now()
	orderID, err := util.NewOrderID(userID, now)
	if err != nil {
		return nil, err
	}

	account, err := s.issuer.IssueVirtualAccount(ctx, alatpay.IssueRequest{
		Amount:      amount,
		OrderID:     orderID,
		Description: s.cfg.Description,
		Customer: alatpay.Customer{
			Email:     info.Email,
			Phone:     info.Phone,
			FirstName: info.FirstName,
			LastName:  info.LastName,
			Metadata:  info.Metadata,
		},
	})
	if err != nil {
		s.logger.Error("Failed to issue virtual account",
			zap.String("user_id", userID),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to generate virtual account: %w", err)
	}

	if err := s.checkAccount(account); err != nil {
		s.logger.Error("Gateway returned an unusable virtual account",
			zap.String("user_id", userID),
			zap.String("order_id", orderID),
			zap.String("transaction_id", account.TransactionID),
			zap.String("bank_code", account.VirtualBankCode),
			zap.Error(err),
		)
		return nil, err
	}

	txn := &domain.Transaction{
		ID:                   account.TransactionID,
		OrderID:              orderID,
		UserID:               userID,
		Amount:               amount,
		Currency:             s.cfg.Currency,
		Description:          s.cfg.Description,
		Status:               domain.TransactionStatusPending,
		VirtualAccountNumber: account.VirtualBankAccountNumber,
		VirtualBankCode:      account.VirtualBankCode,
		ExpiredAt:            account.ExpiredAt.UTC(),
		CreatedAt:            now,
	}
	if err := s.repo.Create(ctx, txn); err != nil {
		s.logger.Error("Failed to save transaction",
			zap.String("transaction_id", txn.ID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		if errors.Is(err, domain.ErrStore) {
			return nil, fmt.Errorf("failed to save transaction: %w", err)
		}
		return nil, fmt.Errorf("%w: failed to save transaction: %w", domain.ErrStore, err)
	}

	s.logger.Info("Payment created",
		zap.String("transaction_id", txn.ID),
		zap.String("order_id", orderID),
		zap.String("user_id", userID),
		zap.String("amount", amount.String()),
		zap.Time("expired_at", txn.ExpiredAt),
	)
	return &CreatePaymentResult{
		TransactionID:          txn.ID,
		OrderID:                orderID,
		Amount:                 amount,
		VirtualAccountNumber:   txn.VirtualAccountNumber,
		VirtualBankCode:        txn.VirtualBankCode,
		VirtualBankName:        s.cfg.SupportedBankName,
		VirtualBankAccountName: s.cfg.VirtualAccountName,
		ExpiredAt:              txn.ExpiredAt,
	}, nil
}

func (s *Service) checkAccount(account *alatpay.AccountInfo) error {
	if account.VirtualBankCode != s.cfg.SupportedBankCode {
		return fmt.Errorf("%w: unsupported virtual bank code %q", domain.ErrIntegrity, account.VirtualBankCode)
	}
	if account.TransactionID == "" || account.VirtualBankAccountNumber == "" {
		return fmt.Errorf("%w: virtual account is missing its transaction id or account number", domain.ErrIntegrity)
	}
	if account.ExpiredAt.IsZero() {
		return fmt.Errorf("%w: virtual account has no expiry", domain.ErrIntegrity)
	}
	return nil
}

func (s *Service) CheckStatus(ctx context.Context, userID, transactionID string) (*reconciliation.CheckResult, error) {
	if transactionID == "" {
		return nil, domain.ValidationError{Field: "transactionId", Message: "is required"}
	}
	return s.checker.CheckStatus(ctx, userID, transactionID)
}

func (s *Service) ListTransactions(ctx context.Context, userID string) (map[string]domain.Transaction, error) {
	txns, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for %s: %w", userID, err)
	}
	byID := make(map[string]domain.Transaction, len(txns))
	for _, txn := range txns {
		byID[txn.ID] = txn
	}
	return byID, nil
}

func (s *Service) GetTransaction(ctx context.Context, userID, transactionID string) (*domain.Transaction, error) {
	txn, err := s.repo.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction %s: %w", transactionID, err)
	}
	if txn.UserID != userID {
		return nil, domain.ErrTransactionNotFound
	}
	return txn, nil
}

func (s *Service) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	return s.subs.Get(ctx, userID)
}
