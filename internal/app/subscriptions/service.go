package subscriptions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"safepay/internal/domain"
	"safepay/internal/repository/ledger_repo"
)

// Notifier delivers activation events to the user. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, event domain.SubscriptionActivatedEvent) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, domain.SubscriptionActivatedEvent) error { return nil }

type Service struct {
	repo          ledger_repo.Repository
	notifier      Notifier
	period        time.Duration
	notifyTimeout time.Duration
	now           func() time.Time
	logger        *zap.Logger

	inflight sync.WaitGroup
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo ledger_repo.Repository, notifier Notifier, period, notifyTimeout time.Duration, logger *zap.Logger, opts ...Option) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	s := &Service{
		repo:          repo,
		notifier:      notifier,
		period:        period,
		notifyTimeout: notifyTimeout,
		now:           time.Now,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Activate settles a pending transaction and extends its owner's subscription.
// applied is false when another caller already settled it; in that case nothing
// is extended and no notification goes out.
func (s *Service) Activate(ctx context.Context, txn *domain.Transaction, completedAt time.Time) (*domain.Subscription, bool, error) {
	sub, applied, err := s.repo.Settle(ctx, txn.ID, completedAt, s.period)
	if err != nil {
		return nil, false, fmt.Errorf("failed to settle transaction %s: %w", txn.ID, err)
	}
	if !applied {
		s.logger.Info("Transaction already settled, skipping activation",
			zap.String("transaction_id", txn.ID),
			zap.String("user_id", txn.UserID),
		)
		return nil, false, nil
	}

	s.logger.Info("Subscription activated",
		zap.String("transaction_id", txn.ID),
		zap.String("user_id", sub.UserID),
		zap.Time("subscription_end_date", sub.EndDate),
	)
	s.notifyAsync(domain.NewSubscriptionActivatedEvent(*sub, txn.ID, completedAt))
	return sub, true, nil
}

func (s *Service) Get(ctx context.Context, userID string) (*domain.Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription for %s: %w", userID, err)
	}
	sub.IsActive = sub.ActiveAt(s.now())
	return sub, nil
}

// Wait blocks until every notification started so far has finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

func (s *Service) notifyAsync(event domain.SubscriptionActivatedEvent) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Recovered panic while sending notification",
					zap.String("user_id", event.UserID),
					zap.Any("panic", r),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()

		if err := s.notifier.Notify(ctx, event); err != nil {
			s.logger.Warn("Failed to send subscription notification",
				zap.String("user_id", event.UserID),
				zap.String("transaction_id", event.TransactionID),
				zap.Error(err),
			)
			return
		}
		s.logger.Debug("Subscription notification sent", zap.String("user_id", event.UserID))
	}()
}
