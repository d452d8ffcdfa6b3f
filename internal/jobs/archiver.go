package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"safepay/internal/domain"
	"safepay/internal/repository/ledger_repo"
)

// Archiver moves long-expired transactions out of the live tables once a day.
type Archiver struct {
	repo      ledger_repo.Repository
	retention time.Duration
	batchSize int
	hour      int
	now       func() time.Time
	logger    *zap.Logger
}

type ArchiverConfig struct {
	Retention time.Duration
	BatchSize int
	// Hour is the UTC hour of the daily run.
	Hour int
}

func NewArchiver(repo ledger_repo.Repository, cfg ArchiverConfig, logger *zap.Logger) *Archiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Archiver{
		repo:      repo,
		retention: cfg.Retention,
		batchSize: cfg.BatchSize,
		hour:      cfg.Hour,
		now:       time.Now,
		logger:    logger,
	}
}

// Run archives every eligible transaction and returns how many records moved.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	now := a.now().UTC()

	expired, err := a.repo.ListByStatus(ctx, domain.TransactionStatusExpired)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired transactions: %w", err)
	}

	eligible := make([]domain.Transaction, 0, len(expired))
	for i := range expired {
		if expired[i].ArchiveEligible(now, a.retention) {
			eligible = append(eligible, expired[i])
		}
	}
	if len(eligible) == 0 {
		a.logger.Debug("No expired transactions eligible for archive")
		return 0, nil
	}

	archived := 0
	for start := 0; start < len(eligible); start += a.batchSize {
		end := min(start+a.batchSize, len(eligible))
		n, err := a.repo.Archive(ctx, eligible[start:end], now)
		if err != nil {
			a.logger.Error("Failed to archive batch",
				zap.Int("archived_so_far", archived),
				zap.Int("batch_size", end-start),
				zap.Error(err),
			)
			return archived, fmt.Errorf("failed to archive transactions: %w", err)
		}
		archived += n
	}

	a.logger.Info("Archived old expired transactions", zap.Int("count", archived))
	return archived, nil
}

// Start runs the archiver daily at the configured UTC hour until ctx is cancelled.
func (a *Archiver) Start(ctx context.Context) {
	a.logger.Info("Starting archiver...", zap.Int("hour_utc", a.hour))
	for {
		next := NextDailyRun(a.now(), a.hour)
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("Archiver stopped.")
			return
		case <-timer.C:
			a.runGuarded(ctx)
		}
	}
}

func (a *Archiver) runGuarded(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Recovered panic in archiver", zap.Any("panic", r))
		}
	}()
	if _, err := a.Run(ctx); err != nil {
		a.logger.Error("Archive pass failed", zap.Error(err))
	}
}

// NextDailyRun returns the first instant strictly after now at hour:00 UTC.
func NextDailyRun(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
