package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"safepay/internal/app/reconciliation"
)

type Sweeper interface {
	Sweep(ctx context.Context) (reconciliation.SweepReport, error)
}

// Checker periodically reconciles pending transactions. Passes run inline in the
// loop goroutine, so a tick that fires during a slow pass is dropped, never queued.
type Checker struct {
	sweeper  Sweeper
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

func NewChecker(sweeper Sweeper, interval, timeout time.Duration, logger *zap.Logger) *Checker {
	return &Checker{
		sweeper:  sweeper,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start blocks until ctx is cancelled.
func (c *Checker) Start(ctx context.Context) {
	c.logger.Info("Starting transaction checker...", zap.Duration("interval", c.interval))
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Transaction checker stopped.")
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single bounded sweep. Errors and panics are logged, not returned.
func (c *Checker) RunOnce(ctx context.Context) (report reconciliation.SweepReport, err error) {
	passCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transaction check panicked: %v", r)
			c.logger.Error("Recovered panic in transaction checker", zap.Any("panic", r))
		}
	}()

	c.logger.Debug("Checking pending transactions...")
	report, err = c.sweeper.Sweep(passCtx)
	if err != nil {
		c.logger.Error("Transaction check pass failed", zap.Error(err))
	}
	return report, err
}
