package expiry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Runner triggers a sweep immediately and then on every interval tick.
type Runner struct {
	sweeper  *Sweeper
	interval time.Duration
	logger   *zap.Logger
}

func NewRunner(sweeper *Sweeper, interval time.Duration, logger *zap.Logger) *Runner {
	return &Runner{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("expiry sweep runner started", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("expiry sweep runner stopped")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	if _, err := r.sweeper.Sweep(ctx); err != nil {
		r.logger.Error("expiry sweep failed", zap.Error(err))
	}
}
