package expiry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"membership-service/internal/domain/membership"
	"membership-service/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store is the part of the subscription store the sweep needs.
type Store interface {
	ListExpired(ctx context.Context, now time.Time) ([]*membership.Subscription, error)
	Expire(ctx context.Context, sub *membership.Subscription) error
}

type Publisher interface {
	Publish(ctx context.Context, evt membership.Event)
}

const defaultConcurrency = 4

type Option func(*Sweeper)

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func WithConcurrency(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// Sweeper moves ACTIVE subscriptions past their expiry date to EXPIRED.
// Each row is expired in its own transaction.
type Sweeper struct {
	store       Store
	publisher   Publisher
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
	concurrency int
}

func NewSweeper(store Store, publisher Publisher, logger *zap.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:       store,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs one pass. The candidate list is taken once at the start of the
// pass. Per-row failures are logged and counted; only a failed scan is
// returned as an error.
func (s *Sweeper) Sweep(ctx context.Context) (membership.SweepResult, error) {
	started := s.now()

	candidates, err := s.store.ListExpired(ctx, started)
	if err != nil {
		return membership.SweepResult{}, fmt.Errorf("failed to list expired subscriptions: %w", err)
	}

	var succeeded, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, sub := range candidates {
		sub := sub
		g.Go(func() error {
			if err := s.store.Expire(gctx, sub); err != nil {
				failed.Add(1)
				s.logger.Warn("failed to expire subscription",
					zap.Int64("subscription_id", sub.ID),
					zap.Int64("user_id", sub.UserID),
					zap.Error(err),
				)
				return nil
			}
			succeeded.Add(1)
			if s.publisher != nil {
				s.publisher.Publish(gctx, membership.NewEvent(membership.EventSubscriptionExpired, sub, s.now()))
			}
			return nil
		})
	}
	_ = g.Wait()

	res := membership.SweepResult{
		Scanned:   len(candidates),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}

	finished := s.now()
	s.metrics.ObserveSweep(res, finished.Sub(started), finished)
	s.logger.Info("expiry sweep completed",
		zap.Int("scanned", res.Scanned),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Duration("took", finished.Sub(started)),
	)
	return res, nil
}
