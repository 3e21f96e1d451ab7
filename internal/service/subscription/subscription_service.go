// internal/service/subscription/subscription_service.go
package subscription

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"membership-service/internal/domain/membership"
	"membership-service/internal/metrics"
	xerrors "membership-service/internal/pkg/errors"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Publisher receives lifecycle events after the owning transaction commits.
type Publisher interface {
	Publish(ctx context.Context, evt membership.Event)
}

// SnapshotCache holds a short-lived copy of each user's current subscription.
// It is consulted on reads only. Set may race a commit, so an implementation
// must refuse a snapshot older than the last committed row it was told about.
type SnapshotCache interface {
	Get(ctx context.Context, userID int64) (*membership.Subscription, bool)
	Set(ctx context.Context, sub *membership.Subscription)
}

type TierResolver interface {
	Resolve(ctx context.Context, orderCount int, orderValue float64, cohort string) (*membership.Tier, error)
}

type Option func(*SubscriptionService)

func WithClock(now func() time.Time) Option {
	return func(s *SubscriptionService) { s.now = now }
}

func WithSnapshotCache(c SnapshotCache) Option {
	return func(s *SubscriptionService) { s.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *SubscriptionService) { s.metrics = m }
}

// SubscriptionService is the subscription lifecycle engine. Every mutating
// operation runs as one transaction under the user's exclusive lock.
type SubscriptionService struct {
	store     membership.SubscriptionStore
	catalog   membership.Catalog
	resolver  TierResolver
	publisher Publisher
	cache     SnapshotCache
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewSubscriptionService(
	store membership.SubscriptionStore,
	catalog membership.Catalog,
	resolver TierResolver,
	publisher Publisher,
	logger *zap.Logger,
	opts ...Option,
) *SubscriptionService {
	s := &SubscriptionService{
		store:     store,
		catalog:   catalog,
		resolver:  resolver,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ========== Mutations ==========

// Subscribe creates an ACTIVE subscription for the user. A user whose ACTIVE
// row has already passed its expiry gets that row expired in the same
// transaction before the new one is written.
func (s *SubscriptionService) Subscribe(ctx context.Context, userID, planID, tierID int64) (sub *membership.Subscription, err error) {
	defer func() { s.observe("subscribe", userID, err) }()

	now := s.now()
	var lapsed *membership.Subscription

	err = s.store.WithTx(ctx, func(ctx context.Context, tx membership.SubscriptionTx) error {
		if _, err := tx.LockUser(ctx, userID); err != nil {
			return err
		}

		existing, err := tx.FindActive(ctx, userID)
		switch {
		case err == nil && existing.IsCurrent(now):
			return xerrors.ErrActiveSubscriptionExists
		case err == nil:
			if err := existing.TransitionTo(membership.StatusExpired); err != nil {
				return err
			}
			if err := tx.Update(ctx, existing); err != nil {
				return err
			}
			lapsed = existing
		case !errors.Is(err, xerrors.ErrNotFound):
			return err
		}

		plan, err := s.activePlan(ctx, planID)
		if err != nil {
			return err
		}
		tier, err := s.activeTier(ctx, tierID)
		if err != nil {
			return err
		}
		expiry, err := expiryDate(now, plan.Duration)
		if err != nil {
			return err
		}

		sub = &membership.Subscription{
			Reference:       newReference(),
			UserID:          userID,
			PlanID:          plan.ID,
			TierID:          tier.ID,
			Status:          membership.StatusActive,
			StartDate:       now,
			ExpiryDate:      expiry,
			PaidAmount:      membership.RoundCents(plan.Price),
			OrderCount:      0,
			TotalOrderValue: 0,
		}
		return tx.Insert(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	if lapsed != nil {
		s.publish(ctx, membership.NewEvent(membership.EventSubscriptionExpired, lapsed, now))
	}
	s.publish(ctx, membership.NewEvent(membership.EventSubscriptionCreated, sub, now))

	s.logger.Info("subscription created",
		zap.Int64("subscription_id", sub.ID),
		zap.String("reference", sub.Reference),
		zap.Int64("user_id", userID),
		zap.Int64("plan_id", planID),
		zap.Int64("tier_id", tierID),
		zap.Time("expiry_date", sub.ExpiryDate),
	)
	return sub, nil
}

// ChangeTier moves the current subscription to any active tier, up or down.
func (s *SubscriptionService) ChangeTier(ctx context.Context, userID, newTierID int64) (sub *membership.Subscription, err error) {
	defer func() { s.observe("change_tier", userID, err) }()

	var previousTier int64
	sub, _, err = s.mutateCurrent(ctx, userID, func(ctx context.Context, tx membership.SubscriptionTx, _ *membership.User, current *membership.Subscription) error {
		tier, err := s.activeTier(ctx, newTierID)
		if err != nil {
			return err
		}
		if tier.ID == current.TierID {
			return xerrors.ErrAlreadyOnTier
		}

		previousTier = current.TierID
		current.TierID = tier.ID
		return tx.Update(ctx, current)
	})
	if err != nil {
		return nil, err
	}

	evt := membership.NewEvent(membership.EventSubscriptionTierChanged, sub, s.now())
	evt.PreviousTier = previousTier
	s.publish(ctx, evt)

	s.logger.Info("subscription tier changed",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("user_id", userID),
		zap.Int64("from_tier_id", previousTier),
		zap.Int64("to_tier_id", sub.TierID),
	)
	return sub, nil
}

// CancelSubscription ends the current subscription. Cancelling again reports
// ErrNoActiveSubscription.
func (s *SubscriptionService) CancelSubscription(ctx context.Context, userID int64) (sub *membership.Subscription, err error) {
	defer func() { s.observe("cancel", userID, err) }()

	sub, _, err = s.mutateCurrent(ctx, userID, func(ctx context.Context, tx membership.SubscriptionTx, _ *membership.User, current *membership.Subscription) error {
		if err := current.TransitionTo(membership.StatusCancelled); err != nil {
			return err
		}
		return tx.Update(ctx, current)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, membership.NewEvent(membership.EventSubscriptionCancelled, sub, s.now()))

	s.logger.Info("subscription cancelled",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("user_id", userID),
	)
	return sub, nil
}

// RecordOrderActivity adds one order to the current subscription's counters
// and promotes the tier when the updated activity qualifies for a higher level.
// It never lowers the tier.
func (s *SubscriptionService) RecordOrderActivity(ctx context.Context, userID int64, orderValue float64) (sub *membership.Subscription, err error) {
	defer func() { s.observe("record_order", userID, err) }()

	if orderValue <= 0 || math.IsNaN(orderValue) || math.IsInf(orderValue, 0) {
		return nil, fmt.Errorf("order value must be positive: %w", xerrors.ErrInvalidInput)
	}
	orderValue = membership.RoundCents(orderValue)
	if orderValue <= 0 {
		return nil, fmt.Errorf("order value must be at least one cent: %w", xerrors.ErrInvalidInput)
	}

	var (
		previousTier int64
		promoted     bool
		fromLevel    int
		toLevel      int
	)
	sub, _, err = s.mutateCurrent(ctx, userID, func(ctx context.Context, tx membership.SubscriptionTx, user *membership.User, current *membership.Subscription) error {
		current.OrderCount++
		current.TotalOrderValue = membership.AddCents(current.TotalOrderValue, orderValue)

		resolved, err := s.resolver.Resolve(ctx, current.OrderCount, current.TotalOrderValue, user.Cohort)
		if err != nil {
			return err
		}
		currentTier, err := s.catalog.GetTier(ctx, current.TierID)
		if err != nil {
			return fmt.Errorf("failed to load current tier: %w", err)
		}

		if resolved.Level > currentTier.Level {
			previousTier = current.TierID
			fromLevel, toLevel = currentTier.Level, resolved.Level
			current.TierID = resolved.ID
			promoted = true
		}
		return tx.Update(ctx, current)
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	s.publish(ctx, membership.NewEvent(membership.EventOrderRecorded, sub, now))
	if promoted {
		evt := membership.NewEvent(membership.EventSubscriptionPromoted, sub, now)
		evt.PreviousTier = previousTier
		s.publish(ctx, evt)
		s.metrics.IncPromotions()

		s.logger.Info("subscription tier promoted",
			zap.Int64("subscription_id", sub.ID),
			zap.Int64("user_id", userID),
			zap.Int("from_level", fromLevel),
			zap.Int("to_level", toLevel),
			zap.Int64("tier_id", sub.TierID),
		)
	}

	s.logger.Debug("order activity recorded",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("user_id", userID),
		zap.Int("order_count", sub.OrderCount),
		zap.Float64("total_order_value", sub.TotalOrderValue),
	)
	return sub, nil
}

// ========== Reads ==========

// GetCurrent returns the user's ACTIVE subscription that has not yet expired.
func (s *SubscriptionService) GetCurrent(ctx context.Context, userID int64) (*membership.Subscription, error) {
	now := s.now()

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, userID); ok && cached.UserID == userID && cached.IsCurrent(now) {
			return cached, nil
		}
	}

	sub, err := s.store.FindCurrent(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, sub)
	}
	return sub, nil
}

// GetHistory returns every subscription of the user, most recent first.
func (s *SubscriptionService) GetHistory(ctx context.Context, userID int64) ([]*membership.Subscription, error) {
	subs, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription history: %w", err)
	}
	return subs, nil
}

// ========== Helper Methods ==========

type mutation func(ctx context.Context, tx membership.SubscriptionTx, user *membership.User, current *membership.Subscription) error

// mutateCurrent locks the user, loads the current subscription and applies fn
// in a single transaction.
func (s *SubscriptionService) mutateCurrent(ctx context.Context, userID int64, fn mutation) (*membership.Subscription, *membership.User, error) {
	now := s.now()
	var (
		result *membership.Subscription
		owner  *membership.User
	)

	err := s.store.WithTx(ctx, func(ctx context.Context, tx membership.SubscriptionTx) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		current, err := tx.FindActive(ctx, userID)
		if err != nil {
			return err
		}
		if !current.IsCurrent(now) {
			return xerrors.ErrNoActiveSubscription
		}
		if err := fn(ctx, tx, user, current); err != nil {
			return err
		}
		result, owner = current, user
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, owner, nil
}

func (s *SubscriptionService) activePlan(ctx context.Context, planID int64) (*membership.Plan, error) {
	plan, err := s.catalog.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, fmt.Errorf("plan %d is inactive: %w", planID, xerrors.ErrNotFound)
	}
	return plan, nil
}

func (s *SubscriptionService) activeTier(ctx context.Context, tierID int64) (*membership.Tier, error) {
	tier, err := s.catalog.GetTier(ctx, tierID)
	if err != nil {
		return nil, err
	}
	if !tier.Active {
		return nil, fmt.Errorf("tier %d is inactive: %w", tierID, xerrors.ErrNotFound)
	}
	return tier, nil
}

func (s *SubscriptionService) publish(ctx context.Context, evt membership.Event) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, evt)
}

func (s *SubscriptionService) observe(operation string, userID int64, err error) {
	s.metrics.ObserveOperation(operation, err)
	if err == nil {
		return
	}

	fields := []zap.Field{
		zap.String("operation", operation),
		zap.Int64("user_id", userID),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, xerrors.ErrNotFound),
		errors.Is(err, xerrors.ErrConflict),
		errors.Is(err, xerrors.ErrInvalidInput):
		s.logger.Warn("subscription operation rejected", fields...)
	default:
		s.logger.Error("subscription operation failed", fields...)
	}
}

// expiryDate adds the plan's whole-month duration to start.
func expiryDate(start time.Time, d membership.PlanDuration) (time.Time, error) {
	months, ok := d.Months()
	if !ok {
		return time.Time{}, fmt.Errorf("unknown plan duration %q: %w", d, xerrors.ErrConfiguration)
	}
	return start.AddDate(0, months, 0), nil
}

// newReference generates the public subscription reference.
func newReference() string {
	return "SUB-" + ulid.Make().String()
}
