// internal/service/catalog/catalog_service.go
package catalog

import (
	"context"
	"fmt"

	"membership-service/internal/domain/membership"
	xerrors "membership-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// CatalogService serves the public, read-only view of plans and tiers.
type CatalogService struct {
	catalog membership.Catalog
	logger  *zap.Logger
}

func NewCatalogService(catalog membership.Catalog, logger *zap.Logger) *CatalogService {
	return &CatalogService{
		catalog: catalog,
		logger:  logger,
	}
}

// ListPlans returns all active plans
func (s *CatalogService) ListPlans(ctx context.Context) ([]*membership.PlanResponse, error) {
	plans, err := s.catalog.ListActivePlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}

	resp := make([]*membership.PlanResponse, 0, len(plans))
	for _, p := range plans {
		resp = append(resp, membership.NewPlanResponse(p))
	}
	return resp, nil
}

// GetPlan returns an active plan; inactive plans are reported as not found
func (s *CatalogService) GetPlan(ctx context.Context, id int64) (*membership.PlanResponse, error) {
	plan, err := s.catalog.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, fmt.Errorf("plan %d is inactive: %w", id, xerrors.ErrNotFound)
	}
	return membership.NewPlanResponse(plan), nil
}

// ListTiers returns active tiers ordered by level with their benefits
func (s *CatalogService) ListTiers(ctx context.Context) ([]*membership.TierResponse, error) {
	tiers, err := s.catalog.ListActiveTiersByLevelAsc(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}

	resp := make([]*membership.TierResponse, 0, len(tiers))
	for _, t := range tiers {
		resp = append(resp, membership.NewTierResponse(t))
	}
	return resp, nil
}

func (s *CatalogService) GetTier(ctx context.Context, id int64) (*membership.TierResponse, error) {
	tier, err := s.catalog.GetTier(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tier.Active {
		return nil, fmt.Errorf("tier %d is inactive: %w", id, xerrors.ErrNotFound)
	}
	return membership.NewTierResponse(tier), nil
}

// Describe expands a subscription with its plan and tier. Catalog lookups that
// fail are logged and leave the corresponding field empty.
func (s *CatalogService) Describe(ctx context.Context, sub *membership.Subscription) *membership.SubscriptionResponse {
	plan, err := s.catalog.GetPlan(ctx, sub.PlanID)
	if err != nil {
		s.logger.Warn("plan lookup failed while describing subscription",
			zap.Int64("subscription_id", sub.ID),
			zap.Int64("plan_id", sub.PlanID),
			zap.Error(err),
		)
	}
	tier, err := s.catalog.GetTier(ctx, sub.TierID)
	if err != nil {
		s.logger.Warn("tier lookup failed while describing subscription",
			zap.Int64("subscription_id", sub.ID),
			zap.Int64("tier_id", sub.TierID),
			zap.Error(err),
		)
	}
	return membership.NewSubscriptionResponse(sub, plan, tier)
}

func (s *CatalogService) DescribeAll(ctx context.Context, subs []*membership.Subscription) []*membership.SubscriptionResponse {
	resp := make([]*membership.SubscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		resp = append(resp, s.Describe(ctx, sub))
	}
	return resp
}
