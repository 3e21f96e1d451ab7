package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"membership-service/internal/domain/membership"
	xerrors "membership-service/internal/pkg/errors"
)

// Catalog is a fixed in-process set of plans and tiers.
type Catalog struct {
	mu    sync.RWMutex
	plans map[int64]*membership.Plan
	tiers map[int64]*membership.Tier
}

func NewCatalog(plans []*membership.Plan, tiers []*membership.Tier) *Catalog {
	c := &Catalog{
		plans: make(map[int64]*membership.Plan, len(plans)),
		tiers: make(map[int64]*membership.Tier, len(tiers)),
	}
	for _, p := range plans {
		c.plans[p.ID] = p
	}
	for _, t := range tiers {
		c.tiers[t.ID] = t
	}
	return c
}

// SetTierActive flips a tier's active flag.
func (c *Catalog) SetTierActive(id int64, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tiers[id]; ok {
		cp := *t
		cp.Active = active
		c.tiers[id] = &cp
	}
}

func (c *Catalog) GetPlan(ctx context.Context, id int64) (*membership.Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plans[id]
	if !ok {
		return nil, fmt.Errorf("plan %d: %w", id, xerrors.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (c *Catalog) GetTier(ctx context.Context, id int64) (*membership.Tier, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tiers[id]
	if !ok {
		return nil, fmt.Errorf("tier %d: %w", id, xerrors.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (c *Catalog) ListActivePlans(ctx context.Context) ([]*membership.Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	plans := make([]*membership.Plan, 0, len(c.plans))
	for _, p := range c.plans {
		if p.Active {
			cp := *p
			plans = append(plans, &cp)
		}
	}
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].Price != plans[j].Price {
			return plans[i].Price < plans[j].Price
		}
		return plans[i].ID < plans[j].ID
	})
	return plans, nil
}

func (c *Catalog) ListActiveTiersByLevelAsc(ctx context.Context) ([]*membership.Tier, error) {
	tiers := c.activeTiers(func(*membership.Tier) bool { return true })
	sort.Slice(tiers, func(i, j int) bool {
		if tiers[i].Level != tiers[j].Level {
			return tiers[i].Level < tiers[j].Level
		}
		return tiers[i].ID < tiers[j].ID
	})
	return tiers, nil
}

func (c *Catalog) FindCandidateTiers(ctx context.Context, orderCount int, orderValue float64, cohort string) ([]*membership.Tier, error) {
	tiers := c.activeTiers(func(t *membership.Tier) bool {
		return t.Qualifies(orderCount, orderValue, cohort)
	})
	sort.Slice(tiers, func(i, j int) bool {
		if tiers[i].Level != tiers[j].Level {
			return tiers[i].Level > tiers[j].Level
		}
		return tiers[i].ID < tiers[j].ID
	})
	return tiers, nil
}

func (c *Catalog) activeTiers(keep func(*membership.Tier) bool) []*membership.Tier {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tiers := make([]*membership.Tier, 0, len(c.tiers))
	for _, t := range c.tiers {
		if t.Active && keep(t) {
			cp := *t
			tiers = append(tiers, &cp)
		}
	}
	return tiers
}

func cohort(name string) *string { return &name }

func percent(v float64) *float64 { return &v }

// DefaultCatalog mirrors the seed data shipped with the database migrations.
func DefaultCatalog() *Catalog {
	now := time.Now()
	plans := []*membership.Plan{
		{ID: 1, Name: "Monthly", Description: "Billed every month", Duration: membership.DurationMonthly, Price: 9.99, Active: true, CreatedAt: now, UpdatedAt: now},
		{ID: 2, Name: "Quarterly", Description: "Billed every three months", Duration: membership.DurationQuarterly, Price: 26.99, Active: true, CreatedAt: now, UpdatedAt: now},
		{ID: 3, Name: "Yearly", Description: "Billed once a year", Duration: membership.DurationYearly, Price: 99.99, Active: true, CreatedAt: now, UpdatedAt: now},
	}
	tiers := []*membership.Tier{
		{ID: 1, Name: "Silver", Description: "Entry tier", Level: 1, Active: true, CreatedAt: now, UpdatedAt: now,
			Benefits: []*membership.TierBenefit{
				{ID: 1, TierID: 1, Type: membership.BenefitDiscount, Description: "5% off groceries", DiscountPercentage: percent(5), ApplicableCategories: []string{"groceries"}, Active: true},
			}},
		{ID: 2, Name: "Gold", Description: "For regular shoppers", Level: 2, MinOrderCount: 5, MinOrderValue: 500, Active: true, CreatedAt: now, UpdatedAt: now,
			Benefits: []*membership.TierBenefit{
				{ID: 2, TierID: 2, Type: membership.BenefitDiscount, Description: "10% off groceries and electronics", DiscountPercentage: percent(10), ApplicableCategories: []string{"groceries", "electronics"}, Active: true},
				{ID: 3, TierID: 2, Type: membership.BenefitFreeDelivery, Description: "Free delivery on every order", Active: true},
			}},
		{ID: 3, Name: "Platinum", Description: "Top spenders", Level: 4, MinOrderCount: 20, MinOrderValue: 2000, Active: true, CreatedAt: now, UpdatedAt: now,
			Benefits: []*membership.TierBenefit{
				{ID: 4, TierID: 3, Type: membership.BenefitDiscount, Description: "15% off everything", DiscountPercentage: percent(15), Active: true},
				{ID: 5, TierID: 3, Type: membership.BenefitFreeDelivery, Description: "Free express delivery", Active: true},
				{ID: 6, TierID: 3, Type: membership.BenefitPrioritySupport, Description: "Dedicated support line", Active: true},
			}},
		{ID: 4, Name: "Student Plus", Description: "Student cohort perks", Level: 3, MinOrderCount: 3, MinOrderValue: 150, RequiredCohort: cohort("student"), Active: true, CreatedAt: now, UpdatedAt: now,
			Benefits: []*membership.TierBenefit{
				{ID: 7, TierID: 4, Type: membership.BenefitCashback, Description: "3% cashback on books", DiscountPercentage: percent(3), ApplicableCategories: []string{"books"}, Active: true},
			}},
	}
	return NewCatalog(plans, tiers)
}
