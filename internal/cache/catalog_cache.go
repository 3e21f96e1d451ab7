package cache

import (
	"context"
	"fmt"
	"sort"
	"time"

	"membership-service/internal/domain/membership"

	gocache "github.com/patrickmn/go-cache"
)

const (
	keyActivePlans = "plans:active"
	keyActiveTiers = "tiers:active"
)

// CatalogCache is a read-through, in-process cache in front of a Catalog.
// Returned entities are shared and must not be modified by callers.
type CatalogCache struct {
	next  membership.Catalog
	items *gocache.Cache
}

func NewCatalogCache(next membership.Catalog, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		next:  next,
		items: gocache.New(ttl, 2*ttl),
	}
}

func (c *CatalogCache) GetPlan(ctx context.Context, id int64) (*membership.Plan, error) {
	key := fmt.Sprintf("plan:%d", id)
	if v, ok := c.items.Get(key); ok {
		return v.(*membership.Plan), nil
	}

	plan, err := c.next.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	c.items.Set(key, plan, gocache.DefaultExpiration)
	return plan, nil
}

func (c *CatalogCache) GetTier(ctx context.Context, id int64) (*membership.Tier, error) {
	key := fmt.Sprintf("tier:%d", id)
	if v, ok := c.items.Get(key); ok {
		return v.(*membership.Tier), nil
	}

	tier, err := c.next.GetTier(ctx, id)
	if err != nil {
		return nil, err
	}
	c.items.Set(key, tier, gocache.DefaultExpiration)
	return tier, nil
}

func (c *CatalogCache) ListActivePlans(ctx context.Context) ([]*membership.Plan, error) {
	if v, ok := c.items.Get(keyActivePlans); ok {
		return v.([]*membership.Plan), nil
	}

	plans, err := c.next.ListActivePlans(ctx)
	if err != nil {
		return nil, err
	}
	c.items.Set(keyActivePlans, plans, gocache.DefaultExpiration)
	return plans, nil
}

func (c *CatalogCache) ListActiveTiersByLevelAsc(ctx context.Context) ([]*membership.Tier, error) {
	if v, ok := c.items.Get(keyActiveTiers); ok {
		return v.([]*membership.Tier), nil
	}

	tiers, err := c.next.ListActiveTiersByLevelAsc(ctx)
	if err != nil {
		return nil, err
	}
	c.items.Set(keyActiveTiers, tiers, gocache.DefaultExpiration)
	return tiers, nil
}

// FindCandidateTiers filters the cached active tier list instead of caching
// one entry per threshold combination.
func (c *CatalogCache) FindCandidateTiers(ctx context.Context, orderCount int, orderValue float64, cohort string) ([]*membership.Tier, error) {
	active, err := c.ListActiveTiersByLevelAsc(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]*membership.Tier, 0, len(active))
	for _, t := range active {
		if t.Qualifies(orderCount, orderValue, cohort) {
			candidates = append(candidates, t)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Level != candidates[j].Level {
			return candidates[i].Level > candidates[j].Level
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates, nil
}

// Flush drops every cached entry.
func (c *CatalogCache) Flush() {
	c.items.Flush()
}
