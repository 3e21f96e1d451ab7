package cache

import (
	"context"
	"testing"
	"time"

	"membership-service/internal/domain/membership"
	xerrors "membership-service/internal/pkg/errors"
	"membership-service/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingCatalog records how often each read reaches the backing catalog.
type countingCatalog struct {
	membership.Catalog
	tierReads  int
	listReads  int
	planReads  int
	plansReads int
}

func (c *countingCatalog) GetTier(ctx context.Context, id int64) (*membership.Tier, error) {
	c.tierReads++
	return c.Catalog.GetTier(ctx, id)
}

func (c *countingCatalog) GetPlan(ctx context.Context, id int64) (*membership.Plan, error) {
	c.planReads++
	return c.Catalog.GetPlan(ctx, id)
}

func (c *countingCatalog) ListActivePlans(ctx context.Context) ([]*membership.Plan, error) {
	c.plansReads++
	return c.Catalog.ListActivePlans(ctx)
}

func (c *countingCatalog) ListActiveTiersByLevelAsc(ctx context.Context) ([]*membership.Tier, error) {
	c.listReads++
	return c.Catalog.ListActiveTiersByLevelAsc(ctx)
}

func TestCatalogCache_ReadThrough(t *testing.T) {
	backing := &countingCatalog{Catalog: memory.DefaultCatalog()}
	c := NewCatalogCache(backing, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tier, err := c.GetTier(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, "Gold", tier.Name)

		plan, err := c.GetPlan(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, membership.DurationMonthly, plan.Duration)

		plans, err := c.ListActivePlans(ctx)
		require.NoError(t, err)
		assert.Len(t, plans, 3)
	}
	assert.Equal(t, 1, backing.tierReads)
	assert.Equal(t, 1, backing.planReads)
	assert.Equal(t, 1, backing.plansReads)

	c.Flush()
	_, err := c.GetTier(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, backing.tierReads)
}

func TestCatalogCache_ErrorsAreNotCached(t *testing.T) {
	backing := &countingCatalog{Catalog: memory.DefaultCatalog()}
	c := NewCatalogCache(backing, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.GetTier(ctx, 404)
		assert.ErrorIs(t, err, xerrors.ErrNotFound)
	}
	assert.Equal(t, 2, backing.tierReads)
}

func TestCatalogCache_FindCandidateTiers(t *testing.T) {
	backing := &countingCatalog{Catalog: memory.DefaultCatalog()}
	c := NewCatalogCache(backing, time.Minute)
	ctx := context.Background()

	got, err := c.FindCandidateTiers(ctx, 25, 5000, "student")
	require.NoError(t, err)

	names := make([]string, 0, len(got))
	for _, tier := range got {
		names = append(names, tier.Name)
	}
	assert.Equal(t, []string{"Platinum", "Student Plus", "Gold", "Silver"}, names)

	got, err = c.FindCandidateTiers(ctx, 0, 0, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Silver", got[0].Name)

	assert.Equal(t, 1, backing.listReads)
}
