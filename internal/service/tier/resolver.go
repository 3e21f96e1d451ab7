package tier

import (
	"context"
	"fmt"
	"sort"

	"membership-service/internal/domain/membership"
	xerrors "membership-service/internal/pkg/errors"
)

// TierSource is the part of the catalog the resolver reads.
type TierSource interface {
	FindCandidateTiers(ctx context.Context, orderCount int, orderValue float64, cohort string) ([]*membership.Tier, error)
	ListActiveTiersByLevelAsc(ctx context.Context) ([]*membership.Tier, error)
}

// Resolver picks the tier a user qualifies for from their order activity.
type Resolver struct {
	tiers TierSource
}

func NewResolver(tiers TierSource) *Resolver {
	return &Resolver{tiers: tiers}
}

// Resolve returns the highest-level active tier whose thresholds and cohort
// restriction are met. When none qualify it returns the lowest-level active
// tier. ErrNoActiveTiers is returned only when the catalog has no active tier.
func (r *Resolver) Resolve(ctx context.Context, orderCount int, orderValue float64, cohort string) (*membership.Tier, error) {
	candidates, err := r.tiers.FindCandidateTiers(ctx, orderCount, orderValue, cohort)
	if err != nil {
		return nil, fmt.Errorf("failed to find candidate tiers: %w", err)
	}
	if best := SelectBest(candidates, orderCount, orderValue, cohort); best != nil {
		return best, nil
	}

	active, err := r.tiers.ListActiveTiersByLevelAsc(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tiers: %w", err)
	}
	if entry := SelectEntry(active); entry != nil {
		return entry, nil
	}
	return nil, xerrors.ErrNoActiveTiers
}

// SelectBest returns the qualifying tier with the highest level, breaking level
// ties by the lowest id. Tiers that do not qualify are ignored, so callers may
// pass an unfiltered list. It returns nil when nothing qualifies.
func SelectBest(tiers []*membership.Tier, orderCount int, orderValue float64, cohort string) *membership.Tier {
	var best *membership.Tier
	for _, t := range tiers {
		if !t.Qualifies(orderCount, orderValue, cohort) {
			continue
		}
		if best == nil || t.Level > best.Level || (t.Level == best.Level && t.ID < best.ID) {
			best = t
		}
	}
	return best
}

// SelectEntry returns the lowest-level active tier, lowest id on ties.
func SelectEntry(tiers []*membership.Tier) *membership.Tier {
	active := make([]*membership.Tier, 0, len(tiers))
	for _, t := range tiers {
		if t.Active {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		return nil
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].Level != active[j].Level {
			return active[i].Level < active[j].Level
		}
		return active[i].ID < active[j].ID
	})
	return active[0]
}
