// internal/repository/postgres/catalog_repo.go
package postgres

import (
	"context"
	"fmt"

	"membership-service/internal/domain/membership"
	xerrors "membership-service/internal/pkg/errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
)

var (
	planColumns = []string{
		"id", "name", "COALESCE(description, '')", "duration", "price", "active",
		"version", "created_at", "updated_at",
	}
	tierColumns = []string{
		"id", "name", "COALESCE(description, '')", "tier_level", "min_order_count", "min_order_value",
		"required_cohort", "active", "version", "created_at", "updated_at",
	}

	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
)

// CatalogRepository reads membership plans, tiers and their benefits.
type CatalogRepository struct {
	db Pool
}

func NewCatalogRepository(db Pool) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func scanPlan(row rowScanner) (*membership.Plan, error) {
	var p membership.Plan
	if err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Duration, &p.Price, &p.Active,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanTier(row rowScanner) (*membership.Tier, error) {
	var t membership.Tier
	if err := row.Scan(
		&t.ID, &t.Name, &t.Description, &t.Level, &t.MinOrderCount, &t.MinOrderValue,
		&t.RequiredCohort, &t.Active, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetPlan returns the plan regardless of its active flag.
func (r *CatalogRepository) GetPlan(ctx context.Context, id int64) (*membership.Plan, error) {
	query, args, err := psql.Select(planColumns...).From("membership_plans").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build plan query: %w", err)
	}

	plan, err := scanPlan(r.db.QueryRow(ctx, query, args...))
	if IsNoRows(err) {
		return nil, fmt.Errorf("plan %d: %w", id, xerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find plan: %w", err)
	}
	return plan, nil
}

func (r *CatalogRepository) ListActivePlans(ctx context.Context) ([]*membership.Plan, error) {
	query, args, err := psql.Select(planColumns...).
		From("membership_plans").
		Where(sq.Eq{"active": true}).
		OrderBy("price ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build plans query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := make([]*membership.Plan, 0)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// GetTier returns the tier and its benefits regardless of its active flag.
func (r *CatalogRepository) GetTier(ctx context.Context, id int64) (*membership.Tier, error) {
	query, args, err := psql.Select(tierColumns...).From("membership_tiers").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build tier query: %w", err)
	}

	tier, err := scanTier(r.db.QueryRow(ctx, query, args...))
	if IsNoRows(err) {
		return nil, fmt.Errorf("tier %d: %w", id, xerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tier: %w", err)
	}

	if err := r.attachBenefits(ctx, []*membership.Tier{tier}); err != nil {
		return nil, err
	}
	return tier, nil
}

func (r *CatalogRepository) ListActiveTiersByLevelAsc(ctx context.Context) ([]*membership.Tier, error) {
	q := psql.Select(tierColumns...).
		From("membership_tiers").
		Where(sq.Eq{"active": true}).
		OrderBy("tier_level ASC", "id ASC")

	tiers, err := r.queryTiers(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := r.attachBenefits(ctx, tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}

// FindCandidateTiers returns active tiers whose thresholds are met by the given
// activity and whose cohort restriction, if any, matches. Highest level first.
func (r *CatalogRepository) FindCandidateTiers(ctx context.Context, orderCount int, orderValue float64, cohort string) ([]*membership.Tier, error) {
	cohortMatch := sq.Or{sq.Eq{"required_cohort": nil}}
	if cohort != "" {
		cohortMatch = append(cohortMatch, sq.Eq{"required_cohort": cohort})
	}

	q := psql.Select(tierColumns...).
		From("membership_tiers").
		Where(sq.Eq{"active": true}).
		Where(sq.LtOrEq{"min_order_count": orderCount}).
		Where(sq.LtOrEq{"min_order_value": orderValue}).
		Where(cohortMatch).
		OrderBy("tier_level DESC", "id ASC")

	return r.queryTiers(ctx, q)
}

func (r *CatalogRepository) queryTiers(ctx context.Context, q sq.SelectBuilder) ([]*membership.Tier, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build tiers query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}
	defer rows.Close()

	tiers := make([]*membership.Tier, 0)
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tier: %w", err)
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// attachBenefits loads the benefits of all given tiers in one query.
func (r *CatalogRepository) attachBenefits(ctx context.Context, tiers []*membership.Tier) error {
	if len(tiers) == 0 {
		return nil
	}

	byID := make(map[int64]*membership.Tier, len(tiers))
	ids := make([]int64, 0, len(tiers))
	for _, t := range tiers {
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}

	query := `
		SELECT id, tier_id, benefit_type, COALESCE(description, ''), discount_percentage,
		       applicable_categories::text, active
		FROM tier_benefits
		WHERE tier_id = ANY($1)
		ORDER BY tier_id, id
	`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to load tier benefits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b membership.TierBenefit
		if err := rows.Scan(
			&b.ID, &b.TierID, &b.Type, &b.Description, &b.DiscountPercentage,
			pq.Array(&b.ApplicableCategories), &b.Active,
		); err != nil {
			return fmt.Errorf("failed to scan tier benefit: %w", err)
		}
		if t, ok := byID[b.TierID]; ok {
			t.Benefits = append(t.Benefits, &b)
		}
	}
	return rows.Err()
}
